package auction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Bid is the plaintext payload of a proposal.
type Bid struct {
	Amount uint64 `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

// EncodeBid serializes a bid payload.
func EncodeBid(amount uint64, memo string) []byte {
	data, _ := json.Marshal(Bid{Amount: amount, Memo: memo})
	return data
}

// ParseBid extracts the bid from a revealed payload.
//
// JSON payloads must carry an "amount" field. Any other payload is read as
// free text and its first decimal integer is the amount, so
// "I want to bid 25 tokens" bids 25.
func ParseBid(plaintext []byte) (Bid, error) {
	trimmed := bytes.TrimSpace(plaintext)

	if len(trimmed) > 0 && trimmed[0] == '{' {
		var raw struct {
			Amount *json.Number `json:"amount"`
			Memo   string       `json:"memo"`
		}

		if err := json.Unmarshal(trimmed, &raw); err == nil {
			if raw.Amount == nil {
				return Bid{}, fmt.Errorf("missing amount:\n%w", ErrMalformedBid)
			}

			amount, err := strconv.ParseUint(raw.Amount.String(), 10, 64)
			if err != nil {
				return Bid{}, fmt.Errorf("amount %s:\n%w", raw.Amount, ErrMalformedBid)
			}

			return Bid{Amount: amount, Memo: raw.Memo}, nil
		}
	}

	amount, ok := firstInteger(trimmed)
	if !ok {
		return Bid{}, fmt.Errorf("no amount in payload:\n%w", ErrMalformedBid)
	}

	return Bid{Amount: amount, Memo: string(trimmed)}, nil
}

// firstInteger returns the first run of decimal digits in text.
func firstInteger(text []byte) (uint64, bool) {
	start := bytes.IndexFunc(text, isDigit)
	if start < 0 {
		return 0, false
	}

	end := start
	for end < len(text) && isDigit(rune(text[end])) {
		end++
	}

	n, err := strconv.ParseUint(string(text[start:end]), 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
