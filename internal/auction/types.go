package auction

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"TlockAuction/internal/ibe"
	"TlockAuction/internal/symmetric"
	"TlockAuction/internal/timelock"
)

// Version is the auction logic version reported by Auction.Version.
const Version = "0.0.1-dev"

// AccountIDSize is the size of an account identity in bytes.
const AccountIDSize = 32

var (
	// ErrInvalidThreshold is returned at creation when the threshold is zero
	// or exceeds the schedule length.
	ErrInvalidThreshold = ibe.ErrInvalidThreshold

	// ErrInsufficientShares is recorded for proposals that need more slot secrets.
	ErrInsufficientShares = ibe.ErrInsufficientShares

	// ErrCapsuleMismatch is recorded for tampered capsules or mismatched params.
	ErrCapsuleMismatch = ibe.ErrCapsuleMismatch

	// ErrAuthenticationFailed is recorded when the payload does not verify.
	ErrAuthenticationFailed = symmetric.ErrAuthenticationFailed

	// ErrDeadlinePassed is returned by Propose once the deadline slot elapsed.
	ErrDeadlinePassed = errors.New("deadline passed")

	// ErrAlreadyCompleted is returned by Propose and Complete after completion.
	ErrAlreadyCompleted = errors.New("auction already completed")

	// ErrMalformedProposal is returned for proposals missing a ciphertext, nonce or capsule.
	ErrMalformedProposal = errors.New("malformed proposal")

	// ErrMalformedBid is recorded when a revealed payload carries no amount.
	ErrMalformedBid = errors.New("malformed bid")

	// ErrInvalidSchedule is returned for empty or non-increasing schedules.
	ErrInvalidSchedule = errors.New("invalid slot schedule")

	// ErrInvalidItem is returned for items without a name or amount.
	ErrInvalidItem = errors.New("invalid item")
)

// Slot is a unit of the external slot clock.
type Slot = timelock.Slot

// SlotSecret is the published secret of an elapsed slot.
type SlotSecret = timelock.SlotSecret

// SlotClock reports slot progress and releases slot secrets.
type SlotClock interface {
	// IsElapsed reports whether slot has elapsed.
	IsElapsed(slot Slot) bool

	// SecretFor returns the secret of an elapsed slot.
	SecretFor(slot Slot) ([]byte, error)
}

// AssetLedger receives transfer intents. The auction never retries.
type AssetLedger interface {
	Transfer(ctx context.Context, intent Intent) error
}

// AccountID identifies an auctioneer or participant.
type AccountID [AccountIDSize]byte

// String returns the hex encoding.
func (a AccountID) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText encodes the account as hex.
func (a AccountID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a hex account.
func (a *AccountID) UnmarshalText(text []byte) error {
	id, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}

	*a = id

	return nil
}

// ParseAccountID decodes a 64-character hex account identity.
func ParseAccountID(s string) (AccountID, error) {
	var id AccountID

	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("decode account:\n%w", err)
	}

	if len(raw) != AccountIDSize {
		return id, fmt.Errorf("account must be %d bytes, got %d", AccountIDSize, len(raw))
	}

	copy(id[:], raw)

	return id, nil
}

// EscrowAccount returns the account holding the item while auction id runs.
func EscrowAccount(id string) AccountID {
	var out AccountID
	blake3.DeriveKey("TlockAuction 2024-01 escrow account", []byte(id), out[:])

	return out
}

// Item describes what is auctioned.
type Item struct {
	Name    []byte `json:"name"`    // Name is a free-form label
	AssetID uint32 `json:"assetId"` // AssetID is the ledger asset being sold
	Amount  uint64 `json:"amount"`  // Amount is the quantity of AssetID being sold
}

// Proposal is a sealed bid.
type Proposal struct {
	Ciphertext []byte   `json:"ciphertext"`
	Nonce      []byte   `json:"nonce"`
	Capsule    [][]byte `json:"capsule"`
}

// clone deep-copies the proposal.
func (p Proposal) clone() Proposal {
	out := Proposal{
		Ciphertext: append([]byte(nil), p.Ciphertext...),
		Nonce:      append([]byte(nil), p.Nonce...),
		Capsule:    make([][]byte, len(p.Capsule)),
	}

	for i, c := range p.Capsule {
		out.Capsule[i] = append([]byte(nil), c...)
	}

	return out
}

// validate checks the structural shape of a proposal. Cryptographic
// validity is only established at completion.
func (p Proposal) validate() error {
	if len(p.Ciphertext) == 0 || len(p.Nonce) == 0 || len(p.Capsule) == 0 {
		return ErrMalformedProposal
	}

	for _, c := range p.Capsule {
		if len(c) == 0 {
			return ErrMalformedProposal
		}
	}

	return nil
}

// State is the observed lifecycle phase.
type State uint8

const (
	// Open accepts proposals.
	Open State = iota

	// Closed means the deadline slot elapsed but completion has not run.
	Closed

	// Completed is terminal.
	Completed
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// RevealedBid is a proposal opened during completion.
type RevealedBid struct {
	Participant AccountID `json:"participant"`
	Plaintext   []byte    `json:"plaintext"`
	Amount      uint64    `json:"amount"`
	Memo        string    `json:"memo,omitempty"`
}

// Failure records why a proposal could not be revealed.
type Failure struct {
	Participant AccountID
	Err         error
}

// Reason returns the failure code of f.
func (f Failure) Reason() string {
	return FailureReason(f.Err)
}

// Failure codes.
const (
	ReasonInsufficientShares   = "insufficient_shares"
	ReasonCapsuleMismatch      = "capsule_mismatch"
	ReasonAuthenticationFailed = "authentication_failed"
	ReasonMalformedBid         = "malformed_bid"
	ReasonUnknown              = "unknown"
)

// reasonErrors maps failure codes back to sentinel errors.
var reasonErrors = map[string]error{
	ReasonInsufficientShares:   ErrInsufficientShares,
	ReasonCapsuleMismatch:      ErrCapsuleMismatch,
	ReasonAuthenticationFailed: ErrAuthenticationFailed,
	ReasonMalformedBid:         ErrMalformedBid,
}

// FailureReason classifies a decryption failure.
func FailureReason(err error) string {
	for reason, sentinel := range reasonErrors {
		if errors.Is(err, sentinel) {
			return reason
		}
	}

	return ReasonUnknown
}

// reasonError returns the sentinel error for a failure code.
func reasonError(reason string) error {
	if err, ok := reasonErrors[reason]; ok {
		return err
	}

	return errors.New(reason)
}

// Outcome is the result of one completion pass.
type Outcome struct {
	// Completed is false when the pass ran before the deadline or was
	// inconclusive. The auction then stays unfinalized.
	Completed bool

	Revealed []RevealedBid
	Failures []Failure

	// Winner is nil when no revealed bid qualified.
	Winner *RevealedBid

	// SettlementErr collects ledger failures. State is not rolled back.
	SettlementErr error
}

// IntentKind names a ledger movement.
type IntentKind uint8

const (
	// IntentEscrow locks the item: auctioneer to escrow.
	IntentEscrow IntentKind = iota + 1

	// IntentAsset delivers the item: escrow to winner.
	IntentAsset

	// IntentPayment pays the auctioneer: winner to auctioneer.
	IntentPayment

	// IntentRefund returns an unsold item: escrow to auctioneer.
	IntentRefund
)

// String returns the intent kind name.
func (k IntentKind) String() string {
	switch k {
	case IntentEscrow:
		return "escrow"
	case IntentAsset:
		return "asset"
	case IntentPayment:
		return "payment"
	case IntentRefund:
		return "refund"
	default:
		return fmt.Sprintf("intent(%d)", uint8(k))
	}
}

// Intent asks the ledger to move Amount of AssetID from From to To.
type Intent struct {
	Auction string     `json:"auction"`
	Kind    IntentKind `json:"kind"`
	From    AccountID  `json:"from"`
	To      AccountID  `json:"to"`
	AssetID uint32     `json:"assetId"`
	Amount  uint64     `json:"amount"`
}
