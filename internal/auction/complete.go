package auction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TlockAuction/internal/ibe"
	"TlockAuction/internal/logger"
	"TlockAuction/internal/timelock"
)

// Complete opens every stored proposal with the given public params and slot
// secrets, then finalizes the auction.
//
// Per-proposal failures are recorded in the outcome and never abort the pass.
// A pass before the deadline slot elapsed only reports what the secrets open:
// Completed is false and nothing is stored. The same holds when nothing could
// be revealed and at least one proposal lacked shares, so the auction can be
// retried with more secrets.
func (a *Auction) Complete(ctx context.Context, publicParams []byte, secrets []SlotSecret) (*Outcome, error) {
	start := time.Now()
	closed := a.deadlineElapsed()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.completed {
		return nil, ErrAlreadyCompleted
	}

	pp, err := ibe.ParsePublicParams(publicParams)
	if err != nil {
		return nil, fmt.Errorf("parse public params: %v:\n%w", err, ErrCapsuleMismatch)
	}

	out, insufficient := a.revealAll(pp, secrets)

	if !closed {
		logger.Info("completion deferred until deadline",
			"auction", a.id,
			"deadline", a.Deadline(),
			"revealed", len(out.Revealed),
			"failures", len(out.Failures),
		)

		return out, nil
	}

	if len(out.Revealed) == 0 && insufficient {
		logger.Info("completion inconclusive",
			"auction", a.id,
			"failures", len(out.Failures),
			"secrets", len(secrets),
		)

		return out, nil
	}

	out.Winner = selectWinner(out.Revealed, a.reservePrice)

	a.completed = true
	a.revealed = out.Revealed
	a.failures = out.Failures
	a.winner = out.Winner

	if err := a.commitLocked(); err != nil {
		a.completed = false
		a.revealed, a.failures, a.winner = nil, nil, nil

		return nil, err
	}

	out.Completed = true

	out.SettlementErr = a.settle(ctx, out.Winner)
	if out.SettlementErr != nil {
		a.settlementErr = errors.Join(a.settlementErr, out.SettlementErr)
		a.recordSettlement()
	}

	attrs := []any{
		"auction", a.id,
		"revealed", len(out.Revealed),
		"failures", len(out.Failures),
		logger.Timed(start),
	}
	if out.Winner != nil {
		attrs = append(attrs, "winner", out.Winner.Participant, "amount", out.Winner.Amount)
	}

	logger.Info("auction completed", attrs...)

	return out, nil
}

// revealAll opens every proposal in registration order. insufficient
// reports whether any proposal lacked shares.
func (a *Auction) revealAll(pp *ibe.PublicParams, secrets []SlotSecret) (out *Outcome, insufficient bool) {
	out = &Outcome{}

	for pair := a.proposals.Oldest(); pair != nil; pair = pair.Next() {
		bid, err := a.reveal(pp, pair.Key, pair.Value, secrets)
		if err != nil {
			out.Failures = append(out.Failures, Failure{Participant: pair.Key, Err: err})
			insufficient = insufficient || errors.Is(err, ErrInsufficientShares)

			logger.Debug("proposal not revealed",
				"auction", a.id,
				"participant", pair.Key,
				"reason", FailureReason(err),
			)

			continue
		}

		out.Revealed = append(out.Revealed, bid)
	}

	return out, insufficient
}

// reveal opens one proposal and parses its bid. The capsule must be sealed
// to this auction's schedule and threshold.
func (a *Auction) reveal(pp *ibe.PublicParams, participant AccountID, p Proposal, secrets []SlotSecret) (RevealedBid, error) {
	sealed := &timelock.Sealed{Ciphertext: p.Ciphertext, Nonce: p.Nonce, Capsule: p.Capsule}

	if err := sealed.CheckSchedule(a.schedule, a.threshold); err != nil {
		return RevealedBid{}, err
	}

	plaintext, err := a.engine.Decrypt(pp, sealed, secrets)
	if err != nil {
		return RevealedBid{}, err
	}

	bid, err := ParseBid(plaintext)
	if err != nil {
		return RevealedBid{}, err
	}

	return RevealedBid{
		Participant: participant,
		Plaintext:   plaintext,
		Amount:      bid.Amount,
		Memo:        bid.Memo,
	}, nil
}

// settle signals the ledger intents for the final outcome.
func (a *Auction) settle(ctx context.Context, winner *RevealedBid) error {
	escrow := EscrowAccount(a.id)

	if winner == nil {
		return a.signal(ctx, Intent{
			Kind:    IntentRefund,
			From:    escrow,
			To:      a.auctioneer,
			AssetID: a.item.AssetID,
			Amount:  a.item.Amount,
		})
	}

	assetErr := a.signal(ctx, Intent{
		Kind:    IntentAsset,
		From:    escrow,
		To:      winner.Participant,
		AssetID: a.item.AssetID,
		Amount:  a.item.Amount,
	})

	paymentErr := a.signal(ctx, Intent{
		Kind:    IntentPayment,
		From:    winner.Participant,
		To:      a.auctioneer,
		AssetID: a.paymentAsset,
		Amount:  winner.Amount,
	})

	return errors.Join(assetErr, paymentErr)
}

// selectWinner picks the strictly greatest amount at or above reserve.
// bids are in registration order, so ties go to the earliest participant.
func selectWinner(bids []RevealedBid, reserve uint64) *RevealedBid {
	var best *RevealedBid

	for i := range bids {
		if bids[i].Amount < reserve {
			continue
		}

		if best == nil || bids[i].Amount > best.Amount {
			best = &bids[i]
		}
	}

	if best == nil {
		return nil
	}

	winner := *best

	return &winner
}

// ScheduleSecrets collects the secrets of every elapsed scheduled slot from clock.
// Slots whose secret cannot be fetched are skipped.
func (a *Auction) ScheduleSecrets(clock SlotClock) []SlotSecret {
	var out []SlotSecret

	for _, slot := range a.schedule {
		if !clock.IsElapsed(slot) {
			continue
		}

		key, err := clock.SecretFor(slot)
		if err != nil {
			logger.Warn("slot secret unavailable", "slot", slot, "error", err)
			continue
		}

		out = append(out, SlotSecret{Slot: slot, Key: key})
	}

	return out
}
