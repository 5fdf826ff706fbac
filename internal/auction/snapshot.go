package auction

import (
	"errors"
	"fmt"
)

// Snapshot is the persisted form of an auction.
type Snapshot struct {
	ID           string
	Auctioneer   AccountID
	Item         Item
	Schedule     []Slot
	Threshold    int
	ReservePrice uint64
	PaymentAsset uint32
	Cipher       string

	// Proposals are in registration order.
	Proposals []ParticipantProposal

	Completed bool
	Revealed  []RevealedBid
	Failures  []FailureRecord
	Winner    *AccountID

	// SettlementErrors are the ledger failures seen so far, one per intent.
	SettlementErrors []string
}

// ParticipantProposal pairs a participant with its proposal.
type ParticipantProposal struct {
	Participant AccountID
	Proposal    Proposal
}

// FailureRecord is a persisted Failure.
type FailureRecord struct {
	Participant AccountID
	Reason      string
}

// Snapshot captures the auction state.
func (a *Auction) Snapshot() *Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.snapshot()
}

func (a *Auction) snapshot() *Snapshot {
	s := &Snapshot{
		ID:           a.id,
		Auctioneer:   a.auctioneer,
		Item:         a.Item(),
		Schedule:     a.Schedule(),
		Threshold:    a.threshold,
		ReservePrice: a.reservePrice,
		PaymentAsset: a.paymentAsset,
		Cipher:       a.Cipher(),
		Completed:    a.completed,
		Revealed:     append([]RevealedBid(nil), a.revealed...),
	}

	for pair := a.proposals.Oldest(); pair != nil; pair = pair.Next() {
		s.Proposals = append(s.Proposals, ParticipantProposal{Participant: pair.Key, Proposal: pair.Value.clone()})
	}

	for _, f := range a.failures {
		s.Failures = append(s.Failures, FailureRecord{Participant: f.Participant, Reason: f.Reason()})
	}

	if a.winner != nil {
		w := a.winner.Participant
		s.Winner = &w
	}

	for _, err := range flattenErrors(a.settlementErr) {
		s.SettlementErrors = append(s.SettlementErrors, err.Error())
	}

	return s
}

// flattenErrors expands joined errors into their leaves.
func flattenErrors(err error) []error {
	if err == nil {
		return nil
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}

	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, flattenErrors(e)...)
	}

	return out
}

// Restore rebuilds an auction from a snapshot. No ledger intent is signaled
// and nothing is committed until SetCommit installs a commit function.
func Restore(s *Snapshot, clock SlotClock, ledger AssetLedger) (*Auction, error) {
	a, err := build(Config{
		ID:           s.ID,
		Auctioneer:   s.Auctioneer,
		Item:         s.Item,
		Schedule:     s.Schedule,
		Threshold:    s.Threshold,
		ReservePrice: s.ReservePrice,
		PaymentAsset: s.PaymentAsset,
		Cipher:       s.Cipher,
	}, clock, ledger)
	if err != nil {
		return nil, fmt.Errorf("restore auction %s:\n%w", s.ID, err)
	}

	for _, pp := range s.Proposals {
		a.proposals.Set(pp.Participant, pp.Proposal.clone())
	}

	a.completed = s.Completed
	a.revealed = append([]RevealedBid(nil), s.Revealed...)

	for _, f := range s.Failures {
		a.failures = append(a.failures, Failure{Participant: f.Participant, Err: reasonError(f.Reason)})
	}

	settlement := make([]error, len(s.SettlementErrors))
	for i, msg := range s.SettlementErrors {
		settlement[i] = errors.New(msg)
	}
	a.settlementErr = errors.Join(settlement...)

	if s.Winner != nil {
		for i := range a.revealed {
			if a.revealed[i].Participant == *s.Winner {
				w := a.revealed[i]
				a.winner = &w

				break
			}
		}

		if a.winner == nil {
			return nil, fmt.Errorf("restore auction %s: winner %s not among revealed bids", s.ID, s.Winner)
		}
	}

	return a, nil
}
