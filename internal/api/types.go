package api

import (
	"TlockAuction/internal/auction"
)

// CreateRequest is the body of POST /auctions.
type CreateRequest struct {
	ID           string            `json:"id,omitempty"`
	Auctioneer   auction.AccountID `json:"auctioneer"`
	Item         auction.Item      `json:"item"`
	Schedule     []uint64          `json:"schedule"`
	Threshold    int               `json:"threshold"`
	ReservePrice uint64            `json:"reservePrice,omitempty"`
	PaymentAsset uint32            `json:"paymentAsset,omitempty"`
	Cipher       string            `json:"cipher,omitempty"`
}

// ProposalRequest is the body of POST /auctions/{id}/proposals.
type ProposalRequest struct {
	Participant auction.AccountID `json:"participant"`
	auction.Proposal
}

// Secret is one published slot secret.
type Secret struct {
	Slot uint64 `json:"slot"`
	Key  []byte `json:"key"`
}

// CompleteRequest is the body of POST /auctions/{id}/complete. An empty body
// completes with the node's own clock.
type CompleteRequest struct {
	PublicParams []byte   `json:"publicParams"`
	Secrets      []Secret `json:"secrets"`
}

// FailureView is a proposal that could not be revealed.
type FailureView struct {
	Participant auction.AccountID `json:"participant"`
	Reason      string            `json:"reason"`
}

// AuctionView is the public state of an auction.
type AuctionView struct {
	ID               string                `json:"id"`
	Auctioneer       auction.AccountID     `json:"auctioneer"`
	Item             auction.Item          `json:"item"`
	Schedule         []uint64              `json:"schedule"`
	Threshold        int                   `json:"threshold"`
	Deadline         uint64                `json:"deadline"`
	ReservePrice     uint64                `json:"reservePrice"`
	PaymentAsset     uint32                `json:"paymentAsset"`
	Cipher           string                `json:"cipher"`
	Version          string                `json:"version"`
	State            string                `json:"state"`
	Participants     []auction.AccountID   `json:"participants"`
	Revealed         []auction.RevealedBid `json:"revealed,omitempty"`
	Failures         []FailureView         `json:"failures,omitempty"`
	Winner           *auction.RevealedBid  `json:"winner,omitempty"`
	SettlementErrors []string              `json:"settlementErrors,omitempty"`
}

// OutcomeView is the result of a completion pass.
type OutcomeView struct {
	Completed       bool                  `json:"completed"`
	Revealed        []auction.RevealedBid `json:"revealed"`
	Failures        []FailureView         `json:"failures"`
	Winner          *auction.RevealedBid  `json:"winner,omitempty"`
	SettlementError string                `json:"settlementError,omitempty"`
}

// ParamsView is the body of GET /params.
type ParamsView struct {
	PublicParams []byte `json:"publicParams"`
	Version      string `json:"version"`
}

func auctionView(a *auction.Auction) AuctionView {
	snap := a.Snapshot()

	v := AuctionView{
		ID:               snap.ID,
		Auctioneer:       snap.Auctioneer,
		Item:             snap.Item,
		Threshold:        snap.Threshold,
		Deadline:         uint64(a.Deadline()),
		ReservePrice:     snap.ReservePrice,
		PaymentAsset:     snap.PaymentAsset,
		Cipher:           snap.Cipher,
		Version:          a.Version(),
		State:            a.State().String(),
		Participants:     make([]auction.AccountID, 0, len(snap.Proposals)),
		Revealed:         snap.Revealed,
		SettlementErrors: snap.SettlementErrors,
	}

	for _, s := range snap.Schedule {
		v.Schedule = append(v.Schedule, uint64(s))
	}

	for _, pp := range snap.Proposals {
		v.Participants = append(v.Participants, pp.Participant)
	}

	for _, f := range snap.Failures {
		v.Failures = append(v.Failures, FailureView{Participant: f.Participant, Reason: f.Reason})
	}

	if w, ok := a.Winner(); ok {
		v.Winner = &w
	}

	return v
}

func outcomeView(out *auction.Outcome) OutcomeView {
	v := OutcomeView{
		Completed: out.Completed,
		Revealed:  out.Revealed,
		Failures:  make([]FailureView, 0, len(out.Failures)),
		Winner:    out.Winner,
	}

	if v.Revealed == nil {
		v.Revealed = []auction.RevealedBid{}
	}

	for _, f := range out.Failures {
		v.Failures = append(v.Failures, FailureView{Participant: f.Participant, Reason: f.Reason()})
	}

	if out.SettlementErr != nil {
		v.SettlementError = out.SettlementErr.Error()
	}

	return v
}
