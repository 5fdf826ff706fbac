// Package auction implements a sealed-bid auction whose bids are time-locked
// against a schedule of slots.
//
// Bids stay sealed until the slot clock has published the secrets of at least
// threshold scheduled slots. Completion opens every proposal, isolates
// per-participant failures and picks the highest bid.
package auction

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"TlockAuction/internal/logger"
	"TlockAuction/internal/symmetric"
	"TlockAuction/internal/timelock"
)

// Config describes a new auction.
type Config struct {
	ID           string    // ID is generated when empty
	Auctioneer   AccountID // Auctioneer sells the item and receives payment
	Item         Item      // Item is what is being sold
	Schedule     []Slot    // Schedule is strictly increasing; the last slot is the deadline
	Threshold    int       // Threshold is the number of slot secrets needed to open a bid
	ReservePrice uint64    // ReservePrice excludes lower bids; 0 disables it
	PaymentAsset uint32    // PaymentAsset is the ledger asset bids are paid in
	Cipher       string    // Cipher is the symmetric suite bids are sealed with

	// Commit persists every state change before it takes effect, may be nil.
	Commit CommitFunc
}

// CommitFunc persists an auction snapshot. A failed commit rejects the
// change that produced the snapshot.
type CommitFunc func(*Snapshot) error

// Auction is one sealed-bid auction. It is safe for concurrent use.
type Auction struct {
	mu sync.Mutex

	id           string
	auctioneer   AccountID
	item         Item
	schedule     []Slot
	threshold    int
	reservePrice uint64
	paymentAsset uint32
	engine       *timelock.Engine

	clock  SlotClock
	ledger AssetLedger
	commit CommitFunc

	// proposals is both the participant registry and the proposal store.
	proposals *orderedmap.OrderedMap[AccountID, Proposal]

	completed bool
	revealed  []RevealedBid
	failures  []Failure
	winner    *RevealedBid

	settlementErr error
}

// New validates cfg, commits the new auction and escrows its item through
// ledger. A ledger failure is logged and kept, not returned.
func New(ctx context.Context, cfg Config, clock SlotClock, ledger AssetLedger) (*Auction, error) {
	a, err := build(cfg, clock, ledger)
	if err != nil {
		return nil, err
	}

	a.commit = cfg.Commit

	if err := a.commitLocked(); err != nil {
		return nil, err
	}

	a.settlementErr = a.signal(ctx, Intent{
		Kind:    IntentEscrow,
		From:    a.auctioneer,
		To:      EscrowAccount(a.id),
		AssetID: a.item.AssetID,
		Amount:  a.item.Amount,
	})

	if a.settlementErr != nil {
		a.recordSettlement()
	}

	logger.Info("auction created",
		"id", a.id,
		"slots", len(a.schedule),
		"threshold", a.threshold,
		"deadline", a.Deadline(),
	)

	return a, nil
}

// build validates cfg without side effects.
func build(cfg Config, clock SlotClock, ledger AssetLedger) (*Auction, error) {
	if clock == nil {
		return nil, fmt.Errorf("slot clock is required")
	}

	if len(cfg.Schedule) == 0 {
		return nil, fmt.Errorf("no slots:\n%w", ErrInvalidSchedule)
	}

	for i := 1; i < len(cfg.Schedule); i++ {
		if cfg.Schedule[i] <= cfg.Schedule[i-1] {
			return nil, fmt.Errorf("slot %d does not follow %d:\n%w", cfg.Schedule[i], cfg.Schedule[i-1], ErrInvalidSchedule)
		}
	}

	if cfg.Threshold < 1 || cfg.Threshold > len(cfg.Schedule) || cfg.Threshold > 255 {
		return nil, fmt.Errorf("threshold %d of %d slots:\n%w", cfg.Threshold, len(cfg.Schedule), ErrInvalidThreshold)
	}

	if len(cfg.Item.Name) == 0 || cfg.Item.Amount == 0 {
		return nil, fmt.Errorf("name and amount are required:\n%w", ErrInvalidItem)
	}

	cipher, err := symmetric.ByName(cfg.Cipher)
	if err != nil {
		return nil, err
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &Auction{
		id:         id,
		auctioneer: cfg.Auctioneer,
		item: Item{
			Name:    append([]byte(nil), cfg.Item.Name...),
			AssetID: cfg.Item.AssetID,
			Amount:  cfg.Item.Amount,
		},
		schedule:     append([]Slot(nil), cfg.Schedule...),
		threshold:    cfg.Threshold,
		reservePrice: cfg.ReservePrice,
		paymentAsset: cfg.PaymentAsset,
		engine:       timelock.NewEngine(cipher),
		clock:        clock,
		ledger:       ledger,
		proposals:    orderedmap.New[AccountID, Proposal](),
	}, nil
}

// State returns the current phase. Open and Closed are derived from the
// slot clock on every call.
func (a *Auction) State() State {
	closed := a.deadlineElapsed()

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stateAt(closed)
}

// deadlineElapsed asks the clock about the deadline slot. It must be called
// without holding mu since a remote clock may block on the network.
func (a *Auction) deadlineElapsed() bool {
	return a.clock.IsElapsed(a.Deadline())
}

func (a *Auction) stateAt(closed bool) State {
	if a.completed {
		return Completed
	}

	if closed {
		return Closed
	}

	return Open
}

// Propose stores the participant's sealed bid, replacing any earlier one.
// No cryptographic validation happens here.
func (a *Auction) Propose(participant AccountID, p Proposal) error {
	closed := a.deadlineElapsed()

	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.stateAt(closed) {
	case Completed:
		return ErrAlreadyCompleted
	case Closed:
		return ErrDeadlinePassed
	}

	if err := p.validate(); err != nil {
		return err
	}

	prev, replaced := a.proposals.Set(participant, p.clone())

	if err := a.commitLocked(); err != nil {
		if replaced {
			a.proposals.Set(participant, prev)
		} else {
			a.proposals.Delete(participant)
		}

		return err
	}

	logger.Debug("proposal stored",
		"auction", a.id,
		"participant", participant,
		"replaced", replaced,
	)

	return nil
}

// SetCommit installs the commit function of a restored auction.
func (a *Auction) SetCommit(fn CommitFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.commit = fn
}

// commitLocked persists the current state. The caller holds mu or owns a.
func (a *Auction) commitLocked() error {
	if a.commit == nil {
		return nil
	}

	if err := a.commit(a.snapshot()); err != nil {
		return fmt.Errorf("commit auction %s:\n%w", a.id, err)
	}

	return nil
}

// recordSettlement persists accumulated ledger failures. The change they
// record already took effect, so a failed commit is only logged.
func (a *Auction) recordSettlement() {
	if err := a.commitLocked(); err != nil {
		logger.Error("settlement errors not persisted", "auction", a.id, "error", err)
	}
}

// signal sends an intent to the ledger, logging any failure.
func (a *Auction) signal(ctx context.Context, intent Intent) error {
	if a.ledger == nil {
		return nil
	}

	intent.Auction = a.id

	if err := a.ledger.Transfer(ctx, intent); err != nil {
		logger.Warn("ledger intent failed",
			"auction", a.id,
			"kind", intent.Kind,
			"error", err,
		)

		return fmt.Errorf("%s intent:\n%w", intent.Kind, err)
	}

	return nil
}

// ID returns the auction identifier.
func (a *Auction) ID() string { return a.id }

// Auctioneer returns the selling account.
func (a *Auction) Auctioneer() AccountID { return a.auctioneer }

// Item returns a copy of the auctioned item.
func (a *Auction) Item() Item {
	return Item{Name: append([]byte(nil), a.item.Name...), AssetID: a.item.AssetID, Amount: a.item.Amount}
}

// Schedule returns a copy of the slot schedule.
func (a *Auction) Schedule() []Slot { return append([]Slot(nil), a.schedule...) }

// Threshold returns the number of slot secrets needed to open a bid.
func (a *Auction) Threshold() int { return a.threshold }

// Deadline returns the last scheduled slot.
func (a *Auction) Deadline() Slot { return a.schedule[len(a.schedule)-1] }

// ReservePrice returns the minimum winning amount.
func (a *Auction) ReservePrice() uint64 { return a.reservePrice }

// Cipher returns the symmetric suite name bids must be sealed with.
func (a *Auction) Cipher() string { return a.engine.Cipher().Name() }

// Version returns the auction logic version.
func (a *Auction) Version() string { return Version }

// Participants returns participants in registration order.
func (a *Auction) Participants() []AccountID {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AccountID, 0, a.proposals.Len())
	for pair := a.proposals.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}

	return out
}

// Proposal returns a copy of the participant's stored proposal.
func (a *Auction) Proposal(participant AccountID) (Proposal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.proposals.Get(participant)
	if !ok {
		return Proposal{}, false
	}

	return p.clone(), true
}

// RevealedBids returns the bids opened by completion.
func (a *Auction) RevealedBids() []RevealedBid {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]RevealedBid(nil), a.revealed...)
}

// Failures returns the proposals completion could not reveal.
func (a *Auction) Failures() []Failure {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]Failure(nil), a.failures...)
}

// Winner returns the winning bid, if any.
func (a *Auction) Winner() (RevealedBid, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.winner == nil {
		return RevealedBid{}, false
	}

	return *a.winner, true
}

// SettlementErr returns the accumulated ledger failures.
func (a *Auction) SettlementErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.settlementErr
}
