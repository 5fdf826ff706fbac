// Package house keeps the set of auctions served by a node.
//
// Every mutation is persisted before it takes effect so a restarted node
// resumes with the same auctions, proposals and outcomes. A mutation whose
// record cannot be saved is rejected.
package house

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"TlockAuction/internal/auction"
	"TlockAuction/internal/ibe"
	"TlockAuction/internal/logger"
	"TlockAuction/internal/state"
)

var (
	// ErrUnknownAuction is returned for ids the house does not hold.
	ErrUnknownAuction = errors.New("unknown auction")

	// ErrDuplicateAuction is returned when creating an auction with a taken id.
	ErrDuplicateAuction = errors.New("auction already exists")
)

// Clock is the node's slot clock. It also knows the public params the
// slot secrets were extracted under.
type Clock interface {
	auction.SlotClock
	PublicParams() *ibe.PublicParams
}

// Config holds the house collaborators.
type Config struct {
	Clock    Clock                 // Clock drives the auction deadlines
	Ledger   auction.AssetLedger   // Ledger receives settlement intents, may be nil
	Store    *state.Store          // Store persists auctions, may be nil
	Registry prometheus.Registerer // Registry receives the house metrics, may be nil
}

// House is a registry of auctions. It is safe for concurrent use.
type House struct {
	mu       sync.RWMutex
	auctions *orderedmap.OrderedMap[string, *auction.Auction]

	clock   Clock
	ledger  auction.AssetLedger
	store   *state.Store
	metrics *metrics
}

// New creates a house and restores every auction found in the store.
func New(cfg Config) (*House, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("slot clock is required")
	}

	h := &House{
		auctions: orderedmap.New[string, *auction.Auction](),
		clock:    cfg.Clock,
		ledger:   cfg.Ledger,
		store:    cfg.Store,
	}

	h.metrics = newMetrics(cfg.Registry, h.openCount)

	if err := h.restore(); err != nil {
		return nil, err
	}

	return h, nil
}

// restore loads persisted auctions.
func (h *House) restore() error {
	if h.store == nil {
		return nil
	}

	snaps, err := h.store.LoadAll()
	if err != nil {
		return fmt.Errorf("restore auctions:\n%w", err)
	}

	for _, snap := range snaps {
		a, err := auction.Restore(snap, h.clock, h.ledger)
		if err != nil {
			return err
		}

		a.SetCommit(h.commit())

		h.auctions.Set(a.ID(), a)
	}

	if len(snaps) > 0 {
		logger.Info("auctions restored", "count", len(snaps))
	}

	return nil
}

// PublicParams returns the params of the node's clock.
func (h *House) PublicParams() *ibe.PublicParams {
	return h.clock.PublicParams()
}

// Create opens a new auction and escrows its item.
func (h *House) Create(ctx context.Context, cfg auction.Config) (*auction.Auction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cfg.ID != "" {
		if _, ok := h.auctions.Get(cfg.ID); ok {
			return nil, fmt.Errorf("auction %s:\n%w", cfg.ID, ErrDuplicateAuction)
		}
	}

	cfg.Commit = h.commit()

	a, err := auction.New(ctx, cfg, h.clock, h.ledger)
	if err != nil {
		return nil, err
	}

	h.auctions.Set(a.ID(), a)
	h.metrics.Created.Inc()
	h.observeSettlement(a.SettlementErr())

	return a, nil
}

// Get returns the auction with the given id.
func (h *House) Get(id string) (*auction.Auction, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.auctions.Get(id)
	if !ok {
		return nil, fmt.Errorf("auction %s:\n%w", id, ErrUnknownAuction)
	}

	return a, nil
}

// List returns all auctions in creation order.
func (h *House) List() []*auction.Auction {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*auction.Auction, 0, h.auctions.Len())
	for pair := h.auctions.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}

	return out
}

// Propose stores a sealed bid on auction id.
func (h *House) Propose(id string, participant auction.AccountID, p auction.Proposal) error {
	a, err := h.Get(id)
	if err != nil {
		return err
	}

	if err := a.Propose(participant, p); err != nil {
		h.metrics.Proposals.WithLabelValues("rejected").Inc()
		return err
	}

	h.metrics.Proposals.WithLabelValues("accepted").Inc()

	return nil
}

// Complete runs a completion pass on auction id with explicit params and
// secrets. The params must be those of the node's clock.
func (h *House) Complete(ctx context.Context, id string, publicParams []byte, secrets []auction.SlotSecret) (*auction.Outcome, error) {
	a, err := h.Get(id)
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(publicParams, h.clock.PublicParams().Bytes()) {
		h.metrics.Completions.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("public params differ from the node clock:\n%w", auction.ErrCapsuleMismatch)
	}

	out, err := a.Complete(ctx, publicParams, secrets)
	if err != nil {
		h.metrics.Completions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	for _, f := range out.Failures {
		h.metrics.Failures.WithLabelValues(f.Reason()).Inc()
	}

	if !out.Completed {
		h.metrics.Completions.WithLabelValues("inconclusive").Inc()
		return out, nil
	}

	h.metrics.Completions.WithLabelValues("completed").Inc()
	h.observeSettlement(out.SettlementErr)

	return out, nil
}

// CompleteFromClock completes auction id with the secrets of every elapsed
// scheduled slot known to the node's clock.
func (h *House) CompleteFromClock(ctx context.Context, id string) (*auction.Outcome, error) {
	a, err := h.Get(id)
	if err != nil {
		return nil, err
	}

	secrets := a.ScheduleSecrets(h.clock)

	return h.Complete(ctx, id, h.clock.PublicParams().Bytes(), secrets)
}

// commit returns the function auctions persist their snapshots with,
// or nil when no store is configured.
func (h *House) commit() auction.CommitFunc {
	if h.store == nil {
		return nil
	}

	return func(snap *auction.Snapshot) error {
		if err := h.store.Save(snap); err != nil {
			logger.Error("persist auction failed", "auction", snap.ID, "error", err)
			return err
		}

		return nil
	}
}

func (h *House) observeSettlement(err error) {
	if err == nil {
		return
	}

	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		h.metrics.Settlement.Add(float64(len(joined.Unwrap())))
		return
	}

	h.metrics.Settlement.Inc()
}

// openCount reports the auctions still accepting proposals.
func (h *House) openCount() float64 {
	n := 0
	for _, a := range h.List() {
		if a.State() == auction.Open {
			n++
		}
	}

	return float64(n)
}
