// Package ledger keeps asset balances and applies auction transfer intents.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"TlockAuction/internal/auction"
	"TlockAuction/internal/logger"
)

// ErrInsufficientBalance is returned when the source cannot cover a transfer.
var ErrInsufficientBalance = errors.New("insufficient balance")

var _ auction.AssetLedger = (*Memory)(nil)

type holding struct {
	account auction.AccountID
	asset   uint32
}

// Entry is one applied intent.
type Entry struct {
	Intent auction.Intent
}

// Memory is an in-process ledger.
type Memory struct {
	mu       sync.Mutex
	balances map[holding]uint64
	journal  []Entry
}

// NewMemory creates an empty ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[holding]uint64)}
}

// Mint credits amount of asset to account.
func (m *Memory) Mint(account auction.AccountID, asset uint32, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[holding{account, asset}] += amount
}

// Balance returns the account's holding of asset.
func (m *Memory) Balance(account auction.AccountID, asset uint32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.balances[holding{account, asset}]
}

// Transfer applies an intent atomically.
func (m *Memory) Transfer(ctx context.Context, intent auction.Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := holding{intent.From, intent.AssetID}
	to := holding{intent.To, intent.AssetID}

	if m.balances[from] < intent.Amount {
		return fmt.Errorf("%s holds %d of asset %d, needs %d:\n%w",
			intent.From, m.balances[from], intent.AssetID, intent.Amount, ErrInsufficientBalance)
	}

	m.balances[from] -= intent.Amount
	m.balances[to] += intent.Amount
	m.journal = append(m.journal, Entry{Intent: intent})

	logger.Debug("ledger transfer",
		"auction", intent.Auction,
		"kind", intent.Kind,
		"asset", intent.AssetID,
		"amount", intent.Amount,
	)

	return nil
}

// Journal returns the applied intents in order.
func (m *Memory) Journal() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Entry(nil), m.journal...)
}
