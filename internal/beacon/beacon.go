// Package beacon publishes slot secrets on a fixed schedule.
//
// Slot n elapses at Genesis + n*SlotDuration. Once it has elapsed, its
// secret is the IBE identity key of timelock.SlotIdentity(n), which is also
// a BLS signature of that identity by the beacon key.
package beacon

import (
	"errors"
	"fmt"
	"time"

	"TlockAuction/internal/ibe"
	"TlockAuction/internal/timelock"
)

// ErrSlotNotElapsed is returned for secrets requested too early.
var ErrSlotNotElapsed = errors.New("slot not elapsed")

// Config configures a Beacon.
type Config struct {
	Genesis      time.Time         // Genesis is when slot 0 elapses
	SlotDuration time.Duration     // SlotDuration separates consecutive slots
	Master       *ibe.MasterSecret // Master extracts slot secrets
}

// Beacon derives slot progress from wall-clock time.
type Beacon struct {
	genesis  time.Time
	duration time.Duration
	master   *ibe.MasterSecret
	params   *ibe.PublicParams
	now      func() time.Time
}

// New creates a beacon.
func New(cfg Config) (*Beacon, error) {
	if cfg.Master == nil {
		return nil, fmt.Errorf("master secret is required")
	}

	if cfg.SlotDuration <= 0 {
		return nil, fmt.Errorf("slot duration must be positive, got %s", cfg.SlotDuration)
	}

	return &Beacon{
		genesis:  cfg.Genesis,
		duration: cfg.SlotDuration,
		master:   cfg.Master,
		params:   cfg.Master.PublicParams(),
		now:      time.Now,
	}, nil
}

// PublicParams returns the parameters slot secrets verify against.
func (b *Beacon) PublicParams() *ibe.PublicParams {
	return b.params
}

// SlotDuration returns the time between slots.
func (b *Beacon) SlotDuration() time.Duration {
	return b.duration
}

// SlotTime returns when slot elapses.
func (b *Beacon) SlotTime(slot timelock.Slot) time.Time {
	return b.genesis.Add(time.Duration(slot) * b.duration)
}

// CurrentSlot returns the latest elapsed slot at now. It reports false before genesis.
func (b *Beacon) CurrentSlot(now time.Time) (timelock.Slot, bool) {
	if now.Before(b.genesis) {
		return 0, false
	}

	return timelock.Slot(now.Sub(b.genesis) / b.duration), true
}

// IsElapsed reports whether slot has elapsed.
func (b *Beacon) IsElapsed(slot timelock.Slot) bool {
	current, ok := b.CurrentSlot(b.now())
	return ok && slot <= current
}

// SecretFor returns the secret of an elapsed slot.
func (b *Beacon) SecretFor(slot timelock.Slot) ([]byte, error) {
	if !b.IsElapsed(slot) {
		return nil, fmt.Errorf("slot %d:\n%w", slot, ErrSlotNotElapsed)
	}

	return timelock.ExtractSlotSecret(b.master, slot).Key, nil
}
