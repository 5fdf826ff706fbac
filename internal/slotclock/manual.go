// Package slotclock provides the slot clocks auctions read time from.
package slotclock

import (
	"fmt"
	"sync"

	"TlockAuction/internal/auction"
	"TlockAuction/internal/beacon"
	"TlockAuction/internal/ibe"
	"TlockAuction/internal/timelock"
)

var (
	_ auction.SlotClock = (*Manual)(nil)
	_ auction.SlotClock = (*Remote)(nil)
	_ auction.SlotClock = (*beacon.Beacon)(nil)
)

// ErrSlotNotElapsed is returned for secrets of slots that have not elapsed.
var ErrSlotNotElapsed = beacon.ErrSlotNotElapsed

// Manual is a clock whose slots elapse only when told to.
type Manual struct {
	mu      sync.RWMutex
	master  *ibe.MasterSecret
	elapsed map[timelock.Slot]bool
	upTo    timelock.Slot // upTo is one past the highest slot elapsed by AdvanceTo
}

// NewManual creates a manual clock extracting secrets with master.
func NewManual(master *ibe.MasterSecret) *Manual {
	return &Manual{master: master, elapsed: make(map[timelock.Slot]bool)}
}

// PublicParams returns the parameters the clock's secrets verify against.
func (m *Manual) PublicParams() *ibe.PublicParams {
	return m.master.PublicParams()
}

// Elapse marks individual slots as elapsed.
func (m *Manual) Elapse(slots ...timelock.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range slots {
		m.elapsed[s] = true
	}
}

// AdvanceTo marks every slot up to and including slot as elapsed.
func (m *Manual) AdvanceTo(slot timelock.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if slot+1 > m.upTo {
		m.upTo = slot + 1
	}
}

// IsElapsed reports whether slot has elapsed.
func (m *Manual) IsElapsed(slot timelock.Slot) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slot < m.upTo || m.elapsed[slot]
}

// SecretFor returns the secret of an elapsed slot.
func (m *Manual) SecretFor(slot timelock.Slot) ([]byte, error) {
	if !m.IsElapsed(slot) {
		return nil, fmt.Errorf("slot %d:\n%w", slot, ErrSlotNotElapsed)
	}

	return timelock.ExtractSlotSecret(m.master, slot).Key, nil
}
