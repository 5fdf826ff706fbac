package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// defaultDedupTTL is how long a message hash is remembered.
const defaultDedupTTL = 30 * time.Second

// Dedup drops messages seen within a TTL, keyed by their BLAKE3 digest.
type Dedup struct {
	mu      sync.Mutex
	ttl     time.Duration
	expires map[[32]byte]time.Time // expires maps a digest to when it may be seen again
	now     func() time.Time
}

// NewDedup creates a tracker. A zero ttl selects the default.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	return &Dedup{
		ttl:     ttl,
		expires: make(map[[32]byte]time.Time),
		now:     time.Now,
	}
}

// Check records data and reports whether it is new.
func (d *Dedup) Check(data []byte) bool {
	digest := blake3.Sum256(data)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	if exp, ok := d.expires[digest]; ok && now.Before(exp) {
		return false
	}

	d.expires[digest] = now.Add(d.ttl)

	return true
}

// Prune forgets expired digests and returns how many remain.
func (d *Dedup) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	for digest, exp := range d.expires {
		if !now.Before(exp) {
			delete(d.expires, digest)
		}
	}

	return len(d.expires)
}
