package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"TlockAuction/internal/auction"
	"TlockAuction/internal/logger"
	"TlockAuction/internal/storage"
)

// intentPrefix namespaces recorded intents in the database.
const intentPrefix = "i:"

var _ auction.AssetLedger = (*Recorder)(nil)

// Recorder accepts every intent and appends it to storage, in order, for an
// external settlement process to apply.
type Recorder struct {
	mu  sync.Mutex
	db  *storage.Storage
	seq uint64 // seq is the next sequence number
}

// NewRecorder opens a recorder, resuming after the intents already stored.
func NewRecorder(db *storage.Storage) (*Recorder, error) {
	r := &Recorder{db: db}

	err := db.IteratePrefix([]byte(intentPrefix), func(key, _ []byte) error {
		if len(key) != len(intentPrefix)+8 {
			return fmt.Errorf("bad intent key %x", key)
		}

		r.seq = binary.BigEndian.Uint64(key[len(intentPrefix):]) + 1

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan intents:\n%w", err)
	}

	return r, nil
}

func intentKey(seq uint64) []byte {
	key := make([]byte, len(intentPrefix)+8)
	copy(key, intentPrefix)
	binary.BigEndian.PutUint64(key[len(intentPrefix):], seq)

	return key
}

// Transfer records the intent.
func (r *Recorder) Transfer(ctx context.Context, intent auction.Intent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent:\n%w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.Set(intentKey(r.seq), data); err != nil {
		return fmt.Errorf("record intent:\n%w", err)
	}

	logger.Info("intent recorded",
		"seq", r.seq,
		"auction", intent.Auction,
		"kind", intent.Kind,
		"asset", intent.AssetID,
		"amount", intent.Amount,
	)

	r.seq++

	return nil
}

// Intents returns every recorded intent in order.
func (r *Recorder) Intents() ([]auction.Intent, error) {
	var out []auction.Intent

	err := r.db.IteratePrefix([]byte(intentPrefix), func(_, value []byte) error {
		var intent auction.Intent
		if err := json.Unmarshal(value, &intent); err != nil {
			return err
		}

		out = append(out, intent)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read intents:\n%w", err)
	}

	return out, nil
}
