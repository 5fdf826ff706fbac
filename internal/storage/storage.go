// Package storage is a Pebble key-value store tuned for small, frequent writes.
//
// Writes skip fsync and a background loop syncs the WAL on an interval, so a
// crash loses at most one interval of writes.
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	// DefaultSyncInterval is the WAL sync period when none is configured.
	DefaultSyncInterval = 200 * time.Millisecond

	// defaultCacheSize is the block cache size (16 MB).
	defaultCacheSize = 16 << 20
)

// Options tunes a Storage.
type Options struct {
	SyncInterval time.Duration // SyncInterval is the WAL sync period
	CacheSize    int64         // CacheSize is the block cache size in bytes
}

// Storage wraps a Pebble database.
type Storage struct {
	db *pebble.DB

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open opens or creates the database at path.
func Open(path string, opts Options) (*Storage, error) {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}

	cache := pebble.NewCache(opts.CacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:        cache,
		MemTableSize: 8 << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s:\n%w", path, err)
	}

	s := &Storage{db: db, stop: make(chan struct{})}

	s.wg.Add(1)
	go s.syncLoop(opts.SyncInterval)

	return s, nil
}

// Get returns a copy of the value at key, or nil when absent.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	return append([]byte(nil), value...), nil
}

// Set writes key without waiting for fsync.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// Delete removes key.
func (s *Storage) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// DeletePrefix removes every key starting with prefix.
func (s *Storage) DeletePrefix(prefix []byte) error {
	b := s.NewBatch()
	defer b.Close()

	if err := b.DeletePrefix(prefix); err != nil {
		return err
	}

	return b.Commit()
}

// IteratePrefix calls fn for every key starting with prefix, in key order.
// Slices passed to fn are only valid during the call.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// Sync flushes the WAL to disk.
func (s *Storage) Sync() error {
	return s.db.LogData(nil, pebble.Sync)
}

// Close syncs and closes the database. Later calls are no-ops.
func (s *Storage) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()

		err = errors.Join(s.Sync(), s.db.Close())
	})

	return err
}

func (s *Storage) syncLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Sync()
		}
	}
}

// Batch groups writes that commit atomically.
type Batch struct {
	b *pebble.Batch
}

// NewBatch starts a batch.
func (s *Storage) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

// Set adds a write.
func (b *Batch) Set(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

// Delete adds a deletion.
func (b *Batch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

// DeletePrefix adds a range deletion covering prefix.
func (b *Batch) DeletePrefix(prefix []byte) error {
	end := upperBound(prefix)
	if end == nil {
		return fmt.Errorf("prefix %x has no upper bound", prefix)
	}

	return b.b.DeleteRange(prefix, end, nil)
}

// Commit applies the batch.
func (b *Batch) Commit() error {
	return b.b.Commit(pebble.NoSync)
}

// Close releases the batch.
func (b *Batch) Close() error {
	return b.b.Close()
}

// upperBound is the smallest key greater than every key with prefix,
// or nil when no such key exists.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)

	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}

	return nil
}
