// Package state persists auctions on top of the key-value storage.
package state

import (
	"errors"
	"fmt"

	"TlockAuction/internal/auction"
	"TlockAuction/internal/storage"
)

// auctionPrefix namespaces auction records in the database.
const auctionPrefix = "a:"

// ErrNotFound is returned when no record exists for an auction id.
var ErrNotFound = errors.New("auction not found")

// Store reads and writes auction snapshots.
type Store struct {
	db *storage.Storage
}

// NewStore creates a store over db.
func NewStore(db *storage.Storage) *Store {
	return &Store{db: db}
}

func auctionKey(id string) []byte {
	return []byte(auctionPrefix + id)
}

// Save writes the snapshot, replacing any previous record with the same id.
func (s *Store) Save(snap *auction.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("save auction: empty id")
	}

	if err := s.db.Set(auctionKey(snap.ID), EncodeSnapshot(snap)); err != nil {
		return fmt.Errorf("save auction %s:\n%w", snap.ID, err)
	}

	return nil
}

// Load returns the snapshot stored under id.
func (s *Store) Load(id string) (*auction.Snapshot, error) {
	data, err := s.db.Get(auctionKey(id))
	if err != nil {
		return nil, fmt.Errorf("load auction %s:\n%w", id, err)
	}

	if data == nil {
		return nil, fmt.Errorf("auction %s:\n%w", id, ErrNotFound)
	}

	snap, err := DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("load auction %s:\n%w", id, err)
	}

	return snap, nil
}

// LoadAll returns every stored snapshot ordered by id.
func (s *Store) LoadAll() ([]*auction.Snapshot, error) {
	var out []*auction.Snapshot

	err := s.db.IteratePrefix([]byte(auctionPrefix), func(key, value []byte) error {
		snap, err := DecodeSnapshot(value)
		if err != nil {
			return fmt.Errorf("decode %s:\n%w", key, err)
		}

		out = append(out, snap)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load auctions:\n%w", err)
	}

	return out, nil
}

// Delete removes the record for id. Missing records are not an error.
func (s *Store) Delete(id string) error {
	if err := s.db.Delete(auctionKey(id)); err != nil {
		return fmt.Errorf("delete auction %s:\n%w", id, err)
	}

	return nil
}
