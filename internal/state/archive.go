package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"TlockAuction/internal/logger"
	"TlockAuction/internal/types"
)

// archiveVersion is the Archive layout version.
const archiveVersion = 1

// ErrBadArchive is returned when an archive fails to decompress, parse or verify.
var ErrBadArchive = errors.New("invalid archive")

type entry struct {
	key   []byte
	value []byte
}

// Export writes every auction record into a zstd-compressed archive.
func (s *Store) Export() ([]byte, error) {
	var entries []entry

	err := s.db.IteratePrefix([]byte(auctionPrefix), func(key, value []byte) error {
		entries = append(entries, entry{key: clone(key), value: clone(value)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export auctions:\n%w", err)
	}

	createdAt := time.Now().UnixMilli()
	b := flatbuffers.NewBuilder(4096)

	offsets := make([]flatbuffers.UOffsetT, len(entries))
	for i, e := range entries {
		key := b.CreateByteVector(e.key)
		value := b.CreateByteVector(e.value)

		types.ArchiveEntryStart(b)
		types.ArchiveEntryAddKey(b, key)
		types.ArchiveEntryAddValue(b, value)
		offsets[i] = types.ArchiveEntryEnd(b)
	}

	entriesVec := offsetVector(b, types.ArchiveStartEntriesVector, offsets)
	checksum := b.CreateByteVector(archiveChecksum(createdAt, entries))

	types.ArchiveStart(b)
	types.ArchiveAddVersion(b, archiveVersion)
	types.ArchiveAddCreatedAt(b, createdAt)
	types.ArchiveAddEntries(b, entriesVec)
	types.ArchiveAddChecksum(b, checksum)
	b.Finish(types.ArchiveEnd(b))

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder:\n%w", err)
	}
	defer enc.Close()

	compressed := enc.EncodeAll(b.FinishedBytes(), nil)

	logger.Info("auctions exported",
		"records", len(entries),
		"raw", len(b.FinishedBytes()),
		"compressed", len(compressed),
	)

	return compressed, nil
}

// Import verifies an archive and replaces all stored auctions with its content.
// It returns the number of records restored.
func (s *Store) Import(archive []byte) (int, error) {
	entries, err := readArchive(archive)
	if err != nil {
		return 0, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.DeletePrefix([]byte(auctionPrefix)); err != nil {
		return 0, fmt.Errorf("clear auctions:\n%w", err)
	}

	for _, e := range entries {
		if err := batch.Set(e.key, e.value); err != nil {
			return 0, fmt.Errorf("restore %s:\n%w", e.key, err)
		}
	}

	if err := batch.Commit(); err != nil {
		return 0, fmt.Errorf("commit import:\n%w", err)
	}

	logger.Info("auctions imported", "records", len(entries))

	return len(entries), nil
}

// readArchive decompresses, parses and verifies an archive. Every record
// must decode as an auction before anything is written.
func readArchive(archive []byte) (entries []entry, err error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder:\n%w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(archive, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %v:\n%w", err, ErrBadArchive)
	}

	if len(raw) < 8 {
		return nil, fmt.Errorf("archive of %d bytes:\n%w", len(raw), ErrBadArchive)
	}

	defer func() {
		if r := recover(); r != nil {
			entries, err = nil, fmt.Errorf("decode archive: %v:\n%w", r, ErrBadArchive)
		}
	}()

	a := types.GetRootAsArchive(raw, 0)
	if v := a.Version(); v != archiveVersion {
		return nil, fmt.Errorf("unsupported version %d:\n%w", v, ErrBadArchive)
	}

	var ae types.ArchiveEntry
	for i := 0; i < a.EntriesLength(); i++ {
		if !a.Entries(&ae, i) {
			return nil, fmt.Errorf("entry %d:\n%w", i, ErrBadArchive)
		}

		e := entry{key: clone(ae.KeyBytes()), value: clone(ae.ValueBytes())}
		if !bytes.HasPrefix(e.key, []byte(auctionPrefix)) {
			return nil, fmt.Errorf("foreign key %q:\n%w", e.key, ErrBadArchive)
		}

		if _, err := DecodeSnapshot(e.value); err != nil {
			return nil, fmt.Errorf("entry %s: %v:\n%w", e.key, err, ErrBadArchive)
		}

		entries = append(entries, e)
	}

	if !bytes.Equal(a.ChecksumBytes(), archiveChecksum(a.CreatedAt(), entries)) {
		return nil, fmt.Errorf("checksum mismatch:\n%w", ErrBadArchive)
	}

	return entries, nil
}

// archiveChecksum hashes the creation time and length-prefixed entries.
func archiveChecksum(createdAt int64, entries []entry) []byte {
	h := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(createdAt))
	h.Write(buf[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.key)))
		h.Write(buf[:4])
		h.Write(e.key)

		binary.BigEndian.PutUint32(buf[:4], uint32(len(e.value)))
		h.Write(buf[:4])
		h.Write(e.value)
	}

	return h.Sum(nil)
}
