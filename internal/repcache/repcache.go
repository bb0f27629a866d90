// Package repcache is the concrete implementation of the external
// rep-cache persistent index the core transactional engine consumes
// through a key/value interface: a SHA-1 digest maps to the location of
// one canonical representation. It is backed by
// github.com/dgraph-io/badger/v4.
package repcache

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// RepRef is the location of one canonical representation, the subset of
// fsfs.RepRef that rep-sharing needs to recover a candidate match.
type RepRef struct {
	Revision     int64
	Offset       int64
	Size         int64
	ExpandedSize int64
}

// Store is a badger-backed SHA-1 -> RepRef index.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) a rep-cache at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("repcache: opening badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an in-memory rep-cache, useful for tests and for
// repositories that opt out of persistent dedup across restarts.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("repcache: opening in-memory badger store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying badger store.
func (s *Store) Close() error { return s.db.Close() }

// Lookup returns the cached rep for sha1, if any.
func (s *Store) Lookup(sha1 [20]byte) (RepRef, bool, error) {
	var ref RepRef
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sha1[:])
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := decodeRepRef(val)
			if err != nil {
				return err
			}
			ref = r
			found = true
			return nil
		})
	})
	if err != nil {
		return RepRef{}, false, fmt.Errorf("repcache: lookup: %w", err)
	}
	return ref, found, nil
}

// CacheEntry pairs a digest with the representation it maps to, for batch
// writes.
type CacheEntry struct {
	SHA1 [20]byte
	Ref  RepRef
}

// PutBatch writes entries in a single badger transaction. This runs
// outside the repository write-lock: a failure here never invalidates an
// already-published commit.
func (s *Store) PutBatch(entries []CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := wb.Set(append([]byte(nil), e.SHA1[:]...), encodeRepRef(e.Ref)); err != nil {
			return fmt.Errorf("repcache: batch set: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("repcache: batch flush: %w", err)
	}
	return nil
}

// RunValueLogGC compacts the underlying value log, reclaiming space held
// by superseded entries. Intended for periodic/offline maintenance (the
// `txnfs gc` CLI command), not the commit hot path.
func (s *Store) RunValueLogGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

func encodeRepRef(r RepRef) []byte {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[0:8], uint64(r.Revision))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.Offset))
	binary.BigEndian.PutUint64(buf[16:24], uint64(r.Size))
	binary.BigEndian.PutUint64(buf[24:32], uint64(r.ExpandedSize))
	return buf
}

func decodeRepRef(buf []byte) (RepRef, error) {
	if len(buf) != 32 {
		return RepRef{}, fmt.Errorf("repcache: malformed value (%d bytes)", len(buf))
	}
	return RepRef{
		Revision:     int64(binary.BigEndian.Uint64(buf[0:8])),
		Offset:       int64(binary.BigEndian.Uint64(buf[8:16])),
		Size:         int64(binary.BigEndian.Uint64(buf[16:24])),
		ExpandedSize: int64(binary.BigEndian.Uint64(buf[24:32])),
	}, nil
}
