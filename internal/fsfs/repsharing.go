package fsfs

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/veridianfs/txnfs/internal/repcache"
)

// WarningSink receives non-fatal errors encountered while consulting the
// optional persistent rep-cache. A corrupt or unreachable cache must never
// fail a commit outright: it only costs the dedup opportunity for that one
// representation, so lookups route failures here instead of returning
// them, rather than a silently swallowed error.
type WarningSink func(error)

// RepSharing implements the "representation is content-addressed by
// SHA-1" rule: before a freshly written rep is kept, check whether an
// identical one already exists, at three widening scopes:
//
//  1. in-process memory, the fast path for reps already resolved this run;
//  2. the persistent external rep-cache, shared across process restarts
//     and other repository handles;
//  3. an intra-transaction scratch file, for duplicate content written
//     earlier in the same still-open (and therefore not yet
//     cache-eligible) transaction.
type RepSharing struct {
	mu     sync.RWMutex
	memory map[[20]byte]*RepRef

	cache *repcache.Store // nil disables the persistent tier
	warn  WarningSink

	pendingMu sync.Mutex
	pending   []repcache.CacheEntry
}

// NewRepSharing builds a RepSharing index. cache may be nil to disable the
// persistent tier (e.g. for a short-lived or read-mostly repository
// handle); warn may be nil to discard cache-tier warnings.
func NewRepSharing(cache *repcache.Store, warn WarningSink) *RepSharing {
	return &RepSharing{
		memory: make(map[[20]byte]*RepRef),
		cache:  cache,
		warn:   warn,
	}
}

// Lookup searches the in-process map, then the persistent cache, for an
// immutable representation matching sha1. A cache-tier error is reported
// to warn and treated as a miss.
func (rs *RepSharing) Lookup(sha1 [20]byte) (*RepRef, bool) {
	rs.mu.RLock()
	if ref, ok := rs.memory[sha1]; ok {
		rs.mu.RUnlock()
		return ref, true
	}
	rs.mu.RUnlock()

	if rs.cache == nil {
		return nil, false
	}
	cref, found, err := rs.cache.Lookup(sha1)
	if err != nil {
		if rs.warn != nil {
			rs.warn(fmt.Errorf("rep-cache lookup: %w", err))
		}
		return nil, false
	}
	if !found {
		return nil, false
	}
	ref := &RepRef{
		Revision:     cref.Revision,
		Offset:       cref.Offset,
		Size:         cref.Size,
		ExpandedSize: cref.ExpandedSize,
		SHA1:         sha1,
		HasSHA1:      true,
	}
	rs.mu.Lock()
	rs.memory[sha1] = ref
	rs.mu.Unlock()
	return ref, true
}

// Record adds an immutable ref to the in-process map and queues it for the
// next persistent-cache flush. Mutable (still txn-scoped) refs are not
// recordable here; use the intra-txn scratch file for those instead.
func (rs *RepSharing) Record(ref *RepRef) {
	if ref == nil || !ref.HasSHA1 || ref.IsMutable() {
		return
	}
	rs.mu.Lock()
	rs.memory[ref.SHA1] = ref
	rs.mu.Unlock()

	rs.pendingMu.Lock()
	rs.pending = append(rs.pending, repcache.CacheEntry{
		SHA1: ref.SHA1,
		Ref: repcache.RepRef{
			Revision:     ref.Revision,
			Offset:       ref.Offset,
			Size:         ref.Size,
			ExpandedSize: ref.ExpandedSize,
		},
	})
	rs.pendingMu.Unlock()
}

// DrainPending returns and clears the batch of entries recorded since the
// last drain, for the Committer's post-commit async cache write.
func (rs *RepSharing) DrainPending() []repcache.CacheEntry {
	rs.pendingMu.Lock()
	defer rs.pendingMu.Unlock()
	if len(rs.pending) == 0 {
		return nil
	}
	out := rs.pending
	rs.pending = nil
	return out
}

// txnCandidate checks the intra-txn scratch file for candidate's SHA-1. If
// an earlier write in the same (still open) transaction already produced a
// rep with this digest, its descriptor is returned; otherwise candidate's
// own descriptor is written to the scratch file so later duplicates within
// this txn can find it.
func (rs *RepSharing) txnCandidate(paths Paths, txnID string, candidate *RepRef) (*RepRef, error) {
	hexName := hex.EncodeToString(candidate.SHA1[:])
	path := paths.TxnSHA1File(txnID, hexName)

	data, err := os.ReadFile(path)
	if err == nil {
		existing, perr := parseRepRef(strings.TrimSpace(string(data)))
		if perr != nil {
			return nil, perr
		}
		return existing, nil
	}
	if !os.IsNotExist(err) {
		return nil, newErr(KindCorrupt, "reading intra-txn rep-sharing scratch file", err)
	}

	if err := atomicWriteFile(path, []byte(candidate.String()+"\n")); err != nil {
		return nil, err
	}
	return nil, nil
}

// FindOrAdopt is the entry point RepWriter's caller uses once a
// representation's digests are known: it looks for an existing rep with
// the same SHA-1 (in-process, persistent cache, then intra-txn scratch
// file, in that order) and returns it if found. The caller should then
// discard the bytes just written (truncate the proto-rev file back to
// candidate.Offset) rather than keep a duplicate on disk. If nothing
// matches, candidate is adopted as the new canonical entry.
//
// A match found through the persistent cache tier carries no md5 or
// uniquifier (the cache does not store them); those two fields are
// backfilled from candidate onto a copy of the match before it is
// returned, never compared against it.
//
// adopted=true means candidate's own bytes are canonical and must be kept;
// adopted=false means the returned ref is a pre-existing match and
// candidate's bytes should be discarded.
func (rs *RepSharing) FindOrAdopt(paths Paths, txnID string, candidate *RepRef) (ref *RepRef, adopted bool, err error) {
	if existing, ok := rs.Lookup(candidate.SHA1); ok {
		return backfill(existing, candidate), false, nil
	}

	txnExisting, terr := rs.txnCandidate(paths, txnID, candidate)
	if terr != nil {
		return nil, false, terr
	}
	if txnExisting != nil {
		return backfill(txnExisting, candidate), false, nil
	}

	return candidate, true, nil
}

// backfill returns a copy of existing with md5 and uniquifier filled in
// from candidate. The persistent rep-cache does not store either field, so
// a cache-tier hit always needs this before it can stand in for a fresh
// write; copying rather than mutating existing in place keeps the
// in-process memory map's entry stable across concurrent callers.
func backfill(existing, candidate *RepRef) *RepRef {
	out := *existing
	out.MD5 = candidate.MD5
	out.Uniquifier = candidate.Uniquifier
	return &out
}
