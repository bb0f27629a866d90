package fsfs

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veridianfs/txnfs/internal/repcache"
	"github.com/veridianfs/txnfs/internal/workpool"
)

// LockVerifier re-checks that every path about to be committed is either
// unlocked or locked by the committing user. Path locking itself is out of
// this engine's scope (§1 Non-goals); Committer only calls the predicate it
// is handed.
type LockVerifier interface {
	VerifyPathsLocked(paths []string, recurse bool) error
}

// CommitPolicy carries the repository-format tunables the Committer and
// DeltaBase need.
type CommitPolicy struct {
	DeltaPolicy
	RepSharingAllowed  bool
	DeltifyDirectories bool
	ShardSize          int64
}

// Committer assembles a transaction into the next revision: it walks the
// txn tree rewriting mutable noderevs with final ids and offsets, folds and
// serializes the change log, and atomically promotes the proto-rev file.
type Committer struct {
	paths    Paths
	store    *TxnStore
	reg      *Registry
	sharing  *RepSharing
	content  *RepContentReader
	noderevs NoderevReader // decode-caching wrapper around content; nil falls back to content
	policy   CommitPolicy
	locks    LockVerifier    // nil disables path-lock re-verification
	pool     *workpool.Pool  // nil runs the rep-cache flush inline
	cache    *repcache.Store // nil disables the persistent rep-cache
	logger   *log.Logger
}

// NewCommitter wires a Committer against one repository's stores. noderevs
// may be nil, in which case the delta-base walk reads straight through
// content with no decode caching.
func NewCommitter(paths Paths, store *TxnStore, reg *Registry, sharing *RepSharing, noderevs NoderevReader, policy CommitPolicy, locks LockVerifier, pool *workpool.Pool, cache *repcache.Store, logger *log.Logger) *Committer {
	if logger == nil {
		logger = log.Default()
	}
	content := NewRepContentReader(paths)
	if noderevs == nil {
		noderevs = content
	}
	return &Committer{
		paths:    paths,
		store:    store,
		reg:      reg,
		sharing:  sharing,
		content:  content,
		noderevs: noderevs,
		policy:   policy,
		locks:    locks,
		pool:     pool,
		cache:    cache,
		logger:   logger,
	}
}

// Commit runs the full protocol for txnID and returns the new revision
// number. An error before the `current` file is rewritten leaves the new
// revision unpublished: the proto-rev file may have been partially written
// but is never renamed into revs/ until every prior step has succeeded.
// Files written before the failing step (new shard directories, or the
// renamed revision file when a later step fails) are not removed. The
// repository write-lock is held from the stale-base check through the
// `current` file update, so at most one committer runs at a time across
// all processes sharing this repository.
func (c *Committer) Commit(txnID string) (rev int64, err error) {
	start := time.Now()

	lock, err := AcquireFileLockBlocking(c.paths.WriteLockFile())
	if err != nil {
		return 0, err
	}
	defer lock.Unlock()

	oldRev, err := readCurrentRev(c.paths.CurrentFile())
	if err != nil {
		return 0, err
	}
	baseRev, err := parseTxnBaseRev(txnID)
	if err != nil {
		return 0, err
	}
	if baseRev != oldRev {
		return 0, newErr(KindTxnOutOfDate, fmt.Sprintf("txn base rev %d does not match head %d", baseRev, oldRev), nil)
	}

	changeRecords, err := c.store.ReadChanges(txnID)
	if err != nil {
		return 0, err
	}
	folded, err := FoldChanges(changeRecords)
	if err != nil {
		return 0, err
	}
	if c.locks != nil {
		if err := c.locks.VerifyPathsLocked(SortedPaths(folded), true); err != nil {
			return 0, err
		}
	}

	newRev := oldRev + 1

	rootStem := idStem(NewMutableID("0", "0", txnID))
	rootNode, err := c.store.ReadTxnNoderev(txnID, rootStem)
	if err != nil {
		return 0, err
	}
	if err := c.checkRootContinuity(oldRev, newRev, rootNode.PredecessorCount); err != nil {
		return 0, err
	}

	cookie, f, err := AcquireProtoRevLock(c.reg, c.paths.TxnProtoRevLockFile(txnID), c.paths.TxnProtoRevFile(txnID), txnID)
	if err != nil {
		return 0, err
	}
	promoted := false
	defer func() {
		if !promoted {
			f.Close()
			cookie.Release()
		}
	}()

	rootID, rootOffset, err := c.writeFinalRev(f, txnID, NewMutableID("0", "0", txnID), newRev)
	if err != nil {
		return 0, err
	}

	changedPathOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, newErr(KindCorrupt, "reading changed-path offset", err)
	}
	if err := writeFoldedChanges(f, folded); err != nil {
		return 0, err
	}

	if _, err := fmt.Fprintf(f, "%d %d\n", rootOffset, changedPathOffset); err != nil {
		return 0, newErr(KindCorrupt, "writing commit trailer", err)
	}
	if err := f.Sync(); err != nil {
		return 0, newErr(KindCorrupt, "syncing proto-rev file", err)
	}
	if err := f.Close(); err != nil {
		return 0, newErr(KindCorrupt, "closing proto-rev file", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if err := c.store.ChangeTxnProps(txnID, map[string]*string{
		"check-ood":   nil,
		"check-locks": nil,
		"svn:date":    &now,
	}); err != nil {
		return 0, err
	}

	if c.paths.IsNewShard(newRev) {
		if err := os.MkdirAll(c.paths.RevShardDir(newRev), 0755); err != nil {
			return 0, newErr(KindCorrupt, "creating revision shard directory", err)
		}
		if err := os.MkdirAll(c.paths.RevPropsShardDir(newRev), 0755); err != nil {
			return 0, newErr(KindCorrupt, "creating revprops shard directory", err)
		}
	}

	if err := moveIntoPlace(c.paths.TxnProtoRevFile(txnID), c.paths.RevFile(newRev)); err != nil {
		return 0, err
	}
	promoted = true
	if err := cookie.Release(); err != nil {
		return 0, err
	}

	props, err := c.store.GetProplist(txnID)
	if err != nil {
		return 0, err
	}
	if err := atomicWriteFile(c.paths.RevPropsFile(newRev), encodePropHash(props)); err != nil {
		return 0, err
	}

	if err := atomicWriteFile(c.paths.CurrentFile(), []byte(strconv.FormatInt(newRev, 10)+"\n")); err != nil {
		return 0, err
	}
	if err := lock.Unlock(); err != nil {
		return 0, newErr(KindCorrupt, "releasing repository write lock", err)
	}

	c.reg.Purge(txnID)
	if err := purgeTxnDir(c.paths, txnID); err != nil {
		c.logger.Printf("txnfs: commit %d: cleaning up txn %s: %v", newRev, txnID, err)
	}

	c.flushRepCache(newRev)

	c.logger.Printf("txnfs: commit rev=%d txn_id=%s duration=%s root=%s", newRev, txnID, time.Since(start), rootID)
	return newRev, nil
}

// checkRootContinuity re-opens the head revision's root noderev and
// asserts that the new root's predecessor_count advanced by exactly the
// number of revisions between head and new. A mismatch means some other
// committer promoted a revision between this transaction's base read and
// now, racing past a check the write-lock should have prevented, or that
// the txn's root lineage was corrupted.
func (c *Committer) checkRootContinuity(oldRev, newRev, rootPredCount int64) error {
	trailer, err := ReadRevisionTrailer(c.paths, oldRev)
	if err != nil {
		return err
	}
	headRoot, err := c.content.ReadNoderev(NewImmutableID("0", "0", oldRev, trailer.RootOffset))
	if err != nil {
		return err
	}
	if rootPredCount-headRoot.PredecessorCount != newRev-oldRev {
		return newErr(KindCorrupt, fmt.Sprintf(
			"root continuity violated: pred_count %d, head pred_count %d, new_rev %d, head_rev %d",
			rootPredCount, headRoot.PredecessorCount, newRev, oldRev), nil)
	}
	return nil
}

// writeFinalRev recursively rewrites id's mutable noderev (and, for
// directories, every mutable child) to f, assigning final ids and offsets.
// It returns the noderev's new immutable id and the file offset it was
// written at.
func (c *Committer) writeFinalRev(f *os.File, txnID string, id ID, newRev int64) (ID, int64, error) {
	stem := idStem(id)
	n, err := c.store.ReadTxnNoderev(txnID, stem)
	if err != nil {
		return ID{}, 0, err
	}

	if n.Kind == KindDir {
		if err := c.finalizeDirectory(f, txnID, stem, n, newRev); err != nil {
			return ID{}, 0, err
		}
	} else {
		c.finalizeDataRep(n, newRev)
	}
	if err := c.finalizePropsRep(f, txnID, stem, n, newRev); err != nil {
		return ID{}, 0, err
	}

	finalNodeID := n.ID.NodeID
	if strings.HasPrefix(finalNodeID, "_") {
		finalNodeID = finalStem(finalNodeID, newRev)
	}
	finalCopyID := n.ID.CopyID
	if strings.HasPrefix(finalCopyID, "_") {
		finalCopyID = finalStem(finalCopyID, newRev)
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return ID{}, 0, newErr(KindCorrupt, "reading noderev offset", err)
	}
	newID := NewImmutableID(finalNodeID, finalCopyID, newRev, offset)
	n.ID = newID
	n.IsFreshTxnRoot = false

	if err := n.Serialize(f); err != nil {
		return ID{}, 0, newErr(KindCorrupt, "writing final noderev", err)
	}
	return newID, offset, nil
}

// finalizeDirectory resolves every mutable child of a directory noderev to
// its final id, then writes the updated listing through RepWriter/
// RepSharing to produce n.DataRep.
func (c *Committer) finalizeDirectory(f *os.File, txnID, stem string, n *Noderev, newRev int64) error {
	entries, err := c.store.ReadDirListing(txnID, stem)
	if err != nil {
		return err
	}
	for i, e := range entries {
		if !e.ID.IsMutable() || e.ID.TxnID != txnID {
			continue
		}
		finalChild, _, err := c.writeFinalRev(f, txnID, e.ID, newRev)
		if err != nil {
			return err
		}
		entries[i].ID = finalChild
	}

	var base *RepRef
	var baseContent []byte
	if c.policy.DeltifyDirectories {
		base, err = ChooseDeltaBase(c.noderevs, n, false, c.policy.DeltaPolicy)
		if err != nil {
			return err
		}
		if base != nil {
			baseContent, err = c.content.ExpandRep(base)
			if err != nil {
				return err
			}
		}
	}

	ref, err := c.writeAndShareRep(f, txnID, base, baseContent, func(w io.Writer) error {
		return SerializeDirListing(entries, w)
	}, newRev)
	if err != nil {
		return err
	}
	n.DataRep = ref
	return nil
}

// finalizeDataRep converts a file's already-written mutable data rep (its
// bytes were written during editing, directly into this same proto-rev
// file, via RepWriter) into its final immutable form. No bytes move: the
// offset recorded during editing is already the offset it will occupy in
// the promoted revision file.
func (c *Committer) finalizeDataRep(n *Noderev, newRev int64) {
	if n.DataRep != nil && n.DataRep.IsMutable() && n.DataRep.TxnID != "" {
		n.DataRep.Revision = newRev
		n.DataRep.TxnID = ""
	}
}

// finalizePropsRep writes out any pending property edits recorded for this
// node during the transaction. A node with no pending edits keeps whatever
// PropsRep it already had (possibly nil, possibly inherited unchanged from
// its predecessor).
func (c *Committer) finalizePropsRep(f *os.File, txnID, stem string, n *Noderev, newRev int64) error {
	props, err := c.store.ReadNodeProps(txnID, stem)
	if err != nil {
		return err
	}
	if len(props) == 0 {
		if _, statErr := os.Stat(c.paths.TxnNodePropsFile(txnID, stem)); os.IsNotExist(statErr) {
			return nil
		}
	}

	var base *RepRef
	var baseContent []byte
	base, err = ChooseDeltaBase(c.noderevs, n, true, c.policy.DeltaPolicy)
	if err != nil {
		return err
	}
	if base != nil {
		baseContent, err = c.content.ExpandRep(base)
		if err != nil {
			return err
		}
	}

	ref, err := c.writeAndShareRep(f, txnID, base, baseContent, func(w io.Writer) error {
		_, werr := w.Write(encodePropHash(props))
		return werr
	}, newRev)
	if err != nil {
		return err
	}
	n.PropsRep = ref
	return nil
}

// writeAndShareRep writes content through a RepWriter at f's current
// offset, runs RepSharing against the result, and returns the final
// immutable RepRef: either the newly written one (truncating nothing) or
// an existing match (truncating f back to the offset it started at).
func (c *Committer) writeAndShareRep(f *os.File, txnID string, base *RepRef, baseContent []byte, content func(io.Writer) error, newRev int64) (*RepRef, error) {
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, newErr(KindCorrupt, "reading rep offset", err)
	}

	rw, err := NewRepWriter(f, offset, txnID, base, baseContent, c.store)
	if err != nil {
		return nil, err
	}
	if err := content(rw); err != nil {
		rw.Abort()
		return nil, newErr(KindCorrupt, "writing rep content", err)
	}
	candidate, err := rw.Close()
	if err != nil {
		return nil, err
	}

	if !c.policy.RepSharingAllowed {
		candidate.Revision = newRev
		candidate.TxnID = ""
		c.sharing.Record(candidate)
		return candidate, nil
	}

	final, adopted, err := c.sharing.FindOrAdopt(c.paths, txnID, candidate)
	if err != nil {
		return nil, err
	}
	if !adopted {
		if err := f.Truncate(offset); err != nil {
			return nil, newErr(KindCorrupt, "truncating proto-rev file after rep-sharing match", err)
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, newErr(KindCorrupt, "seeking proto-rev file after truncate", err)
		}
		return final, nil
	}
	candidate.Revision = newRev
	candidate.TxnID = ""
	c.sharing.Record(candidate)
	return candidate, nil
}

// flushRepCache drains RepSharing's pending entries and writes them to the
// persistent rep-cache outside the repository write-lock, matching commit
// step 16: a slow or failing cache write must never delay (or fail) the
// commit itself.
func (c *Committer) flushRepCache(rev int64) {
	if c.cache == nil {
		return
	}
	entries := c.sharing.DrainPending()
	if len(entries) == 0 {
		return
	}
	job := func() {
		if err := c.cache.PutBatch(entries); err != nil {
			c.logger.Printf("txnfs: rev=%d rep-cache batch write failed: %v", rev, err)
		}
	}
	if c.pool != nil {
		c.pool.Submit(job)
	} else {
		job()
	}
}

func readCurrentRev(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, newErr(KindCorrupt, "reading current file", err)
	}
	rev, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, newErr(KindCorrupt, "malformed current file", err)
	}
	return rev, nil
}

// parseTxnBaseRev recovers the base revision encoded in a txn id's
// "<base_rev>-<seq>" textual form.
func parseTxnBaseRev(txnID string) (int64, error) {
	idx := strings.IndexByte(txnID, '-')
	if idx < 0 {
		return 0, newErr(KindCorrupt, fmt.Sprintf("malformed txn id %q", txnID), nil)
	}
	rev, err := strconv.ParseInt(txnID[:idx], 10, 64)
	if err != nil {
		return 0, newErr(KindCorrupt, fmt.Sprintf("malformed txn id %q", txnID), err)
	}
	return rev, nil
}

func writeFoldedChanges(w io.Writer, folded map[string]*FoldedChange) error {
	for _, path := range SortedPaths(folded) {
		fc := folded[path]
		rec := ChangeRecord{
			Path:         fc.Path,
			Kind:         fc.Kind,
			NodeRevID:    fc.NodeRevID,
			TextMod:      fc.TextMod,
			PropMod:      fc.PropMod,
			NodeKind:     fc.NodeKind,
			CopyFromRev:  fc.CopyFromRev,
			CopyFromPath: fc.CopyFromPath,
		}
		if err := rec.Serialize(w); err != nil {
			return newErr(KindCorrupt, "writing folded change record", err)
		}
	}
	return nil
}

// moveIntoPlace renames src to dst and fsyncs dst's parent directory, so
// the rename itself is durable before the caller proceeds to publish
// `current`.
func moveIntoPlace(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return newErr(KindCorrupt, "renaming proto-rev file into place", err)
	}
	dir, err := os.Open(dirname(dst))
	if err != nil {
		return nil // best-effort: the rename itself already succeeded
	}
	defer dir.Close()
	_ = dir.Sync()
	return nil
}

func dirname(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// purgeTxnDir removes every on-disk trace of a committed transaction: its
// directory (next-ids, props, node.* scratch files, intra-txn sha1
// scratch files) and its proto-rev lock file (the proto-rev file itself
// was already renamed away by moveIntoPlace).
func purgeTxnDir(paths Paths, txnID string) error {
	if err := os.RemoveAll(paths.TxnDir(txnID)); err != nil {
		return err
	}
	return os.Remove(paths.TxnProtoRevLockFile(txnID))
}
