package fsfs

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/veridianfs/txnfs/internal/repcache"
	"github.com/veridianfs/txnfs/internal/workpool"
)

// Format is the on-disk repository feature set, loaded from the `format`
// file and cached on the Repository handle for the lifetime of the
// process.
type Format struct {
	Version                int64
	RepSharingAllowed      bool
	DeltifyDirectories     bool
	MaxLinearDeltification int64
	MaxDeltificationWalk   int64
	ShardSize              int64
}

// Repository is the top-level handle for one file-backed versioned
// storage repository: it owns the transaction registry, the txn store, the
// path layout, and (optionally) a persistent rep-cache and bounded worker
// pool, and exposes the transaction lifecycle as its public API. A
// Repository is safe for concurrent use by multiple goroutines; the
// repository write-lock serializes commits across processes, and Registry
// serializes registration state within this one.
// noderevCacheSize bounds the number of decoded immutable noderevs a
// Repository's NoderevCache keeps resident; a few thousand covers the
// working set of any one commit's delta-base walk without meaningfully
// competing with the rep bytes themselves for memory.
const noderevCacheSize = 4096

type Repository struct {
	paths    Paths
	format   Format
	reg      *Registry
	store    *TxnStore
	sharing  *RepSharing
	cache    *repcache.Store
	noderevs *NoderevCache
	pool     *workpool.Pool
	locks    LockVerifier
	logger   *log.Logger
}

// Options configures Open.
type Options struct {
	Format Format
	Cache  *repcache.Store // nil disables the persistent rep-cache tier
	Pool   *workpool.Pool  // nil runs rep-cache flushes inline
	Locks  LockVerifier    // nil disables path-lock re-verification
	Logger *log.Logger
	Warn   WarningSink
}

// Open creates a Repository handle rooted at root, using an
// already-initialized on-disk layout (see CreateRepository).
func Open(root string, opts Options) (*Repository, error) {
	paths := NewPaths(root, opts.Format.ShardSize)
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	noderevs, err := NewNoderevCache(NewRepContentReader(paths), noderevCacheSize)
	if err != nil {
		return nil, err
	}
	return &Repository{
		paths:    paths,
		format:   opts.Format,
		reg:      NewRegistry(),
		store:    NewTxnStore(paths),
		sharing:  NewRepSharing(opts.Cache, opts.Warn),
		cache:    opts.Cache,
		noderevs: noderevs,
		pool:     opts.Pool,
		locks:    opts.Locks,
		logger:   logger,
	}, nil
}

// Close releases resources the Repository holds that outlive any single
// call: currently just the noderev decode cache's background goroutines.
// The persistent rep-cache passed in via Options.Cache is owned by the
// caller and is not closed here.
func (r *Repository) Close() {
	r.noderevs.Close()
}

// CreateRepository initializes a new, empty repository at root: the
// `current` and `txn-current` counters, the `format` file, and revision 0
// (an empty root directory with no properties).
func CreateRepository(root string, format Format) error {
	paths := NewPaths(root, format.ShardSize)
	for _, dir := range []string{root, paths.TxnsDir(), paths.TxnProtoRevsDir(), paths.RevShardDir(0), paths.RevPropsShardDir(0)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return newErr(KindCorrupt, fmt.Sprintf("creating %s", dir), err)
		}
	}

	rootID := NewImmutableID("0", "0", 0, 0)
	root0 := &Noderev{
		ID:           rootID,
		Kind:         KindDir,
		CopyRootRev:  0,
		CopyRootPath: "/",
		CreatedPath:  "/",
	}
	f, err := os.Create(paths.RevFile(0))
	if err != nil {
		return newErr(KindCorrupt, "creating revision 0 file", err)
	}
	defer f.Close()

	rootOffset := int64(0)
	if err := root0.Serialize(f); err != nil {
		return newErr(KindCorrupt, "writing revision 0 root noderev", err)
	}
	changedPathOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return newErr(KindCorrupt, "reading revision 0 offset", err)
	}
	// Revision 0 has no changes; the folded-changes block is empty.
	if _, err := fmt.Fprintf(f, "%d %d\n", rootOffset, changedPathOffset); err != nil {
		return newErr(KindCorrupt, "writing revision 0 trailer", err)
	}

	if err := atomicWriteFile(paths.RevPropsFile(0), encodePropHash(nil)); err != nil {
		return err
	}
	if err := atomicWriteFile(paths.CurrentFile(), []byte("0\n")); err != nil {
		return err
	}
	if err := atomicWriteFile(paths.TxnCurrentFile(), []byte("0\n")); err != nil {
		return err
	}
	return writeFormatFile(paths.FormatFile(), format)
}

func writeFormatFile(path string, f Format) error {
	var b strings.Builder
	fmt.Fprintf(&b, "format: %d\n", f.Version)
	fmt.Fprintf(&b, "rep_sharing_allowed: %t\n", f.RepSharingAllowed)
	fmt.Fprintf(&b, "deltify_directories: %t\n", f.DeltifyDirectories)
	fmt.Fprintf(&b, "max_linear_deltification: %d\n", f.MaxLinearDeltification)
	fmt.Fprintf(&b, "max_deltification_walk: %d\n", f.MaxDeltificationWalk)
	fmt.Fprintf(&b, "shard_size: %d\n", f.ShardSize)
	return atomicWriteFile(path, []byte(b.String()))
}

// HeadRevision returns the repository's current head revision.
func (r *Repository) HeadRevision() (int64, error) {
	return readCurrentRev(r.paths.CurrentFile())
}

// BeginTxn creates a new transaction rooted at the current head revision
// and seeds its mutable root noderev as a copy of the head's root.
func (r *Repository) BeginTxn() (string, error) {
	head, err := r.HeadRevision()
	if err != nil {
		return "", err
	}
	return r.BeginTxnAt(head)
}

// BeginTxnAt creates a new transaction rooted at an explicit base
// revision, as svn_repos_fs_begin_txn_for_commit would for an
// out-of-process client with a stale working copy; CommitTxn will reject
// it with KindTxnOutOfDate if baseRev no longer equals head by the time it
// runs.
func (r *Repository) BeginTxnAt(baseRev int64) (string, error) {
	txnID, err := r.store.CreateTxn(baseRev)
	if err != nil {
		return "", err
	}

	trailer, err := ReadRevisionTrailer(r.paths, baseRev)
	if err != nil {
		return "", err
	}
	headRoot, err := NewRepContentReader(r.paths).ReadNoderev(NewImmutableID("0", "0", baseRev, trailer.RootOffset))
	if err != nil {
		return "", err
	}
	root := &Noderev{
		ID:               NewMutableID("0", "0", txnID),
		Kind:             KindDir,
		PredecessorID:    &headRoot.ID,
		PredecessorCount: headRoot.PredecessorCount + 1,
		DataRep:          headRoot.DataRep,
		PropsRep:         headRoot.PropsRep,
		CopyRootRev:      baseRev,
		CopyRootPath:     "/",
		CreatedPath:      "/",
		IsFreshTxnRoot:   true,
	}
	if err := r.store.WriteTxnNoderev(txnID, idStem(root.ID), root); err != nil {
		return "", err
	}
	return txnID, nil
}

// AbortTxn discards a transaction: removes its directory, proto-rev file,
// and proto-rev lock, and clears its registry entry.
func (r *Repository) AbortTxn(txnID string) error {
	r.reg.Purge(txnID)
	_ = os.Remove(r.paths.TxnProtoRevFile(txnID))
	if err := purgeTxnDir(r.paths, txnID); err != nil && !os.IsNotExist(err) {
		return newErr(KindCorrupt, "aborting transaction", err)
	}
	return nil
}

// commitPolicy derives a CommitPolicy from the repository's
// loaded format.
func (r *Repository) commitPolicy() CommitPolicy {
	return CommitPolicy{
		DeltaPolicy: DeltaPolicy{
			MaxLinearDeltification: r.format.MaxLinearDeltification,
			MaxDeltificationWalk:   r.format.MaxDeltificationWalk,
		},
		RepSharingAllowed:  r.format.RepSharingAllowed,
		DeltifyDirectories: r.format.DeltifyDirectories,
		ShardSize:          r.format.ShardSize,
	}
}

// CommitTxn runs the Committer's full protocol against txnID.
func (r *Repository) CommitTxn(txnID string) (int64, error) {
	c := NewCommitter(r.paths, r.store, r.reg, r.sharing, r.noderevs, r.commitPolicy(), r.locks, r.pool, r.cache, r.logger)
	return c.Commit(txnID)
}

// TxnStore exposes the underlying TxnStore for callers (e.g. an editor
// layer) that need to drive noderev/content mutation directly.
func (r *Repository) TxnStore() *TxnStore { return r.store }

// Paths exposes the repository's on-disk layout.
func (r *Repository) Paths() Paths { return r.paths }

// Registry exposes the in-process transaction registry.
func (r *Repository) Registry() *Registry { return r.reg }

// RepSharing exposes the rep-sharing index.
func (r *Repository) RepSharing() *RepSharing { return r.sharing }

// ProtoRevWrite bundles a RepWriter together with the open proto-rev file
// handle and lock cookie it was built from, so callers have a single
// Finish to release everything regardless of whether Close or Abort ran.
type ProtoRevWrite struct {
	*RepWriter
	file   *os.File
	cookie *ProtoRevCookie
}

// Finish closes the proto-rev file handle and releases the proto-rev lock.
// Call it after RepWriter.Close (or Abort) has run.
func (p *ProtoRevWrite) Finish() error {
	closeErr := p.file.Close()
	releaseErr := p.cookie.Release()
	if closeErr != nil {
		return newErr(KindCorrupt, "closing proto-rev file", closeErr)
	}
	return releaseErr
}

// OpenProtoRevForWrite acquires the proto-rev lock for txnID and returns a
// RepWriter positioned at the end of its proto-rev file, for editors that
// stream new file content in directly (rather than through the Committer's
// end-of-txn directory/property finalization path). Callers must call
// Close (or Abort) on the returned writer and then Finish to release the
// lock and file handle.
func (r *Repository) OpenProtoRevForWrite(txnID string, base *RepRef, baseContent []byte) (*ProtoRevWrite, error) {
	cookie, f, err := AcquireProtoRevLock(r.reg, r.paths.TxnProtoRevLockFile(txnID), r.paths.TxnProtoRevFile(txnID), txnID)
	if err != nil {
		return nil, err
	}
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		cookie.Release()
		return nil, newErr(KindCorrupt, "reading proto-rev offset", err)
	}
	rw, err := NewRepWriter(f, offset, txnID, base, baseContent, r.store)
	if err != nil {
		f.Close()
		cookie.Release()
		return nil, err
	}
	return &ProtoRevWrite{RepWriter: rw, file: f, cookie: cookie}, nil
}

// String renders the repository's format version for log lines.
func (f Format) String() string {
	return "format " + strconv.FormatInt(f.Version, 10)
}
