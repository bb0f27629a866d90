package fsfs

import (
	"fmt"
	"path/filepath"
)

// Paths computes the deterministic on-disk layout of a repository rooted
// at Root. It holds no mutable state and has no locks of its own: every
// method is a pure string computation, kept separate from the stateful
// stores that use it.
type Paths struct {
	Root      string
	ShardSize int64 // 0 disables sharding
}

// NewPaths builds a Paths helper for a repository rooted at root.
func NewPaths(root string, shardSize int64) Paths {
	return Paths{Root: root, ShardSize: shardSize}
}

// CurrentFile is the path to the file naming the head revision.
func (p Paths) CurrentFile() string { return filepath.Join(p.Root, "current") }

// FormatFile is the path to the repository format/feature-flag file.
func (p Paths) FormatFile() string { return filepath.Join(p.Root, "format") }

// TxnCurrentFile is the base-36 txn-id sequence counter.
func (p Paths) TxnCurrentFile() string { return filepath.Join(p.Root, "txn-current") }

// TxnCurrentLockFile guards read-modify-write of TxnCurrentFile.
func (p Paths) TxnCurrentLockFile() string { return filepath.Join(p.Root, "txn-current-lock") }

// WriteLockFile is the whole-repository commit serialization lock.
func (p Paths) WriteLockFile() string { return filepath.Join(p.Root, "write-lock") }

// TxnsDir is the parent directory of all live transaction directories.
func (p Paths) TxnsDir() string { return filepath.Join(p.Root, "txns") }

// TxnDir is the directory for a single transaction.
func (p Paths) TxnDir(txnID string) string {
	return filepath.Join(p.TxnsDir(), txnID+".txn")
}

// TxnProtoRevFile is the proto-rev file for txnID (modern, out-of-txn-dir
// layout under txn-protorevs/).
func (p Paths) TxnProtoRevFile(txnID string) string {
	return filepath.Join(p.Root, "txn-protorevs", txnID+".rev")
}

// TxnProtoRevLockFile is the advisory lock file for txnID's proto-rev file.
func (p Paths) TxnProtoRevLockFile(txnID string) string {
	return filepath.Join(p.Root, "txn-protorevs", txnID+".rev-lock")
}

// TxnProtoRevsDir is the parent directory for all proto-rev files.
func (p Paths) TxnProtoRevsDir() string { return filepath.Join(p.Root, "txn-protorevs") }

// TxnPropsFile holds a transaction's serialized property hash.
func (p Paths) TxnPropsFile(txnID string) string {
	return filepath.Join(p.TxnDir(txnID), "props")
}

// TxnNextIDsFile holds the next allocatable node/copy id counters.
func (p Paths) TxnNextIDsFile(txnID string) string {
	return filepath.Join(p.TxnDir(txnID), "next-ids")
}

// TxnChangesFile is the append-only change record log.
func (p Paths) TxnChangesFile(txnID string) string {
	return filepath.Join(p.TxnDir(txnID), "changes")
}

// TxnNodeFile is the mutable noderev record for the given txn-scoped id
// stem (e.g. "_2.0").
func (p Paths) TxnNodeFile(txnID, idStem string) string {
	return filepath.Join(p.TxnDir(txnID), fmt.Sprintf("node.%s", idStem))
}

// TxnNodeChildrenFile is the mutable directory-listing representation for
// idStem.
func (p Paths) TxnNodeChildrenFile(txnID, idStem string) string {
	return filepath.Join(p.TxnDir(txnID), fmt.Sprintf("node.%s.children", idStem))
}

// TxnNodePropsFile is the mutable property representation for idStem.
func (p Paths) TxnNodePropsFile(txnID, idStem string) string {
	return filepath.Join(p.TxnDir(txnID), fmt.Sprintf("node.%s.props", idStem))
}

// TxnSHA1File is the intra-txn sha1-hex -> rep descriptor scratch file
// used by RepSharing for within-commit deduplication.
func (p Paths) TxnSHA1File(txnID, sha1Hex string) string {
	return filepath.Join(p.TxnDir(txnID), sha1Hex)
}

// shard returns the shard number containing revision rev, or -1 if
// sharding is disabled.
func (p Paths) shard(rev int64) int64 {
	if p.ShardSize <= 0 {
		return -1
	}
	return rev / p.ShardSize
}

// RevsDir is the directory holding immutable revision files, sharded if
// ShardSize > 0.
func (p Paths) RevsDir() string { return filepath.Join(p.Root, "revs") }

// RevPropsDir is the directory holding immutable revprops files.
func (p Paths) RevPropsDir() string { return filepath.Join(p.Root, "revprops") }

// RevShardDir returns the shard directory containing rev.
func (p Paths) RevShardDir(rev int64) string {
	if s := p.shard(rev); s >= 0 {
		return filepath.Join(p.RevsDir(), fmt.Sprintf("%d", s))
	}
	return p.RevsDir()
}

// RevPropsShardDir returns the revprops shard directory containing rev.
func (p Paths) RevPropsShardDir(rev int64) string {
	if s := p.shard(rev); s >= 0 {
		return filepath.Join(p.RevPropsDir(), fmt.Sprintf("%d", s))
	}
	return p.RevPropsDir()
}

// RevFile is the immutable revision file path for rev.
func (p Paths) RevFile(rev int64) string {
	return filepath.Join(p.RevShardDir(rev), fmt.Sprintf("%d", rev))
}

// RevPropsFile is the immutable revprops file path for rev.
func (p Paths) RevPropsFile(rev int64) string {
	return filepath.Join(p.RevPropsShardDir(rev), fmt.Sprintf("%d", rev))
}

// IsNewShard reports whether rev is the first revision of a new shard,
// i.e. whether the Committer must create shard directories before moving
// files into them.
func (p Paths) IsNewShard(rev int64) bool {
	return p.ShardSize > 0 && rev%p.ShardSize == 0
}
