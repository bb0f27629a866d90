package fsfs

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is a node identifier: the triple (nodeID, copyID, origin) described
// in the data model. Origin is either a txn (mutable) or a (revision,
// offset) pair (immutable).
//
// Textual form: "<node_id>.<copy_id>.<origin>" where origin is
// "t<txn_id>" for mutable ids or "r<rev>/<offset>" for immutable ids.
// Freshly allocated ids during a txn are prefixed with "_".
type ID struct {
	NodeID string
	CopyID string

	// Mutable origin.
	TxnID string

	// Immutable origin.
	Rev    int64
	Offset int64

	mutable bool
}

// NewMutableID builds an ID rooted in an in-progress transaction.
func NewMutableID(nodeID, copyID, txnID string) ID {
	return ID{NodeID: nodeID, CopyID: copyID, TxnID: txnID, mutable: true}
}

// NewImmutableID builds an ID pointing at a byte offset inside a
// published revision file.
func NewImmutableID(nodeID, copyID string, rev, offset int64) ID {
	return ID{NodeID: nodeID, CopyID: copyID, Rev: rev, Offset: offset}
}

// IsMutable reports whether this id is rooted in a transaction rather than
// a published revision.
func (id ID) IsMutable() bool { return id.mutable }

// IsTxnAllocated reports whether NodeID or CopyID was freshly allocated in
// the current transaction (carries the "_" marker prefix) and has not yet
// been renumbered by a commit.
func (id ID) IsTxnAllocated() bool {
	return strings.HasPrefix(id.NodeID, "_") || strings.HasPrefix(id.CopyID, "_")
}

// String renders the textual form of the id.
func (id ID) String() string {
	if id.mutable {
		return fmt.Sprintf("%s.%s.t%s", id.NodeID, id.CopyID, id.TxnID)
	}
	return fmt.Sprintf("%s.%s.r%d/%d", id.NodeID, id.CopyID, id.Rev, id.Offset)
}

// ParseID parses the textual node-id form produced by String.
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return ID{}, newErr(KindCorrupt, fmt.Sprintf("malformed node id %q", s), nil)
	}
	nodeID, copyID, origin := parts[0], parts[1], parts[2]
	if origin == "" {
		return ID{}, newErr(KindCorrupt, fmt.Sprintf("malformed node id %q: empty origin", s), nil)
	}

	switch origin[0] {
	case 't':
		return ID{NodeID: nodeID, CopyID: copyID, TxnID: origin[1:], mutable: true}, nil
	case 'r':
		revOffset := origin[1:]
		slash := strings.IndexByte(revOffset, '/')
		if slash < 0 {
			return ID{}, newErr(KindCorrupt, fmt.Sprintf("malformed node id %q: missing offset", s), nil)
		}
		rev, err := strconv.ParseInt(revOffset[:slash], 10, 64)
		if err != nil {
			return ID{}, newErr(KindCorrupt, fmt.Sprintf("malformed node id %q: bad revision", s), err)
		}
		offset, err := strconv.ParseInt(revOffset[slash+1:], 10, 64)
		if err != nil {
			return ID{}, newErr(KindCorrupt, fmt.Sprintf("malformed node id %q: bad offset", s), err)
		}
		return ID{NodeID: nodeID, CopyID: copyID, Rev: rev, Offset: offset}, nil
	default:
		return ID{}, newErr(KindCorrupt, fmt.Sprintf("malformed node id %q: unknown origin kind %q", s, origin[:1]), nil)
	}
}

// base36Successor returns the base-36 successor of s, the format used by
// the txn-current counter and the per-txn next-ids counters. Empty string
// is treated as "0".
func base36Successor(s string) string {
	if s == "" {
		s = "0"
	}
	n, err := strconv.ParseUint(s, 36, 64)
	if err != nil {
		// Corrupt counter files are treated as starting fresh rather than
		// failing allocation outright; the caller is responsible for
		// surfacing corruption where it matters (commit-time validation).
		n = 0
	}
	return strconv.FormatUint(n+1, 36)
}

// freshStem marks a txn-allocated id component with the "_" prefix used
// to distinguish not-yet-renumbered ids.
func freshStem(s string) string {
	return "_" + s
}

// finalStem computes the final (post-commit) id stem for a txn-allocated
// component: "<stem>-<rev>", with the stem's leading "_" stripped. The
// Committer applies it to every txn-allocated node and copy id; there is no
// legacy-format renumbering.
func finalStem(allocated string, rev int64) string {
	stem := strings.TrimPrefix(allocated, "_")
	return fmt.Sprintf("%s-%d", stem, rev)
}
