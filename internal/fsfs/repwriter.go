package fsfs

import (
	"crypto/md5"
	"crypto/sha1"
	"hash"
	"io"

	"github.com/veridianfs/txnfs/internal/bufpool"
	"github.com/veridianfs/txnfs/internal/delta"
)

// countingWriter tracks how many bytes have passed through it, used to
// recover the on-disk length of a rep's encoded body without a second pass
// over the proto-rev file.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// RepWriter is the streaming sink every representation is written through:
// the rep header is written when the writer is created, each Write fans out
// to an MD5 digest, a SHA-1 digest, and a delta encoder, and Close writes
// the encoded body and the "ENDREP\n" trailer to the underlying proto-rev
// file and returns the RepRef describing where it landed. One pass over the bytes produces both
// the digests rep sharing needs and the delta body the representation
// store needs.
type RepWriter struct {
	w      io.Writer
	body   *countingWriter
	base   *RepRef
	enc    *delta.Encoder
	md5    hash.Hash
	sha1   hash.Hash
	offset int64
	txnID  string
	store  *TxnStore // nil in tests that write bare proto-rev files with no txn directory
	size   int64     // expanded (pre-delta) byte count
	closed bool
}

// NewRepWriter creates a RepWriter that will append a framed rep to w,
// starting at offset (the proto-rev file's current length prior to this
// call), optionally delta-encoded against base using baseContent as the
// literal source bytes. A nil base produces a self-delta ("PLAIN") rep.
// store is consulted at Close time to mint the rep's uniquifier; a nil
// store leaves the uniquifier empty.
func NewRepWriter(w io.Writer, offset int64, txnID string, base *RepRef, baseContent []byte, store *TxnStore) (*RepWriter, error) {
	if err := WriteRepHeader(w, base); err != nil {
		return nil, newErr(KindCorrupt, "writing rep header", err)
	}
	body := &countingWriter{w: w}
	return &RepWriter{
		w:      w,
		body:   body,
		base:   base,
		enc:    delta.NewEncoder(body, baseContent, bufpool.Get()),
		md5:    md5.New(),
		sha1:   sha1.New(),
		offset: offset,
		txnID:  txnID,
		store:  store,
	}, nil
}

// Write fans p out to both digests and the delta encoder's target buffer.
// The delta encoder only buffers here; the actual diff against the base
// and the on-disk write happen in Close.
func (rw *RepWriter) Write(p []byte) (int, error) {
	if rw.closed {
		return 0, newErr(KindCorrupt, "write to closed RepWriter", nil)
	}
	rw.md5.Write(p)
	rw.sha1.Write(p)
	rw.size += int64(len(p))
	return rw.enc.Write(p)
}

// Abort marks the writer closed without flushing a body or trailer and
// returns its scratch buffer to the pool. It neither truncates the
// proto-rev file (the header written by NewRepWriter stays in place) nor
// releases any lock; that is left to the caller. The Committer calls it
// when producing a rep's content fails.
func (rw *RepWriter) Abort() {
	rw.closed = true
	bufpool.Put(rw.enc.Scratch())
}

// Closed reports whether Close or Abort has already run.
func (rw *RepWriter) Closed() bool { return rw.closed }

// Close runs the diff against the base, flushes the encoded body and the
// "ENDREP\n" trailer, and returns the completed RepRef. The returned ref's
// Offset is where this rep's header line starts; its Size counts only the
// encoded body, excluding both the header line and the trailer, matching
// the header/body/trailer framing ReadRepHeader expects to find adjacent.
func (rw *RepWriter) Close() (*RepRef, error) {
	if rw.closed {
		return nil, newErr(KindCorrupt, "RepWriter already closed", nil)
	}
	rw.closed = true

	if err := rw.enc.Close(); err != nil {
		return nil, newErr(KindCorrupt, "closing delta encoder", err)
	}
	bufpool.Put(rw.enc.Scratch())
	if _, err := io.WriteString(rw.w, RepTrailer); err != nil {
		return nil, newErr(KindCorrupt, "writing rep trailer", err)
	}

	ref := &RepRef{
		Revision:     InvalidRevision,
		TxnID:        rw.txnID,
		Offset:       rw.offset,
		Size:         rw.body.n,
		ExpandedSize: rw.size,
		HasSHA1:      true,
	}
	copy(ref.MD5[:], rw.md5.Sum(nil))
	copy(ref.SHA1[:], rw.sha1.Sum(nil))

	if rw.store != nil {
		nodeID, err := rw.store.AllocNodeID(rw.txnID)
		if err != nil {
			return nil, newErr(KindCorrupt, "allocating uniquifier node id", err)
		}
		ref.Uniquifier = rw.txnID + "/" + nodeID
	}

	return ref, nil
}
