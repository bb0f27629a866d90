package fsfs

import (
	"bufio"
	"io"
	"os"

	"github.com/veridianfs/txnfs/internal/delta"
)

// RepContentReader expands a representation's full byte content, following
// a DELTA base chain as needed. It is the read-side counterpart RepWriter
// needs at commit time to recover the literal bytes of a base rep chosen
// by DeltaBase, since ChooseDeltaBase only selects a base location and
// leaves dereferencing it to the caller.
type RepContentReader struct {
	paths Paths
}

// NewRepContentReader builds a reader rooted at the repository described
// by paths.
func NewRepContentReader(paths Paths) *RepContentReader {
	return &RepContentReader{paths: paths}
}

// ReadNoderev implements NoderevReader by reading an immutable noderev
// directly out of its revision file at the offset its ID carries.
func (r *RepContentReader) ReadNoderev(id ID) (*Noderev, error) {
	if id.IsMutable() {
		return nil, newErr(KindCorrupt, "RepContentReader.ReadNoderev called with a mutable id", nil)
	}
	f, err := os.Open(r.paths.RevFile(id.Rev))
	if err != nil {
		return nil, newErr(KindCorrupt, "opening revision file", err)
	}
	defer f.Close()
	if _, err := f.Seek(id.Offset, io.SeekStart); err != nil {
		return nil, newErr(KindCorrupt, "seeking to noderev offset", err)
	}
	return DeserializeNoderev(f)
}

// ExpandRep returns the fully expanded (post-delta) bytes of ref. A nil ref
// returns an empty result. A PLAIN rep's body is the self-delta stream
// RepWriter writes for a nil base, so it is expanded against an empty
// source.
func (r *RepContentReader) ExpandRep(ref *RepRef) ([]byte, error) {
	if ref == nil {
		return nil, nil
	}
	path := r.paths.RevFile(ref.Revision)
	if ref.IsMutable() {
		path = r.paths.TxnProtoRevFile(ref.TxnID)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindCorrupt, "opening rep source file", err)
	}
	defer f.Close()

	if _, err := f.Seek(ref.Offset, io.SeekStart); err != nil {
		return nil, newErr(KindCorrupt, "seeking to rep offset", err)
	}
	br := bufio.NewReader(f)
	header, err := ReadRepHeader(br)
	if err != nil {
		return nil, err
	}
	body := io.LimitReader(br, ref.Size)

	if !header.Delta {
		out, err := delta.Expand(nil, body)
		if err != nil {
			return nil, newErr(KindCorrupt, "expanding plain rep", err)
		}
		return out, nil
	}

	source, err := r.ExpandRep(&RepRef{Revision: header.BaseRev, Offset: header.BaseOffset, Size: header.BaseLength})
	if err != nil {
		return nil, err
	}
	out, err := delta.Expand(source, body)
	if err != nil {
		return nil, newErr(KindCorrupt, "expanding delta rep", err)
	}
	return out, nil
}
