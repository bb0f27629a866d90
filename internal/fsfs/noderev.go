package fsfs

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NodeKind distinguishes files from directories.
type NodeKind string

const (
	KindFile NodeKind = "file"
	KindDir  NodeKind = "dir"
)

// RepRef points at a byte blob holding serialized content: file contents,
// a directory listing, or a property list. A rep is mutable iff TxnID is
// set, immutable iff Revision is set (Revision >= 0).
type RepRef struct {
	Revision      int64 // -1 (invalid) while mutable
	TxnID         string
	Offset        int64
	Size          int64
	ExpandedSize  int64
	MD5           [16]byte
	SHA1          [20]byte
	Uniquifier    string
	HasSHA1       bool
}

// InvalidRevision marks a RepRef that has not yet been assigned a
// revision number.
const InvalidRevision int64 = -1

// IsMutable reports whether this rep's bytes still live in a proto-rev
// file rather than a published revision file.
func (r *RepRef) IsMutable() bool { return r.Revision == InvalidRevision }

func (r *RepRef) String() string {
	if r == nil {
		return "-"
	}
	if r.IsMutable() {
		return fmt.Sprintf("%s %d %d %d %x %x/%s", r.TxnID, r.Offset, r.Size, r.ExpandedSize, r.MD5, r.SHA1, r.Uniquifier)
	}
	return fmt.Sprintf("%d %d %d %d %x %x/%s", r.Revision, r.Offset, r.Size, r.ExpandedSize, r.MD5, r.SHA1, r.Uniquifier)
}

// CopyFrom records a copy source (path + revision) for a noderev created
// by a copy operation.
type CopyFrom struct {
	Path string
	Rev  int64
}

// Noderev is the metadata record for a single versioned node at one
// revision.
type Noderev struct {
	ID   ID
	Kind NodeKind

	PredecessorID    *ID
	PredecessorCount int64

	PropsRep *RepRef
	DataRep  *RepRef

	CopyFrom     *CopyFrom
	CopyRootPath string
	CopyRootRev  int64

	CreatedPath   string
	IsFreshTxnRoot bool

	MergeinfoCount   int64
	HasMergeinfo     bool
}

// Serialize writes the noderev in the line-oriented text format used by
// both proto-rev and revision files: one "key: value" pair per line,
// terminated by a blank line, mirroring the record framing the rest of
// the on-disk format uses for reps ("ENDREP\n" trailers, length-prefixed
// blocks).
func (n *Noderev) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writeField(bw, "id", n.ID.String())
	writeField(bw, "type", string(n.Kind))
	if n.PredecessorID != nil {
		writeField(bw, "pred", n.PredecessorID.String())
	}
	writeField(bw, "count", strconv.FormatInt(n.PredecessorCount, 10))
	if n.PropsRep != nil {
		writeField(bw, "props", n.PropsRep.String())
	}
	if n.DataRep != nil {
		writeField(bw, "text", n.DataRep.String())
	}
	if n.CopyFrom != nil {
		writeField(bw, "copyfrom", fmt.Sprintf("%d %s", n.CopyFrom.Rev, n.CopyFrom.Path))
	}
	writeField(bw, "cpath", n.CreatedPath)
	writeField(bw, "copyroot", fmt.Sprintf("%d %s", n.CopyRootRev, n.CopyRootPath))
	if n.IsFreshTxnRoot {
		writeField(bw, "fresh", "y")
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func writeField(w *bufio.Writer, key, val string) {
	w.WriteString(key)
	w.WriteString(": ")
	w.WriteString(val)
	w.WriteString("\n")
}

// DeserializeNoderev parses the text form written by Serialize.
func DeserializeNoderev(r io.Reader) (*Noderev, error) {
	n := &Noderev{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		idx := strings.Index(line, ": ")
		if idx < 0 {
			return nil, newErr(KindCorrupt, fmt.Sprintf("malformed noderev line %q", line), nil)
		}
		key, val := line[:idx], line[idx+2:]
		if err := n.setField(key, val); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, newErr(KindCorrupt, "reading noderev", err)
	}
	return n, nil
}

func (n *Noderev) setField(key, val string) error {
	switch key {
	case "id":
		id, err := ParseID(val)
		if err != nil {
			return err
		}
		n.ID = id
	case "type":
		n.Kind = NodeKind(val)
	case "pred":
		id, err := ParseID(val)
		if err != nil {
			return err
		}
		n.PredecessorID = &id
	case "count":
		v, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return newErr(KindCorrupt, "bad predecessor count", err)
		}
		n.PredecessorCount = v
	case "props":
		rep, err := parseRepRef(val)
		if err != nil {
			return err
		}
		n.PropsRep = rep
	case "text":
		rep, err := parseRepRef(val)
		if err != nil {
			return err
		}
		n.DataRep = rep
	case "copyfrom":
		fields := strings.SplitN(val, " ", 2)
		if len(fields) != 2 {
			return newErr(KindCorrupt, "malformed copyfrom", nil)
		}
		rev, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return newErr(KindCorrupt, "bad copyfrom revision", err)
		}
		n.CopyFrom = &CopyFrom{Rev: rev, Path: fields[1]}
	case "cpath":
		n.CreatedPath = val
	case "copyroot":
		fields := strings.SplitN(val, " ", 2)
		if len(fields) != 2 {
			return newErr(KindCorrupt, "malformed copyroot", nil)
		}
		rev, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return newErr(KindCorrupt, "bad copyroot revision", err)
		}
		n.CopyRootRev = rev
		n.CopyRootPath = fields[1]
	case "fresh":
		n.IsFreshTxnRoot = val == "y"
	default:
		// Forward-compatible: unknown fields are ignored rather than
		// treated as corruption, matching the format's additive
		// evolution (format >= N gains optional fields).
	}
	return nil
}

func parseRepRef(val string) (*RepRef, error) {
	fields := strings.Fields(val)
	if len(fields) < 6 {
		return nil, newErr(KindCorrupt, fmt.Sprintf("malformed rep reference %q", val), nil)
	}
	r := &RepRef{}
	if strings.HasPrefix(fields[0], "t") || !isInt(fields[0]) {
		r.TxnID = fields[0]
		r.Revision = InvalidRevision
	} else {
		rev, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, newErr(KindCorrupt, "bad rep revision", err)
		}
		r.Revision = rev
	}
	off, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, newErr(KindCorrupt, "bad rep offset", err)
	}
	r.Offset = off
	sz, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, newErr(KindCorrupt, "bad rep size", err)
	}
	r.Size = sz
	esz, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, newErr(KindCorrupt, "bad rep expanded size", err)
	}
	r.ExpandedSize = esz
	if md5b, err := decodeHexFixed(fields[4], 16); err == nil {
		copy(r.MD5[:], md5b)
	}
	sha1Part := fields[5]
	if slash := strings.IndexByte(sha1Part, '/'); slash >= 0 {
		if sha1b, err := decodeHexFixed(sha1Part[:slash], 20); err == nil {
			copy(r.SHA1[:], sha1b)
			r.HasSHA1 = true
		}
		r.Uniquifier = sha1Part[slash+1:]
	}
	return r, nil
}

func isInt(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func decodeHexFixed(s string, n int) ([]byte, error) {
	if len(s) != n*2 {
		return nil, fmt.Errorf("expected %d hex chars, got %d", n*2, len(s))
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
