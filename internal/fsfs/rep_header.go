package fsfs

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RepHeader is the one-line header preceding every rep blob in a proto-rev
// or revision file: "PLAIN\n" for a self-contained (self-delta) rep, or
// "DELTA <base_rev> <base_offset> <base_length>\n" for a rep delta-encoded
// against an earlier rep.
type RepHeader struct {
	Delta      bool
	BaseRev    int64
	BaseOffset int64
	BaseLength int64
}

// RepTrailer is the literal bytes written after every rep blob.
const RepTrailer = "ENDREP\n"

// WriteRepHeader writes the header line for a rep. A nil base means
// "PLAIN" / self-delta.
func WriteRepHeader(w io.Writer, base *RepRef) error {
	if base == nil {
		_, err := io.WriteString(w, "PLAIN\n")
		return err
	}
	_, err := fmt.Fprintf(w, "DELTA %d %d %d\n", base.Revision, base.Offset, base.Size)
	return err
}

// ReadRepHeader parses the one-line header at the current position of r.
func ReadRepHeader(r *bufio.Reader) (RepHeader, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return RepHeader{}, newErr(KindCorrupt, "reading rep header", err)
	}
	line = strings.TrimSuffix(line, "\n")
	if line == "PLAIN" {
		return RepHeader{}, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "DELTA" {
		return RepHeader{}, newErr(KindCorrupt, fmt.Sprintf("malformed rep header %q", line), nil)
	}
	baseRev, err1 := strconv.ParseInt(fields[1], 10, 64)
	baseOff, err2 := strconv.ParseInt(fields[2], 10, 64)
	baseLen, err3 := strconv.ParseInt(fields[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return RepHeader{}, newErr(KindCorrupt, fmt.Sprintf("malformed rep header fields %q", line), nil)
	}
	return RepHeader{Delta: true, BaseRev: baseRev, BaseOffset: baseOff, BaseLength: baseLen}, nil
}
