package fsfs

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// DirEntry is one name -> node-id mapping in a directory's listing.
type DirEntry struct {
	Name string
	ID   ID
}

// SerializeDirListing writes entries in name-sorted order, one per line as
// "name\tid\n", terminated by a blank line, the same record framing
// Noderev uses elsewhere in the format.
func SerializeDirListing(entries []DirEntry, w io.Writer) error {
	sorted := make([]DirEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	bw := bufio.NewWriter(w)
	for _, e := range sorted {
		if _, err := fmt.Fprintf(bw, "%s\t%s\n", e.Name, e.ID.String()); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// DeserializeDirListing parses the format written by SerializeDirListing.
func DeserializeDirListing(r io.Reader) ([]DirEntry, error) {
	var entries []DirEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		idx := strings.IndexByte(line, '\t')
		if idx < 0 {
			return nil, newErr(KindCorrupt, fmt.Sprintf("malformed directory entry %q", line), nil)
		}
		id, err := ParseID(line[idx+1:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: line[:idx], ID: id})
	}
	if err := sc.Err(); err != nil {
		return nil, newErr(KindCorrupt, "reading directory listing", err)
	}
	return entries, nil
}
