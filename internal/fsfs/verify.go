package fsfs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadCurrentRevision reads the repository's head revision from `current`.
func ReadCurrentRevision(paths Paths) (int64, error) {
	return readCurrentRev(paths.CurrentFile())
}

// RevisionTrailer is the parsed "<root_offset> <changed_path_offset>\n"
// line terminating every revision file.
type RevisionTrailer struct {
	RootOffset        int64
	ChangedPathOffset int64
}

// ReadRevisionTrailer reads and parses the trailer line of revision rev.
func ReadRevisionTrailer(paths Paths, rev int64) (RevisionTrailer, error) {
	data, err := os.ReadFile(paths.RevFile(rev))
	if err != nil {
		return RevisionTrailer{}, newErr(KindCorrupt, "reading revision file", err)
	}
	trimmed := strings.TrimRight(string(data), "\n")
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 {
		return RevisionTrailer{}, newErr(KindCorrupt, "empty revision file", nil)
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) != 2 {
		return RevisionTrailer{}, newErr(KindCorrupt, fmt.Sprintf("malformed revision trailer in revision %d", rev), nil)
	}
	root, err1 := strconv.ParseInt(fields[0], 10, 64)
	changed, err2 := strconv.ParseInt(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return RevisionTrailer{}, newErr(KindCorrupt, fmt.Sprintf("malformed revision trailer fields in revision %d", rev), nil)
	}
	return RevisionTrailer{RootOffset: root, ChangedPathOffset: changed}, nil
}

// VerifyRepository walks every committed revision from 0 to head and
// checks the root continuity invariant (invariant 5: a revision's root
// predecessor_count is exactly one more than its predecessor's), that
// every revision file has a parsable trailer line, and that every
// representation it reaches is terminated by "ENDREP\n". Reps are
// content-addressed and frequently shared across revisions, so each one
// is checked at most once regardless of how many noderevs reference it.
func VerifyRepository(paths Paths) error {
	head, err := ReadCurrentRevision(paths)
	if err != nil {
		return err
	}
	reader := NewRepContentReader(paths)
	seen := make(map[string]bool)

	var prevRoot *Noderev
	for rev := int64(0); rev <= head; rev++ {
		trailer, err := ReadRevisionTrailer(paths, rev)
		if err != nil {
			return err
		}
		root, err := reader.ReadNoderev(NewImmutableID("0", "0", rev, trailer.RootOffset))
		if err != nil {
			return err
		}
		if prevRoot != nil && root.PredecessorCount != prevRoot.PredecessorCount+1 {
			return newErr(KindCorrupt, fmt.Sprintf("root continuity violated at revision %d: predecessor_count %d, expected %d",
				rev, root.PredecessorCount, prevRoot.PredecessorCount+1), nil)
		}
		prevRoot = root

		if err := verifyNodeTree(reader, paths, root, seen); err != nil {
			return err
		}
	}
	return nil
}

func verifyNodeTree(reader *RepContentReader, paths Paths, n *Noderev, seen map[string]bool) error {
	if err := verifyRepTrailer(paths, n.DataRep, seen); err != nil {
		return err
	}
	if err := verifyRepTrailer(paths, n.PropsRep, seen); err != nil {
		return err
	}
	if n.Kind != KindDir || n.DataRep == nil {
		return nil
	}
	data, err := reader.ExpandRep(n.DataRep)
	if err != nil {
		return err
	}
	entries, err := DeserializeDirListing(bytes.NewReader(data))
	if err != nil {
		return err
	}
	for _, e := range entries {
		child, err := reader.ReadNoderev(e.ID)
		if err != nil {
			return err
		}
		if err := verifyNodeTree(reader, paths, child, seen); err != nil {
			return err
		}
	}
	return nil
}

// verifyRepTrailer confirms ref's body is followed by the "ENDREP\n"
// trailer, skipping reps this run has already checked.
func verifyRepTrailer(paths Paths, ref *RepRef, seen map[string]bool) error {
	if ref == nil || ref.IsMutable() {
		return nil
	}
	key := fmt.Sprintf("%d:%d", ref.Revision, ref.Offset)
	if seen[key] {
		return nil
	}
	seen[key] = true

	f, err := os.Open(paths.RevFile(ref.Revision))
	if err != nil {
		return newErr(KindCorrupt, "opening revision file for trailer check", err)
	}
	defer f.Close()

	// ref.Offset is where the rep's header line starts and ref.Size counts
	// only the body, so the header is skipped before the body.
	if _, err := f.Seek(ref.Offset, io.SeekStart); err != nil {
		return newErr(KindCorrupt, "seeking to rep header", err)
	}
	br := bufio.NewReader(f)
	if _, err := ReadRepHeader(br); err != nil {
		return err
	}
	if _, err := br.Discard(int(ref.Size)); err != nil {
		return newErr(KindCorrupt, fmt.Sprintf("rep at revision %d offset %d has a truncated body", ref.Revision, ref.Offset), err)
	}
	buf := make([]byte, len(RepTrailer))
	if _, err := io.ReadFull(br, buf); err != nil {
		return newErr(KindCorrupt, fmt.Sprintf("rep at revision %d offset %d missing trailer", ref.Revision, ref.Offset), err)
	}
	if string(buf) != RepTrailer {
		return newErr(KindCorrupt, fmt.Sprintf("rep at revision %d offset %d has malformed trailer %q", ref.Revision, ref.Offset, buf), nil)
	}
	return nil
}
