package fsfs

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ChangeKind enumerates the kinds of a raw change record.
type ChangeKind string

const (
	ChangeAdd     ChangeKind = "add"
	ChangeDelete  ChangeKind = "delete"
	ChangeReplace ChangeKind = "replace"
	ChangeModify  ChangeKind = "modify"
	ChangeReset   ChangeKind = "reset"
)

// ChangeRecord is one raw entry in a txn's append-only changes log.
type ChangeRecord struct {
	Path         string
	Kind         ChangeKind
	NodeRevID    *ID
	TextMod      bool
	PropMod      bool
	NodeKind     NodeKind
	CopyFromRev  int64
	CopyFromPath string
}

// Serialize appends one change record line to w, in the order it must be
// folded: path, kind, node-rev-id (or "-"), text/prop mod flags,
// node-kind, copyfrom.
func (c *ChangeRecord) Serialize(w io.Writer) error {
	idStr := "-"
	if c.NodeRevID != nil {
		idStr = c.NodeRevID.String()
	}
	copyFrom := "-"
	if c.CopyFromPath != "" {
		copyFrom = fmt.Sprintf("%d:%s", c.CopyFromRev, c.CopyFromPath)
	}
	_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\t%s\n",
		c.Path, c.Kind, idStr, c.TextMod, c.PropMod, c.NodeKind, copyFrom)
	return err
}

// ReadChangeRecords reads every record from r, in write order.
func ReadChangeRecords(r io.Reader) ([]ChangeRecord, error) {
	var out []ChangeRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		rec, err := parseChangeRecord(line)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, newErr(KindCorrupt, "reading changes log", err)
	}
	return out, nil
}

func parseChangeRecord(line string) (ChangeRecord, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return ChangeRecord{}, newErr(KindCorrupt, fmt.Sprintf("malformed change record %q", line), nil)
	}
	rec := ChangeRecord{
		Path:     fields[0],
		Kind:     ChangeKind(fields[1]),
		NodeKind: NodeKind(fields[5]),
	}
	if fields[2] != "-" {
		id, err := ParseID(fields[2])
		if err != nil {
			return ChangeRecord{}, err
		}
		rec.NodeRevID = &id
	}
	textMod, err := strconv.ParseBool(fields[3])
	if err != nil {
		return ChangeRecord{}, newErr(KindCorrupt, "bad text_mod flag", err)
	}
	rec.TextMod = textMod
	propMod, err := strconv.ParseBool(fields[4])
	if err != nil {
		return ChangeRecord{}, newErr(KindCorrupt, "bad prop_mod flag", err)
	}
	rec.PropMod = propMod
	if fields[6] != "-" {
		idx := strings.IndexByte(fields[6], ':')
		if idx < 0 {
			return ChangeRecord{}, newErr(KindCorrupt, "malformed copyfrom in change record", nil)
		}
		rev, err := strconv.ParseInt(fields[6][:idx], 10, 64)
		if err != nil {
			return ChangeRecord{}, newErr(KindCorrupt, "bad copyfrom revision", err)
		}
		rec.CopyFromRev = rev
		rec.CopyFromPath = fields[6][idx+1:]
	}
	return rec, nil
}
