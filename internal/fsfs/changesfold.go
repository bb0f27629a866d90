package fsfs

import (
	"sort"
	"strings"
)

// FoldedChange is the canonical per-path summary produced by FoldChanges.
type FoldedChange struct {
	Path         string
	Kind         ChangeKind
	NodeRevID    *ID
	TextMod      bool
	PropMod      bool
	NodeKind     NodeKind
	CopyFromRev  int64
	CopyFromPath string
}

// FoldChanges merges an ordered stream of raw change records into a
// canonical per-path change map. Folding is a pure function of the input
// order (invariant 7) and is idempotent: FoldChanges(records from
// FoldChanges(x)) == FoldChanges(x).
//
// Merge rules, applied per new record against any existing entry at the
// same path:
//
//   - reset: remove the entry entirely (left-absorbing zero).
//   - delete after add: remove the entry (the add never really happened).
//   - delete otherwise: collapse to a single delete, clearing copyfrom.
//   - add: requires the previous kind was delete or reset; merging into an
//     existing entry transitions to replace, adopting the new id and mod
//     bits.
//   - replace: accepted against any existing entry whose id agrees (or
//     that is a delete); becomes replace, adopting the new id and mod bits.
//   - modify (default): OR in text_mod and prop_mod.
//
// After folding a delete or replace on path P, every existing entry whose
// path is a strict child of P is dropped. This subtree removal is a
// semantic requirement, not merely an optimization: a deleted directory
// takes every pending change beneath it with it.
func FoldChanges(records []ChangeRecord) (map[string]*FoldedChange, error) {
	result := make(map[string]*FoldedChange)

	for _, rec := range records {
		if err := validateChange(result, rec); err != nil {
			return nil, err
		}

		switch rec.Kind {
		case ChangeReset:
			delete(result, rec.Path)
			continue

		case ChangeDelete:
			if existing, ok := result[rec.Path]; ok && existing.Kind == ChangeAdd {
				delete(result, rec.Path)
			} else {
				result[rec.Path] = &FoldedChange{
					Path:      rec.Path,
					Kind:      ChangeDelete,
					NodeRevID: rec.NodeRevID,
					NodeKind:  rec.NodeKind,
				}
			}
			dropStrictChildren(result, rec.Path)
			continue

		case ChangeAdd, ChangeReplace:
			// A bare add to a path with no existing entry keeps its own
			// kind; only an add/replace that merges into an existing entry
			// (necessarily following a delete or reset, per validateChange)
			// collapses to replace.
			kind := rec.Kind
			if _, existed := result[rec.Path]; existed {
				kind = ChangeReplace
			}
			result[rec.Path] = &FoldedChange{
				Path:         rec.Path,
				Kind:         kind,
				NodeRevID:    rec.NodeRevID,
				TextMod:      rec.TextMod,
				PropMod:      rec.PropMod,
				NodeKind:     rec.NodeKind,
				CopyFromRev:  rec.CopyFromRev,
				CopyFromPath: rec.CopyFromPath,
			}
			if rec.Kind == ChangeReplace {
				dropStrictChildren(result, rec.Path)
			}
			continue

		default: // modify
			existing, ok := result[rec.Path]
			if !ok {
				result[rec.Path] = &FoldedChange{
					Path:      rec.Path,
					Kind:      ChangeModify,
					NodeRevID: rec.NodeRevID,
					TextMod:   rec.TextMod,
					PropMod:   rec.PropMod,
					NodeKind:  rec.NodeKind,
				}
				continue
			}
			existing.TextMod = existing.TextMod || rec.TextMod
			existing.PropMod = existing.PropMod || rec.PropMod
			if rec.NodeRevID != nil {
				existing.NodeRevID = rec.NodeRevID
			}
		}
	}

	return result, nil
}

// validateChange enforces the corruption checks that must hold against
// the fold state accumulated so far.
func validateChange(state map[string]*FoldedChange, rec ChangeRecord) error {
	if rec.Kind != ChangeReset && rec.NodeRevID == nil {
		return newErr(KindCorrupt, "non-reset change with null node_rev_id", nil)
	}

	existing, ok := state[rec.Path]
	if !ok {
		if rec.Kind != ChangeAdd && rec.Kind != ChangeReset {
			// A first sighting of a path via delete/replace/modify is
			// legal: the path existed in the base revision already.
		}
		return nil
	}

	if rec.NodeRevID != nil && existing.NodeRevID != nil &&
		rec.NodeRevID.String() != existing.NodeRevID.String() &&
		existing.Kind != ChangeDelete {
		return newErr(KindCorrupt, "change node_rev_id disagrees with existing entry", nil)
	}

	if existing.Kind == ChangeDelete && rec.Kind != ChangeReplace && rec.Kind != ChangeReset && rec.Kind != ChangeAdd {
		return newErr(KindCorrupt, "non-replace/reset/add change on a deleted path", nil)
	}

	if rec.Kind == ChangeAdd && existing.Kind != ChangeDelete {
		return newErr(KindCorrupt, "add on a path whose last kind was not delete/reset", nil)
	}

	return nil
}

// dropStrictChildren removes every entry in state whose path is a strict
// child of parent, i.e. parent is a proper prefix of the entry's path
// ending at a path separator (or parent is the root).
func dropStrictChildren(state map[string]*FoldedChange, parent string) {
	prefix := parent
	if parent != "/" {
		prefix = strings.TrimSuffix(parent, "/") + "/"
	}
	for p := range state {
		if p == parent {
			continue
		}
		if strings.HasPrefix(p, prefix) {
			delete(state, p)
		}
	}
}

// SortedPaths returns the paths of changes in depth-first, lexicographic
// order, the order the Committer walks the folded set when re-verifying
// path locks.
func SortedPaths(changes map[string]*FoldedChange) []string {
	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
