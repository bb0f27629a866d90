package fsfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func idFor(t *testing.T, rev int64) *ID {
	t.Helper()
	id := NewImmutableID("1", "1", rev, 0)
	return &id
}

func TestFoldChangesModifyOrsModBits(t *testing.T) {
	id := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: id, TextMod: true, PropMod: false, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: id, TextMod: false, PropMod: true, NodeKind: KindFile},
	}
	folded, err := FoldChanges(records)
	require.NoError(t, err)
	require.Len(t, folded, 1)
	change := folded["/trunk/a.txt"]
	require.True(t, change.TextMod)
	require.True(t, change.PropMod)
	require.Equal(t, ChangeModify, change.Kind)
}

func TestFoldChangesDeleteAfterAddRemovesEntry(t *testing.T) {
	id := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/new.txt", Kind: ChangeAdd, NodeRevID: id, NodeKind: KindFile},
		{Path: "/trunk/new.txt", Kind: ChangeDelete, NodeRevID: id, NodeKind: KindFile},
	}
	folded, err := FoldChanges(records)
	require.NoError(t, err)
	require.Empty(t, folded)
}

func TestFoldChangesBareAddKeepsAddKind(t *testing.T) {
	id := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/new.txt", Kind: ChangeAdd, NodeRevID: id, NodeKind: KindFile},
	}
	folded, err := FoldChanges(records)
	require.NoError(t, err)
	require.Len(t, folded, 1)
	require.Equal(t, ChangeAdd, folded["/trunk/new.txt"].Kind)
}

func TestFoldChangesDeleteOtherwiseCollapses(t *testing.T) {
	id := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: id, TextMod: true, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeDelete, NodeRevID: id, NodeKind: KindFile},
	}
	folded, err := FoldChanges(records)
	require.NoError(t, err)
	require.Len(t, folded, 1)
	require.Equal(t, ChangeDelete, folded["/trunk/a.txt"].Kind)
}

func TestFoldChangesResetRemovesEntry(t *testing.T) {
	id := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: id, TextMod: true, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeReset},
	}
	folded, err := FoldChanges(records)
	require.NoError(t, err)
	require.Empty(t, folded)
}

func TestFoldChangesReplaceRequiresPriorDeleteOrReset(t *testing.T) {
	id1 := idFor(t, 1)
	id2 := idFor(t, 2)
	records := []ChangeRecord{
		{Path: "/trunk/a.txt", Kind: ChangeAdd, NodeRevID: id1, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeDelete, NodeRevID: id1, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeReplace, NodeRevID: id2, TextMod: true, NodeKind: KindFile},
	}
	folded, err := FoldChanges(records)
	require.NoError(t, err)
	require.Len(t, folded, 1)
	require.Equal(t, ChangeReplace, folded["/trunk/a.txt"].Kind)
	require.Equal(t, id2, folded["/trunk/a.txt"].NodeRevID)
}

func TestFoldChangesDeleteDropsStrictChildren(t *testing.T) {
	dirID := idFor(t, 1)
	fileID := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/sub", Kind: ChangeModify, NodeRevID: dirID, NodeKind: KindDir},
		{Path: "/trunk/sub/a.txt", Kind: ChangeAdd, NodeRevID: fileID, NodeKind: KindFile},
		{Path: "/trunk/sub/b.txt", Kind: ChangeAdd, NodeRevID: fileID, NodeKind: KindFile},
		{Path: "/trunk/sub", Kind: ChangeDelete, NodeRevID: dirID, NodeKind: KindDir},
	}
	folded, err := FoldChanges(records)
	require.NoError(t, err)
	require.Len(t, folded, 1)
	require.Contains(t, folded, "/trunk/sub")
	require.Equal(t, ChangeDelete, folded["/trunk/sub"].Kind)
}

func TestFoldChangesReplaceDropsStrictChildren(t *testing.T) {
	dirID1 := idFor(t, 1)
	dirID2 := idFor(t, 2)
	fileID := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/sub", Kind: ChangeAdd, NodeRevID: dirID1, NodeKind: KindDir},
		{Path: "/trunk/sub", Kind: ChangeDelete, NodeRevID: dirID1, NodeKind: KindDir},
		{Path: "/trunk/sub/a.txt", Kind: ChangeAdd, NodeRevID: fileID, NodeKind: KindFile},
		{Path: "/trunk/sub", Kind: ChangeReplace, NodeRevID: dirID2, NodeKind: KindDir},
	}
	folded, err := FoldChanges(records)
	require.NoError(t, err)
	require.Len(t, folded, 1)
	require.Equal(t, ChangeReplace, folded["/trunk/sub"].Kind)
}

func TestFoldChangesRejectsNullNodeRevIDOnNonReset(t *testing.T) {
	records := []ChangeRecord{
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: nil, NodeKind: KindFile},
	}
	_, err := FoldChanges(records)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCorrupt, kind)
}

func TestFoldChangesRejectsNonReplaceOnDeletedPath(t *testing.T) {
	id := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/a.txt", Kind: ChangeDelete, NodeRevID: id, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: id, TextMod: true, NodeKind: KindFile},
	}
	_, err := FoldChanges(records)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCorrupt, kind)
}

func TestFoldChangesRejectsAddOnNonDeletedPath(t *testing.T) {
	id1 := idFor(t, 1)
	records := []ChangeRecord{
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: id1, TextMod: true, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeAdd, NodeRevID: id1, NodeKind: KindFile},
	}
	_, err := FoldChanges(records)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCorrupt, kind)
}

func TestFoldChangesRejectsConflictingNodeRevID(t *testing.T) {
	id1 := idFor(t, 1)
	id2 := idFor(t, 2)
	records := []ChangeRecord{
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: id1, TextMod: true, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeModify, NodeRevID: id2, PropMod: true, NodeKind: KindFile},
	}
	_, err := FoldChanges(records)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCorrupt, kind)
}

func TestSortedPathsIsLexicographic(t *testing.T) {
	id := idFor(t, 1)
	folded, err := FoldChanges([]ChangeRecord{
		{Path: "/trunk/b.txt", Kind: ChangeAdd, NodeRevID: id, NodeKind: KindFile},
		{Path: "/trunk/a.txt", Kind: ChangeAdd, NodeRevID: id, NodeKind: KindFile},
		{Path: "/branches/x", Kind: ChangeAdd, NodeRevID: id, NodeKind: KindDir},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/branches/x", "/trunk/a.txt", "/trunk/b.txt"}, SortedPaths(folded))
}
