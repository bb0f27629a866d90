package fsfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeNoderevs is a NoderevReader backed by a plain map, keyed by id
// string, for exercising ChooseDeltaBase without touching disk.
type fakeNoderevs map[string]*Noderev

func (f fakeNoderevs) ReadNoderev(id ID) (*Noderev, error) {
	n, ok := f[id.String()]
	if !ok {
		return nil, newErr(KindCorrupt, "no such noderev in fake reader", nil)
	}
	return n, nil
}

func chainOf(t *testing.T, n int64) (fakeNoderevs, *Noderev) {
	t.Helper()
	reader := fakeNoderevs{}
	var prev *ID
	var cur *Noderev
	for i := int64(0); i <= n; i++ {
		id := NewImmutableID("0", "0", i, 0)
		rep := &RepRef{Revision: i, Offset: 0, Size: 10}
		cur = &Noderev{
			ID:               id,
			Kind:             KindFile,
			PredecessorID:    prev,
			PredecessorCount: i,
			DataRep:          rep,
		}
		reader[id.String()] = cur
		idCopy := id
		prev = &idCopy
	}
	return reader, cur
}

func TestChooseDeltaBaseSelfDeltaAtZero(t *testing.T) {
	reader, n := chainOf(t, 0)
	base, err := ChooseDeltaBase(reader, n, false, DeltaPolicy{MaxLinearDeltification: 16, MaxDeltificationWalk: 1023})
	require.NoError(t, err)
	require.Nil(t, base)
}

func TestChooseDeltaBaseLinearNearHead(t *testing.T) {
	reader, n := chainOf(t, 3)
	base, err := ChooseDeltaBase(reader, n, false, DeltaPolicy{MaxLinearDeltification: 16, MaxDeltificationWalk: 1023})
	require.NoError(t, err)
	require.NotNil(t, base)
	require.Equal(t, int64(2), base.Revision)
}

func TestChooseDeltaBaseSkipDeltaArithmetic(t *testing.T) {
	// predecessor_count = 20: count = 20 & 19 = 16, walk = 4.
	reader, n := chainOf(t, 20)
	base, err := ChooseDeltaBase(reader, n, false, DeltaPolicy{MaxLinearDeltification: 2, MaxDeltificationWalk: 1023})
	require.NoError(t, err)
	require.NotNil(t, base)
	require.Equal(t, int64(16), base.Revision)
}

func TestChooseDeltaBaseResetsWhenWalkExceedsBound(t *testing.T) {
	reader, n := chainOf(t, 20)
	base, err := ChooseDeltaBase(reader, n, false, DeltaPolicy{MaxLinearDeltification: 0, MaxDeltificationWalk: 2})
	require.NoError(t, err)
	require.Nil(t, base)
}

func TestChooseDeltaBasePropsVsData(t *testing.T) {
	reader := fakeNoderevs{}
	rootID := NewImmutableID("0", "0", 0, 0)
	root := &Noderev{ID: rootID, Kind: KindFile, PredecessorCount: 0}
	reader[rootID.String()] = root

	id1 := NewImmutableID("0", "0", 1, 0)
	n1 := &Noderev{
		ID:               id1,
		Kind:             KindFile,
		PredecessorID:    &rootID,
		PredecessorCount: 1,
		DataRep:          &RepRef{Revision: 1, Size: 5},
		PropsRep:         &RepRef{Revision: 1, Size: 7},
	}
	reader[id1.String()] = n1

	id2 := NewImmutableID("0", "0", 2, 0)
	n2 := &Noderev{
		ID:               id2,
		Kind:             KindFile,
		PredecessorID:    &id1,
		PredecessorCount: 2,
	}

	dataBase, err := ChooseDeltaBase(reader, n2, false, DeltaPolicy{MaxLinearDeltification: 16, MaxDeltificationWalk: 1023})
	require.NoError(t, err)
	require.NotNil(t, dataBase)
	require.Equal(t, int64(5), dataBase.Size)

	propsBase, err := ChooseDeltaBase(reader, n2, true, DeltaPolicy{MaxLinearDeltification: 16, MaxDeltificationWalk: 1023})
	require.NoError(t, err)
	require.NotNil(t, propsBase)
	require.Equal(t, int64(7), propsBase.Size)
}

func TestChooseDeltaBaseRejectsShortPredecessorChain(t *testing.T) {
	reader := fakeNoderevs{}
	id := NewImmutableID("0", "0", 5, 0)
	n := &Noderev{ID: id, Kind: KindFile, PredecessorCount: 5, PredecessorID: nil}
	reader[id.String()] = n

	_, err := ChooseDeltaBase(reader, n, false, DeltaPolicy{MaxLinearDeltification: 16, MaxDeltificationWalk: 1023})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCorrupt, kind)
}
