package fsfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirListingRoundTripSortsByName(t *testing.T) {
	entries := []DirEntry{
		{Name: "zeta", ID: NewImmutableID("3", "3", 1, 0)},
		{Name: "alpha", ID: NewImmutableID("1", "1", 1, 0)},
		{Name: "mid", ID: NewMutableID("2", "2", "1-1")},
	}

	var buf bytes.Buffer
	require.NoError(t, SerializeDirListing(entries, &buf))

	out, err := DeserializeDirListing(&buf)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "alpha", out[0].Name)
	require.Equal(t, "mid", out[1].Name)
	require.Equal(t, "zeta", out[2].Name)
	require.Equal(t, entries[1].ID, out[0].ID)
	require.True(t, out[1].ID.IsMutable())
}

func TestDirListingEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SerializeDirListing(nil, &buf))
	out, err := DeserializeDirListing(&buf)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestDirListingRejectsMalformedLine(t *testing.T) {
	_, err := DeserializeDirListing(bytes.NewReader([]byte("no-tab-here\n\n")))
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCorrupt, kind)
}
