package fsfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryTryMarkBeingWrittenIsExclusive(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.TryMarkBeingWritten("1-1"))

	err := reg.TryMarkBeingWritten("1-1")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindRepBeingWritten, kind)

	reg.ClearBeingWritten("1-1")
	require.NoError(t, reg.TryMarkBeingWritten("1-1"))
}

func TestRegistryPurgeAllowsReacquire(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.TryMarkBeingWritten("1-1"))
	reg.Purge("1-1")

	_, ok := reg.Get("1-1")
	require.False(t, ok)

	require.NoError(t, reg.TryMarkBeingWritten("1-1"))
}

func TestRegistryGetReportsBeingWritten(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get("unseen")
	require.False(t, ok)

	require.NoError(t, reg.TryMarkBeingWritten("1-1"))
	writing, ok := reg.Get("1-1")
	require.True(t, ok)
	require.True(t, writing)
}
