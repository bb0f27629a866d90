package fsfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileLockExcludesConcurrentAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")

	first, err := AcquireFileLock(path)
	require.NoError(t, err)

	_, err = AcquireFileLock(path)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindRepBeingWritten, kind)

	require.NoError(t, first.Unlock())

	second, err := AcquireFileLock(path)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := newErr(KindCorrupt, "something broke", nil)
	require.ErrorIs(t, err, ErrCorrupt)
	require.NotErrorIs(t, err, ErrTxnOutOfDate)
}
