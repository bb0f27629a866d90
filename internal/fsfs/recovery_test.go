package fsfs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupRecoveryFixture(t *testing.T) Paths {
	t.Helper()
	root := t.TempDir()
	paths := NewPaths(root, 0)
	require.NoError(t, os.MkdirAll(paths.TxnsDir(), 0o755))
	require.NoError(t, os.MkdirAll(paths.TxnProtoRevsDir(), 0o755))

	for _, txnID := range []string{"1-1", "1-2", "1-3"} {
		require.NoError(t, os.MkdirAll(paths.TxnDir(txnID), 0o755))
	}

	// 1-1: a proto-rev lock file exists and is uncontended, the classic
	// crashed-mid-commit signature.
	require.NoError(t, os.WriteFile(paths.TxnProtoRevLockFile("1-1"), nil, 0o644))

	// 1-3: never wrote any content, so no lock file was ever created.
	// Left alone entirely.

	return paths
}

func TestRecoverySweepFindsOrphan(t *testing.T) {
	paths := setupRecoveryFixture(t)

	sweep := NewRecoverySweep(paths, NewRegistry())
	orphans, err := sweep.Run(false)
	require.NoError(t, err)
	require.Equal(t, []string{"1-1"}, orphans)

	// Non-destructive: the txn directory survives a dry run.
	_, err = os.Stat(paths.TxnDir("1-1"))
	require.NoError(t, err)
}

func TestRecoverySweepSkipsLiveWriter(t *testing.T) {
	paths := setupRecoveryFixture(t)
	require.NoError(t, os.WriteFile(paths.TxnProtoRevLockFile("1-2"), nil, 0o644))

	held, err := AcquireFileLock(paths.TxnProtoRevLockFile("1-2"))
	require.NoError(t, err)
	defer held.Unlock()

	sweep := NewRecoverySweep(paths, NewRegistry())
	orphans, err := sweep.Run(false)
	require.NoError(t, err)
	require.Equal(t, []string{"1-1"}, orphans)
}

func TestRecoverySweepRemovesOrphans(t *testing.T) {
	paths := setupRecoveryFixture(t)

	sweep := NewRecoverySweep(paths, NewRegistry())
	orphans, err := sweep.Run(true)
	require.NoError(t, err)
	require.Equal(t, []string{"1-1"}, orphans)

	_, err = os.Stat(paths.TxnDir("1-1"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(paths.TxnDir("1-3"))
	require.NoError(t, err)
}

func TestRecoverySweepTolerantOfMissingTxnsDir(t *testing.T) {
	root := t.TempDir()
	paths := NewPaths(root, 0)

	sweep := NewRecoverySweep(paths, NewRegistry())
	orphans, err := sweep.Run(false)
	require.NoError(t, err)
	require.Empty(t, orphans)
}
