package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRepositoryConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultRepositoryConfig().Validate())
}

func TestValidateRejectsNegativeMaxLinearDeltification(t *testing.T) {
	cfg := DefaultRepositoryConfig()
	cfg.MaxLinearDeltification = -1
	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "max_linear_deltification", verr.Field)
}

func TestValidateRejectsWalkSmallerThanLinear(t *testing.T) {
	cfg := DefaultRepositoryConfig()
	cfg.MaxLinearDeltification = 100
	cfg.MaxDeltificationWalk = 10
	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "max_deltification_walk", verr.Field)
}

func TestValidateRejectsNegativeShardSize(t *testing.T) {
	cfg := DefaultRepositoryConfig()
	cfg.ShardSize = -5
	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "shard_size", verr.Field)
}

func TestLoadRepositoryConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "format")
	contents := "format: 1\nrep_sharing_allowed: false\ndeltify_directories: true\nmax_linear_deltification: 8\nmax_deltification_walk: 500\nshard_size: 2000\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := LoadRepositoryConfig(path)
	require.NoError(t, err)
	require.False(t, cfg.RepSharingAllowed)
	require.True(t, cfg.DeltifyDirectories)
	require.Equal(t, int64(8), cfg.MaxLinearDeltification)
	require.Equal(t, int64(500), cfg.MaxDeltificationWalk)
	require.Equal(t, int64(2000), cfg.ShardSize)
}

func TestLoadRepositoryConfigAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "format")
	require.NoError(t, os.WriteFile(path, []byte("format: 1\nshard_size: 1000\n"), 0o644))

	t.Setenv("TXNFS_SHARD_SIZE", "50")
	t.Setenv("TXNFS_REP_SHARING_ALLOWED", "false")

	cfg, err := LoadRepositoryConfig(path)
	require.NoError(t, err)
	require.Equal(t, int64(50), cfg.ShardSize)
	require.False(t, cfg.RepSharingAllowed)
}

func TestLoadRepositoryConfigRejectsInvalidResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "format")
	require.NoError(t, os.WriteFile(path, []byte("format: 1\nshard_size: -1\n"), 0o644))

	_, err := LoadRepositoryConfig(path)
	require.Error(t, err)
}

func TestToFormatCarriesFields(t *testing.T) {
	cfg := DefaultRepositoryConfig()
	format := cfg.ToFormat()
	require.Equal(t, cfg.Format, format.Version)
	require.Equal(t, cfg.RepSharingAllowed, format.RepSharingAllowed)
	require.Equal(t, cfg.MaxLinearDeltification, format.MaxLinearDeltification)
	require.Equal(t, cfg.ShardSize, format.ShardSize)
}
