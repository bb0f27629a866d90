// Package config loads the repository format file (RepositoryConfig) with
// environment-variable overrides; it holds no other process settings. It
// follows the
// env-overrides-after-file pattern used for YAML-backed configuration
// elsewhere in the corpus this engine is built from.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veridianfs/txnfs/internal/fsfs"
)

// RepositoryConfig is the on-disk `format` document: the feature flags
// that govern rep sharing, deltification, and sharding for one repository.
//
// Environment Variables:
//
//	TXNFS_REP_SHARING_ALLOWED        - override rep_sharing_allowed
//	TXNFS_DELTIFY_DIRECTORIES        - override deltify_directories
//	TXNFS_MAX_LINEAR_DELTIFICATION   - override max_linear_deltification
//	TXNFS_MAX_DELTIFICATION_WALK     - override max_deltification_walk
//	TXNFS_SHARD_SIZE                 - override shard_size
type RepositoryConfig struct {
	Format                 int64 `yaml:"format"`
	RepSharingAllowed      bool  `yaml:"rep_sharing_allowed"`
	DeltifyDirectories     bool  `yaml:"deltify_directories"`
	MaxLinearDeltification int64 `yaml:"max_linear_deltification"`
	MaxDeltificationWalk   int64 `yaml:"max_deltification_walk"`
	ShardSize              int64 `yaml:"shard_size"`
}

// DefaultRepositoryConfig returns the feature set CreateRepository uses
// when no `format` file is supplied explicitly.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		Format:                 1,
		RepSharingAllowed:      true,
		DeltifyDirectories:     true,
		MaxLinearDeltification: 16,
		MaxDeltificationWalk:   1023,
		ShardSize:              1000,
	}
}

// ToFormat converts a loaded RepositoryConfig into the fsfs.Format the
// engine's components consume directly.
func (c RepositoryConfig) ToFormat() fsfs.Format {
	return fsfs.Format{
		Version:                c.Format,
		RepSharingAllowed:      c.RepSharingAllowed,
		DeltifyDirectories:     c.DeltifyDirectories,
		MaxLinearDeltification: c.MaxLinearDeltification,
		MaxDeltificationWalk:   c.MaxDeltificationWalk,
		ShardSize:              c.ShardSize,
	}
}

// Validate rejects configurations ChooseDeltaBase's arithmetic cannot
// operate on safely.
func (c RepositoryConfig) Validate() error {
	if c.MaxLinearDeltification < 0 {
		return &ValidationError{Field: "max_linear_deltification", Reason: "must be >= 0"}
	}
	if c.MaxDeltificationWalk < c.MaxLinearDeltification {
		return &ValidationError{Field: "max_deltification_walk", Reason: "must be >= max_linear_deltification"}
	}
	if c.ShardSize < 0 {
		return &ValidationError{Field: "shard_size", Reason: "must be >= 0 (0 disables sharding)"}
	}
	return nil
}

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}

// LoadRepositoryConfig reads and parses the `format` file at path, then
// applies any TXNFS_* environment overrides.
func LoadRepositoryConfig(path string) (RepositoryConfig, error) {
	cfg := DefaultRepositoryConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *RepositoryConfig) {
	if v, ok := lookupBool("TXNFS_REP_SHARING_ALLOWED"); ok {
		cfg.RepSharingAllowed = v
	}
	if v, ok := lookupBool("TXNFS_DELTIFY_DIRECTORIES"); ok {
		cfg.DeltifyDirectories = v
	}
	if v, ok := lookupInt("TXNFS_MAX_LINEAR_DELTIFICATION"); ok {
		cfg.MaxLinearDeltification = v
	}
	if v, ok := lookupInt("TXNFS_MAX_DELTIFICATION_WALK"); ok {
		cfg.MaxDeltificationWalk = v
	}
	if v, ok := lookupInt("TXNFS_SHARD_SIZE"); ok {
		cfg.ShardSize = v
	}
}

func lookupBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true, true
	case "false", "0", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func lookupInt(key string) (int64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
