// Package config holds the repository configuration stored in
// <repo>/config.yaml and resolves where the repository lives.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/keshon/snapvault/internal/chunker"
	"github.com/keshon/snapvault/internal/digest"
	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/util"
)

const (
	RepoDir    = ".snapvault"
	ConfigFile = "config.yaml"

	// RepoEnv names the environment variable that overrides RepoDir.
	RepoEnv = "SNAPVAULT_REPO"
)

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendFS     = "fs"
)

const (
	DefaultBackend     = BackendSQLite
	DefaultCompression = "none"
	DefaultLogLevel    = "info"
)

// RepoConfig is the on-disk repository configuration. Backend and Hash are
// fixed when the repository is initialized.
type RepoConfig struct {
	Backend     string   `yaml:"backend"`
	Hash        string   `yaml:"hash"`
	ChunkSize   int      `yaml:"chunk_size"`
	Compression string   `yaml:"compression"`
	Workers     int      `yaml:"workers"`
	LogLevel    string   `yaml:"log_level"`
	Exclude     []string `yaml:"exclude,omitempty"`
}

// Default returns the configuration written by init when no options are given.
func Default() RepoConfig {
	return RepoConfig{
		Backend:     DefaultBackend,
		Hash:        string(digest.Default),
		ChunkSize:   chunker.DefaultChunkSize,
		Compression: DefaultCompression,
		LogLevel:    DefaultLogLevel,
	}
}

// Validate rejects unknown backends, hashes, compressions and log levels,
// and non-positive chunk sizes.
func (c RepoConfig) Validate() error {
	switch c.Backend {
	case BackendSQLite, BackendBadger, BackendFS:
	default:
		return fmt.Errorf("unknown backend %q (want sqlite, badger or fs)", c.Backend)
	}
	if _, err := digest.Parse(c.Hash); err != nil {
		return err
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if _, err := store.ParseCompression(c.Compression); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the location of the config file inside repoDir.
func Path(repoDir string) string {
	return filepath.Join(repoDir, ConfigFile)
}

// Load reads and validates the configuration of the repository at repoDir.
// Missing optional fields take their defaults.
func Load(fsys fs.FS, repoDir string) (RepoConfig, error) {
	data, err := fsys.ReadFile(Path(repoDir))
	if err != nil {
		return RepoConfig{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RepoConfig{}, fmt.Errorf("parse %s: %w", Path(repoDir), err)
	}
	if err := cfg.Validate(); err != nil {
		return RepoConfig{}, fmt.Errorf("invalid %s: %w", Path(repoDir), err)
	}
	return cfg, nil
}

// Save validates cfg and writes it atomically to repoDir.
func Save(fsys fs.FS, repoDir string, cfg RepoConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(repoDir, 0o755); err != nil {
		return err
	}
	return util.WriteFileAtomic(fsys, Path(repoDir), data)
}

// ResolveRepoDir returns flagValue if set, else $SNAPVAULT_REPO, else
// ./.snapvault.
func ResolveRepoDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(RepoEnv); env != "" {
		return env
	}
	return RepoDir
}
