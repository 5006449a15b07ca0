// Package repo opens and initializes repositories: it reads the config,
// selects the storage backend and wires the engine on top of it.
package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/keshon/snapvault/internal/config"
	"github.com/keshon/snapvault/internal/digest"
	"github.com/keshon/snapvault/internal/engine"
	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/logging"
	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/store/badgerstore"
	"github.com/keshon/snapvault/internal/store/fsstore"
	"github.com/keshon/snapvault/internal/store/sqlitestore"
)

const (
	SQLiteFile = "repo.db"
	BadgerDir  = "badger"
)

// Options tune how a repository is opened. Zero values select defaults.
type Options struct {
	// FS holds the repository, source trees and restore targets.
	FS fs.FS
	// LogLevel overrides the configured log level when set.
	LogLevel  string
	LogOutput io.Writer
	// Engine, when set, adjusts the engine options derived from the config,
	// for example to install progress hooks.
	Engine func(*engine.Options)
}

// Repository is an opened repository.
type Repository struct {
	Root   string
	Config config.RepoConfig
	Store  *store.Backend
	Engine *engine.Engine
	Log    *logrus.Logger
}

// InitAt creates a repository at path with cfg and opens it.
// Returns (*Repository, created, error). An existing repository is opened
// unchanged and reported with created=false and an error wrapping
// os.ErrExist.
func InitAt(ctx context.Context, path string, cfg config.RepoConfig, opts Options) (*Repository, bool, error) {
	fsys := fsOrOS(opts.FS)

	if fsys.Exists(config.Path(path)) {
		r, err := OpenAt(ctx, path, opts)
		if err != nil {
			return nil, false, err
		}
		return r, false, fmt.Errorf("repository at %q: %w", path, os.ErrExist)
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("invalid config: %w", err)
	}
	if err := config.Save(fsys, path, cfg); err != nil {
		return nil, false, fmt.Errorf("failed to write config: %w", err)
	}

	r, err := OpenAt(ctx, path, opts)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// OpenAt opens an existing repository.
func OpenAt(ctx context.Context, path string, opts Options) (*Repository, error) {
	fsys := fsOrOS(opts.FS)

	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(fsys, root)
	if err != nil {
		if fsys.IsNotExist(err) {
			return nil, fmt.Errorf("not a repository (missing %s): %q", config.ConfigFile, path)
		}
		return nil, err
	}

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	log, err := logging.New(level, opts.LogOutput)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(ctx, fsys, root, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}

	eopts, err := engineOptions(fsys, root, cfg, log)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	if opts.Engine != nil {
		opts.Engine(&eopts)
	}
	eng, err := engine.New(backend.Chunks, backend.Catalog, eopts)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	log.WithFields(logrus.Fields{"repo": root, "backend": cfg.Backend}).Debug("repository opened")
	return &Repository{
		Root:   root,
		Config: cfg,
		Store:  backend,
		Engine: eng,
		Log:    log,
	}, nil
}

// Close releases the engine and the backend.
func (r *Repository) Close() error {
	return errors.Join(r.Engine.Close(), r.Store.Close())
}

func openBackend(ctx context.Context, fsys fs.FS, root string, cfg config.RepoConfig, log logrus.FieldLogger) (*store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlitestore.Backend(ctx, filepath.Join(root, SQLiteFile), sqlitestore.Options{Logger: log})
	case config.BackendBadger:
		return badgerstore.Backend(filepath.Join(root, BadgerDir), badgerstore.Options{Logger: log})
	case config.BackendFS:
		return fsstore.Backend(fsys, root)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func engineOptions(fsys fs.FS, root string, cfg config.RepoConfig, log logrus.FieldLogger) (engine.Options, error) {
	hash, err := digest.Parse(cfg.Hash)
	if err != nil {
		return engine.Options{}, err
	}
	comp, err := store.ParseCompression(cfg.Compression)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Hash:        hash,
		ChunkSize:   cfg.ChunkSize,
		Compression: comp,
		Workers:     cfg.Workers,
		FS:          fsys,
		Exclude:     cfg.Exclude,
		SkipDirs:    []string{root},
		Logger:      log,
	}, nil
}

func fsOrOS(fsys fs.FS) fs.FS {
	if fsys == nil {
		return fs.NewOSFS()
	}
	return fsys
}
