// Package engine implements the snapshot lifecycle on top of a chunk store
// and a catalog: build, restore, prune, sweep and integrity checks.
//
// Builds and restores share a gate; prune and sweep hold it exclusively.
// A chunk written by an in-flight build is therefore never swept before its
// file entry is recorded.
package engine

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/keshon/snapvault/internal/chunker"
	"github.com/keshon/snapvault/internal/digest"
	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/logging"
	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/util"
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Hash        digest.Algorithm
	ChunkSize   int
	Compression store.Compression
	// Workers bounds per-file parallelism. Defaults to NumCPU.
	Workers int
	// FS is where source trees are read and restores are written.
	FS fs.FS
	// Exclude holds slash-separated patterns, relative to the snapshot
	// root, of files a build skips. See Matcher.
	Exclude []string
	// SkipDirs are absolute directories a build never descends into,
	// such as the repository itself when it lives inside the source tree.
	SkipDirs []string
	Logger   logrus.FieldLogger

	// OnFileStored is called after each file of a build is recorded.
	OnFileStored func(path string, size int64)
	// OnFileRestored is called after each file of a restore, with the
	// per-file error if it failed.
	OnFileRestored func(path string, err error)
}

type Engine struct {
	chunks  store.ChunkStore
	catalog store.Catalog
	codec   *store.Codec
	exclude *Matcher
	opts    Options
	log     logrus.FieldLogger

	gate sync.RWMutex
}

// New returns an engine over chunks and catalog. The engine does not own
// the stores; Close releases only engine resources.
func New(chunks store.ChunkStore, catalog store.Catalog, opts Options) (*Engine, error) {
	if chunks == nil || catalog == nil {
		return nil, fmt.Errorf("engine: chunk store and catalog are required")
	}
	if opts.Hash == "" {
		opts.Hash = digest.Default
	}
	if _, err := digest.Parse(string(opts.Hash)); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = chunker.DefaultChunkSize
	}
	if opts.ChunkSize < 0 {
		return nil, fmt.Errorf("engine: invalid chunk size %d", opts.ChunkSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = util.WorkerCount()
	}
	if opts.FS == nil {
		opts.FS = fs.NewOSFS()
	}

	codec, err := store.NewCodec(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	return &Engine{
		chunks:  chunks,
		catalog: catalog,
		codec:   codec,
		exclude: NewMatcher(opts.Exclude),
		opts:    opts,
		log:     logging.OrDiscard(opts.Logger),
	}, nil
}

func (e *Engine) Close() error {
	e.codec.Close()
	return nil
}
