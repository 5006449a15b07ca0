package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keshon/snapvault/internal/chunker"
	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/util"
)

type buildStats struct {
	files     atomic.Int64
	bytes     atomic.Int64
	chunks    atomic.Int64
	newChunks atomic.Int64
}

// CreateSnapshot stores every regular file under root and records them as
// a new snapshot. The snapshot becomes visible only when every file is
// recorded; on any failure the staged snapshot is deleted and the error
// returned. Chunks written before the failure stay and are reused by the
// next build or swept.
func (e *Engine) CreateSnapshot(ctx context.Context, root string) (store.Snapshot, error) {
	e.gate.RLock()
	defer e.gate.RUnlock()

	start := time.Now()
	root, err := filepath.Abs(root)
	if err != nil {
		return store.Snapshot{}, ioErr("resolve", root, err)
	}
	if !e.opts.FS.IsDir(root) {
		return store.Snapshot{}, ioErr("open", root, fmt.Errorf("not a directory"))
	}

	paths, err := e.sourceFiles(root)
	if err != nil {
		return store.Snapshot{}, err
	}

	snap, err := e.catalog.CreateSnapshot(ctx, e.opts.ChunkSize)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("create snapshot: %w", err)
	}
	log := e.log.WithField("snapshot", snap.ID)
	log.WithFields(logrus.Fields{"root": root, "files": len(paths)}).Debug("build started")

	var stats buildStats
	err = util.Parallel(ctx, paths, e.opts.Workers, func(ctx context.Context, p string) error {
		return e.storeFile(ctx, snap.ID, root, p, &stats)
	})
	if err == nil {
		err = e.catalog.CommitSnapshot(ctx, snap.ID)
	}
	if err != nil {
		e.rollback(snap.ID, log)
		return store.Snapshot{}, fmt.Errorf("snapshot %s: %w", root, err)
	}

	log.WithFields(logrus.Fields{
		"files":      stats.files.Load(),
		"bytes":      stats.bytes.Load(),
		"chunks":     stats.chunks.Load(),
		"new_chunks": stats.newChunks.Load(),
		"duration":   time.Since(start).Round(time.Millisecond),
	}).Info("snapshot created")

	return e.catalog.GetSnapshot(ctx, snap.ID)
}

// sourceFiles lists the regular files under root that are not excluded.
func (e *Engine) sourceFiles(root string) ([]string, error) {
	all, err := fs.WalkFiles(e.opts.FS, root)
	if err != nil {
		return nil, ioErr("walk", root, err)
	}
	paths := all[:0]
	for _, p := range all {
		rel, err := relSlash(root, p)
		if err != nil {
			return nil, ioErr("walk", p, err)
		}
		if e.exclude.Match(rel) || e.skipped(p) {
			continue
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (e *Engine) skipped(p string) bool {
	for _, dir := range e.opts.SkipDirs {
		if rel, err := filepath.Rel(dir, p); err == nil && filepath.IsLocal(rel) {
			return true
		}
	}
	return false
}

func relSlash(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// storeFile reads one file, writes its chunks and records its entry.
func (e *Engine) storeFile(ctx context.Context, snapshotID int64, root, p string, stats *buildStats) error {
	rel, err := relSlash(root, p)
	if err != nil {
		return ioErr("resolve", p, err)
	}
	data, err := e.opts.FS.ReadFile(p)
	if err != nil {
		return ioErr("read", p, err)
	}

	parts := chunker.Split(data, e.opts.ChunkSize)
	hashes := make([]string, len(parts))
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return err
		}
		h := e.opts.Hash.Sum(part)
		added, err := e.putChunk(ctx, h, part)
		if err != nil {
			return fmt.Errorf("store %s: %w", rel, err)
		}
		if added {
			stats.newChunks.Add(1)
		}
		hashes[i] = h
	}

	entry := store.FileEntry{Path: rel, Size: int64(len(data)), Chunks: hashes}
	if err := e.catalog.AddFileEntry(ctx, snapshotID, entry); err != nil {
		return fmt.Errorf("record %s: %w", rel, err)
	}

	stats.files.Add(1)
	stats.bytes.Add(entry.Size)
	stats.chunks.Add(int64(len(hashes)))
	if e.opts.OnFileStored != nil {
		e.opts.OnFileStored(rel, entry.Size)
	}
	return nil
}

// putChunk skips encoding when the chunk is already stored. The existence
// check is only a shortcut; Put itself is idempotent under races.
func (e *Engine) putChunk(ctx context.Context, hash string, data []byte) (bool, error) {
	ok, err := e.chunks.Exists(ctx, hash)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	if err := e.chunks.Put(ctx, hash, e.codec.Encode(data)); err != nil {
		return false, err
	}
	return true, nil
}

// rollback deletes a staged snapshot after a failed build. It runs even when
// the build's context was cancelled.
func (e *Engine) rollback(id int64, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.catalog.DeleteSnapshot(ctx, id); err != nil && !errors.Is(err, store.ErrSnapshotNotFound) {
		log.WithError(err).Warn("rollback of staged snapshot failed; run gc")
		return
	}
	log.Warn("build failed, staged snapshot removed")
}
