package engine

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/util"
)

// RestoreSnapshot writes every file of snapshot id below outputDir.
//
// A missing snapshot fails with store.ErrSnapshotNotFound before anything
// is written. A missing or corrupt chunk fails only the file that needs it;
// the remaining files are still restored and the failures are returned
// together as a *RestoreError.
func (e *Engine) RestoreSnapshot(ctx context.Context, id int64, outputDir string) error {
	e.gate.RLock()
	defer e.gate.RUnlock()

	start := time.Now()
	snap, err := e.catalog.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}
	outputDir, err = filepath.Abs(outputDir)
	if err != nil {
		return ioErr("resolve", outputDir, err)
	}
	if err := e.opts.FS.MkdirAll(outputDir, 0o755); err != nil {
		return ioErr("mkdir", outputDir, err)
	}

	var (
		mu       sync.Mutex
		failures []*FileError
	)
	err = util.Parallel(ctx, snap.Files, e.opts.Workers, func(ctx context.Context, f store.FileEntry) error {
		ferr := e.restoreFile(ctx, outputDir, f)
		if e.opts.OnFileRestored != nil {
			e.opts.OnFileRestored(f.Path, ferr)
		}
		if ferr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			mu.Lock()
			failures = append(failures, &FileError{Path: f.Path, Err: ferr})
			mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("restore snapshot %d: %w", id, err)
	}

	log := e.log.WithFields(logrus.Fields{
		"snapshot": id,
		"files":    len(snap.Files),
		"failed":   len(failures),
		"output":   outputDir,
		"duration": time.Since(start).Round(time.Millisecond),
	})
	if len(failures) > 0 {
		sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
		log.Warn("snapshot restored with failures")
		return &RestoreError{SnapshotID: id, Files: failures}
	}
	log.Info("snapshot restored")
	return nil
}

// restoreFile reassembles one entry into a temp file next to its target and
// renames it into place, so a failed file never leaves partial content.
func (e *Engine) restoreFile(ctx context.Context, outputDir string, f store.FileEntry) error {
	rel := filepath.FromSlash(f.Path)
	if !filepath.IsLocal(rel) {
		return ErrUnsafePath
	}
	dst := filepath.Join(outputDir, rel)
	dir := filepath.Dir(dst)
	if err := e.opts.FS.MkdirAll(dir, 0o755); err != nil {
		return ioErr("mkdir", dir, err)
	}

	tmp, tmpPath, err := e.opts.FS.CreateTempFile(dir, ".tmp-restore-*")
	if err != nil {
		return ioErr("create", dir, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = e.opts.FS.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriterSize(tmp, 1<<20)
	var written int64
	for i, h := range f.Chunks {
		if err := ctx.Err(); err != nil {
			tmp.Close()
			return err
		}
		data, err := e.fetchChunk(ctx, h)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if _, err := w.Write(data); err != nil {
			tmp.Close()
			return ioErr("write", dst, err)
		}
		written += int64(len(data))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return ioErr("write", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return ioErr("close", dst, err)
	}
	if written != f.Size {
		return fmt.Errorf("%w: reassembled %d bytes, expected %d", ErrCorruptChunk, written, f.Size)
	}
	if err := e.opts.FS.Rename(tmpPath, dst); err != nil {
		return ioErr("rename", dst, err)
	}
	committed = true
	return nil
}

// fetchChunk returns the raw bytes of hash after checking they still hash
// to it.
func (e *Engine) fetchChunk(ctx context.Context, hash string) ([]byte, error) {
	payload, err := e.chunks.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	data, err := e.codec.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrCorruptChunk, hash, err)
	}
	if actual := e.opts.Hash.Sum(data); actual != hash {
		return nil, fmt.Errorf("%w %s: content hashes to %s", ErrCorruptChunk, hash, actual)
	}
	return data, nil
}
