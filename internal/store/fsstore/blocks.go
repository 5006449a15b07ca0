package fsstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"

	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/store"
)

const (
	blockExt    = ".bin"
	lockStripes = 64
)

// Blocks stores each chunk as <dir>/<hash>.bin.
type Blocks struct {
	Dir string
	FS  fs.FS

	locks [lockStripes]sync.Mutex
}

var _ store.ChunkStore = (*Blocks)(nil)

// NewBlocks returns a block store rooted at dir, creating it if needed.
func NewBlocks(fsys fs.FS, dir string) (*Blocks, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blocks dir: %w", err)
	}
	return &Blocks{Dir: dir, FS: fsys}, nil
}

func (b *Blocks) path(hash string) string {
	return filepath.Join(b.Dir, hash+blockExt)
}

// lock serializes writers and deleters of one hash. Readers go lock-free:
// a block file only ever appears through an atomic rename.
func (b *Blocks) lock(hash string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(hash))
	return &b.locks[h.Sum32()%lockStripes]
}

func validHash(hash string) error {
	if hash == "" || strings.ContainsAny(hash, `/\.`) {
		return fmt.Errorf("invalid chunk hash %q", hash)
	}
	return nil
}

// Put writes the block atomically unless it already exists.
func (b *Blocks) Put(ctx context.Context, hash string, data []byte) error {
	if err := validHash(hash); err != nil {
		return err
	}
	mu := b.lock(hash)
	mu.Lock()
	defer mu.Unlock()

	dst := b.path(hash)
	if b.FS.Exists(dst) {
		return nil
	}

	tmp, tmpPath, err := b.FS.CreateTempFile(b.Dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %q: %w", b.Dir, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = b.FS.Remove(tmpPath)
		return fmt.Errorf("write temp block: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = b.FS.Remove(tmpPath)
		return fmt.Errorf("close temp block: %w", err)
	}
	if err := b.FS.Rename(tmpPath, dst); err != nil {
		_ = b.FS.Remove(tmpPath)
		return fmt.Errorf("rename temp %q to %q: %w", tmpPath, dst, err)
	}
	return nil
}

func (b *Blocks) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := validHash(hash); err != nil {
		return nil, err
	}
	data, err := b.FS.ReadFile(b.path(hash))
	if err != nil {
		if b.FS.IsNotExist(err) {
			return nil, fmt.Errorf("read block %q: %w", hash, store.ErrChunkNotFound)
		}
		return nil, fmt.Errorf("read block %q: %w", hash, err)
	}
	return data, nil
}

func (b *Blocks) Exists(ctx context.Context, hash string) (bool, error) {
	if err := validHash(hash); err != nil {
		return false, err
	}
	return b.FS.Exists(b.path(hash)), nil
}

func (b *Blocks) Delete(ctx context.Context, hash string) error {
	if err := validHash(hash); err != nil {
		return err
	}
	mu := b.lock(hash)
	mu.Lock()
	defer mu.Unlock()

	if err := b.FS.Remove(b.path(hash)); err != nil && !b.FS.IsNotExist(err) {
		return fmt.Errorf("remove block %q: %w", hash, err)
	}
	return nil
}

// ListHashes returns the hashes of every block file, sorted.
func (b *Blocks) ListHashes(ctx context.Context) ([]string, error) {
	entries, err := b.FS.ReadDir(b.Dir)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || isTemp(name) || !strings.HasSuffix(name, blockExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, blockExt))
	}
	return out, nil
}

func (b *Blocks) ListAll(ctx context.Context, fn func(store.Chunk) error) error {
	hashes, err := b.ListHashes(ctx)
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := b.FS.ReadFile(b.path(h))
		if err != nil {
			if b.FS.IsNotExist(err) {
				continue // deleted since listing
			}
			return fmt.Errorf("read block %q: %w", h, err)
		}
		if err := fn(store.Chunk{Hash: h, Data: data}); err != nil {
			return err
		}
	}
	return nil
}

func (b *Blocks) Close() error { return nil }

func isTemp(name string) bool {
	return strings.HasPrefix(name, "tmp-") || strings.HasPrefix(name, ".tmp-")
}

// CleanupTemp removes temp files left by interrupted writes and returns how
// many were removed. Callers must ensure no Put is in flight.
func (b *Blocks) CleanupTemp(ctx context.Context) (int, error) {
	return cleanupTemp(b.FS, b.Dir)
}

func cleanupTemp(fsys fs.FS, dir string) (int, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isTemp(e.Name()) {
			continue
		}
		if err := fsys.Remove(filepath.Join(dir, e.Name())); err != nil && !fsys.IsNotExist(err) {
			return removed, fmt.Errorf("remove temp %q: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
