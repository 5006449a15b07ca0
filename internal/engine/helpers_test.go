package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/store/badgerstore"
	"github.com/keshon/snapvault/internal/store/fsstore"
	"github.com/keshon/snapvault/internal/store/sqlitestore"
)

// tb is satisfied by both *testing.T and *rapid.T.
type tb interface {
	require.TestingT
	Helper()
}

type backendFactory func(t *testing.T) *store.Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"sqlite": func(t *testing.T) *store.Backend {
			b, err := sqlitestore.Backend(context.Background(), filepath.Join(t.TempDir(), "repo.db"), sqlitestore.Options{})
			require.NoError(t, err)
			return b
		},
		"badger": func(t *testing.T) *store.Backend {
			b, err := badgerstore.Backend("", badgerstore.Options{InMemory: true})
			require.NoError(t, err)
			return b
		},
		"fs": func(t *testing.T) *store.Backend {
			b, err := fsstore.Backend(fs.NewMemoryFS(), "/repo")
			require.NoError(t, err)
			return b
		},
	}
}

// newEngine returns an engine over b that reads and writes trees in fsys.
func newEngine(t *testing.T, b *store.Backend, fsys fs.FS, mod ...func(*Options)) *Engine {
	t.Helper()
	opts := Options{FS: fsys, Workers: 4}
	for _, m := range mod {
		m(&opts)
	}
	e, err := New(b.Chunks, b.Catalog, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Close()
		_ = b.Close()
	})
	return e
}

func memEngine(t *testing.T, mod ...func(*Options)) (*Engine, *fs.MemoryFS, *store.Backend) {
	t.Helper()
	mem := fs.NewMemoryFS()
	b, err := fsstore.Backend(fs.NewMemoryFS(), "/repo")
	require.NoError(t, err)
	return newEngine(t, b, mem, mod...), mem, b
}

func writeTree(t tb, fsys fs.FS, root string, files map[string][]byte) {
	t.Helper()
	require.NoError(t, fsys.MkdirAll(root, 0o755))
	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, fsys.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, fsys.WriteFile(p, data, 0o644))
	}
}

func readTree(t tb, fsys fs.FS, root string) map[string][]byte {
	t.Helper()
	paths, err := fs.WalkFiles(fsys, root)
	require.NoError(t, err)
	out := make(map[string][]byte, len(paths))
	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		require.NoError(t, err)
		data, err := fsys.ReadFile(p)
		require.NoError(t, err)
		if data == nil {
			data = []byte{}
		}
		out[filepath.ToSlash(rel)] = data
	}
	return out
}

func chunkCount(t *testing.T, b *store.Backend) int {
	t.Helper()
	hashes, err := b.Chunks.ListHashes(context.Background())
	require.NoError(t, err)
	return len(hashes)
}

// failingFS fails reads of one base name.
type failingFS struct {
	*fs.MemoryFS
	fail string
}

var errInjected = errors.New("injected read failure")

func (f *failingFS) ReadFile(p string) ([]byte, error) {
	if filepath.Base(p) == f.fail {
		return nil, errInjected
	}
	return f.MemoryFS.ReadFile(p)
}

func fsstoreBackend() (*store.Backend, error) {
	return fsstore.Backend(fs.NewMemoryFS(), "/repo")
}
