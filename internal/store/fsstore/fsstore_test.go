package fsstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/snapvault/internal/digest"
	"github.com/keshon/snapvault/internal/fs"
	"github.com/keshon/snapvault/internal/store"
	"github.com/keshon/snapvault/internal/store/storetest"
)

func TestConformance_Memory(t *testing.T) {
	var mem *fs.MemoryFS
	storetest.Run(t, storetest.Factory{
		Open: func(t *testing.T) *store.Backend {
			mem = fs.NewMemoryFS()
			b, err := Backend(mem, "/repo")
			require.NoError(t, err)
			return b
		},
		Reopen: func(t *testing.T, b *store.Backend) *store.Backend {
			require.NoError(t, b.Close())
			b, err := Backend(mem, "/repo")
			require.NoError(t, err)
			return b
		},
	})
}

func TestConformance_OS(t *testing.T) {
	var root string
	storetest.Run(t, storetest.Factory{
		Open: func(t *testing.T) *store.Backend {
			root = t.TempDir()
			b, err := Backend(fs.NewOSFS(), root)
			require.NoError(t, err)
			return b
		},
		Reopen: func(t *testing.T, b *store.Backend) *store.Backend {
			require.NoError(t, b.Close())
			b, err := Backend(fs.NewOSFS(), root)
			require.NoError(t, err)
			return b
		},
	})
}

func TestBlocks_Layout(t *testing.T) {
	ctx := context.Background()
	mem := fs.NewMemoryFS()
	blocks, _, err := Open(mem, "/repo")
	require.NoError(t, err)

	h := digest.SHA256.Sum([]byte("data"))
	require.NoError(t, blocks.Put(ctx, h, []byte("data")))
	assert.True(t, mem.Exists(filepath.Join("/repo/blocks", h+".bin")))

	assert.Error(t, blocks.Put(ctx, "../escape", []byte("x")))
	_, err = blocks.Get(ctx, "a/b")
	assert.Error(t, err)
}

func TestCleanupTemp(t *testing.T) {
	ctx := context.Background()
	mem := fs.NewMemoryFS()
	blocks, catalog, err := Open(mem, "/repo")
	require.NoError(t, err)

	h := digest.SHA256.Sum([]byte("keep"))
	require.NoError(t, blocks.Put(ctx, h, []byte("keep")))
	require.NoError(t, mem.WriteFile("/repo/blocks/.tmp-17", []byte("partial"), 0o644))
	require.NoError(t, mem.WriteFile("/repo/snapshots/tmp-3.json", []byte("{"), 0o644))

	hashes, err := blocks.ListHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{h}, hashes, "temp files are not chunks")

	n, err := blocks.CleanupTemp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = catalog.CleanupTemp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.True(t, mem.Exists(filepath.Join("/repo/blocks", h+".bin")))
	assert.False(t, mem.Exists("/repo/blocks/.tmp-17"))
}

func TestCatalog_StagedDocumentFromEarlierProcess(t *testing.T) {
	ctx := context.Background()
	mem := fs.NewMemoryFS()
	_, catalog, err := Open(mem, "/repo")
	require.NoError(t, err)

	s, err := catalog.CreateSnapshot(ctx, 4096)
	require.NoError(t, err)

	_, reopened, err := Open(mem, "/repo")
	require.NoError(t, err)

	// the header is on disk, so the snapshot can still be finished
	require.NoError(t, reopened.AddFileEntry(ctx, s.ID, store.FileEntry{Path: "late", Size: 0}))
	require.NoError(t, reopened.CommitSnapshot(ctx, s.ID))

	got, err := reopened.GetSnapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.Files, 1)
}
