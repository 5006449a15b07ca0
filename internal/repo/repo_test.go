package repo

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/snapvault/internal/config"
	"github.com/keshon/snapvault/internal/engine"
	"github.com/keshon/snapvault/internal/fs"
)

func TestInitAndOpen_Backends(t *testing.T) {
	for _, backend := range []string{config.BackendSQLite, config.BackendBadger, config.BackendFS} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			repoDir := filepath.Join(dir, config.RepoDir)
			opts := Options{LogOutput: io.Discard}

			cfg := config.Default()
			cfg.Backend = backend
			cfg.Compression = "zstd"
			r, created, err := InitAt(ctx, repoDir, cfg, opts)
			require.NoError(t, err)
			assert.True(t, created)

			// the repository lives inside the tree being backed up
			osfs := fs.NewOSFS()
			require.NoError(t, osfs.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))
			snap, err := r.Engine.CreateSnapshot(ctx, dir)
			require.NoError(t, err)
			require.Len(t, snap.Files, 1)
			assert.Equal(t, "a.txt", snap.Files[0].Path)
			require.NoError(t, r.Close())

			r, err = OpenAt(ctx, repoDir, opts)
			require.NoError(t, err)
			defer r.Close()
			assert.Equal(t, backend, r.Config.Backend)

			list, err := r.Engine.ListSnapshots(ctx)
			require.NoError(t, err)
			require.Len(t, list, 1)

			out := t.TempDir()
			require.NoError(t, r.Engine.RestoreSnapshot(ctx, list[0].ID, out))
			data, err := os.ReadFile(filepath.Join(out, "a.txt"))
			require.NoError(t, err)
			assert.Equal(t, "alpha", string(data))
		})
	}
}

func TestInitAt_Existing(t *testing.T) {
	ctx := context.Background()
	mem := fs.NewMemoryFS()
	opts := Options{FS: mem, LogOutput: io.Discard}

	cfg := config.Default()
	cfg.Backend = config.BackendFS
	r, created, err := InitAt(ctx, "/repo", cfg, opts)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, r.Close())

	other := cfg
	other.Hash = "blake3"
	r, created, err = InitAt(ctx, "/repo", other, opts)
	assert.ErrorIs(t, err, os.ErrExist)
	assert.False(t, created)
	require.NotNil(t, r)
	defer r.Close()
	assert.Equal(t, "sha256", r.Config.Hash, "existing config is kept")
}

func TestInitAt_InvalidConfig(t *testing.T) {
	mem := fs.NewMemoryFS()
	cfg := config.Default()
	cfg.ChunkSize = 0
	_, _, err := InitAt(context.Background(), "/repo", cfg, Options{FS: mem, LogOutput: io.Discard})
	assert.Error(t, err)
	assert.False(t, mem.Exists("/repo/config.yaml"))
}

func TestOpenAt_NotARepository(t *testing.T) {
	_, err := OpenAt(context.Background(), "/nowhere", Options{FS: fs.NewMemoryFS(), LogOutput: io.Discard})
	assert.ErrorContains(t, err, "not a repository")
}

func TestOpenAt_EngineHook(t *testing.T) {
	ctx := context.Background()
	mem := fs.NewMemoryFS()
	cfg := config.Default()
	cfg.Backend = config.BackendFS
	cfg.Exclude = []string{"*.skip"}

	var stored []string
	opts := Options{FS: mem, LogOutput: io.Discard, Engine: func(o *engine.Options) {
		o.OnFileStored = func(path string, size int64) { stored = append(stored, path) }
		o.Workers = 1
	}}
	r, _, err := InitAt(ctx, "/repo", cfg, opts)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, mem.MkdirAll("/src", 0o755))
	require.NoError(t, mem.WriteFile("/src/keep", []byte("k"), 0o644))
	require.NoError(t, mem.WriteFile("/src/x.skip", []byte("s"), 0o644))
	_, err = r.Engine.CreateSnapshot(ctx, "/src")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, stored)
}
