package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/snapvault/internal/fs"
)

func TestSaveLoad(t *testing.T) {
	mem := fs.NewMemoryFS()
	cfg := Default()
	cfg.Backend = BackendBadger
	cfg.Hash = "blake3"
	cfg.Compression = "zstd"
	cfg.Exclude = []string{"*.tmp", "node_modules"}

	require.NoError(t, Save(mem, "/r/.snapvault", cfg))
	got, err := Load(mem, "/r/.snapvault")
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoad_FillsDefaults(t *testing.T) {
	mem := fs.NewMemoryFS()
	require.NoError(t, mem.MkdirAll("/r", 0o755))
	require.NoError(t, mem.WriteFile("/r/config.yaml", []byte("backend: fs\n"), 0o644))

	got, err := Load(mem, "/r")
	require.NoError(t, err)
	want := Default()
	want.Backend = BackendFS
	assert.Equal(t, want, got)
}

func TestLoad_Errors(t *testing.T) {
	mem := fs.NewMemoryFS()
	_, err := Load(mem, "/missing")
	assert.True(t, mem.IsNotExist(err))

	require.NoError(t, mem.MkdirAll("/r", 0o755))
	require.NoError(t, mem.WriteFile("/r/config.yaml", []byte("backend: [oops"), 0o644))
	_, err = Load(mem, "/r")
	assert.ErrorContains(t, err, "parse")

	require.NoError(t, mem.WriteFile("/r/config.yaml", []byte("backend: postgres\n"), 0o644))
	_, err = Load(mem, "/r")
	assert.ErrorContains(t, err, "unknown backend")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RepoConfig)
		ok     bool
	}{
		{"default", func(*RepoConfig) {}, true},
		{"xxh3", func(c *RepoConfig) { c.Hash = "xxh3" }, true},
		{"lz4", func(c *RepoConfig) { c.Compression = "lz4" }, true},
		{"empty log level", func(c *RepoConfig) { c.LogLevel = "" }, true},
		{"bad backend", func(c *RepoConfig) { c.Backend = "s3" }, false},
		{"bad hash", func(c *RepoConfig) { c.Hash = "md5" }, false},
		{"zero chunk size", func(c *RepoConfig) { c.ChunkSize = 0 }, false},
		{"bad compression", func(c *RepoConfig) { c.Compression = "brotli" }, false},
		{"negative workers", func(c *RepoConfig) { c.Workers = -1 }, false},
		{"bad log level", func(c *RepoConfig) { c.LogLevel = "loud" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestResolveRepoDir(t *testing.T) {
	t.Setenv(RepoEnv, "")
	assert.Equal(t, RepoDir, ResolveRepoDir(""))

	t.Setenv(RepoEnv, "/env/repo")
	assert.Equal(t, "/env/repo", ResolveRepoDir(""))
	assert.Equal(t, "/flag/repo", ResolveRepoDir("/flag/repo"))
}
