package command_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/snapvault/internal/command"
	"github.com/keshon/snapvault/internal/store"

	_ "github.com/keshon/snapvault/internal/command/check"
	_ "github.com/keshon/snapvault/internal/command/gc"
	_ "github.com/keshon/snapvault/internal/command/help"
	_ "github.com/keshon/snapvault/internal/command/init"
	_ "github.com/keshon/snapvault/internal/command/list"
	_ "github.com/keshon/snapvault/internal/command/prune"
	_ "github.com/keshon/snapvault/internal/command/restore"
	_ "github.com/keshon/snapvault/internal/command/show"
	_ "github.com/keshon/snapvault/internal/command/snapshot"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := command.Execute(&command.Context{
		Stdout:   &stdout,
		Stderr:   &stderr,
		LogLevel: "error",
	}, args)
	return stdout.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCLI_Lifecycle(t *testing.T) {
	for _, backend := range []string{"sqlite", "badger", "fs"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			repoDir := filepath.Join(dir, "repo")
			src := filepath.Join(dir, "src")
			writeFile(t, filepath.Join(src, "test1.txt"), "Hello World")
			writeFile(t, filepath.Join(src, "nested", "test2.bin"), strings.Repeat("x", 5000))

			out, err := run(t, "init", "--repo", repoDir, "--backend", backend, "--compression", "lz4")
			require.NoError(t, err)
			assert.Contains(t, out, "Initialized empty "+backend+" repository")

			out, err = run(t, "init", "--repo", repoDir)
			require.NoError(t, err)
			assert.Contains(t, out, "Reinitialized existing repository")

			out, err = run(t, "snapshot", "--repo", repoDir, "-q", "--target-directory", src)
			require.NoError(t, err)
			assert.Equal(t, "Created snapshot 1: 2 files, 4.9 KiB\n", out)

			out, err = run(t, "ls", "--repo", repoDir)
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(out), "\n")
			require.Len(t, lines, 3)
			assert.Contains(t, lines[0], "DISTINCT_SIZE")
			assert.True(t, strings.HasPrefix(strings.TrimSpace(lines[1]), "1 "), lines[1])
			assert.Contains(t, lines[2], "TOTAL")

			out, err = run(t, "show", "1", "--repo", repoDir)
			require.NoError(t, err)
			assert.Contains(t, out, "nested/test2.bin")
			assert.Contains(t, out, "test1.txt")

			restored := filepath.Join(dir, "out")
			out, err = run(t, "restore", "--repo", repoDir, "-q", "--verify",
				"--snapshot-number", "1", "--output-directory", restored)
			require.NoError(t, err)
			assert.Contains(t, out, "Checking repository integrity")
			assert.Contains(t, out, "Restored snapshot 1 (2 files)")
			data, err := os.ReadFile(filepath.Join(restored, "test1.txt"))
			require.NoError(t, err)
			assert.Equal(t, "Hello World", string(data))

			out, err = run(t, "check", "--refs", "--repo", repoDir)
			require.NoError(t, err)
			assert.Contains(t, out, "Checked 3 chunks")
			assert.Contains(t, out, "Damaged: 0   Missing: 0")

			out, err = run(t, "prune", "--repo", repoDir, "--snapshot", "1")
			require.NoError(t, err)
			assert.Equal(t, "Pruned snapshot 1, removed 3 chunks\n", out)

			_, err = run(t, "restore", "--repo", repoDir, "-s", "1", "-o", restored)
			assert.ErrorIs(t, err, store.ErrSnapshotNotFound)

			_, err = run(t, "prune", "--repo", repoDir, "1")
			assert.ErrorIs(t, err, store.ErrSnapshotNotFound)

			out, err = run(t, "gc", "--repo", repoDir)
			require.NoError(t, err)
			assert.Equal(t, "Removed 0 unfinished snapshots, 0 chunks, 0 temp files\n", out)

			out, err = run(t, "list", "--repo", repoDir)
			require.NoError(t, err)
			assert.Equal(t, "No snapshots.\n", out)
		})
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()
	repoDir := filepath.Join(dir, "repo")

	_, err := run(t, "frobnicate")
	assert.ErrorIs(t, err, command.ErrUnknownCommand)

	_, err = run(t, "list", "--repo", repoDir)
	assert.ErrorContains(t, err, "no repository")

	_, err = run(t, "init", "--repo", repoDir, "--backend", "postgres")
	assert.ErrorContains(t, err, "unknown backend")

	_, err = run(t, "init", "--repo", repoDir, "-q")
	require.NoError(t, err)

	_, err = run(t, "snapshot", "--repo", repoDir)
	assert.ErrorContains(t, err, "--target-directory is required")

	_, err = run(t, "snapshot", "--repo", repoDir, "-q", filepath.Join(dir, "missing"))
	assert.Error(t, err)

	_, err = run(t, "restore", "--repo", repoDir, "-s", "0", "-o", dir)
	assert.ErrorContains(t, err, "invalid snapshot id")

	_, err = run(t, "restore", "--repo", repoDir, "-s", "1")
	assert.ErrorContains(t, err, "--output-directory is required")

	_, err = run(t, "show", "--repo", repoDir, "abc")
	assert.ErrorContains(t, err, "invalid snapshot id")

	_, err = run(t, "check", "--repo", repoDir, "--no-such-flag")
	assert.ErrorContains(t, err, "unknown flag")
}

func TestCLI_CheckReportsDamage(t *testing.T) {
	dir := t.TempDir()
	repoDir := filepath.Join(dir, "repo")
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "a.txt"), "alpha")

	_, err := run(t, "init", "--repo", repoDir, "--backend", "fs", "-q")
	require.NoError(t, err)
	_, err = run(t, "snapshot", "--repo", repoDir, "-q", src)
	require.NoError(t, err)

	blocks, err := filepath.Glob(filepath.Join(repoDir, "blocks", "*.bin"))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.NoError(t, os.WriteFile(blocks[0], []byte{0, 'A', 'L', 'P', 'H', 'A'}, 0o644))

	out, err := run(t, "check", "--repo", repoDir)
	assert.ErrorContains(t, err, "1 damaged")
	assert.Contains(t, out, "damaged")
	assert.Contains(t, out, "content hashes to")

	_, err = run(t, "restore", "--repo", repoDir, "-q", "--verify", "-s", "1", "-o", filepath.Join(dir, "out"))
	assert.ErrorContains(t, err, "repository verification failed")

	_, err = run(t, "restore", "--repo", repoDir, "-q", "-s", "1", "-o", filepath.Join(dir, "out"))
	assert.ErrorContains(t, err, "1 of 1 files failed")
	_, statErr := os.Stat(filepath.Join(dir, "out", "a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCLI_Help(t *testing.T) {
	out, err := run(t)
	require.NoError(t, err)
	for _, name := range []string{"check", "gc", "init", "list", "prune", "restore", "show", "snapshot"} {
		assert.Contains(t, out, name)
	}

	out, err = run(t, "help", "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "--snapshot-number")

	_, err = run(t, "help", "nope")
	assert.ErrorIs(t, err, command.ErrUnknownCommand)
}
