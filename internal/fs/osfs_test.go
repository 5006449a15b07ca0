package fs_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/keshon/snapvault/internal/fs"
)

func TestOSFS_ReadFileMapped(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "data.bin")
	content := bytes.Repeat([]byte("0123456789"), 1000)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := fs.NewOSFS().ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("mapped read mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestOSFS_ReadFileEmpty(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "empty")
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := fs.NewOSFS().ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty content, got %d bytes", len(got))
	}
}

func TestOSFS_ReadFileMissing(t *testing.T) {
	osfs := fs.NewOSFS()
	_, err := osfs.ReadFile(filepath.Join(t.TempDir(), "nope"))
	if !osfs.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestOSFS_TempFileRename(t *testing.T) {
	dir := t.TempDir()
	osfs := fs.NewOSFS()

	wc, tmp, err := osfs.CreateTempFile(dir, ".tmp-*")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wc.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := wc.Close(); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "final.bin")
	if err := osfs.Rename(tmp, dst); err != nil {
		t.Fatal(err)
	}
	if osfs.Exists(tmp) {
		t.Fatal("temp file should be gone after rename")
	}

	f, err := osfs.Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestOSFS_DirHelpers(t *testing.T) {
	dir := t.TempDir()
	osfs := fs.NewOSFS()

	sub := filepath.Join(dir, "a", "b")
	if err := osfs.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if !osfs.IsDir(sub) || !osfs.Exists(sub) {
		t.Fatal("expected directory to exist")
	}
	if err := osfs.WriteFile(filepath.Join(sub, "f"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := osfs.ReadDir(sub)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "f" {
		t.Fatalf("unexpected entries %v", entries)
	}
	if err := osfs.Remove(filepath.Join(sub, "f")); err != nil {
		t.Fatal(err)
	}
	if osfs.Exists(filepath.Join(sub, "f")) {
		t.Fatal("file should be removed")
	}
}
