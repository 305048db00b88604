package fileutil_test

import (
	"os"
	"path/filepath"
	"testing"

	"watchpod/internal/fileutil"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp3")
	dst := filepath.Join(dir, "dst.mp3")
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	if err := fileutil.CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read dst: %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("unexpected dst contents: %q", data)
	}
}

func TestRemoveIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.mp3")
	if err := os.WriteFile(path, []byte("12345"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	size, err := fileutil.RemoveIfExists(path)
	if err != nil {
		t.Fatalf("RemoveIfExists failed: %v", err)
	}
	if size != 5 {
		t.Fatalf("expected 5 bytes removed, got %d", size)
	}

	// A second removal of the same path is not an error.
	size, err = fileutil.RemoveIfExists(path)
	if err != nil {
		t.Fatalf("RemoveIfExists on missing file failed: %v", err)
	}
	if size != 0 {
		t.Fatalf("expected 0 bytes for missing file, got %d", size)
	}
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), []byte("aa"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b"), []byte("bbb"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := fileutil.DirSize(dir); got != 5 {
		t.Fatalf("expected dir size 5, got %d", got)
	}
	if got := fileutil.DirSize(filepath.Join(dir, "missing")); got != 0 {
		t.Fatalf("expected 0 for missing dir, got %d", got)
	}
}
