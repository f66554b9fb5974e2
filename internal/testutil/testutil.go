package testutil

import (
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Tree describes a directory tree for tests. Keys are slash separated paths
// relative to the root; a trailing "/" marks a directory, a value starting
// with "->" makes a symlink to the rest of the value, anything else is the
// content of a regular file.
type Tree map[string]string

// CreateTestFile creates a test file with the given content, creating parents.
func CreateTestFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

// CreateTestFileWithSize creates a file of the given size filled with
// pseudo-random bytes derived from seed, so two calls with the same seed
// produce identical content.
func CreateTestFileWithSize(t *testing.T, dir, name string, size int64, seed int64) string {
	t.Helper()
	return CreateTestFile(t, dir, name, RandomBytes(size, seed))
}

// RandomBytes returns size deterministic pseudo-random bytes.
func RandomBytes(size int64, seed int64) []byte {
	buf := make([]byte, size)
	rand.New(rand.NewSource(seed)).Read(buf)
	return buf
}

// WriteTree materializes tree under root.
func WriteTree(t *testing.T, root string, tree Tree) {
	t.Helper()

	if err := os.MkdirAll(root, 0755); err != nil {
		t.Fatalf("failed to create root: %v", err)
	}
	for name, content := range tree {
		path := filepath.Join(root, filepath.FromSlash(strings.TrimSuffix(name, "/")))
		switch {
		case strings.HasSuffix(name, "/"):
			if err := os.MkdirAll(path, 0755); err != nil {
				t.Fatalf("failed to create dir: %v", err)
			}
		case strings.HasPrefix(content, "->"):
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				t.Fatalf("failed to create parent dir: %v", err)
			}
			if err := os.Symlink(strings.TrimPrefix(content, "->"), path); err != nil {
				t.Fatalf("failed to create symlink: %v", err)
			}
		default:
			CreateTestFile(t, root, name, []byte(content))
		}
	}
}

// ReadTree reads root back into the Tree notation. The root itself is not
// included.
func ReadTree(t *testing.T, root string) Tree {
	t.Helper()

	out := Tree{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)
		switch {
		case d.IsDir():
			out[rel+"/"] = ""
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			out[rel] = "->" + target
		default:
			b, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out[rel] = string(b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree: %v", err)
	}
	return out
}

// SetMtime sets both atime and mtime of path.
func SetMtime(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set times: %v", err)
	}
}

// SyncTimes copies atime/mtime of every regular file and directory from src
// to the same relative path under dst, when it exists.
func SyncTimes(t *testing.T, src, dst string) {
	t.Helper()
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.Type()&fs.ModeSymlink != 0 {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(src, path)
		target := filepath.Join(dst, rel)
		if _, err := os.Lstat(target); err == nil {
			return os.Chtimes(target, info.ModTime(), info.ModTime())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to sync times: %v", err)
	}
}
