package engine

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// createTestZip builds a ZIP archive from a name→content map. Entry
// names ending in "/" become directory entries.
func createTestZip(t *testing.T, entries map[string]string) string {
	t.Helper()

	archivePath := filepath.Join(t.TempDir(), "test.zip")
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer func() { _ = archiveFile.Close() }()

	zipWriter := zip.NewWriter(archiveFile)
	defer func() { _ = zipWriter.Close() }()

	for name, content := range entries {
		if strings.HasSuffix(name, "/") {
			if _, err := zipWriter.Create(name); err != nil {
				t.Fatalf("failed to create dir entry %s: %v", name, err)
			}
			continue
		}
		w, err := zipWriter.Create(name)
		if err != nil {
			t.Fatalf("failed to create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write entry %s: %v", name, err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		t.Fatalf("failed to finalize archive: %v", err)
	}
	return archivePath
}

// writeTree materializes a relative-path→content map under root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
}

// readTree inverts writeTree: every regular file under root, keyed by
// slash-separated relative path.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()

	out := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree %s: %v", root, err)
	}
	return out
}

// sameTree fails the test when the tree under root differs from want.
func sameTree(t *testing.T, root string, want map[string]string) {
	t.Helper()

	got := readTree(t, root)
	if len(got) != len(want) {
		t.Errorf("tree %s: got %d files, want %d\ngot: %v\nwant: %v", root, len(got), len(want), got, want)
		return
	}
	for rel, content := range want {
		if got[rel] != content {
			t.Errorf("tree %s: file %s = %q, want %q", root, rel, got[rel], content)
		}
	}
}

// sha256Hex is the lowercase hex digest of data.
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// recordingSink captures every published event.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// fakeSpace is a SpaceQuerier with fixed numbers.
type fakeSpace struct {
	free  uint64
	total uint64
	err   error
}

func (f fakeSpace) Usage(string) (uint64, uint64, error) {
	return f.free, f.total, f.err
}
