package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/noterank/internal/apperr"
	"github.com/starford/noterank/internal/checksum"
)

func tempDrop(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func writeFile(t *testing.T, s *FS, rel, content string) {
	t.Helper()
	p := filepath.Join(s.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRead(t *testing.T) {
	s := tempDrop(t)
	writeFile(t, s, "a/b/notes.json", `[{"id":"x"}]`)
	got, err := s.Read("a/b/notes.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != `[{"id":"x"}]` {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("missing.json"); err == nil {
		t.Error("expected error reading missing file")
	}
}

func TestList(t *testing.T) {
	s := tempDrop(t)
	writeFile(t, s, "a.json", "[]")
	writeFile(t, s, "sub/b.yaml", "notes: []")
	writeFile(t, s, "sub/c.md", "# C")
	writeFile(t, s, "readme.txt", "not a record")
	writeFile(t, s, ".hidden.json", "[]")
	writeFile(t, s, ".git/d.json", "[]")

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(items), items)
	}
	if items[0].Path != "a.json" || items[2].Path != "sub/c.md" {
		t.Errorf("items not sorted by path: %+v", items)
	}
	byPath := map[string]FileInfo{}
	for _, it := range items {
		byPath[it.Path] = it
	}
	if byPath["a.json"].Checksum != checksum.Sum([]byte("[]")) {
		t.Errorf("checksum mismatch for a.json")
	}
	if _, ok := byPath["sub/b.yaml"]; !ok {
		t.Errorf("sub/b.yaml missing: %+v", items)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempDrop(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.json",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
	}
	if _, err := s.List("../"); err == nil {
		t.Error("expected error listing outside root")
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/noterank-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "noterank-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestMaxFileSize(t *testing.T) {
	s, err := NewFS(t.TempDir(), WithMaxFileSize(8))
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, s, "small.json", "[]")
	writeFile(t, s, "big.json", `[{"id":"too-large"}]`)

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Path != "small.json" || items[0].Size != 2 {
		t.Errorf("items = %+v, want only small.json", items)
	}
	if _, err := s.Read("big.json"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("Read big = %v, want ErrInvalidArgument", err)
	}
}
