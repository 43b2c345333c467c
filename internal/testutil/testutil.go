// Package testutil provides shared test helpers for setting up catalogs,
// drop directories and recommendation services.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/noterank/internal/catalog"
	"github.com/starford/noterank/internal/embedding"
	"github.com/starford/noterank/internal/recommend"
	"github.com/starford/noterank/internal/storage"
	"github.com/starford/noterank/internal/vectorindex"
)

// EmbeddingDimensions is the width of the hashing embedder used in tests.
const EmbeddingDimensions = 256

// TestCatalog creates a temporary SQLite catalog that is automatically cleaned up.
func TestCatalog(t *testing.T) *catalog.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "noterank-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := catalog.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestDrop creates a temporary drop directory with a storage.Provider.
func TestDrop(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// WriteFile writes a record file under dir, creating parent directories.
func WriteFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Logger returns a logger that discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestService wires a recommendation service over db with the offline
// hashing embedder, cached in db.
func TestService(t *testing.T, db *catalog.DB, opts ...recommend.Option) *recommend.Service {
	t.Helper()
	provider := embedding.NewBatcher(
		embedding.NewHashing(EmbeddingDimensions),
		embedding.WithCache(db, "hashing-test"),
		embedding.WithLogger(Logger()),
	)
	idx := vectorindex.New(provider, vectorindex.WithLogger(Logger()))
	opts = append([]recommend.Option{recommend.WithLogger(Logger())}, opts...)
	return recommend.NewService(db, idx, opts...)
}
