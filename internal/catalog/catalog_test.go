package catalog

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/starford/noterank/internal/apperr"
	"github.com/starford/noterank/internal/embedding"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "noterank-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"notes", "users", "sources", "embeddings"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestPutAndGetNote(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	err := db.PutNotes(ctx, "", []Raw{{
		"id":        "n1",
		"title":     "Hello",
		"tags":      []any{"go", map[string]any{"id": "t1", "name": "test"}},
		"series":    map[string]any{"title": "Basics"},
		"is_public": false,
	}})
	if err != nil {
		t.Fatalf("PutNotes: %v", err)
	}

	n, err := db.Note(ctx, "n1")
	if err != nil {
		t.Fatalf("Note: %v", err)
	}
	if n.Title != "Hello" || n.IsPublic || !n.IsPublished {
		t.Errorf("unexpected note %+v", n)
	}
	if len(n.Tags) != 2 || n.Tags[1].Display != "test" {
		t.Errorf("tags = %+v", n.Tags)
	}
	if n.Series == nil || n.Series.Display != "Basics" {
		t.Errorf("series = %+v", n.Series)
	}
}

func TestPutReplacesByID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.PutNotes(ctx, "", []Raw{{"id": "a", "title": "Old"}, {"id": "b", "title": "B"}})
	_ = db.PutNotes(ctx, "", []Raw{{"id": "a", "title": "New"}})

	notes, err := db.Notes(ctx)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].ID != "a" || notes[0].Title != "New" {
		t.Errorf("first note = %+v, want updated a in original position", notes[0])
	}
}

func TestNotFound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if _, err := db.Note(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Note err = %v, want ErrNotFound", err)
	}
	if _, err := db.User(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("User err = %v, want ErrNotFound", err)
	}
}

func TestPutRejectsMissingID(t *testing.T) {
	db := testDB(t)
	err := db.PutUsers(context.Background(), "", []Raw{{"liked_notes": []any{}}})
	if !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestUserRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_ = db.PutUsers(ctx, "", []Raw{{
		"id":                  "u1",
		"liked_notes":         []any{map[string]any{"id": "n1", "title": "T", "tags": []any{"python"}}},
		"recently_read_notes": []any{"n2"},
	}})

	u, err := db.User(ctx, "u1")
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if len(u.LikedNotes) != 1 || u.LikedNotes[0].Tags[0].Display != "python" {
		t.Errorf("liked = %+v", u.LikedNotes)
	}
	if len(u.RecentNotes) != 1 || u.RecentNotes[0].ID != "n2" {
		t.Errorf("recent = %+v", u.RecentNotes)
	}

	notes, users, err := db.Counts(ctx)
	if err != nil || notes != 0 || users != 1 {
		t.Errorf("Counts = %d, %d, %v", notes, users, err)
	}
}

func TestReplaceAndDeleteSource(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	err := db.ReplaceSource(ctx, "batch.json", "sum1",
		[]Raw{{"id": "n1"}, {"id": "n2"}},
		[]Raw{{"id": "u1"}},
	)
	if err != nil {
		t.Fatalf("ReplaceSource: %v", err)
	}
	if err := db.ReplaceSource(ctx, "batch.json", "sum2", []Raw{{"id": "n2"}}, nil); err != nil {
		t.Fatalf("ReplaceSource: %v", err)
	}

	if _, err := db.Note(ctx, "n1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("n1 should be dropped when its file no longer lists it")
	}
	if _, err := db.User(ctx, "u1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("u1 should be dropped when its file no longer lists it")
	}
	sums, _ := db.SourceChecksums(ctx)
	if sums["batch.json"] != "sum2" {
		t.Errorf("checksum = %q, want sum2", sums["batch.json"])
	}

	if err := db.DeleteSource(ctx, "batch.json"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	sums, _ = db.SourceChecksums(ctx)
	if len(sums) != 0 {
		t.Errorf("expected no sources, got %v", sums)
	}
	if _, err := db.Note(ctx, "n2"); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("n2 should be removed with its source")
	}
}

func TestDeleteSourceKeepsRowOnFailure(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.ReplaceSource(ctx, "a.json", "sum", []Raw{{"id": "n1"}}, nil); err != nil {
		t.Fatalf("ReplaceSource: %v", err)
	}
	if _, err := db.conn.Exec(`CREATE TRIGGER keep_notes BEFORE DELETE ON notes
		BEGIN SELECT RAISE(ABORT, 'notes are locked'); END`); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteSource(ctx, "a.json"); err == nil {
		t.Fatal("expected DeleteSource to fail")
	}
	sums, err := db.SourceChecksums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sums["a.json"] != "sum" {
		t.Errorf("source row lost after failed delete: %v", sums)
	}
	if _, err := db.Note(ctx, "n1"); err != nil {
		t.Errorf("n1 should survive a failed delete: %v", err)
	}
}

func TestVectorCache(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	in := map[string][]float32{
		"k1": {0.5, -0.25, 1},
		"k2": {0.1, 0.2},
	}
	if err := db.StoreVectors(ctx, in); err != nil {
		t.Fatalf("StoreVectors: %v", err)
	}

	got, err := db.LookupVectors(ctx, []string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatalf("LookupVectors: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	for key, want := range in {
		if len(got[key]) != len(want) {
			t.Fatalf("%s: len = %d, want %d", key, len(got[key]), len(want))
		}
		for i := range want {
			if math.Abs(float64(got[key][i]-want[i])) > 1e-3 {
				t.Errorf("%s[%d] = %v, want %v", key, i, got[key][i], want[i])
			}
		}
	}

	empty, err := db.LookupVectors(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty lookup = %v, %v", empty, err)
	}
}

func TestBatcherVectorsMatchCache(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := embedding.NewBatcher(embedding.NewHashing(64), embedding.WithCache(db, "hashing-64"))

	texts := []string{"python beginner", "go concurrency", "python beginner"}
	first, err := b.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	again, err := b.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i := range texts {
		if len(first[i]) != len(again[i]) {
			t.Fatalf("text %d: len %d vs %d", i, len(first[i]), len(again[i]))
		}
		for j := range first[i] {
			if first[i][j] != again[i][j] {
				t.Fatalf("text %d[%d]: fresh %v, cached %v", i, j, first[i][j], again[i][j])
			}
		}
	}
}
