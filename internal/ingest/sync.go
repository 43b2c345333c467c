// Package ingest loads record files from the drop directory into the catalog
// and the vector index, once at startup and then on file changes.
package ingest

import (
	"context"
	"log/slog"

	"github.com/starford/noterank/internal/checksum"
	"github.com/starford/noterank/internal/parser"
	"github.com/starford/noterank/internal/storage"
)

// Catalog tracks record files and the records they contribute.
type Catalog interface {
	SourceChecksums(ctx context.Context) (map[string]string, error)
	ReplaceSource(ctx context.Context, path, sum string, notes, users []map[string]any) error
	DeleteSource(ctx context.Context, path string) error
}

// Indexer indexes note records already stored in the catalog.
type Indexer interface {
	IndexNotes(ctx context.Context, raws []map[string]any) (string, error)
}

// EventCallback is called after a record file is applied or forgotten.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, path string)

// Result summarises one sync pass.
type Result struct {
	Files   int `json:"files"`
	Notes   int `json:"notes"`
	Users   int `json:"users"`
	Removed int `json:"removed"`
}

// Syncer applies record files to the catalog and index.
type Syncer struct {
	catalog Catalog
	indexer Indexer
	store   storage.Provider
	logger  *slog.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(catalog Catalog, indexer Indexer, store storage.Provider, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{catalog: catalog, indexer: indexer, store: store, logger: logger}
}

// Sync walks the drop directory and brings catalog and index up to date:
//   - new/changed files are parsed and their records replaced
//   - files removed from disk are forgotten by the catalog
//
// Notes of all changed files are indexed in a single batch. Indexed
// documents of removed files stay in the index until overwritten.
func (s *Syncer) Sync(ctx context.Context) (Result, error) {
	return s.sync(ctx, nil)
}

func (s *Syncer) sync(ctx context.Context, cb EventCallback) (Result, error) {
	var res Result

	files, err := s.store.List("")
	if err != nil {
		return res, err
	}
	sums, err := s.catalog.SourceChecksums(ctx)
	if err != nil {
		return res, err
	}

	var notes []map[string]any
	disk := make(map[string]struct{}, len(files))
	for _, f := range files {
		disk[f.Path] = struct{}{}
		if sums[f.Path] == f.Checksum {
			continue
		}

		data, err := s.store.Read(f.Path)
		if err != nil {
			s.logger.Warn("sync: read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		batch, err := s.apply(ctx, f.Path, data)
		if err != nil {
			s.logger.Warn("sync: apply failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		s.logger.Debug("sync: applied", slog.String("path", f.Path), slog.Int("records", batch.Len()))

		res.Files++
		res.Notes += len(batch.Notes)
		res.Users += len(batch.Users)
		notes = append(notes, batch.Notes...)
		if cb != nil {
			kind := "updated"
			if _, known := sums[f.Path]; !known {
				kind = "created"
			}
			cb(kind, f.Path)
		}
	}

	for p := range sums {
		if _, ok := disk[p]; ok {
			continue
		}
		if err := s.catalog.DeleteSource(ctx, p); err != nil {
			s.logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		s.logger.Debug("sync: removed stale", slog.String("path", p))
		res.Removed++
		if cb != nil {
			cb("deleted", p)
		}
	}

	if len(notes) > 0 {
		if _, err := s.indexer.IndexNotes(ctx, notes); err != nil {
			return res, err
		}
	}
	return res, nil
}

// applyFile reads, stores and indexes one record file.
func (s *Syncer) applyFile(ctx context.Context, rel string) error {
	data, err := s.store.Read(rel)
	if err != nil {
		return err
	}
	batch, err := s.apply(ctx, rel, data)
	if err != nil {
		return err
	}
	_, err = s.indexer.IndexNotes(ctx, batch.Notes)
	return err
}

// apply parses data and replaces the catalog records of path.
func (s *Syncer) apply(ctx context.Context, path string, data []byte) (*parser.Batch, error) {
	batch, err := parser.Parse(path, data)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.ReplaceSource(ctx, path, checksum.Sum(data), batch.Notes, batch.Users); err != nil {
		return nil, err
	}
	return batch, nil
}
