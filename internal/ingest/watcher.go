package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/noterank/internal/checksum"
	"github.com/starford/noterank/internal/parser"
)

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the drop directory and applies record
// file changes until ctx is cancelled. It calls cb (if non-nil) after each
// successful change.
//
// New directories created at runtime are added to the watch list. Remove and
// rename events forget the old path and schedule a debounced sync pass that
// picks up the new one.
func (s *Syncer) Watch(ctx context.Context, cb EventCallback) error {
	root := s.store.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	s.logger.Info("watcher: started", slog.String("root", root))

	var reconcileTimer *time.Timer
	var reconcileCh <-chan time.Time

	scheduleReconcile := func() {
		if reconcileTimer == nil {
			reconcileTimer = time.NewTimer(reconcileDelay)
			reconcileCh = reconcileTimer.C
		} else {
			reconcileTimer.Reset(reconcileDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reconcileTimer != nil {
				reconcileTimer.Stop()
			}
			s.logger.Info("watcher: stopped")
			return nil

		case <-reconcileCh:
			if _, err := s.sync(ctx, cb); err != nil {
				s.logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						s.logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					// Files may land before the directory is watched.
					scheduleReconcile()
					continue
				}
			}

			if !parser.Supported(absPath) || isHidden(absPath) {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				kind, changed := s.classify(ctx, rel)
				if !changed {
					continue
				}
				if err := s.applyFile(ctx, rel); err != nil {
					s.logger.Warn("watcher: apply failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				s.logger.Debug("watcher: applied", slog.String("path", rel), slog.String("op", kind))
				if cb != nil {
					cb(kind, rel)
				}

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path only; the new path arrives
				// as a Create or is caught by the reconcile pass.
				if err := s.catalog.DeleteSource(ctx, rel); err != nil {
					s.logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", err.Error()))
				} else {
					s.logger.Debug("watcher: forgot", slog.String("path", rel))
					if cb != nil {
						cb("deleted", rel)
					}
				}
				if ev.Op&fsnotify.Rename != 0 {
					scheduleReconcile()
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// classify reports whether rel differs from the synced version and whether
// it is new ("created") or known ("updated").
func (s *Syncer) classify(ctx context.Context, rel string) (kind string, changed bool) {
	data, err := s.store.Read(rel)
	if err != nil {
		return "", false
	}
	sums, err := s.catalog.SourceChecksums(ctx)
	if err != nil {
		return "updated", true
	}
	prev, known := sums[rel]
	if !known {
		return "created", true
	}
	return "updated", prev != checksum.Sum(data)
}

func isHidden(path string) bool {
	name := filepath.Base(path)
	return len(name) > 0 && name[0] == '.'
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
