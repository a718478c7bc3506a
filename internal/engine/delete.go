package engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jmalicki/arsync-sub001/internal/event"
)

// deleteExtraneous removes destination entries with no counterpart in the
// source. Files go first, then directories deepest-first so they are
// empty by the time they are removed. Filtered-out paths are kept: they
// were intentionally not copied.
func deleteExtraneous(ctx context.Context, w *walker) error {
	var files, dirs []string

	err := filepath.WalkDir(w.cfg.Dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		relPath, err := filepath.Rel(w.cfg.Dst, path)
		if err != nil || relPath == "." {
			return nil
		}

		if w.cfg.Filter != nil {
			var size int64
			if info, ierr := d.Info(); ierr == nil {
				size = info.Size()
			}
			if !w.cfg.Filter.Match(relPath, d.IsDir(), size) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if _, err := os.Lstat(filepath.Join(w.cfg.Src, relPath)); err == nil {
			return nil // source exists, keep it
		}

		if d.IsDir() {
			dirs = append(dirs, relPath)
			return filepath.SkipDir // children go with the directory
		}
		files = append(files, relPath)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk destination: %w", err)
	}

	for _, relPath := range files {
		w.emit(event.Event{Type: event.DeleteEntry, Path: relPath})
		if !w.cfg.DryRun {
			if err := os.Remove(filepath.Join(w.cfg.Dst, relPath)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete %s: %w", relPath, err)
			}
		}
		w.stats.AddFilesDeleted(1)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, relPath := range dirs {
		w.emit(event.Event{Type: event.DeleteEntry, Path: relPath})
		if !w.cfg.DryRun {
			if err := os.RemoveAll(filepath.Join(w.cfg.Dst, relPath)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("delete dir %s: %w", relPath, err)
			}
		}
		w.stats.AddFilesDeleted(1)
	}

	return nil
}
