package engine

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/jmalicki/arsync-sub001/internal/event"
)

// verifyTree walks the destination tree and compares BLAKE3 checksums
// against the source for every regular file that exists on both sides.
// Mismatches are counted, not fatal; the walk error is.
func verifyTree(ctx context.Context, w *walker) error {
	files, err := collectVerifyFiles(ctx, w)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Workers)

	for _, relPath := range files {
		relPath := relPath
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			srcHash, err := hashFile(filepath.Join(w.cfg.Src, relPath))
			if err != nil {
				return err
			}
			dstHash, err := hashFile(filepath.Join(w.cfg.Dst, relPath))
			if err != nil {
				return err
			}

			if srcHash != dstHash {
				w.stats.AddVerifyMismatches(1)
				w.logger.Error("verify mismatch", "path", relPath, "src", srcHash, "dst", dstHash)
				w.emit(event.Event{Type: event.VerifyFailed, Path: relPath})
				return nil
			}

			w.stats.AddFilesVerified(1)
			w.emit(event.Event{Type: event.VerifyOK, Path: relPath})
			return nil
		})
	}

	return g.Wait()
}

// collectVerifyFiles lists relative paths of destination regular files
// that also exist in the source and pass the filter.
func collectVerifyFiles(ctx context.Context, w *walker) ([]string, error) {
	var files []string
	err := filepath.WalkDir(w.cfg.Dst, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(w.cfg.Dst, path)
		if err != nil {
			return nil
		}
		if w.cfg.Filter != nil {
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if !w.cfg.Filter.Match(relPath, false, info.Size()) {
				return nil
			}
		}
		if _, err := os.Lstat(filepath.Join(w.cfg.Src, relPath)); err != nil {
			return nil
		}

		files = append(files, relPath)
		return nil
	})
	return files, err
}

// hashFile computes the BLAKE3 hash of the file at path, returning the
// hex-encoded digest.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	buf := make([]byte, 32*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
