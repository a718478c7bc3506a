package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/jmalicki/arsync-sub001/internal/backend"
	"github.com/jmalicki/arsync-sub001/internal/stats"
)

// splitAlign is the boundary split midpoints are rounded down to. Coarse
// alignment keeps each sub-task's access pattern sequential at page-cache
// granularity.
const splitAlign = 2 << 20 // 2 MiB

// copier copies one file's bytes through the I/O backend, splitting large
// files into concurrently-copied regions.
type copier struct {
	be        backend.Backend
	limiter   *rate.Limiter // nil when unthrottled
	stats     *stats.Collector
	threshold int64 // files at or above this size are split
	maxDepth  int   // up to 2^maxDepth concurrent regions
	minSplit  int64 // regions below this are copied sequentially
}

// copyFile copies size bytes from srcFd to dstFd and flushes the result to
// stable storage. The destination is sized in full before any region
// writer starts, so concurrent writers never race on file growth.
func (cp *copier) copyFile(ctx context.Context, srcFd, dstFd int, size int64) (int64, error) {
	if size == 0 {
		return 0, cp.be.Fsync(ctx, dstFd)
	}

	segments, err := detectSparseSegments(srcFd, size)
	if err != nil {
		return 0, fmt.Errorf("sparse layout: %w", err)
	}

	var written int64
	if hasHoles(segments) {
		// Recreate the sparse layout: size via truncate only, then copy
		// the data segments and skip the holes.
		if err := unix.Ftruncate(dstFd, size); err != nil {
			return 0, fmt.Errorf("truncate: %w", err)
		}
		written, err = cp.copySegments(ctx, srcFd, dstFd, segments)
	} else {
		if err := cp.preallocate(ctx, dstFd, size); err != nil {
			return 0, err
		}
		if size >= cp.threshold && cp.maxDepth > 0 {
			err = cp.splitCopy(ctx, srcFd, dstFd, 0, size, cp.maxDepth)
			written = size
		} else {
			written, err = cp.copyRange(ctx, srcFd, dstFd, 0, size)
		}
	}
	if err != nil {
		return written, err
	}

	if err := cp.be.Fsync(ctx, dstFd); err != nil {
		return written, fmt.Errorf("fsync: %w", err)
	}
	return written, nil
}

// preallocate reserves the full destination size in one call, falling back
// to ftruncate where the filesystem cannot preallocate.
func (cp *copier) preallocate(ctx context.Context, dstFd int, size int64) error {
	err := cp.be.Allocate(ctx, dstFd, size)
	if errors.Is(err, backend.ErrNotSupported) {
		err = unix.Ftruncate(dstFd, size)
	}
	if err != nil {
		return fmt.Errorf("preallocate: %w", err)
	}
	return nil
}

// splitCopy recursively halves [start, end) at a splitAlign boundary and
// copies both halves concurrently. The first error from either half aborts
// the whole copy.
func (cp *copier) splitCopy(ctx context.Context, srcFd, dstFd int, start, end int64, depth int) error {
	if depth <= 0 || end-start < 2*cp.minSplit {
		_, err := cp.copyRange(ctx, srcFd, dstFd, start, end)
		return err
	}

	mid := ((start + end) / 2) &^ (splitAlign - 1)
	if mid-start < cp.minSplit || end-mid < cp.minSplit {
		_, err := cp.copyRange(ctx, srcFd, dstFd, start, end)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cp.splitCopy(gctx, srcFd, dstFd, start, mid, depth-1)
	})
	g.Go(func() error {
		return cp.splitCopy(gctx, srcFd, dstFd, mid, end, depth-1)
	})
	return g.Wait()
}

// copySegments copies only the data segments of a sparse file.
func (cp *copier) copySegments(ctx context.Context, srcFd, dstFd int, segments []segment) (int64, error) {
	var total int64
	for _, seg := range segments {
		if !seg.isData {
			continue
		}
		n, err := cp.copyRange(ctx, srcFd, dstFd, seg.offset, seg.offset+seg.length)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// copyRange copies the half-open byte range [start, end) with a pooled
// transfer buffer, terminating early if the source reads short. The buffer
// is only released when the backend has returned ownership; an abandoned
// in-flight operation keeps its buffer inside the backend.
func (cp *copier) copyRange(ctx context.Context, srcFd, dstFd int, start, end int64) (int64, error) {
	buf := backend.AcquireBuffer()
	defer func() {
		if buf != nil {
			backend.ReleaseBuffer(buf)
		}
	}()

	var total int64
	off := start
	for off < end {
		want := end - off
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}

		n, ret, err := cp.be.ReadAt(ctx, srcFd, buf[:want], off)
		if ret == nil {
			buf = nil
		}
		if err != nil {
			return total, fmt.Errorf("read at %d: %w", off, err)
		}
		if n == 0 {
			break
		}

		if cp.limiter != nil {
			if err := cp.limiter.WaitN(ctx, n); err != nil {
				return total, err
			}
		}

		wrote := 0
		for wrote < n {
			wn, ret, err := cp.be.WriteAt(ctx, dstFd, buf[wrote:n], off+int64(wrote))
			if ret == nil {
				buf = nil
			}
			if err != nil {
				return total, fmt.Errorf("write at %d: %w", off+int64(wrote), err)
			}
			wrote += wn
		}

		cp.stats.AddBytesCopied(int64(n))
		total += int64(n)
		off += int64(n)
	}
	return total, nil
}

func hasHoles(segments []segment) bool {
	for _, seg := range segments {
		if !seg.isData {
			return true
		}
	}
	return false
}
