package backend

import (
	"context"

	"golang.org/x/sys/unix"
)

// syncBackend issues positioned read/write syscalls directly. It is the
// fallback wherever io_uring is unavailable.
type syncBackend struct{}

func newSyncBackend() *syncBackend { return &syncBackend{} }

func (*syncBackend) Name() string { return "syncio" }

func (*syncBackend) ReadAt(ctx context.Context, fd int, buf []byte, off int64) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, buf, err
	}
	n, err := unix.Pread(fd, buf, off)
	return n, buf, err
}

func (*syncBackend) WriteAt(ctx context.Context, fd int, buf []byte, off int64) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, buf, err
	}
	n, err := unix.Pwrite(fd, buf, off)
	return n, buf, err
}

func (*syncBackend) Allocate(ctx context.Context, fd int, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return allocate(fd, size)
}

func (*syncBackend) Fsync(ctx context.Context, fd int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return unix.Fsync(fd)
}

func (*syncBackend) Close() error { return nil }
