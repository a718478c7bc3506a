//go:build linux

package backend

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/iceber/iouring-go"
	"golang.org/x/sys/unix"
)

// uringBackend submits positioned I/O through a single io_uring instance.
// Submissions are concurrency-safe; completions are delivered per-request
// on a channel.
type uringBackend struct {
	iour *iouring.IOURing
}

// newURingBackend returns (nil, nil) when the kernel is too old for
// io_uring (< 5.6), letting the caller fall back.
func newURingBackend(queueDepth uint) (*uringBackend, error) {
	if !kernelSupportsIOURing() {
		return nil, nil
	}
	if queueDepth == 0 {
		queueDepth = 64
	}
	iour, err := iouring.New(queueDepth)
	if err != nil {
		return nil, fmt.Errorf("io_uring setup: %w", err)
	}
	return &uringBackend{iour: iour}, nil
}

func (*uringBackend) Name() string { return "io_uring" }

func (b *uringBackend) ReadAt(ctx context.Context, fd int, buf []byte, off int64) (int, []byte, error) {
	return b.submit(ctx, iouring.Pread(fd, buf, uint64(off)), buf)
}

func (b *uringBackend) WriteAt(ctx context.Context, fd int, buf []byte, off int64) (int, []byte, error) {
	return b.submit(ctx, iouring.Pwrite(fd, buf, uint64(off)), buf)
}

// submit queues one request and waits for its completion. If the caller's
// context is cancelled first, the buffer is not returned: the kernel may
// still touch it, so a drainer holds it until the completion arrives and
// only then releases it to the pool.
func (b *uringBackend) submit(ctx context.Context, prep iouring.PrepRequest, buf []byte) (int, []byte, error) {
	ch := make(chan iouring.Result, 1)
	if _, err := b.iour.SubmitRequest(prep, ch); err != nil {
		return 0, buf, fmt.Errorf("io_uring submit: %w", err)
	}

	select {
	case result := <-ch:
		if err := result.Err(); err != nil {
			return 0, buf, err
		}
		n, err := result.ReturnInt()
		if err != nil {
			return 0, buf, err
		}
		return n, buf, nil
	case <-ctx.Done():
		go func(keep []byte) {
			<-ch
			ReleaseBuffer(keep)
		}(buf)
		return 0, nil, ctx.Err()
	}
}

func (b *uringBackend) Allocate(ctx context.Context, fd int, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return allocate(fd, size)
}

func (b *uringBackend) Fsync(ctx context.Context, fd int) error {
	ch := make(chan iouring.Result, 1)
	if _, err := b.iour.SubmitRequest(iouring.Fsync(fd), ch); err != nil {
		return fmt.Errorf("io_uring submit: %w", err)
	}
	select {
	case result := <-ch:
		return result.Err()
	case <-ctx.Done():
		go func() { <-ch }()
		return ctx.Err()
	}
}

func (b *uringBackend) Close() error {
	return b.iour.Close()
}

// kernelSupportsIOURing checks if the kernel version is >= 5.6.
func kernelSupportsIOURing() bool {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return false
	}

	release := unix.ByteSliceToString(uname.Release[:])
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return false
	}

	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}

	minorStr := parts[1]
	if idx := strings.IndexFunc(minorStr, func(r rune) bool { return r < '0' || r > '9' }); idx > 0 {
		minorStr = minorStr[:idx]
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return false
	}

	return major > 5 || (major == 5 && minor >= 6)
}
