// Package backend provides the asynchronous I/O layer the engine copies
// file data through.
//
// Buffer ownership contract
//
// ReadAt and WriteAt consume a transfer buffer by value and return it by
// value on completion. While a call is in flight the kernel may read from
// or write into the buffer, so ownership belongs to the backend:
//
//   - On normal return the buffer comes back to the caller, who releases
//     it with ReleaseBuffer.
//   - On abandonment (context cancelled while the operation is queued) the
//     call returns a nil buffer. The backend keeps the real buffer alive
//     until the kernel completion arrives and only then returns it to the
//     pool. Callers must never reuse a buffer after receiving nil back.
//
// Every buffer passed to ReadAt/WriteAt must come from AcquireBuffer.
package backend

import (
	"context"
	"errors"
	"sync"
)

// BufferSize is the fixed transfer buffer size.
const BufferSize = 1 << 20 // 1 MiB

// ErrNotSupported is reported by operations the platform or filesystem
// cannot perform.
var ErrNotSupported = errors.New("backend: operation not supported")

// Backend performs positioned I/O on raw descriptors.
type Backend interface {
	// ReadAt reads into buf at the given offset. See the package comment
	// for the buffer ownership contract.
	ReadAt(ctx context.Context, fd int, buf []byte, off int64) (int, []byte, error)

	// WriteAt writes buf at the given offset. Same ownership contract.
	WriteAt(ctx context.Context, fd int, buf []byte, off int64) (int, []byte, error)

	// Allocate reserves size bytes for the file. Returns ErrNotSupported
	// where the filesystem cannot preallocate.
	Allocate(ctx context.Context, fd int, size int64) error

	// Fsync flushes the file to stable storage.
	Fsync(ctx context.Context, fd int) error

	// Name identifies the backend for logging.
	Name() string

	Close() error
}

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, BufferSize)
		return &b
	},
}

// AcquireBuffer takes a transfer buffer from the shared pool.
func AcquireBuffer() []byte {
	return *bufPool.Get().(*[]byte)
}

// ReleaseBuffer returns a buffer to the shared pool. Short reslices are
// restored to full capacity.
func ReleaseBuffer(b []byte) {
	if cap(b) < BufferSize {
		return
	}
	b = b[:cap(b)]
	bufPool.Put(&b)
}

// New selects the best backend available: io_uring on supporting Linux
// kernels when preferURing is set, positioned read/write otherwise.
func New(queueDepth uint, preferURing bool) (Backend, error) {
	if preferURing {
		b, err := newURingBackend(queueDepth)
		if err != nil {
			return nil, err
		}
		if b != nil {
			return b, nil
		}
	}
	return newSyncBackend(), nil
}
