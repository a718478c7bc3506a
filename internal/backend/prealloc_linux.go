//go:build linux

package backend

import (
	"errors"

	"golang.org/x/sys/unix"
)

// allocate reserves space with fallocate. Filesystems without fallocate
// support report ErrNotSupported so callers can fall back to ftruncate.
func allocate(fd int, size int64) error {
	err := unix.Fallocate(fd, 0, 0, size)
	if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return ErrNotSupported
	}
	return err
}
