// Package fsx provides descriptor-relative filesystem operations.
//
// Every operation on a directory's children is addressed through an open
// DirHandle rather than by full path, so a path component swapped out
// between check and use cannot redirect the operation (TOCTOU).
package fsx

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"golang.org/x/sys/unix"
)

// ErrNotSupported is returned by operations the platform or filesystem
// cannot perform. Callers treat it as "skip", not as failure.
var ErrNotSupported = errors.New("fsx: operation not supported")

// DirHandle is an open O_DIRECTORY descriptor. All child operations are
// issued relative to the descriptor; the stored path is for error messages
// only and is never re-resolved.
type DirHandle struct {
	fd   int
	path string
}

// OpenRoot opens the tree root. Unlike child opens, the root path may be a
// symlink supplied by the user and is followed.
func OpenRoot(path string) (*DirHandle, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &DirHandle{fd: fd, path: path}, nil
}

// OpenDir opens the named child directory. Symlinks are never followed.
func (d *DirHandle) OpenDir(name string) (*DirHandle, error) {
	fd, err := unix.Openat(d.fd, name, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: d.Join(name), Err: err}
	}
	return &DirHandle{fd: fd, path: d.Join(name)}, nil
}

// OpenFile opens the named child with the given flags and creation mode,
// returning a raw descriptor. O_NOFOLLOW and O_CLOEXEC are always added.
func (d *DirHandle) OpenFile(name string, flags int, mode uint32) (int, error) {
	fd, err := unix.Openat(d.fd, name, flags|unix.O_NOFOLLOW|unix.O_CLOEXEC, mode)
	if err != nil {
		return -1, &os.PathError{Op: "openat", Path: d.Join(name), Err: err}
	}
	return fd, nil
}

// Mkdir creates the named child directory.
func (d *DirHandle) Mkdir(name string, mode uint32) error {
	if err := unix.Mkdirat(d.fd, name, mode); err != nil {
		return &os.PathError{Op: "mkdirat", Path: d.Join(name), Err: err}
	}
	return nil
}

// Symlink creates the named child as a symlink pointing at target.
func (d *DirHandle) Symlink(target, name string) error {
	if err := unix.Symlinkat(target, d.fd, name); err != nil {
		return &os.PathError{Op: "symlinkat", Path: d.Join(name), Err: err}
	}
	return nil
}

// LinkFrom creates the named child as a hardlink to the absolute path
// oldAbs, which must refer to an already fully-written file.
func (d *DirHandle) LinkFrom(oldAbs, name string) error {
	if err := unix.Linkat(unix.AT_FDCWD, oldAbs, d.fd, name, 0); err != nil {
		return &os.PathError{Op: "linkat", Path: d.Join(name), Err: err}
	}
	return nil
}

// Readlink reads the target of the named child symlink.
func (d *DirHandle) Readlink(name string) (string, error) {
	for size := 256; ; size *= 2 {
		buf := make([]byte, size)
		n, err := unix.Readlinkat(d.fd, name, buf)
		if err != nil {
			return "", &os.PathError{Op: "readlinkat", Path: d.Join(name), Err: err}
		}
		if n < size {
			return string(buf[:n]), nil
		}
	}
}

// Stat returns metadata for the named child without following symlinks.
func (d *DirHandle) Stat(name string) (Metadata, error) {
	var st unix.Stat_t
	if err := unix.Fstatat(d.fd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return Metadata{}, &os.PathError{Op: "fstatat", Path: d.Join(name), Err: err}
	}
	return metadataFromStat(&st), nil
}

// StatSelf returns metadata for the directory itself.
func (d *DirHandle) StatSelf() (Metadata, error) {
	var st unix.Stat_t
	if err := unix.Fstat(d.fd, &st); err != nil {
		return Metadata{}, &os.PathError{Op: "fstat", Path: d.path, Err: err}
	}
	return metadataFromStat(&st), nil
}

// Unlink removes the named child. For directories pass rmdir=true.
func (d *DirHandle) Unlink(name string, rmdir bool) error {
	var flags int
	if rmdir {
		flags = unix.AT_REMOVEDIR
	}
	if err := unix.Unlinkat(d.fd, name, flags); err != nil {
		return &os.PathError{Op: "unlinkat", Path: d.Join(name), Err: err}
	}
	return nil
}

// ReadNames enumerates the directory's entries in sorted order. A fresh
// descriptor is opened for the enumeration so the handle's own descriptor
// keeps no read position.
func (d *DirHandle) ReadNames() ([]string, error) {
	fd, err := unix.Openat(d.fd, ".", unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "openat", Path: d.path, Err: err}
	}
	f := os.NewFile(uintptr(fd), d.path)
	names, err := f.Readdirnames(-1)
	closeErr := f.Close()
	if err != nil {
		return nil, fmt.Errorf("readdir %s: %w", d.path, err)
	}
	if closeErr != nil {
		return nil, closeErr
	}
	sort.Strings(names)
	return names, nil
}

// Fd returns the raw descriptor.
func (d *DirHandle) Fd() int { return d.fd }

// Path returns the handle's path, for diagnostics only.
func (d *DirHandle) Path() string { return d.path }

// Join returns the diagnostic path of the named child.
func (d *DirHandle) Join(name string) string {
	if name == "" || name == "." {
		return d.path
	}
	return d.path + "/" + name
}

// Close releases the descriptor.
func (d *DirHandle) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
