//go:build linux

package fsx

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ListXattrs returns the extended attribute names of an open descriptor.
func ListXattrs(fd int) ([]string, error) {
	sz, err := unix.Flistxattr(fd, nil)
	if err != nil {
		return nil, xattrErr("flistxattr", err)
	}
	if sz == 0 {
		return nil, nil
	}
	buf := make([]byte, sz)
	sz, err = unix.Flistxattr(fd, buf)
	if err != nil {
		return nil, xattrErr("flistxattr", err)
	}
	return parseXattrNames(buf[:sz]), nil
}

// GetXattr reads one extended attribute from an open descriptor.
func GetXattr(fd int, name string) ([]byte, error) {
	sz, err := unix.Fgetxattr(fd, name, nil)
	if err != nil {
		return nil, xattrErr("fgetxattr", err)
	}
	if sz == 0 {
		return nil, nil
	}
	buf := make([]byte, sz)
	n, err := unix.Fgetxattr(fd, name, buf)
	if err != nil {
		return nil, xattrErr("fgetxattr", err)
	}
	return buf[:n], nil
}

// SetXattr writes one extended attribute on an open descriptor.
func SetXattr(fd int, name string, value []byte) error {
	if err := unix.Fsetxattr(fd, name, value, 0); err != nil {
		return xattrErr("fsetxattr", err)
	}
	return nil
}

// ListLinkXattrs returns the extended attribute names of a symlink itself.
func ListLinkXattrs(path string) ([]string, error) {
	sz, err := unix.Llistxattr(path, nil)
	if err != nil {
		return nil, xattrErr("llistxattr", err)
	}
	if sz == 0 {
		return nil, nil
	}
	buf := make([]byte, sz)
	sz, err = unix.Llistxattr(path, buf)
	if err != nil {
		return nil, xattrErr("llistxattr", err)
	}
	return parseXattrNames(buf[:sz]), nil
}

// GetLinkXattr reads one extended attribute from a symlink itself.
func GetLinkXattr(path, name string) ([]byte, error) {
	sz, err := unix.Lgetxattr(path, name, nil)
	if err != nil {
		return nil, xattrErr("lgetxattr", err)
	}
	if sz == 0 {
		return nil, nil
	}
	buf := make([]byte, sz)
	n, err := unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil, xattrErr("lgetxattr", err)
	}
	return buf[:n], nil
}

// SetLinkXattr writes one extended attribute on a symlink itself.
func SetLinkXattr(path, name string, value []byte) error {
	if err := unix.Lsetxattr(path, name, value, 0); err != nil {
		return xattrErr("lsetxattr", err)
	}
	return nil
}

func xattrErr(op string, err error) error {
	if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) {
		return ErrNotSupported
	}
	return fmt.Errorf("%s: %w", op, err)
}

// parseXattrNames splits a null-separated attribute name list.
func parseXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
