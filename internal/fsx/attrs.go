package fsx

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SetMode applies permission bits to an open descriptor.
func SetMode(fd int, mode uint32) error {
	if err := unix.Fchmod(fd, mode&0o7777); err != nil {
		return fmt.Errorf("fchmod: %w", err)
	}
	return nil
}

// SetOwner applies ownership to an open descriptor.
func SetOwner(fd int, uid, gid uint32) error {
	if err := unix.Fchown(fd, int(uid), int(gid)); err != nil {
		return fmt.Errorf("fchown: %w", err)
	}
	return nil
}

// SetLinkOwner applies ownership to the named symlink itself, never its
// target.
func SetLinkOwner(d *DirHandle, name string, uid, gid uint32) error {
	if err := unix.Fchownat(d.fd, name, int(uid), int(gid), unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return fmt.Errorf("fchownat %s: %w", d.Join(name), err)
	}
	return nil
}

// SetLinkTimes applies timestamps to the named symlink itself, never its
// target.
func SetLinkTimes(d *DirHandle, name string, atime, mtime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(d.fd, name, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return fmt.Errorf("utimensat %s: %w", d.Join(name), err)
	}
	return nil
}
