//go:build linux

package fsx

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SetFileTimes applies atime and mtime to an open descriptor. path is used
// only as a fallback on kernels without AT_EMPTY_PATH support.
func SetFileTimes(fd int, path string, atime, mtime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(fd, "", times, unix.AT_EMPTY_PATH); err != nil {
		// Fallback: some systems don't support AT_EMPTY_PATH.
		if err2 := unix.UtimesNanoAt(unix.AT_FDCWD, path, times, 0); err2 != nil {
			return fmt.Errorf("utimensat: %w", err)
		}
	}
	return nil
}
