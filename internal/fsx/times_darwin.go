//go:build darwin

package fsx

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// SetFileTimes applies atime and mtime by path. Darwin lacks AT_EMPTY_PATH,
// so the descriptor is unused.
func SetFileTimes(_ int, path string, atime, mtime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, times, 0); err != nil {
		return fmt.Errorf("utimensat: %w", err)
	}
	return nil
}
