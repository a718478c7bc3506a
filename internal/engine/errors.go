package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrTypeConflict reports a destination path that already exists as a
// different kind of object than the source. Never resolved silently.
var ErrTypeConflict = errors.New("destination exists with conflicting type")

// isResourceExhausted classifies descriptor exhaustion by errno, never by
// message text. Only these errors feed the adaptive controller.
func isResourceExhausted(err error) bool {
	return errors.Is(err, unix.EMFILE) || errors.Is(err, unix.ENFILE)
}
