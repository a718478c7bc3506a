//go:build !linux

package backend

// allocate reports ErrNotSupported off Linux (fallocate is Linux-only);
// callers fall back to ftruncate.
func allocate(int, int64) error { return ErrNotSupported }
