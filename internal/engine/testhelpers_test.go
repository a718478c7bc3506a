package engine_test

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmalicki/arsync-sub001/internal/event"
)

// createTestTree populates root with a standard test tree:
//
//	root.txt          (17 bytes)
//	big.bin           (320KB)
//	sub/mid.txt       (19 bytes)
//	sub/deep/leaf.txt (17 bytes)
//	link.txt          → root.txt (symlink)
func createTestTree(t *testing.T, root string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))

	require.NoError(t, os.WriteFile(
		filepath.Join(root, "root.txt"),
		[]byte("root file content"),
		0o644,
	))

	bigData := bytes.Repeat([]byte("ABCDEFGHIJKLMNOP"), 20000) // 320KB
	require.NoError(t, os.WriteFile(
		filepath.Join(root, "big.bin"),
		bigData,
		0o644,
	))

	require.NoError(t, os.WriteFile(
		filepath.Join(root, "sub", "mid.txt"),
		[]byte("middle file content"),
		0o644,
	))

	require.NoError(t, os.WriteFile(
		filepath.Join(root, "sub", "deep", "leaf.txt"),
		[]byte("leaf file content"),
		0o644,
	))

	require.NoError(t, os.Symlink("root.txt", filepath.Join(root, "link.txt")))
}

// verifyTreeCopy checks that dstRoot contains an exact copy of the test
// tree created by createTestTree under srcRoot.
func verifyTreeCopy(t *testing.T, srcRoot, dstRoot string) {
	t.Helper()

	files := []string{
		"root.txt",
		"big.bin",
		filepath.Join("sub", "mid.txt"),
		filepath.Join("sub", "deep", "leaf.txt"),
	}
	for _, rel := range files {
		srcData, err := os.ReadFile(filepath.Join(srcRoot, rel))
		require.NoError(t, err, "read src %s", rel)

		dstData, err := os.ReadFile(filepath.Join(dstRoot, rel))
		require.NoError(t, err, "read dst %s", rel)

		require.Equal(t, srcData, dstData, "content mismatch: %s", rel)
	}

	for _, dir := range []string{"sub", filepath.Join("sub", "deep")} {
		info, err := os.Stat(filepath.Join(dstRoot, dir))
		require.NoError(t, err, "stat dir %s", dir)
		require.True(t, info.IsDir(), "%s should be a directory", dir)
	}

	target, err := os.Readlink(filepath.Join(dstRoot, "link.txt"))
	require.NoError(t, err, "readlink link.txt")
	require.Equal(t, "root.txt", target)
}

// createHardlinkTree populates root with files that include hardlinks:
//
//	original.txt     (21 bytes)
//	hardlink.txt     → hardlink to original.txt
//	sub/third.txt    → hardlink to original.txt
//	sub/another.txt  (23 bytes, independent)
func createHardlinkTree(t *testing.T, root string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))

	require.NoError(t, os.WriteFile(
		filepath.Join(root, "original.txt"),
		[]byte("original file content"),
		0o644,
	))

	require.NoError(t, os.Link(
		filepath.Join(root, "original.txt"),
		filepath.Join(root, "hardlink.txt"),
	))

	require.NoError(t, os.Link(
		filepath.Join(root, "original.txt"),
		filepath.Join(root, "sub", "third.txt"),
	))

	require.NoError(t, os.WriteFile(
		filepath.Join(root, "sub", "another.txt"),
		[]byte("another file, different"),
		0o644,
	))
}

// inodeOf returns the device and inode of path without following symlinks.
func inodeOf(t *testing.T, path string) (uint64, uint64) {
	t.Helper()
	info, err := os.Lstat(path)
	require.NoError(t, err)
	st, ok := info.Sys().(*syscall.Stat_t)
	require.True(t, ok)
	return uint64(st.Dev), uint64(st.Ino)
}

// drainEvents creates a buffered event channel, spawns a goroutine to
// drain it, and registers cleanup. Returns the channel for engine.Config.
func drainEvents(t *testing.T) chan<- event.Event {
	t.Helper()
	ch := make(chan event.Event, 1024)
	done := make(chan struct{})
	go func() {
		defer close(done)
		//nolint:revive // empty-block: intentionally draining event channel
		for range ch {
		}
	}()
	t.Cleanup(func() {
		close(ch)
		<-done
	})
	return ch
}

// collectEvents creates a buffered event channel that records all events.
// The getter closes the channel, waits for the drain goroutine and
// returns everything received. It may be called at most once.
func collectEvents(t *testing.T) (chan<- event.Event, func() []event.Event) {
	t.Helper()
	ch := make(chan event.Event, 4096)
	var collected []event.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			collected = append(collected, ev)
		}
	}()
	var once sync.Once
	drain := func() {
		once.Do(func() { close(ch) })
		<-done
	}
	t.Cleanup(drain)
	return ch, func() []event.Event {
		drain()
		return collected
	}
}
