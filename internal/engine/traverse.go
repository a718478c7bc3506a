package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jmalicki/arsync-sub001/internal/event"
	"github.com/jmalicki/arsync-sub001/internal/fsx"
	"github.com/jmalicki/arsync-sub001/internal/stats"
)

// frame is one directory level of the iterative walk. The explicit frame
// stack replaces function recursion, bounding native stack depth
// independent of tree depth.
type frame struct {
	src *fsx.DirHandle
	dst *fsx.DirHandle // nil in dry runs
	rel string
	md  fsx.Metadata // source dir metadata, applied at finalize

	names []string
	next  int

	parent   *frame
	tasks    sync.WaitGroup // entry tasks dispatched under this directory
	children sync.WaitGroup // child frame finalizers
}

// walker drives one synchronization run.
type walker struct {
	cfg     *Config
	ctrl    *Controller
	tracker *Tracker
	copier  *copier
	pres    *preserver
	stats   *stats.Collector
	logger  *slog.Logger

	finalizers sync.WaitGroup
}

// run walks the source tree, mirroring it at the destination. Only errors
// that prevent the walk from starting are returned; everything per-entry
// is counted and logged.
func (w *walker) run(ctx context.Context) error {
	srcRoot, err := fsx.OpenRoot(w.cfg.Src)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}

	md, err := srcRoot.StatSelf()
	if err != nil {
		srcRoot.Close()
		return fmt.Errorf("source: %w", err)
	}

	names, err := srcRoot.ReadNames()
	if err != nil {
		srcRoot.Close()
		return fmt.Errorf("source: %w", err)
	}

	var dstRoot *fsx.DirHandle
	if !w.cfg.DryRun {
		if err := os.MkdirAll(w.cfg.Dst, 0o755); err != nil {
			srcRoot.Close()
			return fmt.Errorf("create destination: %w", err)
		}
		dstRoot, err = fsx.OpenRoot(w.cfg.Dst)
		if err != nil {
			srcRoot.Close()
			return fmt.Errorf("destination: %w", err)
		}
	}

	stack := []*frame{{src: srcRoot, dst: dstRoot, md: md, names: names}}

	for len(stack) > 0 {
		if ctx.Err() != nil {
			break
		}

		f := stack[len(stack)-1]
		if f.next >= len(f.names) {
			stack = stack[:len(stack)-1]
			w.finalize(f)
			continue
		}

		name := f.names[f.next]
		f.next++

		if child := w.processEntry(ctx, f, name); child != nil {
			stack = append(stack, child)
		}
	}

	// Cancelled mid-walk: unwind whatever is left so every handle is
	// closed and every dispatched task is awaited.
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		w.finalize(f)
	}

	w.finalizers.Wait()
	return ctx.Err()
}

// processEntry classifies one directory entry from a single fstatat and
// either pushes a child frame (directories) or dispatches a bounded task
// (files and symlinks). Returns the child frame to push, if any.
func (w *walker) processEntry(ctx context.Context, f *frame, name string) *frame {
	relPath := filepath.Join(f.rel, name)

	md, err := f.src.Stat(name)
	if err != nil {
		w.perEntryError(relPath, err)
		return nil
	}

	if w.cfg.Filter != nil && !w.cfg.Filter.Match(relPath, md.IsDir(), md.Size) {
		w.stats.AddEntriesSkipped(1)
		return nil
	}

	switch {
	case md.IsDir():
		return w.enterDir(ctx, f, name, relPath, md)

	case md.IsSymlink():
		w.dispatch(ctx, f, relPath, func() error {
			return w.symlinkTask(f, name, md)
		})
		return nil

	case md.IsRegular():
		w.dispatch(ctx, f, relPath, func() error {
			return w.fileTask(ctx, f, name, relPath, md)
		})
		return nil

	default:
		// Devices, fifos and sockets: best-effort skip, non-fatal.
		w.logger.Warn("skipping special file", "path", relPath, "mode", md.FileMode().String())
		w.stats.AddEntriesSkipped(1)
		w.emit(event.Event{Type: event.EntrySkipped, Path: relPath})
		return nil
	}
}

// enterDir mirrors a source directory at the destination and opens the
// child frame. A destination path occupied by a non-directory is a
// per-entry error and the subtree is not entered.
func (w *walker) enterDir(ctx context.Context, f *frame, name, relPath string, md fsx.Metadata) *frame {
	var srcChild *fsx.DirHandle
	err := withFdRetry(ctx, w.ctrl, func() error {
		var e error
		srcChild, e = f.src.OpenDir(name)
		return e
	})
	if err != nil {
		w.perEntryError(relPath, err)
		return nil
	}

	var dstChild *fsx.DirHandle
	if !w.cfg.DryRun {
		// Owner rwx is forced at creation so entries can be written into
		// read-only source directories; exact permissions are restored
		// when the frame finalizes.
		err := f.dst.Mkdir(name, md.Perm()|0o700)
		switch {
		case err == nil:
			w.stats.AddDirsCreated(1)
			w.emit(event.Event{Type: event.DirCreated, Path: relPath})
		case errors.Is(err, unix.EEXIST):
			existing, statErr := f.dst.Stat(name)
			if statErr != nil {
				w.perEntryError(relPath, statErr)
				srcChild.Close()
				return nil
			}
			if !existing.IsDir() {
				w.perEntryError(relPath, fmt.Errorf("%w: %s", ErrTypeConflict, f.dst.Join(name)))
				srcChild.Close()
				return nil
			}
		default:
			w.perEntryError(relPath, err)
			srcChild.Close()
			return nil
		}

		err = withFdRetry(ctx, w.ctrl, func() error {
			var e error
			dstChild, e = f.dst.OpenDir(name)
			return e
		})
		if err != nil {
			w.perEntryError(relPath, err)
			srcChild.Close()
			return nil
		}
	}

	names, err := srcChild.ReadNames()
	if err != nil {
		w.perEntryError(relPath, err)
		srcChild.Close()
		if dstChild != nil {
			dstChild.Close()
		}
		return nil
	}

	f.children.Add(1)
	return &frame{
		src:    srcChild,
		dst:    dstChild,
		rel:    relPath,
		md:     md,
		names:  names,
		parent: f,
	}
}

// dispatch runs fn as an independent task under a concurrency permit. The
// walk continues to the next sibling immediately; the task is awaited by
// its frame's finalizer.
func (w *walker) dispatch(ctx context.Context, f *frame, relPath string, fn func() error) {
	if err := w.ctrl.Acquire(ctx); err != nil {
		return // cancelled; the walk loop unwinds
	}
	f.tasks.Add(1)
	go func() {
		defer w.ctrl.Release()
		defer f.tasks.Done()
		if err := fn(); err != nil {
			w.perEntryError(relPath, err)
		}
	}()
}

// finalize waits (asynchronously) for everything that can still create
// entries inside the directory, its dispatched tasks and its child
// frames, then refreshes the destination directory's metadata, whether
// the directory was freshly created or already existed, and closes both
// handles.
func (w *walker) finalize(f *frame) {
	w.finalizers.Add(1)
	go func() {
		defer w.finalizers.Done()
		f.tasks.Wait()
		f.children.Wait()

		if f.dst != nil {
			if err := w.pres.preserveFd(f.dst.Fd(), f.dst.Path(), f.src.Fd(), f.md); err != nil {
				w.perEntryError(f.rel, err)
			}
			_ = f.dst.Close()
		}
		_ = f.src.Close()

		if f.parent != nil {
			f.parent.children.Done()
		}
	}()
}

// symlinkTask reproduces a symlink by reading the target relative to the
// source handle and recreating it relative to the destination handle. The
// link is never followed and never resolved by full path.
func (w *walker) symlinkTask(f *frame, name string, md fsx.Metadata) error {
	relPath := filepath.Join(f.rel, name)
	if w.cfg.DryRun {
		w.stats.AddSymlinksCreated(1)
		return nil
	}

	target, err := f.src.Readlink(name)
	if err != nil {
		return err
	}

	if err := f.dst.Symlink(target, name); err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return err
		}
		existing, statErr := f.dst.Stat(name)
		if statErr != nil {
			return statErr
		}
		if existing.IsDir() {
			return fmt.Errorf("%w: %s", ErrTypeConflict, f.dst.Join(name))
		}
		if err := f.dst.Unlink(name, false); err != nil {
			return err
		}
		if err := f.dst.Symlink(target, name); err != nil {
			return err
		}
	}

	if err := w.pres.preserveLink(f.src, f.dst, name, md); err != nil {
		return err
	}

	w.stats.AddSymlinksCreated(1)
	w.emit(event.Event{Type: event.SymlinkCreated, Path: relPath})
	return nil
}

// fileTask processes one regular-file entry: consult the hardlink tracker,
// then either copy the data (first occurrence) or wait and link.
func (w *walker) fileTask(ctx context.Context, f *frame, name, relPath string, md fsx.Metadata) error {
	srcPath := f.src.Join(name)
	dstPath := filepath.Join(w.cfg.Dst, relPath)
	key := InodeKey{Dev: md.Dev, Ino: md.Ino}

	g, first := w.tracker.Register(srcPath, dstPath, key, md.Nlink)

	if w.cfg.DryRun {
		if g != nil && !first {
			w.stats.AddHardlinksCreated(1)
			return nil
		}
		if g != nil {
			g.Complete(nil)
		}
		w.stats.AddFilesCopied(1)
		return nil
	}

	if g != nil && !first {
		if err := g.Wait(ctx); err != nil {
			return fmt.Errorf("hardlink source %s: %w", g.OriginalPath, err)
		}
		return w.linkTask(f, name, relPath, g)
	}

	// First occurrence (or singly-linked file): copy the data. The
	// broadcast is unconditional: waiters observing a failure fail too
	// instead of linking to a partial file.
	var copyErr error
	if g != nil {
		defer func() { g.Complete(copyErr) }()
	}
	copyErr = w.copyOne(ctx, f, name, relPath, md)
	return copyErr
}

// linkTask creates one additional directory entry for an already-copied
// inode.
func (w *walker) linkTask(f *frame, name, relPath string, g *LinkGroup) error {
	err := f.dst.LinkFrom(g.DstPath, name)
	if errors.Is(err, unix.EEXIST) {
		if err = f.dst.Unlink(name, false); err != nil {
			return err
		}
		err = f.dst.LinkFrom(g.DstPath, name)
	}
	if err != nil {
		return err
	}

	w.stats.AddHardlinksCreated(1)
	w.emit(event.Event{Type: event.HardlinkCreated, Path: relPath})
	return nil
}

// copyOne copies a single regular file's bytes and metadata. Timestamps
// come from the classification stat, taken before any read, so the copy
// itself cannot perturb what gets restored.
func (w *walker) copyOne(ctx context.Context, f *frame, name, relPath string, md fsx.Metadata) error {
	var srcFd int
	err := withFdRetry(ctx, w.ctrl, func() error {
		var e error
		srcFd, e = f.src.OpenFile(name, unix.O_RDONLY, 0)
		return e
	})
	if err != nil {
		return err
	}
	defer unix.Close(srcFd)

	var dstFd int
	err = withFdRetry(ctx, w.ctrl, func() error {
		var e error
		dstFd, e = f.dst.OpenFile(name, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, md.Perm())
		return e
	})
	if err != nil {
		if errors.Is(err, unix.EISDIR) || errors.Is(err, unix.ELOOP) {
			return fmt.Errorf("%w: %s", ErrTypeConflict, f.dst.Join(name))
		}
		return err
	}
	defer unix.Close(dstFd)

	if _, err := w.copier.copyFile(ctx, srcFd, dstFd, md.Size); err != nil {
		return fmt.Errorf("copy %s: %w", relPath, err)
	}

	if err := w.pres.preserveFd(dstFd, f.dst.Join(name), srcFd, md); err != nil {
		return err
	}

	w.stats.AddFilesCopied(1)
	w.emit(event.Event{Type: event.FileCopied, Path: relPath, Size: md.Size})
	return nil
}

// perEntryError records a failure for one entry. Traversal continues;
// sibling tasks are unaffected.
func (w *walker) perEntryError(relPath string, err error) {
	w.stats.AddErrors(1)
	w.logger.Error("entry failed", "path", relPath, "error", err)
	w.emit(event.Event{Type: event.FileFailed, Path: relPath, Error: err})
}

// emit sends an event without blocking: a slow consumer drops progress
// rather than stalling the engine.
func (w *walker) emit(e event.Event) {
	if w.cfg.Events == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case w.cfg.Events <- e:
	default:
	}
}
