package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// InodeKey identifies a unique on-disk file regardless of how many
// directory entries reference it.
type InodeKey struct {
	Dev uint64
	Ino uint64
}

// LinkGroup is the registry entry for one multiply-linked inode. DstPath
// and OriginalPath are fixed at creation and never written again; waiters
// read them without locking after the completion signal fires.
type LinkGroup struct {
	OriginalPath string // first-seen source path
	DstPath      string // where the single data copy lives

	refs atomic.Int64

	done chan struct{}
	err  error // written before close(done), read after <-done
	once sync.Once
}

// Complete broadcasts the copy outcome to every current and future waiter.
// It must be called exactly once by the task that copied the data, on
// success and on failure alike; a missing broadcast would deadlock waiters.
func (g *LinkGroup) Complete(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

// Wait suspends until the copy outcome is broadcast, then returns it.
func (g *LinkGroup) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refs returns how many directory entries have registered for this inode.
func (g *LinkGroup) Refs() int64 { return g.refs.Load() }

// Tracker arbitrates which task copies a multiply-linked inode's data.
// The registry is scoped to one synchronization run.
type Tracker struct {
	groups sync.Map // InodeKey -> *LinkGroup
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Register records one directory entry referencing the given inode.
//
// For singly-linked inodes it returns (nil, false): no registry entry is
// created and the caller copies normally. Otherwise exactly one caller per
// inode gets first=true and must copy the data and then call Complete on
// the returned group; every other caller gets first=false and must Wait,
// then link to the group's DstPath.
//
// The group is fully constructed before the insert-if-absent, so no caller
// ever observes a partially-initialized entry.
func (t *Tracker) Register(srcPath, dstPath string, key InodeKey, nlink uint64) (*LinkGroup, bool) {
	if nlink <= 1 {
		return nil, false
	}

	fresh := &LinkGroup{
		OriginalPath: srcPath,
		DstPath:      dstPath,
		done:         make(chan struct{}),
	}
	fresh.refs.Store(1)

	actual, loaded := t.groups.LoadOrStore(key, fresh)
	g := actual.(*LinkGroup)
	if loaded {
		g.refs.Add(1)
		return g, false
	}
	return g, true
}

// Lookup returns the group registered for key, if any.
func (t *Tracker) Lookup(key InodeKey) (*LinkGroup, bool) {
	v, ok := t.groups.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*LinkGroup), true
}
