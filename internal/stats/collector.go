// Package stats tracks synchronization counters using lock-free atomics.
// No counter depends on another, so a Snapshot is a set of independently
// consistent reads.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector accumulates counters for one synchronization run.
type Collector struct {
	filesCopied      atomic.Int64
	bytesCopied      atomic.Int64
	dirsCreated      atomic.Int64
	symlinksCreated  atomic.Int64
	hardlinksCreated atomic.Int64
	entriesSkipped   atomic.Int64
	errors           atomic.Int64
	xattrErrors      atomic.Int64
	limitReductions  atomic.Int64
	filesDeleted     atomic.Int64
	filesVerified    atomic.Int64
	verifyMismatches atomic.Int64
	startTime        time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) AddFilesCopied(n int64)      { c.filesCopied.Add(n) }
func (c *Collector) AddBytesCopied(n int64)      { c.bytesCopied.Add(n) }
func (c *Collector) AddDirsCreated(n int64)      { c.dirsCreated.Add(n) }
func (c *Collector) AddSymlinksCreated(n int64)  { c.symlinksCreated.Add(n) }
func (c *Collector) AddHardlinksCreated(n int64) { c.hardlinksCreated.Add(n) }
func (c *Collector) AddEntriesSkipped(n int64)   { c.entriesSkipped.Add(n) }
func (c *Collector) AddErrors(n int64)           { c.errors.Add(n) }
func (c *Collector) AddXattrErrors(n int64)      { c.xattrErrors.Add(n) }
func (c *Collector) AddLimitReductions(n int64)  { c.limitReductions.Add(n) }
func (c *Collector) AddFilesDeleted(n int64)     { c.filesDeleted.Add(n) }
func (c *Collector) AddFilesVerified(n int64)    { c.filesVerified.Add(n) }
func (c *Collector) AddVerifyMismatches(n int64) { c.verifyMismatches.Add(n) }

// Errors returns the current per-entry error count.
func (c *Collector) Errors() int64 { return c.errors.Load() }

// BytesCopied returns the current copied byte count.
func (c *Collector) BytesCopied() int64 { return c.bytesCopied.Load() }

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	if c.startTime.IsZero() {
		return 0
	}
	return time.Since(c.startTime)
}

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesCopied      int64
	BytesCopied      int64
	DirsCreated      int64
	SymlinksCreated  int64
	HardlinksCreated int64
	EntriesSkipped   int64
	Errors           int64
	XattrErrors      int64
	LimitReductions  int64
	FilesDeleted     int64
	FilesVerified    int64
	VerifyMismatches int64
	Elapsed          time.Duration
}

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesCopied:      c.filesCopied.Load(),
		BytesCopied:      c.bytesCopied.Load(),
		DirsCreated:      c.dirsCreated.Load(),
		SymlinksCreated:  c.symlinksCreated.Load(),
		HardlinksCreated: c.hardlinksCreated.Load(),
		EntriesSkipped:   c.entriesSkipped.Load(),
		Errors:           c.errors.Load(),
		XattrErrors:      c.xattrErrors.Load(),
		LimitReductions:  c.limitReductions.Load(),
		FilesDeleted:     c.filesDeleted.Load(),
		FilesVerified:    c.filesVerified.Load(),
		VerifyMismatches: c.verifyMismatches.Load(),
		Elapsed:          c.Elapsed(),
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"copied=%d bytes=%d dirs=%d symlinks=%d hardlinks=%d skipped=%d errors=%d xattr_errors=%d",
		s.FilesCopied, s.BytesCopied, s.DirsCreated, s.SymlinksCreated,
		s.HardlinksCreated, s.EntriesSkipped, s.Errors, s.XattrErrors,
	)
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
