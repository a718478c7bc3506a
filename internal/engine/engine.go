// Package engine implements the concurrent file-tree synchronization
// core: iterative traversal with bounded task dispatch, race-free hardlink
// deduplication, region-split parallel copying, adaptive concurrency, and
// descriptor-relative metadata preservation.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmalicki/arsync-sub001/internal/backend"
	"github.com/jmalicki/arsync-sub001/internal/event"
	"github.com/jmalicki/arsync-sub001/internal/filter"
	"github.com/jmalicki/arsync-sub001/internal/stats"
)

// Config describes a synchronization run.
type Config struct {
	Src string
	Dst string

	// Workers is the initial ceiling on in-flight entry tasks. The
	// adaptive controller may lower it during the run; it never rises.
	Workers int

	// QueueDepth sizes the io_uring submission queue.
	QueueDepth uint

	// UseIOURing enables the io_uring backend on supporting kernels.
	UseIOURing bool

	// CopyThreshold is the file size at which region-split copying kicks
	// in; MaxSplitDepth allows up to 2^depth concurrent regions of at
	// least MinSplitSize bytes each.
	CopyThreshold int64
	MaxSplitDepth int
	MinSplitSize  int64

	PreserveMode   bool
	PreserveTimes  bool
	PreserveOwner  bool
	PreserveXattrs bool

	DryRun bool
	Mirror bool
	Verify bool

	// BandwidthLimit caps aggregate copy throughput in bytes/sec; zero
	// means unthrottled.
	BandwidthLimit int64

	Filter *filter.Chain
	Events chan<- event.Event
	Logger *slog.Logger
}

func (cfg *Config) setDefaults() {
	if cfg.Workers <= 0 {
		cfg.Workers = 64
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 64
	}
	if cfg.CopyThreshold <= 0 {
		cfg.CopyThreshold = 8 << 20 // 8 MiB
	}
	if cfg.MaxSplitDepth < 0 {
		cfg.MaxSplitDepth = 0
	}
	if cfg.MinSplitSize <= 0 {
		cfg.MinSplitSize = splitAlign
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// Result is the outcome of a synchronization run.
type Result struct {
	Stats stats.Snapshot
	Err   error
}

// Run executes a synchronization run, blocking until complete. Per-entry
// failures are counted and surfaced as a single aggregate error; only
// conditions that prevent the run from proceeding at all are fatal.
func Run(ctx context.Context, cfg Config) Result {
	cfg.setDefaults()

	srcInfo, err := os.Lstat(cfg.Src)
	if err != nil {
		return Result{Err: fmt.Errorf("source: %w", err)}
	}
	if !srcInfo.IsDir() {
		return Result{Err: fmt.Errorf("source %s is not a directory", cfg.Src)}
	}

	be, err := backend.New(cfg.QueueDepth, cfg.UseIOURing)
	if err != nil {
		return Result{Err: fmt.Errorf("init backend: %w", err)}
	}
	defer be.Close()
	cfg.Logger.Debug("backend selected", "backend", be.Name())

	collector := stats.NewCollector()
	ctrl := NewController(cfg.Workers, collector, cfg.Logger)

	cp := &copier{
		be:        be,
		stats:     collector,
		threshold: cfg.CopyThreshold,
		maxDepth:  cfg.MaxSplitDepth,
		minSplit:  cfg.MinSplitSize,
	}
	if cfg.BandwidthLimit > 0 {
		cp.limiter = newBWLimiter(cfg.BandwidthLimit)
	}

	w := &walker{
		cfg:     &cfg,
		ctrl:    ctrl,
		tracker: NewTracker(),
		copier:  cp,
		pres: &preserver{
			mode:   cfg.PreserveMode,
			times:  cfg.PreserveTimes,
			owner:  cfg.PreserveOwner,
			xattrs: cfg.PreserveXattrs,
			stats:  collector,
			logger: cfg.Logger,
		},
		stats:  collector,
		logger: cfg.Logger,
	}

	ctrl.onLower = func(newLimit int) {
		w.emit(event.Event{Type: event.LimitLowered, Size: int64(newLimit)})
	}

	w.emit(event.Event{Type: event.SyncStarted, Path: cfg.Src})
	runErr := w.run(ctx)

	if runErr == nil && cfg.Mirror {
		if err := deleteExtraneous(ctx, w); err != nil {
			runErr = fmt.Errorf("mirror: %w", err)
		}
	}

	if runErr == nil && cfg.Verify && !cfg.DryRun {
		if err := verifyTree(ctx, w); err != nil {
			runErr = fmt.Errorf("verify: %w", err)
		}
	}

	w.emit(event.Event{Type: event.SyncComplete})

	if runErr == nil {
		if n := collector.Errors(); n > 0 {
			runErr = fmt.Errorf("%d entries failed", n)
		} else if n := collector.Snapshot().VerifyMismatches; n > 0 {
			runErr = fmt.Errorf("%d files failed verification", n)
		}
	}

	return Result{Stats: collector.Snapshot(), Err: runErr}
}
