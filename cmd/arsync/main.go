package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmalicki/arsync-sub001/internal/config"
	"github.com/jmalicki/arsync-sub001/internal/engine"
	"github.com/jmalicki/arsync-sub001/internal/event"
	"github.com/jmalicki/arsync-sub001/internal/filter"
	"github.com/jmalicki/arsync-sub001/internal/stats"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "string" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

func run() int {
	var (
		archive       bool
		perms         bool
		times         bool
		owner         bool
		xattrs        bool
		workers       int
		queueDepth    uint
		noIOURing     bool
		thresholdStr  string
		maxSplitDepth int
		minSplitStr   string
		bwLimitStr    string
		dryRun        bool
		mirror        bool
		verifyFlag    bool
		quiet         bool
		verbose       bool
		showVersion   bool
		filterFile    string
		minSizeStr    string
		maxSizeStr    string
	)

	chain := filter.NewChain()

	rootCmd := &cobra.Command{
		Use:   "arsync [flags] <source> <destination>",
		Short: "Fast tree synchronization on asynchronous I/O",
		Long: `arsync mirrors a directory tree at a destination, preserving
permissions, ownership, timestamps, xattrs, symlinks and hardlinks,
using io_uring on Linux for maximum storage throughput.`,
		Args: func(_ *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			if len(args) != 2 {
				return fmt.Errorf("expected <source> <destination>, got %d args", len(args))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Printf("arsync %s\n", version)
				return nil
			}

			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			if quiet {
				level = slog.LevelError
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			logger = logger.With("run", uuid.NewString()[:8])
			slog.SetDefault(logger)

			// Config file fills in flags the user didn't set.
			fileCfg, err := config.Load()
			if err != nil {
				logger.Warn("config file ignored", "error", err)
			}
			d := fileCfg.Defaults
			flags := cmd.Flags()
			applyDefault(flags, "workers", d.Workers, &workers)
			applyDefault(flags, "queue-depth", d.QueueDepth, &queueDepth)
			applyDefault(flags, "archive", d.Archive, &archive)
			applyDefault(flags, "verify", d.Verify, &verifyFlag)
			applyDefault(flags, "bwlimit", d.BWLimit, &bwLimitStr)
			applyDefault(flags, "copy-threshold", d.CopyThreshold, &thresholdStr)
			applyDefault(flags, "max-split-depth", d.MaxSplitDepth, &maxSplitDepth)
			applyDefault(flags, "no-io-uring", d.NoIOURing, &noIOURing)

			if archive {
				perms, times, owner, xattrs = true, true, true, true
			}

			if filterFile != "" {
				if err := chain.LoadFile(filterFile); err != nil {
					return err
				}
			}
			if err := applySizeBound(minSizeStr, chain.SetMinSize); err != nil {
				return fmt.Errorf("--min-size: %w", err)
			}
			if err := applySizeBound(maxSizeStr, chain.SetMaxSize); err != nil {
				return fmt.Errorf("--max-size: %w", err)
			}

			cfg := engine.Config{
				Src:            args[0],
				Dst:            args[1],
				Workers:        workers,
				QueueDepth:     queueDepth,
				UseIOURing:     !noIOURing,
				MaxSplitDepth:  maxSplitDepth,
				PreserveMode:   perms,
				PreserveTimes:  times,
				PreserveOwner:  owner,
				PreserveXattrs: xattrs,
				DryRun:         dryRun,
				Mirror:         mirror,
				Verify:         verifyFlag,
				Logger:         logger,
			}
			if !chain.Empty() {
				cfg.Filter = chain
			}
			if thresholdStr != "" {
				if cfg.CopyThreshold, err = filter.ParseSize(thresholdStr); err != nil {
					return fmt.Errorf("--copy-threshold: %w", err)
				}
			}
			if minSplitStr != "" {
				if cfg.MinSplitSize, err = filter.ParseSize(minSplitStr); err != nil {
					return fmt.Errorf("--min-split-size: %w", err)
				}
			}
			if bwLimitStr != "" {
				if cfg.BandwidthLimit, err = filter.ParseSize(bwLimitStr); err != nil {
					return fmt.Errorf("--bwlimit: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			events := make(chan event.Event, 256)
			var printerWg sync.WaitGroup
			if verbose && !quiet {
				printerWg.Add(1)
				go func() {
					defer printerWg.Done()
					printEvents(events)
				}()
				cfg.Events = events
			}

			result := engine.Run(ctx, cfg)

			if cfg.Events != nil {
				close(events)
				printerWg.Wait()
			}

			if !quiet {
				printSummary(os.Stderr, result.Stats, dryRun)
			}
			return result.Err
		},
	}

	flags := rootCmd.Flags()
	flags.BoolVarP(&archive, "archive", "a", false, "preserve permissions, times, owner and xattrs")
	flags.BoolVarP(&perms, "perms", "p", false, "preserve permissions")
	flags.BoolVarP(&times, "times", "t", false, "preserve modification times")
	flags.BoolVarP(&owner, "owner", "o", false, "preserve owner and group (needs privileges)")
	flags.BoolVarP(&xattrs, "xattrs", "X", false, "preserve extended attributes")
	flags.IntVarP(&workers, "workers", "w", 0, "max in-flight entries (default 64)")
	flags.UintVar(&queueDepth, "queue-depth", 0, "io_uring submission queue depth (default 64)")
	flags.BoolVar(&noIOURing, "no-io-uring", false, "disable io_uring even where supported")
	flags.StringVar(&thresholdStr, "copy-threshold", "", "split files at or above this size (default 8M)")
	flags.IntVar(&maxSplitDepth, "max-split-depth", 3, "max halvings per large file (2^depth regions)")
	flags.StringVar(&minSplitStr, "min-split-size", "", "smallest splittable region (default 2M)")
	flags.StringVar(&bwLimitStr, "bwlimit", "", "limit aggregate throughput, e.g. 100M")
	flags.BoolVarP(&dryRun, "dry-run", "n", false, "walk and report without writing")
	flags.BoolVar(&mirror, "mirror", false, "delete destination entries missing from source")
	flags.BoolVar(&verifyFlag, "verify", false, "verify copies with BLAKE3 checksums")
	flags.BoolVarP(&quiet, "quiet", "q", false, "errors only")
	flags.BoolVarP(&verbose, "verbose", "v", false, "per-entry progress")
	flags.BoolVar(&showVersion, "version", false, "print version and exit")
	flags.StringVar(&filterFile, "filter-file", "", "load include/exclude rules from file")
	flags.StringVar(&minSizeStr, "min-size", "", "skip files smaller than this")
	flags.StringVar(&maxSizeStr, "max-size", "", "skip files larger than this")
	flags.Var(&filterFlag{chain: chain, include: false}, "exclude", "exclude paths matching glob (repeatable)")
	flags.Var(&filterFlag{chain: chain, include: true}, "include", "include paths matching glob (repeatable)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "arsync: %v\n", err)
		return 1
	}
	return 0
}

// applyDefault writes a config-file default into a flag variable unless
// the user set the flag explicitly.
func applyDefault[T any](flags *pflag.FlagSet, name string, val *T, dst *T) {
	if val != nil && !flags.Changed(name) {
		*dst = *val
	}
}

func applySizeBound(s string, set func(int64)) error {
	if s == "" {
		return nil
	}
	n, err := filter.ParseSize(s)
	if err != nil {
		return err
	}
	set(n)
	return nil
}

func printEvents(events <-chan event.Event) {
	for e := range events {
		switch e.Type {
		case event.FileCopied:
			fmt.Fprintf(os.Stderr, "%s (%s)\n", e.Path, stats.FormatBytes(e.Size))
		case event.SymlinkCreated, event.HardlinkCreated, event.DirCreated, event.DeleteEntry:
			fmt.Fprintf(os.Stderr, "%s %s\n", e.Type, e.Path)
		case event.FileFailed, event.VerifyFailed:
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", e.Type, e.Path, e.Error)
		case event.LimitLowered:
			fmt.Fprintf(os.Stderr, "concurrency lowered to %d\n", e.Size)
		}
	}
}

func printSummary(w *os.File, s stats.Snapshot, dryRun bool) {
	verb := "copied"
	if dryRun {
		verb = "would copy"
	}
	fmt.Fprintf(w, "%s %d files (%s), %d dirs, %d symlinks, %d hardlinks in %s\n",
		verb, s.FilesCopied, stats.FormatBytes(s.BytesCopied),
		s.DirsCreated, s.SymlinksCreated, s.HardlinksCreated,
		s.Elapsed.Round(time.Millisecond))
	if s.FilesDeleted > 0 {
		fmt.Fprintf(w, "deleted %d extraneous entries\n", s.FilesDeleted)
	}
	if s.FilesVerified > 0 || s.VerifyMismatches > 0 {
		fmt.Fprintf(w, "verified %d files, %d mismatches\n", s.FilesVerified, s.VerifyMismatches)
	}
	if s.Errors > 0 || s.XattrErrors > 0 {
		fmt.Fprintf(w, "%d errors, %d xattr failures\n", s.Errors, s.XattrErrors)
	}
	if s.LimitReductions > 0 {
		fmt.Fprintf(w, "concurrency lowered %d times (descriptor pressure)\n", s.LimitReductions)
	}
}
