package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmalicki/arsync-sub001/internal/fsx"
	"github.com/jmalicki/arsync-sub001/internal/stats"
)

// preserver applies source metadata to destination objects. Regular files
// and directories are addressed exclusively through their open destination
// descriptor; symlinks through non-follow path variants relative to their
// directory handle. The destination is never re-resolved by full path.
type preserver struct {
	mode   bool
	times  bool
	owner  bool
	xattrs bool

	stats  *stats.Collector
	logger *slog.Logger
}

// preserveFd applies metadata to an open regular file or directory.
// Individual xattr failures are counted and logged but do not fail the
// entry; everything else does.
func (p *preserver) preserveFd(dstFd int, dstPath string, srcFd int, md fsx.Metadata) error {
	if p.mode {
		if err := fsx.SetMode(dstFd, md.Perm()); err != nil {
			return fmt.Errorf("preserve mode %s: %w", dstPath, err)
		}
	}

	if p.xattrs {
		p.copyXattrs(srcFd, dstFd, dstPath)
	}

	if p.times {
		if err := fsx.SetFileTimes(dstFd, dstPath, md.ATime, md.MTime); err != nil {
			return fmt.Errorf("preserve times %s: %w", dstPath, err)
		}
	}

	// Ownership last; may fail without CAP_CHOWN.
	if p.owner {
		_ = fsx.SetOwner(dstFd, md.UID, md.GID)
	}

	return nil
}

// preserveLink applies metadata to a symlink itself, never its target.
// Symlink permission bits are fixed on Linux and are not restored.
func (p *preserver) preserveLink(srcDir *fsx.DirHandle, dstDir *fsx.DirHandle, name string, md fsx.Metadata) error {
	if p.xattrs {
		p.copyLinkXattrs(srcDir.Join(name), dstDir.Join(name))
	}

	if p.times {
		if err := fsx.SetLinkTimes(dstDir, name, md.ATime, md.MTime); err != nil {
			return fmt.Errorf("preserve link times %s: %w", dstDir.Join(name), err)
		}
	}

	if p.owner {
		_ = fsx.SetLinkOwner(dstDir, name, md.UID, md.GID)
	}

	return nil
}

// copyXattrs copies extended attributes between open descriptors,
// best-effort per name.
func (p *preserver) copyXattrs(srcFd, dstFd int, dstPath string) {
	names, err := fsx.ListXattrs(srcFd)
	if err != nil {
		if !errors.Is(err, fsx.ErrNotSupported) {
			p.stats.AddXattrErrors(1)
			p.logger.Warn("list xattrs", "path", dstPath, "error", err)
		}
		return
	}

	for _, name := range names {
		val, err := fsx.GetXattr(srcFd, name)
		if err == nil {
			err = fsx.SetXattr(dstFd, name, val)
		}
		if err != nil && !errors.Is(err, fsx.ErrNotSupported) {
			p.stats.AddXattrErrors(1)
			p.logger.Warn("preserve xattr", "path", dstPath, "name", name, "error", err)
		}
	}
}

// copyLinkXattrs is copyXattrs for symlinks, via non-follow path variants.
func (p *preserver) copyLinkXattrs(srcPath, dstPath string) {
	names, err := fsx.ListLinkXattrs(srcPath)
	if err != nil {
		if !errors.Is(err, fsx.ErrNotSupported) {
			p.stats.AddXattrErrors(1)
			p.logger.Warn("list link xattrs", "path", srcPath, "error", err)
		}
		return
	}

	for _, name := range names {
		val, err := fsx.GetLinkXattr(srcPath, name)
		if err == nil {
			err = fsx.SetLinkXattr(dstPath, name, val)
		}
		if err != nil && !errors.Is(err, fsx.ErrNotSupported) {
			p.stats.AddXattrErrors(1)
			p.logger.Warn("preserve link xattr", "path", dstPath, "name", name, "error", err)
		}
	}
}
