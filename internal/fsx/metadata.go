package fsx

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// Metadata is the result of a single fstatat: everything the engine needs
// to classify an entry and later reproduce its attributes.
type Metadata struct {
	ATime time.Time
	MTime time.Time
	Size  int64
	Nlink uint64
	Dev   uint64
	Ino   uint64
	Mode  uint32 // raw st_mode, type bits included
	UID   uint32
	GID   uint32
}

func (m Metadata) IsDir() bool     { return m.Mode&unix.S_IFMT == unix.S_IFDIR }
func (m Metadata) IsRegular() bool { return m.Mode&unix.S_IFMT == unix.S_IFREG }
func (m Metadata) IsSymlink() bool { return m.Mode&unix.S_IFMT == unix.S_IFLNK }

// IsOther reports device nodes, fifos and sockets, the entry kinds the
// engine skips rather than copies.
func (m Metadata) IsOther() bool {
	return !m.IsDir() && !m.IsRegular() && !m.IsSymlink()
}

// Perm returns the permission and sticky/setuid/setgid bits.
func (m Metadata) Perm() uint32 { return m.Mode & 0o7777 }

// FileMode converts the raw mode to an fs.FileMode for display.
func (m Metadata) FileMode() fs.FileMode {
	fm := fs.FileMode(m.Mode & 0o777)
	switch m.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		fm |= fs.ModeDir
	case unix.S_IFLNK:
		fm |= fs.ModeSymlink
	case unix.S_IFIFO:
		fm |= fs.ModeNamedPipe
	case unix.S_IFSOCK:
		fm |= fs.ModeSocket
	case unix.S_IFBLK, unix.S_IFCHR:
		fm |= fs.ModeDevice
	}
	return fm
}
