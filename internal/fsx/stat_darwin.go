//go:build darwin

package fsx

import (
	"time"

	"golang.org/x/sys/unix"
)

func metadataFromStat(st *unix.Stat_t) Metadata {
	return Metadata{
		Mode:  uint32(st.Mode),
		UID:   st.Uid,
		GID:   st.Gid,
		Size:  st.Size,
		Nlink: uint64(st.Nlink),
		Dev:   uint64(st.Dev), //nolint:gosec // dev_t is int32 on darwin, always non-negative
		Ino:   st.Ino,
		ATime: time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec),
		MTime: time.Unix(st.Mtimespec.Sec, st.Mtimespec.Nsec),
	}
}
