//go:build linux

package fsx

import (
	"time"

	"golang.org/x/sys/unix"
)

func metadataFromStat(st *unix.Stat_t) Metadata {
	return Metadata{
		Mode:  st.Mode,
		UID:   st.Uid,
		GID:   st.Gid,
		Size:  st.Size,
		Nlink: uint64(st.Nlink),
		Dev:   uint64(st.Dev),
		Ino:   st.Ino,
		ATime: time.Unix(st.Atim.Sec, st.Atim.Nsec),
		MTime: time.Unix(st.Mtim.Sec, st.Mtim.Nsec),
	}
}
