// Package event defines the progress events the engine emits.
package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	SyncStarted Type = iota + 1
	FileCopied
	FileFailed
	DirCreated
	SymlinkCreated
	HardlinkCreated
	EntrySkipped
	LimitLowered
	DeleteEntry
	VerifyOK
	VerifyFailed
	SyncComplete
)

var typeNames = [...]string{
	SyncStarted:     "SyncStarted",
	FileCopied:      "FileCopied",
	FileFailed:      "FileFailed",
	DirCreated:      "DirCreated",
	SymlinkCreated:  "SymlinkCreated",
	HardlinkCreated: "HardlinkCreated",
	EntrySkipped:    "EntrySkipped",
	LimitLowered:    "LimitLowered",
	DeleteEntry:     "DeleteEntry",
	VerifyOK:        "VerifyOK",
	VerifyFailed:    "VerifyFailed",
	SyncComplete:    "SyncComplete",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // relative to the sync root
	Size      int64  // bytes copied, or new limit for LimitLowered
	Error     error
}
