package migrate

// Mode controls how aggressively a phase may block while working on a
// page.
type Mode int

const (
	// ModeAsync never blocks on a contended page lock.
	ModeAsync Mode = iota

	// ModeSync may block on page locks once early passes have failed.
	ModeSync

	// ModeSyncNoCopy is ModeSync with no data copy: the secure monitor
	// has already relocated the bytes out-of-band. The move phase
	// always runs in this mode.
	ModeSyncNoCopy
)

func (m Mode) String() string {
	switch m {
	case ModeAsync:
		return "async"
	case ModeSync:
		return "sync"
	case ModeSyncNoCopy:
		return "sync-no-copy"
	}

	return "unknown"
}

// Reason tags a batch for post-success accounting on the destination
// pages.
type Reason int

const (
	ReasonNone Reason = iota

	// ReasonCompaction marks relocation in service of defragmenting
	// the secure memory pool; the only reason batches are issued for
	// today.
	ReasonCompaction
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonCompaction:
		return "compaction"
	}

	return "unknown"
}
