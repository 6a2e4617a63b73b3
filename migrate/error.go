package migrate

import "errors"

var (
	// ErrAgain is the transient per-page failure retried by the
	// bounded pass loop; it never surfaces to callers.
	ErrAgain = errors.New("transient migration failure")

	// ErrNoDest means the destination supplier was exhausted. The
	// affected page fails without retry; the batch continues.
	ErrNoDest = errors.New("no destination page available")

	// ErrInvariant is a protocol invariant violation: a non-secure
	// page entering the batch, an unsupported backing state, a bad
	// post-move reference count, an overflowing address table. The
	// current batch aborts; no recovery is attempted beyond releasing
	// already-acquired locks and references.
	ErrInvariant = errors.New("secure migration invariant violated")

	// ErrUnmapIncomplete means pages were still mapped after the final
	// unmap pass; the batch aborted before the monitor call.
	ErrUnmapIncomplete = errors.New("pages left unmapped after retry passes")

	// ErrMoveIncomplete means pages were left unmoved after the final
	// move pass.
	ErrMoveIncomplete = errors.New("pages left unmoved after retry passes")

	// ErrMonitor wraps a failed secure monitor call. The batch aborts
	// between phases: proceeding to move pages the monitor may not
	// have relocated could remap the compartment onto stale frames.
	ErrMonitor = errors.New("secure monitor remap call failed")

	// ErrBadBatch rejects input that is not a single sorted batch
	// within one 8 MiB unit.
	ErrBadBatch = errors.New("batch is not sorted within one relocation unit")
)
