package migrate

import (
	"fmt"
	"sync"

	"github.com/gosma-dev/gosma/mm"
)

// Window is the migration-window state for the one batch in flight: a
// scratch record of which compartment is migrating and which
// intermediate addresses were touched while its pages were being
// unmapped. The unmap phase fills it directly; the external fault path
// feeds it through mm.AddressSpace.FaultHook while it is open.
//
// A Window is safe for concurrent Record calls, but the design assumes
// at most one batch system-wide: the orchestrator resets the window at
// batch start and callers must not share it across concurrent batches.
type Window struct {
	mu      sync.Mutex
	secVMID uint32
	ipns    [mm.BatchPages]uint64
	seen    map[uint64]struct{}
	n       uint32
	open    bool
}

// begin resets the window and opens it for recording. Only the
// orchestrator manages the window's lifecycle.
func (w *Window) begin() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.secVMID = 0
	w.ipns = [mm.BatchPages]uint64{}
	w.seen = make(map[uint64]struct{})
	w.n = 0
	w.open = true
}

// end closes the window. Accesses during the monitor call and the move
// phase are no longer tracked.
func (w *Window) end() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.open = false
}

// Record adds one intermediate address for compartment secVMID. The
// table is a set: an address already collected this batch (a retried
// unmap, or the fault path racing the unmap walk) is dropped. While
// the window is closed the record is also dropped: nothing outside the
// unmap phase belongs in the table. The table never exceeds the batch
// capacity and a batch involves exactly one compartment; violating
// either is fatal to the batch.
func (w *Window) Record(secVMID uint32, ipn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return nil
	}

	if _, dup := w.seen[ipn]; dup {
		return nil
	}

	if w.n >= mm.BatchPages {
		return fmt.Errorf("%w: intermediate address table overflow at ipn %#x", ErrInvariant, ipn)
	}

	if w.secVMID == 0 {
		w.secVMID = secVMID
	} else if w.secVMID != secVMID {
		return fmt.Errorf("%w: compartments %d and %d in one batch", ErrInvariant, w.secVMID, secVMID)
	}

	w.ipns[w.n] = ipn
	w.n++

	return nil
}

// Open reports whether the window is currently tracking accesses.
func (w *Window) Open() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.open
}

// SecVMID returns the compartment recorded for the current batch, or
// zero if nothing was recorded.
func (w *Window) SecVMID() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.secVMID
}

// Pages returns how many intermediate addresses were recorded.
func (w *Window) Pages() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return int(w.n)
}

// Table copies the intermediate-address table; entries past Pages()
// are zero.
func (w *Window) Table() [mm.BatchPages]uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.ipns
}
