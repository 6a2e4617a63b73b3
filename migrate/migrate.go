// Package migrate implements the batched relocation protocol for
// secure-compartment pages: a three-phase, list-based batch that
// unmaps up to 2048 pages, hands the batch to the secure monitor in a
// single privileged call, and re-establishes the pages' identities on
// a fresh destination range.
//
// The host never copies compartment bytes. The unmap phase collects
// the intermediate addresses the monitor needs, the monitor relocates
// the data out-of-band, and the move phase only transfers bookkeeping.
//
// A batch runs synchronously on the invoking goroutine:
//
//  1. Unmap: drain the pending list into the unmapped list, retrying
//     transient failures for up to 10 passes. Any residual aborts the
//     batch before the monitor sees it.
//  2. Monitor call: one synchronous request carrying the compartment
//     id, the fixed source/destination bases and the intermediate
//     address table collected while unmapping.
//  3. Move: drain the unmapped list into the moved list against the
//     destination supplier, again with up to 10 passes.
//
// At most one batch may be in flight system-wide; the migration window
// and the task-flag word are not built for more.
package migrate

import (
	"fmt"
	"log"

	"github.com/gosma-dev/gosma/mm"
	"github.com/gosma-dev/gosma/monitor"
)

// maxPasses bounds the retry loop of each phase; it is the protocol's
// only progress guarantee.
const maxPasses = 10

// Migrator runs relocation batches against one secure monitor channel.
type Migrator struct {
	mon monitor.Caller
	win *Window
}

// New returns a Migrator issuing requests through mon and tracking the
// migration window in win. The same Window must be wired to the fault
// path (mm.AddressSpace.FaultHook) so concurrent accesses during the
// unmap phase are collected.
func New(mon monitor.Caller, win *Window) *Migrator {
	return &Migrator{mon: mon, win: win}
}

// Result is the batch's list partition after a run. Every input page
// ends on exactly one of the three lists: moved pages completed the
// protocol, unmapped pages failed during the move phase (still locked,
// for the caller's release path), and pages left on the caller's
// pending list never got unmapped.
type Result struct {
	Unmapped mm.PageList
	Moved    mm.PageList

	// UnmapResidual and MoveResidual count the pages each phase left
	// behind; both are zero on a fully successful batch.
	UnmapResidual int
	MoveResidual  int
}

// Pages relocates one batch. pending must be sorted by PFN ascending
// and fit one 8 MiB unit; it is drained in place, with failures left
// partitioned across pending and the result lists. The returned error
// classifies the batch outcome; retrying residual pages is the
// caller's decision.
func (m *Migrator) Pages(pending *mm.PageList, sup Supplier, mode Mode, reason Reason) (*Result, error) {
	res := &Result{}

	if pending.Empty() {
		return res, nil
	}

	if err := checkBatch(pending); err != nil {
		return res, err
	}

	srcBase := pending.Front().PFN()
	dstBase := sup.Base()

	// Writeback is normally forbidden while this much of the secure
	// pool is locked; exempt the invoking task for the duration.
	hadSwapWrite := mm.SetTaskFlag(mm.TaskSwapWrite)
	if !hadSwapWrite {
		defer mm.ClearTaskFlag(mm.TaskSwapWrite)
	}

	// Step 1: open the migration window and unmap the batch.
	m.win.begin()

	n, err := unmapPages(pending, &res.Unmapped, mode, m.win)

	// The window closes as soon as unmapping is done: accesses during
	// the monitor call are no longer the protocol's to track.
	m.win.end()

	if err != nil {
		res.UnmapResidual = n
		log.Printf("sma: failed to unmap %d pages", n)

		return res, err
	}

	// Step 2: one synchronous call relocates the whole batch.
	req := &monitor.Request{
		SecVMID:     m.win.SecVMID(),
		Kind:        monitor.KindRemapIPA,
		SrcStartPFN: uint64(srcBase),
		DstStartPFN: uint64(dstBase),
		NrPages:     mm.BatchPages,
		IPNList:     m.win.Table(),
	}

	if err := m.mon.Call(req); err != nil {
		res.MoveResidual = res.Unmapped.Len()

		return res, fmt.Errorf("%w: %w", ErrMonitor, err)
	}

	// Step 3: the monitor has copied the batch; move bookkeeping only.
	n, err = movePages(&res.Unmapped, &res.Moved, sup, ModeSyncNoCopy, reason)
	if err != nil {
		res.MoveResidual = n
		log.Printf("sma: failed to move %d pages", n)

		return res, err
	}

	return res, nil
}

// checkBatch verifies the input is one ascending run inside a single
// relocation unit.
func checkBatch(pending *mm.PageList) error {
	count := 0
	base := pending.Front().PFN()
	prev := mm.PFN(0)

	for p := pending.Front(); p != nil; p = p.Next() {
		pfn := p.PFN()

		if count > 0 && pfn <= prev {
			return fmt.Errorf("%w: pfn %#x after %#x", ErrBadBatch, pfn, prev)
		}

		if pfn-base >= mm.BatchPages {
			return fmt.Errorf("%w: pfn %#x outside unit at %#x", ErrBadBatch, pfn, base)
		}

		prev = pfn
		count++
	}

	if count > mm.BatchPages {
		return fmt.Errorf("%w: %d pages", ErrBadBatch, count)
	}

	return nil
}
