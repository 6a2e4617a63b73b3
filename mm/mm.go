// Package mm models the host-side memory-management primitives the
// batched relocation protocol is built on: page records with lock and
// reference-count state, intrusive page lists, guest address spaces
// holding IPN->PFN mappings, and destination page regions.
//
// The protocol core in package migrate treats everything here as
// already-correct machinery; this package is an in-memory reference
// implementation of that machinery, complete enough to run whole
// batches against.
package mm

import (
	"errors"
	"sync/atomic"
)

const (
	// PageShift is log2 of the only supported page size.
	PageShift = 12

	// PageSize is the secure 4 KiB page size.
	PageSize = 1 << PageShift

	// BatchPages is the fixed batch capacity: one 8 MiB relocation
	// unit of 4 KiB pages.
	BatchPages = 8 << (20 - PageShift)

	// BatchBytes is the byte size of one relocation unit.
	BatchBytes = BatchPages * PageSize
)

// PFN is a physical frame number.
type PFN uint64

var (
	// ErrMapped is returned when an operation requires a page with no
	// live guest mappings but found some.
	ErrMapped = errors.New("page has live mappings")

	// ErrNotMapped is returned when tearing down a mapping that does
	// not exist.
	ErrNotMapped = errors.New("no mapping at address")

	// ErrIPNInUse is returned when mapping an IPN that already has a
	// backing page.
	ErrIPNInUse = errors.New("intermediate address already mapped")

	// ErrSpaceMismatch is returned when a page is mapped into a second
	// address space; pages belong to exactly one compartment.
	ErrSpaceMismatch = errors.New("page belongs to another address space")
)

// TaskFlag is a bit in the invoking task's flag word.
//
// A batch runs synchronously on one invoking goroutine and at most one
// batch is in flight system-wide, so a single process-wide word
// suffices.
type TaskFlag uint32

const (
	// TaskSwapWrite permits writeback during the batch; saved and
	// restored around every batch.
	TaskSwapWrite TaskFlag = 1 << iota

	// TaskMemalloc marks a reclaim context in which blocking on page
	// locks risks deadlock.
	TaskMemalloc
)

var taskFlags atomic.Uint32

// SetTaskFlag sets f and reports whether it was already set.
func SetTaskFlag(f TaskFlag) bool {
	return TaskFlag(taskFlags.Or(uint32(f)))&f != 0
}

// ClearTaskFlag clears f.
func ClearTaskFlag(f TaskFlag) {
	taskFlags.And(^uint32(f))
}

// HasTaskFlag reports whether f is set.
func HasTaskFlag(f TaskFlag) bool {
	return TaskFlag(taskFlags.Load())&f != 0
}

// IPNRecorder receives the intermediate address of every guest mapping
// removed while a relocation batch is collecting its address table.
// The migration window implements it; so does the external fault path.
type IPNRecorder interface {
	Record(secVMID uint32, ipn uint64) error
}
