// Package monitor is the request channel to the secure monitor, the
// trusted privileged service that relocates secure-compartment memory
// and rewrites the compartment's address-space bookkeeping. The host
// never reads compartment bytes itself; it issues exactly one
// synchronous call per relocation batch and the monitor does the rest.
package monitor

import "github.com/gosma-dev/gosma/mm"

// Kind identifies a monitor request.
type Kind uint32

const (
	// KindRemapIPA asks the monitor to relocate one 8 MiB batch of a
	// compartment's pages and remap the collected intermediate
	// addresses onto the destination range.
	KindRemapIPA Kind = 0x18
)

// Request is the fixed-shape batch descriptor consumed by the monitor.
// One request covers exactly one batch: the page count is always the
// full batch capacity and unused table entries stay zero.
type Request struct {
	// SecVMID identifies the migrating compartment.
	SecVMID uint32

	// Kind is the request kind; only KindRemapIPA is issued here.
	Kind Kind

	// SrcStartPFN and DstStartPFN are the base frames of the source
	// and destination 8 MiB units.
	SrcStartPFN uint64
	DstStartPFN uint64

	// NrPages is the batch capacity, mm.BatchPages.
	NrPages uint32

	// IPNList is the table of intermediate addresses collected while
	// the batch was unmapped; entries past the recorded count are
	// zero.
	IPNList [mm.BatchPages]uint64
}

// Caller issues one synchronous request to the secure monitor.
//
// The call is the batch's single blocking, uninterruptible boundary:
// no other execution context may observe or mutate the compartment's
// address-space state between request and response. On real hardware
// the host driver masks interrupts around the underlying secure call
// to guarantee this.
type Caller interface {
	Call(req *Request) error
}
