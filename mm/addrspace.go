package mm

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

// mapentry is one guest-physical mapping: IPN -> page. While a batch
// is unmapping, live entries are converted in place into relocation
// entries, which keep the page referenced but make guest accesses
// fault until the move phase re-establishes them.
type mapentry struct {
	ipn    uint64
	page   *Page
	reloc  bool
	pinned bool
}

// AddressSpace is the guest-physical view of one secure compartment:
// the set of IPN->PFN mappings the compartment can access. It stands
// in for the stage-2 tables the secure monitor owns on real hardware.
type AddressSpace struct {
	secVMID uint32

	// FaultHook, when set, observes guest accesses that miss a live
	// mapping. The relocation protocol points it at the migration
	// window so intermediate addresses touched during the unmap phase
	// are collected; outside a window the hook sees ordinary faults.
	FaultHook IPNRecorder

	mu      sync.Mutex
	entries map[uint64]*mapentry
	present *bitset.BitSet
	byPFN   map[PFN][]uint64
}

// NewAddressSpace returns an empty address space for compartment
// secVMID. IDs are nonzero; zero means "no compartment" throughout the
// protocol.
func NewAddressSpace(secVMID uint32) *AddressSpace {
	return &AddressSpace{
		secVMID: secVMID,
		entries: make(map[uint64]*mapentry),
		present: bitset.New(BatchPages),
		byPFN:   make(map[PFN][]uint64),
	}
}

// SecVMID returns the owning compartment's identifier.
func (as *AddressSpace) SecVMID() uint32 { return as.secVMID }

// Map establishes a live mapping from ipn to p. The mapping holds one
// reference on the page. A page maps into exactly one address space.
func (as *AddressSpace) Map(ipn uint64, p *Page) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if _, ok := as.entries[ipn]; ok {
		return fmt.Errorf("%w: ipn %#x", ErrIPNInUse, ipn)
	}

	if p.anon == nil {
		p.anon = &AnonRegion{space: as}
	} else if p.anon.space != as {
		return fmt.Errorf("%w: page %#x", ErrSpaceMismatch, p.pfn)
	}

	as.entries[ipn] = &mapentry{ipn: ipn, page: p}
	as.present.Set(uint(ipn))
	as.byPFN[p.pfn] = append(as.byPFN[p.pfn], ipn)
	p.maps.Add(1)
	p.Get()

	return nil
}

// Unmap tears down the mapping at ipn entirely, dropping the reference
// it held. Not used on the relocation path, which converts entries
// instead of removing them.
func (as *AddressSpace) Unmap(ipn uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	m, ok := as.entries[ipn]
	if !ok {
		return fmt.Errorf("%w: ipn %#x", ErrNotMapped, ipn)
	}

	delete(as.entries, ipn)
	as.present.Clear(uint(ipn))
	as.dropIPNLocked(m.page.pfn, ipn)

	if !m.reloc {
		m.page.maps.Add(-1)
	}

	m.page.Put()

	return nil
}

// Pin marks the mapping at ipn as resisting unmap (e.g. under DMA).
func (as *AddressSpace) Pin(ipn uint64) error {
	return as.setPinned(ipn, true)
}

// Unpin clears the pin at ipn.
func (as *AddressSpace) Unpin(ipn uint64) error {
	return as.setPinned(ipn, false)
}

func (as *AddressSpace) setPinned(ipn uint64, pinned bool) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	m, ok := as.entries[ipn]
	if !ok {
		return fmt.Errorf("%w: ipn %#x", ErrNotMapped, ipn)
	}

	m.pinned = pinned

	return nil
}

// Translate returns the PFN backing a live mapping at ipn.
func (as *AddressSpace) Translate(ipn uint64) (PFN, bool) {
	as.mu.Lock()
	defer as.mu.Unlock()

	m, ok := as.entries[ipn]
	if !ok || m.reloc {
		return 0, false
	}

	return m.page.pfn, true
}

// Mapped reports how many IPNs currently have a live mapping.
func (as *AddressSpace) Mapped() int {
	as.mu.Lock()
	defer as.mu.Unlock()

	return int(as.present.Count())
}

// Touch simulates a guest access to ipn. An access that misses a live
// mapping faults and is reported to FaultHook; the return value is
// whether the access hit.
func (as *AddressSpace) Touch(ipn uint64) bool {
	as.mu.Lock()
	hook := as.FaultHook
	m, ok := as.entries[ipn]
	hit := ok && !m.reloc
	as.mu.Unlock()

	if !hit && hook != nil {
		// Fault-path recording errors surface to the batch through
		// its own table accounting, not through the faulting guest.
		_ = hook.Record(as.secVMID, ipn)
	}

	return hit
}

// TryToUnmap converts every live mapping of p into a relocation entry,
// reporting each removed mapping's IPN to rec. It returns done=false
// when a pinned mapping stops the walk, with every entry this call
// converted rolled back; a non-nil error means rec rejected a record,
// which the caller must treat as fatal after restoring p's mappings.
//
// The page lock must be held.
func (as *AddressSpace) TryToUnmap(p *Page, rec IPNRecorder) (done bool, err error) {
	as.mu.Lock()
	defer as.mu.Unlock()

	var converted []*mapentry

	for _, ipn := range as.byPFN[p.pfn] {
		m := as.entries[ipn]
		if m == nil || m.reloc {
			continue
		}

		if m.pinned {
			as.rollbackLocked(p, converted)

			return false, nil
		}

		m.reloc = true
		as.present.Clear(uint(ipn))
		p.maps.Add(-1)
		converted = append(converted, m)

		if rec != nil {
			if err := rec.Record(as.secVMID, ipn); err != nil {
				as.rollbackLocked(p, converted)

				return false, err
			}
		}
	}

	return true, nil
}

func (as *AddressSpace) rollbackLocked(p *Page, converted []*mapentry) {
	for _, m := range converted {
		m.reloc = false
		as.present.Set(uint(m.ipn))
		p.maps.Add(1)
	}
}

// RestoreRelocations turns every relocation entry pointing at old back
// into a live mapping. With new == old this is the partial-failure
// rollback; otherwise the entries are re-established onto new, moving
// the reference each entry holds from old to new.
func (as *AddressSpace) RestoreRelocations(old, new *Page) {
	as.mu.Lock()
	defer as.mu.Unlock()

	ipns := as.byPFN[old.pfn]

	if old == new {
		for _, ipn := range ipns {
			if m := as.entries[ipn]; m != nil && m.reloc {
				m.reloc = false
				as.present.Set(uint(ipn))
				old.maps.Add(1)
			}
		}

		return
	}

	var remaining []uint64

	for _, ipn := range ipns {
		m := as.entries[ipn]
		if m == nil || !m.reloc {
			remaining = append(remaining, ipn)
			continue
		}

		m.page = new
		m.reloc = false
		as.present.Set(uint(ipn))
		as.byPFN[new.pfn] = append(as.byPFN[new.pfn], ipn)
		new.maps.Add(1)
		new.Get()
		old.Put()
	}

	if len(remaining) == 0 {
		delete(as.byPFN, old.pfn)
	} else {
		as.byPFN[old.pfn] = remaining
	}
}

func (as *AddressSpace) dropIPNLocked(pfn PFN, ipn uint64) {
	ipns := as.byPFN[pfn]
	for i, v := range ipns {
		if v == ipn {
			as.byPFN[pfn] = append(ipns[:i], ipns[i+1:]...)

			break
		}
	}

	if len(as.byPFN[pfn]) == 0 {
		delete(as.byPFN, pfn)
	}
}
