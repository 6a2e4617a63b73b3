package mm

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// Page flag bits.
const (
	flagLocked uint32 = 1 << iota
	flagSecure
	flagWriteback
	flagMovable
)

// Page is one 4 KiB physical frame. A page is identified by its PFN,
// carries lock/flag/refcount state, and is a member of at most one
// PageList at a time.
type Page struct {
	pfn PFN

	flags atomic.Uint32
	refs  atomic.Int32
	maps  atomic.Int32

	// anon is the reverse-mapping structure shared with the address
	// space the page is mapped into; nil for never-mapped pages.
	anon *AnonRegion

	// ownerReason is the accounting tag stamped on a destination page
	// after a successful move.
	ownerReason int32

	// Intrusive list linkage, owned by the PageList the page is on.
	next, prev *Page
	list       *PageList
}

// NewPage returns a page for pfn holding one reference (the caller's
// hold). Secure-compartment membership is fixed at creation.
func NewPage(pfn PFN, secure bool) *Page {
	p := &Page{pfn: pfn}
	p.refs.Store(1)

	if secure {
		p.flags.Or(flagSecure)
	}

	return p
}

// NewRange returns n pages with consecutive PFNs starting at base.
func NewRange(base PFN, n int, secure bool) []*Page {
	pages := make([]*Page, n)
	for i := range pages {
		pages[i] = NewPage(base+PFN(i), secure)
	}

	return pages
}

// PFN returns the page's physical frame number.
func (p *Page) PFN() PFN { return p.pfn }

// TryLock attempts to acquire the page lock without blocking.
func (p *Page) TryLock() bool {
	for {
		old := p.flags.Load()
		if old&flagLocked != 0 {
			return false
		}

		if p.flags.CompareAndSwap(old, old|flagLocked) {
			return true
		}
	}
}

// Lock acquires the page lock, yielding until it is free.
func (p *Page) Lock() {
	for !p.TryLock() {
		runtime.Gosched()
	}
}

// Unlock releases the page lock.
func (p *Page) Unlock() {
	for {
		old := p.flags.Load()
		if old&flagLocked == 0 {
			panic(fmt.Sprintf("mm: unlock of unlocked page %#x", p.pfn))
		}

		if p.flags.CompareAndSwap(old, old&^flagLocked) {
			return
		}
	}
}

// Locked reports whether the page lock is held.
func (p *Page) Locked() bool { return p.flags.Load()&flagLocked != 0 }

// Secure reports secure-compartment membership.
func (p *Page) Secure() bool { return p.flags.Load()&flagSecure != 0 }

// SetSecure overrides the secure-compartment flag. Tests use it to
// model pages that violate the protocol's entry invariant.
func (p *Page) SetSecure(secure bool) {
	if secure {
		p.flags.Or(flagSecure)
	} else {
		p.flags.And(^flagSecure)
	}
}

// Writeback reports whether the page is under disk-cache writeback.
func (p *Page) Writeback() bool { return p.flags.Load()&flagWriteback != 0 }

// SetWriteback marks or clears writeback state.
func (p *Page) SetWriteback(wb bool) {
	if wb {
		p.flags.Or(flagWriteback)
	} else {
		p.flags.And(^flagWriteback)
	}
}

// Movable reports whether the page is a driver-movable (non-LRU) page,
// which the batch protocol does not handle.
func (p *Page) Movable() bool { return p.flags.Load()&flagMovable != 0 }

// SetMovable marks or clears the movable flag.
func (p *Page) SetMovable(m bool) {
	if m {
		p.flags.Or(flagMovable)
	} else {
		p.flags.And(^flagMovable)
	}
}

// Get takes a reference on the page.
func (p *Page) Get() {
	p.refs.Add(1)
}

// Put drops a reference. The count must never go negative.
func (p *Page) Put() {
	if p.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("mm: refcount of page %#x went negative", p.pfn))
	}
}

// RefCount returns the current reference count.
func (p *Page) RefCount() int { return int(p.refs.Load()) }

// MapCount returns the number of live guest mappings of the page.
func (p *Page) MapCount() int { return int(p.maps.Load()) }

// Mapped reports whether any live guest mapping points at the page.
func (p *Page) Mapped() bool { return p.maps.Load() > 0 }

// Anon reports whether the page has a reverse-mapping structure, i.e.
// has ever been mapped as an anonymous-style secure page.
func (p *Page) Anon() bool { return p.anon != nil }

// GetAnonRegion takes a stabilizing reference on the page's
// reverse-mapping structure so it cannot be torn down while mappings
// are being removed. It returns nil when the page has no live mappings
// left, in which case no reference is taken (the structure can no
// longer be re-used for this page while the page lock is held).
func (p *Page) GetAnonRegion() *AnonRegion {
	if p.anon == nil || !p.Mapped() {
		return nil
	}

	p.anon.get()

	return p.anon
}

// MappingSpace returns the address space the page's mappings live in,
// or nil for a never-mapped page.
func (p *Page) MappingSpace() *AddressSpace {
	if p.anon == nil {
		return nil
	}

	return p.anon.space
}

// SetOwnerReason stamps the accounting tag recorded after a successful
// move.
func (p *Page) SetOwnerReason(reason int) {
	atomic.StoreInt32(&p.ownerReason, int32(reason))
}

// OwnerReason returns the accounting tag, or zero if never stamped.
func (p *Page) OwnerReason() int {
	return int(atomic.LoadInt32(&p.ownerReason))
}

// Next returns the page after p on its current list, or nil.
func (p *Page) Next() *Page { return p.next }

// Prev returns the page before p on its current list, or nil.
func (p *Page) Prev() *Page { return p.prev }

// AnonRegion is the reverse-mapping structure for anonymous-style
// secure pages: it ties a page's mappings to their address space and
// carries the stabilizing reference count taken during unmap.
type AnonRegion struct {
	refs  atomic.Int32
	space *AddressSpace
}

func (a *AnonRegion) get() {
	a.refs.Add(1)
}

// Put drops a stabilizing reference.
func (a *AnonRegion) Put() {
	if a.refs.Add(-1) < 0 {
		panic("mm: anon region refcount went negative")
	}
}

// Refs returns the number of stabilizing references currently held.
func (a *AnonRegion) Refs() int { return int(a.refs.Load()) }

// Space returns the address space this region's mappings live in.
func (a *AnonRegion) Space() *AddressSpace { return a.space }
