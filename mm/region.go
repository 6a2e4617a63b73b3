package mm

import (
	"fmt"
	"sync"
)

// Region is a contiguous run of secure destination pages backing one
// relocation batch. It hands pages out in ascending PFN order, so a
// source batch sorted by PFN pairs with destinations at matching
// offsets inside the 8 MiB unit, and takes unused pages back when a
// move fails.
type Region struct {
	base PFN

	mu    sync.Mutex
	free  []*Page
	owned map[PFN]*Page
	out   map[PFN]bool
}

// NewRegion allocates a destination region of n secure pages starting
// at base. Every page starts free with one reference (the region's
// hold), which transfers to the compartment on a successful move.
func NewRegion(base PFN, n int) *Region {
	r := &Region{
		base:  base,
		owned: make(map[PFN]*Page, n),
		out:   make(map[PFN]bool, n),
	}

	r.free = NewRange(base, n, true)
	for _, p := range r.free {
		r.owned[p.pfn] = p
	}

	return r
}

// Base returns the first PFN of the region.
func (r *Region) Base() PFN { return r.base }

// Free returns how many pages are currently available.
func (r *Region) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.free)
}

// Get supplies the next destination page for src, or nil when the
// region is exhausted.
func (r *Region) Get(src *Page) *Page {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.free) == 0 {
		return nil
	}

	p := r.free[0]
	r.free = r.free[1:]
	r.out[p.pfn] = true

	return p
}

// Put returns an unused destination page to the region. Returning a
// page the region did not supply, or returning one twice, is a caller
// bug.
func (r *Region) Put(p *Page) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owned[p.pfn] != p || !r.out[p.pfn] {
		panic(fmt.Sprintf("mm: page %#x returned to region it was not supplied from", p.pfn))
	}

	delete(r.out, p.pfn)
	r.free = append(r.free, p)
}
