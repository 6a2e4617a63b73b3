package migrate

import (
	"errors"
	"fmt"
	"log"
	"runtime"

	"github.com/gosma-dev/gosma/mm"
)

// Supplier provides destination pages for one batch. Get returns nil
// when no page is available; Put takes back a page a failed move did
// not consume. The destination region must be one contiguous 8 MiB
// unit starting at Base.
type Supplier interface {
	Get(src *mm.Page) *mm.Page
	Put(p *mm.Page)
	Base() mm.PFN
}

// moveIdentity performs the logical move of src onto dst: no bytes are
// copied (the monitor already relocated them), the address-space
// identity transfers, and the relocation entries left by the unmap
// phase are re-established pointing at dst. On success both pages end
// unlocked with src fully disconnected.
func moveIdentity(src, dst *mm.Page, mode Mode) error {
	if mode != ModeSyncNoCopy {
		// The host cannot read compartment bytes, so a mode that
		// wants a local copy can never be correct here.
		return fmt.Errorf("%w: mode %v needs a local copy of secure page %#x",
			ErrInvariant, mode, src.PFN())
	}

	if !dst.TryLock() {
		log.Printf("sma: failed to lock destination page %#x", dst.PFN())

		return ErrAgain
	}

	if src.Mapped() {
		// The monitor call was supposed to leave the source with
		// relocation entries only; a live mapping here means the batch
		// state is not what the protocol established.
		log.Printf("sma: source page %#x still mapped, mapcount %d", src.PFN(), src.MapCount())
		dst.Unlock()

		return ErrAgain
	}

	if err := mm.MoveToNewPage(dst, src); err != nil {
		dst.Unlock()

		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}

	// The destination must carry exactly the supplier's hold plus the
	// reference the move itself contributed.
	if rc := dst.RefCount(); rc != 2 {
		log.Printf("sma: destination page %#x refcount %d after move, want 2", dst.PFN(), rc)
		dst.Unlock()

		return fmt.Errorf("%w: destination %#x refcount %d", ErrInvariant, dst.PFN(), rc)
	}

	if space := dst.MappingSpace(); space != nil {
		space.RestoreRelocations(src, dst)
	}

	// The re-established mappings hold their own references now.
	dst.Put()
	dst.Unlock()

	// Drop the stabilizing reference if the reverse-mapping structure
	// is still reachable through the source; after a completed move it
	// normally is not.
	if anon := src.GetAnonRegion(); anon != nil {
		anon.Put()
	}

	src.Unlock()

	return nil
}

// movePage pairs one unmapped source page with a destination from the
// supplier and performs the logical move. Transient failures return
// the destination to the supplier and leave the source for the next
// pass; supplier exhaustion fails the page without retry.
func movePage(sup Supplier, src *mm.Page, mode Mode, reason Reason) error {
	dst := sup.Get(src)
	if dst == nil {
		log.Printf("sma: no destination page for pfn %#x, refcount %d", src.PFN(), src.RefCount())

		return ErrNoDest
	}

	err := moveIdentity(src, dst, mode)
	if err == nil {
		// Data must never silently migrate into non-secure memory.
		if !dst.Secure() {
			log.Printf("sma: migrated pfn %#x to non-secure page %#x", src.PFN(), dst.PFN())

			return fmt.Errorf("%w: destination %#x is not secure", ErrInvariant, dst.PFN())
		}

		dst.SetOwnerReason(int(reason))

		return nil
	}

	if errors.Is(err, ErrAgain) {
		sup.Put(dst)

		return ErrAgain
	}

	sup.Put(dst)

	return err
}

// movePages drains unmapped into moved, retrying transient failures
// for up to maxPasses passes. Pages that fail permanently (supplier
// exhaustion) are skipped by later passes and counted in the residual.
func movePages(unmapped, moved *mm.PageList, sup Supplier, mode Mode, reason Reason) (int, error) {
	var failed mm.PageList

	// Failed pages splice back so the caller always sees the full
	// residual partition, even on an aborted batch.
	defer unmapped.PushBackList(&failed)

	retry := 1

	for pass := 0; pass < maxPasses && retry > 0; pass++ {
		retry = 0

		for p := unmapped.Front(); p != nil; {
			next := p.Next()

			runtime.Gosched()

			err := movePage(sup, p, mode, reason)

			switch {
			case err == nil:
				unmapped.Remove(p)
				moved.PushBack(p)
			case errors.Is(err, ErrAgain):
				retry++
			case errors.Is(err, ErrNoDest):
				unmapped.Remove(p)
				failed.PushBack(p)
			default:
				return unmapped.Len() + failed.Len(), err
			}

			p = next
		}
	}

	if residual := unmapped.Len() + failed.Len(); residual > 0 {
		return residual, fmt.Errorf("%w: %d pages", ErrMoveIncomplete, residual)
	}

	return 0, nil
}
