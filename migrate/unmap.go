package migrate

import (
	"errors"
	"fmt"
	"log"
	"runtime"

	"github.com/gosma-dev/gosma/mm"
)

// unmapPage tears down the guest-visible mappings of one page. On
// success the page is left locked with relocation entries in place of
// its mappings and their IPNs recorded in the window. ErrAgain is the
// transient outcome retried by the pass loop; anything else is an
// invariant violation that aborts the batch.
func unmapPage(p *mm.Page, force bool, mode Mode, w *Window) error {
	if !p.Secure() {
		log.Printf("sma: non-secure page %#x not supported", p.PFN())

		return fmt.Errorf("%w: non-secure page %#x entered batch", ErrInvariant, p.PFN())
	}

	if !p.TryLock() {
		if !force || mode == ModeAsync {
			return ErrAgain
		}

		// Blocking on a page lock from a reclaim context can deadlock
		// against pages the reclaimer already holds, so stay
		// non-blocking there no matter how many passes have failed.
		if mm.HasTaskFlag(mm.TaskMemalloc) {
			return ErrAgain
		}

		p.Lock()
	}

	if p.Writeback() {
		log.Printf("sma: disk page cache not supported, pfn %#x", p.PFN())
		p.Unlock()

		return fmt.Errorf("%w: page %#x under writeback", ErrInvariant, p.PFN())
	}

	if p.Movable() {
		log.Printf("sma: non-LRU movable page %#x not supported", p.PFN())
		p.Unlock()

		return fmt.Errorf("%w: non-LRU page %#x", ErrInvariant, p.PFN())
	}

	// Removing the last mapping would let the reverse-mapping
	// structure be torn down mid-walk; pin it until the walk is over.
	anon := p.GetAnonRegion()

	rc := error(ErrAgain)

	if !p.Mapped() {
		// Nothing points at the page; trivially unmapped.
		rc = nil
	} else {
		space := p.MappingSpace()

		done, err := space.TryToUnmap(p, w)

		switch {
		case err != nil:
			// The window rejected a record; restore what the walk had
			// converted and abort the batch.
			space.RestoreRelocations(p, p)
			p.Unlock()
			rc = err
		case done:
			rc = nil
		default:
			// Partial removal: put the converted entries back and
			// retry the whole page next pass.
			space.RestoreRelocations(p, p)
			p.Unlock()
			rc = ErrAgain
		}
	}

	if anon != nil {
		anon.Put()
	}

	return rc
}

// unmapPages drains pending into unmapped, retrying transient failures
// for up to maxPasses passes. It returns the number of pages left
// pending; a non-zero residual or an invariant violation aborts the
// batch before the monitor is ever called.
func unmapPages(pending, unmapped *mm.PageList, mode Mode, w *Window) (int, error) {
	retry := 1

	for pass := 0; pass < maxPasses && retry > 0; pass++ {
		retry = 0

		for p := pending.Front(); p != nil; {
			next := p.Next()

			runtime.Gosched()

			err := unmapPage(p, pass > 2, mode, w)

			switch {
			case err == nil:
				pending.Remove(p)
				unmapped.PushBack(p)
			case errors.Is(err, ErrAgain):
				retry++

				if pass == maxPasses-1 {
					log.Printf("sma: unmap pass %d: pfn %#x still busy, mapcount %d",
						pass, p.PFN(), p.MapCount())
				}
			default:
				return pending.Len(), err
			}

			p = next
		}
	}

	if residual := pending.Len(); residual > 0 {
		return residual, fmt.Errorf("%w: %d pages", ErrUnmapIncomplete, residual)
	}

	return 0, nil
}
