package mm

import "fmt"

// MoveToNewPage transfers the address-space identity of src onto dst
// without touching page contents: for secure pages the bytes have
// already been relocated out-of-band by the secure monitor, and the
// host is not permitted to copy them itself.
//
// dst must be a fresh, unmapped page; src must have no live mappings
// left. On success dst carries src's reverse-mapping structure plus
// one reference contributed by this operation; src's relocation
// entries still point at src until RestoreRelocations re-establishes
// them onto dst. Both page locks must be held.
func MoveToNewPage(dst, src *Page) error {
	if src.Mapped() {
		return fmt.Errorf("%w: source page %#x", ErrMapped, src.pfn)
	}

	if dst.Mapped() || dst.anon != nil {
		return fmt.Errorf("%w: destination page %#x is in use", ErrMapped, dst.pfn)
	}

	dst.anon = src.anon
	src.anon = nil
	dst.Get()

	return nil
}
