//go:build linux

package monitor

import (
	"testing"
	"unsafe"

	"github.com/gosma-dev/gosma/mm"
)

// The driver ABI is fixed: a 32-byte header followed by the 2048-entry
// intermediate-address table, with no hidden padding.
func TestWireRequestLayout(t *testing.T) {
	t.Parallel()

	var w wireRequest

	if got := unsafe.Sizeof(w); got != 32+8*mm.BatchPages {
		t.Fatalf("wireRequest size %d, want %d", got, 32+8*mm.BatchPages)
	}

	if got := unsafe.Offsetof(w.srcStartPFN); got != 8 {
		t.Fatalf("srcStartPFN offset %d, want 8", got)
	}

	if got := unsafe.Offsetof(w.ipnList); got != 32 {
		t.Fatalf("ipnList offset %d, want 32", got)
	}
}

func TestOpenDeviceMissing(t *testing.T) {
	t.Parallel()

	if _, err := OpenDevice("/dev/does-not-exist"); err == nil {
		t.Fatal("OpenDevice on a missing path must fail")
	}
}
