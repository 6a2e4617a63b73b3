package migrate

import (
	"errors"
	"testing"

	"github.com/gosma-dev/gosma/mm"
)

func TestWindowRecord(t *testing.T) {
	t.Parallel()

	w := &Window{}
	w.begin()

	if !w.Open() {
		t.Fatal("window must be open after begin")
	}

	for _, ipn := range []uint64{0x10, 0x11, 0x12} {
		if err := w.Record(7, ipn); err != nil {
			t.Fatalf("Record(%#x): %v", ipn, err)
		}
	}

	// The table is a set; re-recording is dropped.
	if err := w.Record(7, 0x11); err != nil {
		t.Fatalf("duplicate Record: %v", err)
	}

	if got := w.Pages(); got != 3 {
		t.Fatalf("Pages() = %d, want 3", got)
	}

	if got := w.SecVMID(); got != 7 {
		t.Fatalf("SecVMID() = %d, want 7", got)
	}

	table := w.Table()
	for i, want := range []uint64{0x10, 0x11, 0x12} {
		if table[i] != want {
			t.Fatalf("table[%d] = %#x, want %#x", i, table[i], want)
		}
	}

	if table[3] != 0 {
		t.Fatalf("table[3] = %#x, want unused entry zero", table[3])
	}
}

func TestWindowClosedDropsRecords(t *testing.T) {
	t.Parallel()

	w := &Window{}

	if err := w.Record(7, 0x10); err != nil {
		t.Fatalf("Record on closed window: %v", err)
	}

	w.begin()
	w.end()

	if err := w.Record(7, 0x10); err != nil {
		t.Fatalf("Record after end: %v", err)
	}

	if got := w.Pages(); got != 0 {
		t.Fatalf("Pages() = %d, want 0: closed windows track nothing", got)
	}
}

func TestWindowCapacity(t *testing.T) {
	t.Parallel()

	w := &Window{}
	w.begin()

	for i := 0; i < mm.BatchPages; i++ {
		if err := w.Record(7, uint64(i+1)); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	err := w.Record(7, uint64(mm.BatchPages+1))
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("record %d = %v, want ErrInvariant", mm.BatchPages+1, err)
	}
}

func TestWindowCompartmentMismatch(t *testing.T) {
	t.Parallel()

	w := &Window{}
	w.begin()

	if err := w.Record(7, 0x10); err != nil {
		t.Fatal(err)
	}

	if err := w.Record(8, 0x11); !errors.Is(err, ErrInvariant) {
		t.Fatalf("cross-compartment record = %v, want ErrInvariant", err)
	}
}

func TestWindowResetBetweenBatches(t *testing.T) {
	t.Parallel()

	w := &Window{}
	w.begin()

	if err := w.Record(7, 0x10); err != nil {
		t.Fatal(err)
	}

	w.end()
	w.begin()

	if got := w.Pages(); got != 0 {
		t.Fatalf("Pages() = %d after reset, want 0", got)
	}

	if got := w.SecVMID(); got != 0 {
		t.Fatalf("SecVMID() = %d after reset, want 0", got)
	}

	// A different compartment may own the next batch.
	if err := w.Record(9, 0x20); err != nil {
		t.Fatal(err)
	}
}
