package mm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gosma-dev/gosma/mm"
)

// recorder collects Record calls for inspection.
type recorder struct {
	vms  []uint32
	ipns []uint64
	err  error
}

func (r *recorder) Record(secVMID uint32, ipn uint64) error {
	if r.err != nil {
		return r.err
	}

	r.vms = append(r.vms, secVMID)
	r.ipns = append(r.ipns, ipn)

	return nil
}

func TestMapTranslate(t *testing.T) {
	t.Parallel()

	as := mm.NewAddressSpace(7)
	p := mm.NewPage(0x100, true)

	require.NoError(t, as.Map(0x10, p))
	require.Equal(t, 1, p.MapCount())
	require.Equal(t, 2, p.RefCount(), "a mapping holds a reference")
	require.True(t, p.Anon())
	require.Equal(t, as, p.MappingSpace())

	pfn, ok := as.Translate(0x10)
	require.True(t, ok)
	require.Equal(t, mm.PFN(0x100), pfn)

	require.ErrorIs(t, as.Map(0x10, mm.NewPage(0x101, true)), mm.ErrIPNInUse)
}

func TestMapSecondSpace(t *testing.T) {
	t.Parallel()

	p := mm.NewPage(0x100, true)

	require.NoError(t, mm.NewAddressSpace(1).Map(0x10, p))
	require.ErrorIs(t, mm.NewAddressSpace(2).Map(0x20, p), mm.ErrSpaceMismatch)
}

func TestUnmapDropsReference(t *testing.T) {
	t.Parallel()

	as := mm.NewAddressSpace(7)
	p := mm.NewPage(0x100, true)

	require.NoError(t, as.Map(0x10, p))
	require.NoError(t, as.Unmap(0x10))
	require.Equal(t, 0, p.MapCount())
	require.Equal(t, 1, p.RefCount())

	require.ErrorIs(t, as.Unmap(0x10), mm.ErrNotMapped)
}

func TestTryToUnmapRecords(t *testing.T) {
	t.Parallel()

	as := mm.NewAddressSpace(7)
	p := mm.NewPage(0x100, true)

	require.NoError(t, as.Map(0x10, p))
	require.NoError(t, as.Map(0x11, p))

	rec := &recorder{}

	done, err := as.TryToUnmap(p, rec)
	require.NoError(t, err)
	require.True(t, done)

	require.Equal(t, 0, p.MapCount())
	require.Equal(t, 3, p.RefCount(), "relocation entries keep their references")
	require.ElementsMatch(t, []uint64{0x10, 0x11}, rec.ipns)
	require.Equal(t, []uint32{7, 7}, rec.vms)

	_, ok := as.Translate(0x10)
	require.False(t, ok, "relocation entries do not translate")
}

func TestTryToUnmapPinnedRollsBack(t *testing.T) {
	t.Parallel()

	as := mm.NewAddressSpace(7)
	p := mm.NewPage(0x100, true)

	require.NoError(t, as.Map(0x10, p))
	require.NoError(t, as.Map(0x11, p))
	require.NoError(t, as.Pin(0x11))

	done, err := as.TryToUnmap(p, &recorder{})
	require.NoError(t, err)
	require.False(t, done)

	// Every entry the walk converted must be live again.
	require.Equal(t, 2, p.MapCount())

	for _, ipn := range []uint64{0x10, 0x11} {
		_, ok := as.Translate(ipn)
		require.True(t, ok, "ipn %#x must be restored", ipn)
	}

	require.NoError(t, as.Unpin(0x11))

	done, err = as.TryToUnmap(p, &recorder{})
	require.NoError(t, err)
	require.True(t, done)
}

func TestRestoreRelocationsOntoNewPage(t *testing.T) {
	t.Parallel()

	as := mm.NewAddressSpace(7)
	src := mm.NewPage(0x100, true)
	dst := mm.NewPage(0x200, true)

	require.NoError(t, as.Map(0x10, src))
	require.NoError(t, as.Map(0x11, src))

	done, err := as.TryToUnmap(src, &recorder{})
	require.NoError(t, err)
	require.True(t, done)

	src.Lock()
	dst.Lock()
	require.NoError(t, mm.MoveToNewPage(dst, src))
	as.RestoreRelocations(src, dst)
	dst.Unlock()
	src.Unlock()

	require.Equal(t, 2, dst.MapCount())
	require.Equal(t, 1, src.RefCount(), "source keeps only the caller's hold")
	require.Equal(t, 4, dst.RefCount(), "hold + move + two mappings")

	for _, ipn := range []uint64{0x10, 0x11} {
		pfn, ok := as.Translate(ipn)
		require.True(t, ok)
		require.Equal(t, mm.PFN(0x200), pfn)
	}
}

func TestMoveToNewPageRejectsMapped(t *testing.T) {
	t.Parallel()

	as := mm.NewAddressSpace(7)
	src := mm.NewPage(0x100, true)
	dst := mm.NewPage(0x200, true)

	require.NoError(t, as.Map(0x10, src))
	require.ErrorIs(t, mm.MoveToNewPage(dst, src), mm.ErrMapped)

	busy := mm.NewPage(0x300, true)
	require.NoError(t, as.Map(0x11, busy))

	done, err := as.TryToUnmap(src, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.ErrorIs(t, mm.MoveToNewPage(busy, src), mm.ErrMapped)
}

func TestGetAnonRegion(t *testing.T) {
	t.Parallel()

	as := mm.NewAddressSpace(7)
	p := mm.NewPage(0x100, true)

	require.Nil(t, p.GetAnonRegion(), "never-mapped page has no rmap structure")

	require.NoError(t, as.Map(0x10, p))

	anon := p.GetAnonRegion()
	require.NotNil(t, anon)
	require.Equal(t, 1, anon.Refs())
	anon.Put()
	require.Equal(t, 0, anon.Refs())

	done, err := as.TryToUnmap(p, nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, p.GetAnonRegion(), "no stabilizing reference once unmapped")
}

func TestTouchFaultHook(t *testing.T) {
	t.Parallel()

	as := mm.NewAddressSpace(7)
	rec := &recorder{}
	as.FaultHook = rec

	p := mm.NewPage(0x100, true)
	require.NoError(t, as.Map(0x10, p))

	require.True(t, as.Touch(0x10), "live mapping hits")
	require.Empty(t, rec.ipns)

	done, err := as.TryToUnmap(p, nil)
	require.NoError(t, err)
	require.True(t, done)

	require.False(t, as.Touch(0x10), "relocation entry faults")
	require.False(t, as.Touch(0x99), "absent entry faults")
	require.Equal(t, []uint64{0x10, 0x99}, rec.ipns)
}

func TestRegionSupply(t *testing.T) {
	t.Parallel()

	r := mm.NewRegion(0x1000, 2)
	require.Equal(t, mm.PFN(0x1000), r.Base())
	require.Equal(t, 2, r.Free())

	src := mm.NewPage(0x100, true)

	first := r.Get(src)
	require.NotNil(t, first)
	require.Equal(t, mm.PFN(0x1000), first.PFN(), "pages supplied in ascending order")
	require.True(t, first.Secure())

	second := r.Get(src)
	require.NotNil(t, second)
	require.Nil(t, r.Get(src), "exhausted region supplies nothing")

	r.Put(first)
	require.Equal(t, 1, r.Free())

	require.Panics(t, func() { r.Put(first) }, "double release")
	require.Panics(t, func() { r.Put(mm.NewPage(0x5000, true)) }, "foreign page")
}

func TestTaskFlags(t *testing.T) {
	// Task flags are process-wide; do not run in parallel with other
	// flag users.
	require.False(t, mm.HasTaskFlag(mm.TaskMemalloc))

	already := mm.SetTaskFlag(mm.TaskMemalloc)
	require.False(t, already)
	require.True(t, mm.HasTaskFlag(mm.TaskMemalloc))

	require.True(t, mm.SetTaskFlag(mm.TaskMemalloc))

	mm.ClearTaskFlag(mm.TaskMemalloc)
	require.False(t, mm.HasTaskFlag(mm.TaskMemalloc))
}
