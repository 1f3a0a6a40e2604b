package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"epc/alloc"
	"epc/instr"
	"epc/limits"
	"epc/page"
	"epc/section"
)

var errBankOpenFailed = errors.New("manager test: bank open failed")

func withSimulated(t *testing.T) *instr.Simulated {
	t.Helper()
	sim := instr.NewSimulated()
	prev := instr.Set
	instr.Set = sim
	t.Cleanup(func() { instr.Set = prev })
	return sim
}

func TestDiscoverSectionsStopsAtFirstInvalidSubleaf(t *testing.T) {
	calls := 0
	probe := func(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
		calls++
		switch subleaf {
		case 2:
			// bank 0: pa=0x1000_0000, size=0x0010_0000
			return 0x10000001, 0x00000000, 0x00100000, 0x00000000
		case 3:
			// bank 1: pa=0x2000_0000, size=0x0020_0000
			return 0x20000001, 0x00000000, 0x00200000, 0x00000000
		default:
			return 0, 0, 0, 0 // eax&0xf == 0 -> stop
		}
	}

	banks := DiscoverSections(probe, 8)
	require.Len(t, banks, 2)
	require.Equal(t, uintptr(0x10000000), banks[0].PhysBase)
	require.Equal(t, uintptr(0x100000), banks[0].Size)
	require.Equal(t, uintptr(0x20000000), banks[1].PhysBase)
	require.Equal(t, uintptr(0x200000), banks[1].Size)
	require.Equal(t, 3, calls, "stops scanning right after the first empty sub-leaf")
}

func TestDiscoverSectionsRespectsMaxSections(t *testing.T) {
	probe := func(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
		return 1, 0, 0x1000, 0 // every sub-leaf reports a valid bank
	}
	banks := DiscoverSections(probe, 3)
	require.Len(t, banks, 3)
}

func TestBuildSectionsMapsEachBank(t *testing.T) {
	banks := []Bank{
		{PhysBase: 0x1000, Size: uintptr(4 * section.PageSize)},
		{PhysBase: 0x2000, Size: uintptr(2 * section.PageSize)},
	}
	sections, err := BuildSections(banks, section.AnonymousOpener())
	require.NoError(t, err)
	require.Len(t, sections, 2)
	require.Len(t, sections[0].Pages(), 4)
	require.Len(t, sections[1].Pages(), 2)
}

func TestBuildSectionsPropagatesOpenFailureOfLaterBank(t *testing.T) {
	failing := func(physBase, size uintptr) (section.MapRequest, error) {
		if physBase == 0x2000 {
			return section.MapRequest{}, errBankOpenFailed
		}
		return section.AnonymousOpener()(physBase, size)
	}
	banks := []Bank{
		{PhysBase: 0x1000, Size: uintptr(section.PageSize)},
		{PhysBase: 0x2000, Size: uintptr(section.PageSize)},
	}
	sections, err := BuildSections(banks, failing)
	require.Nil(t, sections)
	require.Error(t, err)
	require.Contains(t, err.Error(), errBankOpenFailed.Error())
}

func TestManagerCloseUnmapsSections(t *testing.T) {
	withSimulated(t)
	banks := []Bank{{PhysBase: 0x1000, Size: uintptr(section.PageSize)}}
	sections, err := BuildSections(banks, section.AnonymousOpener())
	require.NoError(t, err)

	mgr, err := New(sections, limits.Default(), prometheus.NewRegistry(), false, func(i int, v uint64) {}, 1)
	require.NoError(t, err)

	require.NoError(t, mgr.Close())
}

func TestManagerEndToEndAllocAndReclaim(t *testing.T) {
	withSimulated(t)
	banks := []Bank{{PhysBase: 0x1000, Size: uintptr(2 * section.PageSize)}}
	sections, err := BuildSections(banks, section.AnonymousOpener())
	require.NoError(t, err)

	lim := limits.Default()
	lim.Cluster = 2
	reg := prometheus.NewRegistry()

	mgr, err := New(sections, lim, reg, false, func(i int, v uint64) {}, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.Start(ctx)
	defer mgr.Stop()

	pg1, errt := mgr.Alloc.TryAlloc()
	require.Equal(t, instr.Err_t(0), errt)
	require.NotNil(t, pg1)

	snap := mgr.Snapshot()
	require.Equal(t, int64(2), snap.TotalPages)
	require.Equal(t, int64(1), snap.FreePages)

	_, errt = mgr.Alloc.TryAlloc()
	require.Equal(t, instr.Err_t(0), errt)

	_, errt = mgr.Alloc.TryAlloc()
	require.Equal(t, instr.OutOfMemory, errt)

	// Hand the reclaimer a reclaimable page before blocking on Alloc:
	// push pg1 onto the active list with a consenting fake owner so the
	// background Reclaimer.Run loop can free it once woken, and so Alloc
	// itself sees a non-empty ActiveList instead of failing fast with
	// OutOfMemory.
	pg1.Owner = &alwaysConsentOwner{}
	mgr.ActiveList().PushBack(pg1)

	ctxAlloc, cancelAlloc := context.WithTimeout(context.Background(), time.Second)
	defer cancelAlloc()

	done := make(chan struct{})
	go func() {
		pg, errt := mgr.Alloc.Alloc(ctxAlloc, alloc.Flags{})
		require.Equal(t, instr.Err_t(0), errt)
		require.NotNil(t, pg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("allocation never unblocked after reclaim")
	}
}

// alwaysConsentOwner is a minimal page.Owner that never vetoes and
// never fails, just enough to exercise the allocator-reclaimer
// handoff end to end.
type alwaysConsentOwner struct{}

func (alwaysConsentOwner) Get(p *page.EpcPage) error     { return nil }
func (alwaysConsentOwner) Put(p *page.EpcPage)           {}
func (alwaysConsentOwner) Reclaim(p *page.EpcPage) error { return nil }
func (alwaysConsentOwner) Block(p *page.EpcPage) error   { return instr.Block(p.PA) }
func (alwaysConsentOwner) Write(p *page.EpcPage) error   { return nil }
