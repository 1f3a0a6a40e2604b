package alloc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"epc/accnt"
	"epc/activelist"
	"epc/instr"
	"epc/limits"
	"epc/page"
	"epc/registry"
	"epc/section"
	"epc/tinfo"
	"epc/wake"
)

// newTestAllocator builds an Allocator backed by pages immediately
// allocatable sections. active is seeded with one placeholder
// candidate so the blocking tests (which expect Alloc to drive the
// reclaimer via wake rather than short-circuit to OutOfMemory) see a
// non-empty ActiveList, matching what a real Allocator would observe
// once pages have actually been handed out to an owner.
func newTestAllocator(t *testing.T, pages int) (*Allocator, *registry.Registry, *limits.Counter) {
	t.Helper()
	s, err := section.New(0, 0x1000, uintptr(pages*section.PageSize), section.AnonymousOpener())
	require.NoError(t, err)
	s.Sanitize()
	reg := registry.New([]*section.Section{s})

	free := &limits.Counter{}
	free.Store(int64(pages))

	lim := limits.Default()
	w := wake.New()
	var acc accnt.Accnt

	active := &activelist.List{}
	active.PushBack(page.New(0xdead0000, 0))

	a := New(reg, lim, free, w, active, &acc, nil)
	return a, reg, free
}

func TestTryAllocExhaustsThenFails(t *testing.T) {
	a, _, free := newTestAllocator(t, 2)

	_, err := a.TryAlloc()
	require.Equal(t, instr.Err_t(0), err)
	_, err = a.TryAlloc()
	require.Equal(t, instr.Err_t(0), err)

	_, err = a.TryAlloc()
	require.Equal(t, instr.OutOfMemory, err)
	require.Equal(t, int64(0), free.Load())
}

func TestAllocDrivesReclaimerWhenExhausted(t *testing.T) {
	a, reg, free := newTestAllocator(t, 1)

	_, err := a.TryAlloc()
	require.Equal(t, instr.Err_t(0), err)

	done := make(chan struct{})
	go func() {
		req := <-a.wake.Recv()
		// simulate the reclaimer freeing one page back into section 0.
		s := reg.Sections()[0]
		pg := s.Pages()[0]
		s.Free(pg)
		free.Add(1)
		wake.Done(req)
		close(done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pg, err := a.Alloc(ctx, Flags{})
	require.Equal(t, instr.Err_t(0), err)
	require.NotNil(t, pg)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reclaimer goroutine never ran")
	}
}

func TestAllocReturnsInterruptedOnKill(t *testing.T) {
	a, _, _ := newTestAllocator(t, 1)
	_, err := a.TryAlloc()
	require.Equal(t, instr.Err_t(0), err)

	note := tinfo.New()
	ctx := tinfo.WithNote(context.Background(), note)

	// Drain the reclaimer request so Alloc doesn't just hang on send,
	// then kill the note before replying.
	go func() {
		<-a.wake.Recv()
		note.Kill()
	}()

	_, err = a.Alloc(ctx, Flags{})
	require.Equal(t, instr.Interrupted, err)
}

func TestAllocReturnsInterruptedOnContextCancel(t *testing.T) {
	a, _, _ := newTestAllocator(t, 1)
	_, err := a.TryAlloc()
	require.Equal(t, instr.Err_t(0), err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-a.wake.Recv()
		cancel()
	}()

	_, err = a.Alloc(ctx, Flags{})
	require.Equal(t, instr.Interrupted, err)
}

func TestAllocReturnsOutOfMemoryWhenActiveListEmpty(t *testing.T) {
	a, _, _ := newTestAllocator(t, 1)
	_, err := a.TryAlloc()
	require.Equal(t, instr.Err_t(0), err)

	// Drain the placeholder candidate newTestAllocator seeded, so
	// ActiveList truly has nothing left for the reclaimer to work with.
	a.active.Remove(a.active.Front())
	require.Equal(t, 0, a.active.Len())

	pg, err := a.Alloc(context.Background(), Flags{})
	require.Nil(t, pg)
	require.Equal(t, instr.OutOfMemory, err)
}

func TestAllocReturnsBusyWhenAtomicAndExhausted(t *testing.T) {
	a, _, _ := newTestAllocator(t, 1)
	_, err := a.TryAlloc()
	require.Equal(t, instr.Err_t(0), err)
	require.Greater(t, a.active.Len(), 0, "ActiveList must still hold a candidate")

	pg, err := a.Alloc(context.Background(), Flags{Atomic: true})
	require.Nil(t, pg)
	require.Equal(t, instr.Busy, err)
}
