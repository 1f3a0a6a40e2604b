// Package section models one EPC bank as reported by firmware: a
// contiguous physical range, its mapping into this process's virtual
// address space, and the free-page stack for pages in that range.
//
// Grounded on biscuit's mem.Physmem_t (src/mem/mem.go), which owns a
// flat array of per-page metadata and a singly-linked free list
// threaded through that array by index rather than by pointer. Section
// keeps the same "array of metadata + free list" shape, with the free
// list held as a slice-backed stack, one level up: each EpcSection owns
// a disjoint slice of *page.EpcPage,
// since this module does not multiplex one array across every caller
// the way Physmem_t does.
package section

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"epc/page"
)

// Section is one physical EPC bank.
type Section struct {
	// Index identifies this section within the registry.
	Index int

	// PhysBase and Size describe the firmware-reported physical range.
	PhysBase uintptr
	Size     uintptr

	// mapping is the virtual range this section's physical range is
	// mapped into, obtained via unix.Mmap against the platform's EPC
	// character device region — the portable equivalent of biscuit's
	// own direct map (mem.Dmap_init), which relies on a patched
	// runtime (runtime.Cpuid/Vtop) unavailable outside biscuit itself.
	mapping []byte

	mu sync.Mutex
	// free is a LIFO stack of pages available for allocation in this
	// section. Pages pop off the tail.
	free []*page.EpcPage

	// pages is every page this section owns, indexed by
	// (pa-PhysBase)/PageSize. Immutable after New.
	pages []*page.EpcPage

	// unsanitized holds the pages New created that still need their
	// contents zeroed before they may be handed to an owner. Kept
	// separate from free so no page is allocated before Sanitize has
	// zeroed it. Pages returned through Free never pass through it.
	unsanitized []*page.EpcPage
}

// PageSize is the enclave page size; EPC sections are always a whole
// multiple of it.
const PageSize = 4096

// MapRequest describes how Section should obtain its backing virtual
// mapping: an fd/offset pair plus the mmap flags to use. Production
// callers open the platform's EPC character device region and return
// MAP_SHARED; tests return an anonymous mapping (fd -1, MAP_ANONYMOUS)
// so a section can be exercised without real SGX hardware.
type MapRequest struct {
	Fd     int
	Offset int64
	Flags  int
}

// Opener abstracts obtaining a Section's backing mapping.
type Opener func(physBase, size uintptr) (MapRequest, error)

// AnonymousOpener returns an Opener backing each section with ordinary
// anonymous memory, for tests and for running against a software
// Simulated instruction backend with no real EPC character device.
func AnonymousOpener() Opener {
	return func(physBase, size uintptr) (MapRequest, error) {
		return MapRequest{Fd: -1, Offset: 0, Flags: unix.MAP_SHARED | unix.MAP_ANONYMOUS}, nil
	}
}

// New constructs a Section covering [physBase, physBase+size) and maps
// it via open. Pages start in the unsanitized pool: callers must run
// Sanitize (or, in tests, seed synthetic memory directly) before
// allocating out of a freshly discovered section, matching how the
// original driver only trusts EPC content after its own zeroing pass.
func New(index int, physBase, size uintptr, open Opener) (*Section, error) {
	if size%PageSize != 0 {
		return nil, fmt.Errorf("section %d: size %d not page-aligned", index, size)
	}
	req, err := open(physBase, size)
	if err != nil {
		return nil, fmt.Errorf("section %d: open backing region: %w", index, err)
	}
	mapping, err := unix.Mmap(req.Fd, req.Offset, int(size), unix.PROT_READ|unix.PROT_WRITE, req.Flags)
	if err != nil {
		return nil, fmt.Errorf("section %d: mmap: %w", index, err)
	}

	n := int(size / PageSize)
	s := &Section{
		Index:    index,
		PhysBase: physBase,
		Size:     size,
		mapping:  mapping,
		pages:    make([]*page.EpcPage, n),
	}
	for i := 0; i < n; i++ {
		pg := page.New(physBase+uintptr(i)*PageSize, index)
		s.pages[i] = pg
		s.unsanitized = append(s.unsanitized, pg)
	}
	return s, nil
}

// Unmap releases the section's virtual mapping. Called during manager
// teardown.
func (s *Section) Unmap() error {
	if s.mapping == nil {
		return nil
	}
	err := unix.Munmap(s.mapping)
	s.mapping = nil
	return err
}

// Pages returns every page this section owns, in index order. Used by
// the registry to build its section-lookup table and by tests.
func (s *Section) Pages() []*page.EpcPage {
	return s.pages
}

// Sanitize zeroes every unsanitized page and moves it to the free
// stack. Called once at boot after New. Reclaimed pages do not pass
// through it: the reclaimer returns them to free directly with Free
// (they were never handed out with stale contents exposed to a new
// owner, because EREMOVE/writeback already invalidated them).
func (s *Section) Sanitize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pg := range s.unsanitized {
		s.zero(pg)
		s.free = append(s.free, pg)
	}
	s.unsanitized = nil
}

func (s *Section) zero(pg *page.EpcPage) {
	off := pg.PA - s.PhysBase
	clear(s.mapping[off : off+PageSize])
}

// TryAlloc pops one page off the free stack, or returns nil if empty.
func (s *Section) TryAlloc() *page.EpcPage {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.free)
	if n == 0 {
		return nil
	}
	pg := s.free[n-1]
	s.free[n-1] = nil
	s.free = s.free[:n-1]
	return pg
}

// Free pushes pg back onto the free stack. The caller must have
// already invalidated pg's contents (EREMOVE or a completed
// writeback); Free does not re-zero memory, since the hardware
// invalidation is what actually matters for confidentiality, not the
// bytes visible to this process.
func (s *Section) Free(pg *page.EpcPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg.Owner = nil
	s.free = append(s.free, pg)
}

// FreeCount returns the number of immediately allocatable pages in
// this section.
func (s *Section) FreeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free)
}
