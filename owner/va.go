// Package owner implements page.Owner: the capability contract an EPC
// page's controlling object satisfies so the registry and reclaimer
// can get/put/reclaim/block/write it without knowing what kind of
// enclave-like thing owns it.
//
// Grounded on the Linux SGX driver's sgx_encl_page_ops vtable
// (original_source/drivers/platform/x86/intel_sgx/sgx_encl_page.c):
// sgx_encl_page_get/put/reclaim/block/write become the methods on
// Enclave below, and sgx_alloc_va_page/sgx_alloc_va_slot/
// sgx_free_va_slot/sgx_va_page_full become VAPage and VARing here.
package owner

import (
	"errors"
	"sync"

	"epc/instr"
	"epc/page"
)

// slotsPerVAPage and slotStride mirror limits.SlotsPerVAPage/SlotStride.
// They are fixed constants of the VA page format used here (32 slots
// of 8 bytes each, the first 256 bytes of the 4K EPC page), not
// configuration, so this package does not import limits for them.
const (
	slotsPerVAPage = 32
	slotStride     = 8
)

// VAPage is one version-array EPC page: 32 byte-addressable slots, each
// either free or holding one child page's version-array entry. The
// bitmap mirrors sgx_encl's per-VA-page unsigned long bitmap.
type VAPage struct {
	Page  *page.EpcPage
	slots uint32 // bit i set => slot i occupied
}

// NewVAPage wraps an already-EPA'd EPC page as an empty VA page.
func NewVAPage(pg *page.EpcPage) *VAPage {
	return &VAPage{Page: pg}
}

// AllocSlot finds the first free slot, marks it occupied, and returns
// its byte offset within the VA page (slot index * slotStride, as the
// hardware's ENCLS[EWB] VA-slot operand expects).
func (v *VAPage) AllocSlot() (offset int, ok bool) {
	for i := 0; i < slotsPerVAPage; i++ {
		if v.slots&(1<<uint(i)) == 0 {
			v.slots |= 1 << uint(i)
			return i * slotStride, true
		}
	}
	return 0, false
}

// FreeSlot clears the slot at offset, mirroring sgx_free_va_slot.
func (v *VAPage) FreeSlot(offset int) {
	i := offset / slotStride
	v.slots &^= 1 << uint(i)
}

// Full reports whether every slot is occupied, mirroring
// sgx_va_page_full.
func (v *VAPage) Full() bool {
	return v.slots == 1<<slotsPerVAPage-1
}

// Empty reports whether every slot is free.
func (v *VAPage) Empty() bool {
	return v.slots == 0
}

var errVARingExhausted = errors.New("owner: no va slot available and no allocator to grow the ring")

// VARing is an enclave's collection of VA pages, always handing out
// slots from the front and rotating a page to the back once it fills,
// so the next allocation naturally tries a different page instead of
// rescanning a full one. New VA pages are grown lazily via newPage,
// which the caller wires to an Allocator (TryAlloc) plus instr.Pa to
// type the fresh page as a VA page, mirroring sgx_alloc_va_page.
type VARing struct {
	mu      sync.Mutex
	pages   []*VAPage
	newPage func() (*VAPage, error)
}

// NewVARing builds a ring that grows by calling newPage whenever the VA
// page at the front of the ring is full (or none exist yet).
func NewVARing(newPage func() (*VAPage, error)) *VARing {
	return &VARing{newPage: newPage}
}

// Alloc returns a VA page and a free slot offset within it, growing
// the ring if necessary.
func (r *VARing) Alloc() (*VAPage, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.pages) == 0 {
		if r.newPage == nil {
			return nil, 0, errVARingExhausted
		}
		vp, err := r.newPage()
		if err != nil {
			return nil, 0, err
		}
		r.pages = append(r.pages, vp)
	}

	front := r.pages[0]
	offset, ok := front.AllocSlot()
	if !ok {
		// The front is full on entry when the page that filled last was
		// rotated back with no non-full page ahead of it (e.g. every page
		// is full). Grow a new page and put it at the front, so later
		// calls allocate from it.
		if r.newPage == nil {
			return nil, 0, errVARingExhausted
		}
		vp, err := r.newPage()
		if err != nil {
			return nil, 0, err
		}
		r.pages = append([]*VAPage{vp}, r.pages...)
		front = vp
		offset, ok = front.AllocSlot()
		if !ok {
			return nil, 0, errVARingExhausted
		}
	}

	if front.Full() {
		r.pages = append(r.pages[1:], front)
	}
	return front, offset, nil
}

// Free releases a previously allocated slot back to its VA page.
func (r *VARing) Free(vp *VAPage, offset int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vp.FreeSlot(offset)
}

// allocVAPage is the default newPage collaborator: allocate a fresh EPC
// page via alloc and type it as a VA page with ENCLS[EPA], mirroring
// sgx_alloc_va_page. allocator is any type with TryAlloc() (*page.EpcPage,
// instr.Err_t) -- Allocator satisfies this structurally.
func allocVAPage(allocator interface {
	TryAlloc() (*page.EpcPage, instr.Err_t)
}) (*VAPage, error) {
	pg, errt := allocator.TryAlloc()
	if errt != 0 {
		return nil, errt
	}
	if errt := instr.Pa(pg.PA); errt != 0 {
		return nil, errt
	}
	return NewVAPage(pg), nil
}

// NewAllocatingVARing is the production constructor: slots are grown by
// allocating a fresh page from allocator and typing it with EPA.
func NewAllocatingVARing(allocator interface {
	TryAlloc() (*page.EpcPage, instr.Err_t)
}) *VARing {
	return NewVARing(func() (*VAPage, error) {
		return allocVAPage(allocator)
	})
}
