// Package page defines EpcPage, the unit the rest of this module
// allocates, reclaims, and hands to owners, and the Owner contract a
// page's occupant must satisfy. It intentionally has no dependency on
// who allocates pages (section/registry) or who reclaims them
// (activelist/reclaim): those packages import page, not the reverse,
// so EpcPage.Owner can hold a value of any concrete owner type without
// an import cycle. This mirrors how biscuit's mem.Page_i interface
// lets circbuf and other callers swap in a fake allocator without
// mem importing its callers.
package page

import "sync/atomic"

// Owner is the capability contract a page's occupant implements.
// get/put/reclaim/block/write in spec.md §4.7, expressed as Go methods.
// Implementations are expected to be safe for concurrent use: the
// reclaimer may call Reclaim, Block, and Write from its own goroutine
// while the owner's own code calls Get/Put concurrently.
type Owner interface {
	// Get pins the page against concurrent reclaim. An owner that
	// cannot presently honor this (e.g. already dead) returns a
	// non-nil error and the caller must not use the page.
	Get(p *EpcPage) error

	// Put releases a pin taken by Get.
	Put(p *EpcPage)

	// Reclaim is the reclaimer's consent request: the owner may veto
	// by returning a non-nil error (for example because the page was
	// used again since being marked young and should survive this
	// pass), in which case the reclaimer rotates the page to the tail
	// of ActiveList and moves to the next candidate.
	Reclaim(p *EpcPage) error

	// Block transitions the page to blocked state (EBLOCK) from the
	// owner's perspective, e.g. updating its own page tables so no
	// caller observes a stale mapping. Implementations issue EBLOCK
	// themselves via the instr package.
	Block(p *EpcPage) error

	// Write performs the encrypted writeback of p to backing storage
	// and frees any owner-side VA slot it consumed. Implementations
	// issue EWB (with the NOT_TRACKED retry protocol) via instr.
	Write(p *EpcPage) error
}

// EpcPage is one physical enclave page. The fields below are owned by
// different subsystems under different locks: Owner is set once under
// the owning section's lock and read thereafter without
// synchronization by convention (an EpcPage is never handed to a new
// owner without first passing back through the free pool, which
// establishes a happens-before edge); the young bit is accessed only
// atomically; the ActiveList linkage is guarded by the lock of the
// activelist.List the page is on.
type EpcPage struct {
	// PA is the physical address of this page. Immutable for the
	// life of the process.
	PA uintptr

	// SectionIndex identifies which EpcSection this page belongs to.
	// Immutable.
	SectionIndex int

	// Owner is the current occupant, or nil if the page is free. Only
	// the allocator (under the section's free-stack lock) and the
	// reclaimer (after a completed write-back) may transition this
	// between nil and non-nil.
	Owner Owner

	// Young is the approximate-LRU "recently used" bit the owner's Get
	// sets and the reclaimer's select phase clears (moving the page to
	// the tail instead of reclaiming it) when set. Accessed only via
	// atomic so a concurrent Get needs no lock.
	young uint32

	// listNode links this page into ActiveList. Guarded by the
	// activelist.List's own lock; unexported so only that package
	// mutates it.
	listNode listNode
}

type listNode struct {
	prev, next *EpcPage
	inList     bool
}

// New constructs an EpcPage for the given physical address and owning
// section. Sections call this once at boot for every page in their
// range.
func New(pa uintptr, sectionIndex int) *EpcPage {
	return &EpcPage{PA: pa, SectionIndex: sectionIndex}
}

// MarkYoung sets the young bit. Owners call this from Get.
func (p *EpcPage) MarkYoung() {
	atomic.StoreUint32(&p.young, 1)
}

// TestAndClearYoung atomically reads and clears the young bit,
// returning the value observed before clearing. The reclaimer's select
// phase uses this to decide whether to veto reclaiming this pass.
func (p *EpcPage) TestAndClearYoung() bool {
	return atomic.SwapUint32(&p.young, 0) != 0
}

// Prev, Next, and the list-linkage fields below expose the embedded
// doubly-linked-list node to package activelist. They live in this
// package (rather than activelist defining its own side table keyed by
// page) so a page's list position is O(1) to find without a map
// lookup, matching how biscuit embeds list linkage directly in structs
// it threads onto intrusive lists elsewhere in the kernel.

// Prev returns the previous page in list order, or nil.
func (p *EpcPage) Prev() *EpcPage { return p.listNode.prev }

// Next returns the next page in list order, or nil.
func (p *EpcPage) Next() *EpcPage { return p.listNode.next }

// SetPrev is used only by package activelist.
func (p *EpcPage) SetPrev(q *EpcPage) { p.listNode.prev = q }

// SetNext is used only by package activelist.
func (p *EpcPage) SetNext(q *EpcPage) { p.listNode.next = q }

// InList reports whether activelist currently tracks this page.
func (p *EpcPage) InList() bool { return p.listNode.inList }

// SetInList is used only by package activelist.
func (p *EpcPage) SetInList(v bool) { p.listNode.inList = v }
