// Package registry owns every EpcPage across every section, resolving
// a raw address back to its page and section, and provides the
// scoped-pin primitive the rest of the manager uses to keep a page
// alive against concurrent reclaim while it is in use.
//
// Grounded on biscuit's Physmem_t.Refaddr/Refup/Refdown (src/mem/mem.go):
// a central authority maps an address to per-page metadata and hands
// out a pin (there, a refcount) that a user of the page must hold
// before touching it and release when done. This package keeps the
// same shape but drops the free-list/refcount-recycling machinery,
// since allocation and reclaim own that here (package alloc and
// section), leaving Registry to do exactly one thing: address
// resolution plus pinning.
package registry

import (
	"sync"

	"epc/page"
	"epc/pagetable"
	"epc/section"
)

// pin_t tracks outstanding pins for one page. A page with a non-zero
// pin count must not be selected by the reclaimer's select phase.
type pin_t struct {
	mu    sync.Mutex
	count int
}

// Registry is the central page/section directory.
type Registry struct {
	sections []*section.Section

	table *pagetable.Table

	pinMu sync.Mutex
	pins  map[uintptr]*pin_t
}

// New builds a Registry over the given sections, indexing every page
// each one owns.
func New(sections []*section.Section) *Registry {
	total := 0
	for _, s := range sections {
		total += len(s.Pages())
	}
	buckets := total/4 + 1

	r := &Registry{
		sections: sections,
		table:    pagetable.New(buckets),
		pins:     make(map[uintptr]*pin_t, total),
	}
	for _, s := range sections {
		for _, pg := range s.Pages() {
			r.table.Set(pg.PA, pg)
		}
	}
	return r
}

// Sanitize runs Section.Sanitize across every section. Called once at
// boot after every section has been mapped.
func (r *Registry) Sanitize() {
	for _, s := range r.sections {
		s.Sanitize()
	}
}

// Section returns the section at index i.
func (r *Registry) Section(i int) *section.Section {
	if i < 0 || i >= len(r.sections) {
		return nil
	}
	return r.sections[i]
}

// Sections returns every section in index order.
func (r *Registry) Sections() []*section.Section {
	return r.sections
}

// Lookup resolves a physical address to its page, if this registry
// owns it.
func (r *Registry) Lookup(pa uintptr) (*page.EpcPage, bool) {
	return r.table.Get(pa)
}

// Pin increments pg's pin count, creating its pin record on first use.
// The allocator does not pin the pages it hands out; pins exist only
// where a caller takes them with Pin.
func (r *Registry) Pin(pg *page.EpcPage) {
	r.pinEntry(pg).bump(1)
}

// Unpin decrements pg's pin count. Panics if it would go negative,
// matching biscuit's Refdown XXXPANIC on a negative refcount: an
// unbalanced unpin is a caller bug, not a runtime condition to handle
// gracefully.
func (r *Registry) Unpin(pg *page.EpcPage) {
	r.pinEntry(pg).bump(-1)
}

// Pinned reports whether pg currently has any outstanding pin. The
// reclaimer's select phase uses this to skip pages in active use
// instead of attempting to reclaim them.
func (r *Registry) Pinned(pg *page.EpcPage) bool {
	p := r.pinEntry(pg)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count > 0
}

func (r *Registry) pinEntry(pg *page.EpcPage) *pin_t {
	r.pinMu.Lock()
	defer r.pinMu.Unlock()
	p, ok := r.pins[pg.PA]
	if !ok {
		p = &pin_t{}
		r.pins[pg.PA] = p
	}
	return p
}

func (p *pin_t) bump(delta int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count += delta
	if p.count < 0 {
		panic("registry: pin count went negative")
	}
}
