// Package activelist implements the single global, insertion-ordered
// list of reclaimable pages the reclaimer's select phase walks to find
// approximate-LRU victims.
//
// Grounded on biscuit's Physmem_t: a single central structure embeds
// sync.Mutex directly (src/mem/mem.go) and every mutation happens
// under that one lock for a very short critical section — the same
// pattern a spinlock guards in the original C driver's LRU list. Go
// has no spinlock primitive in the standard library; sync.Mutex is the
// idiomatic stand-in the teacher itself reaches for when a lock only
// ever guards a few pointer writes.
package activelist

import (
	"sync"

	"epc/page"
)

// List is the global active list. The zero value is ready to use.
type List struct {
	mu         sync.Mutex
	head, tail *page.EpcPage
	len        int
}

// PushBack inserts pg at the tail. Used both for newly allocated
// reclaimable pages and for pages the reclaimer vetoed this pass.
func (l *List) PushBack(pg *page.EpcPage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pushBackLocked(pg)
}

func (l *List) pushBackLocked(pg *page.EpcPage) {
	if pg.InList() {
		panic("activelist: page already in list")
	}
	pg.SetPrev(l.tail)
	pg.SetNext(nil)
	if l.tail != nil {
		l.tail.SetNext(pg)
	} else {
		l.head = pg
	}
	l.tail = pg
	pg.SetInList(true)
	l.len++
}

// Remove unlinks pg. No-op if pg is not currently in the list.
func (l *List) Remove(pg *page.EpcPage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(pg)
}

func (l *List) removeLocked(pg *page.EpcPage) {
	if !pg.InList() {
		return
	}
	if pg.Prev() != nil {
		pg.Prev().SetNext(pg.Next())
	} else {
		l.head = pg.Next()
	}
	if pg.Next() != nil {
		pg.Next().SetPrev(pg.Prev())
	} else {
		l.tail = pg.Prev()
	}
	pg.SetPrev(nil)
	pg.SetNext(nil)
	pg.SetInList(false)
	l.len--
}

// RotateToBack removes pg from its current position and reinserts it
// at the tail, atomically with respect to other list operations. The
// reclaimer's select phase uses this when a candidate vetoes reclaim
// (young bit was set, or the owner declines), so the next pass starts
// from a different candidate instead of looping on the same one.
func (l *List) RotateToBack(pg *page.EpcPage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removeLocked(pg)
	l.pushBackLocked(pg)
}

// Front returns the head of the list (the oldest-inserted page still
// present), or nil if empty. It does not remove it.
func (l *List) Front() *page.EpcPage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Len returns the number of pages currently tracked.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.len
}

// Drain calls f for up to n pages starting from the head, in list
// order, stopping early if f returns false. It does not remove
// anything; the reclaimer removes pages itself once it has committed
// to reclaiming them. Drain holds the list lock only long enough to
// snapshot the candidates, not for the duration of f, so f may call
// back into List (e.g. RotateToBack) without deadlocking.
func (l *List) Drain(n int, f func(*page.EpcPage) bool) {
	candidates := l.snapshot(n)
	for _, pg := range candidates {
		if !f(pg) {
			return
		}
	}
}

func (l *List) snapshot(n int) []*page.EpcPage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*page.EpcPage, 0, n)
	for pg := l.head; pg != nil && len(out) < n; pg = pg.Next() {
		out = append(out, pg)
	}
	return out
}
