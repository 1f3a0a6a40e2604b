// Package pagetable provides a lock-striped map from physical address
// to *page.EpcPage with a lock-free Get, used by registry to resolve a
// bare address back to the page metadata that owns it.
//
// Adapted from biscuit's hashtable.Hashtable_t (src/hashtable/hashtable.go):
// same bucket-array-of-chains structure, same atomic-pointer technique
// for a writer-synchronized, reader-lock-free Get. The original is
// generic over interface{} keys (string, ustr.Ustr, int) because
// biscuit reuses one hashtable implementation for several subsystems;
// this package narrows the key to uintptr, since a page registry only
// ever looks pages up by physical address, and drops the ustr-specific
// hashing path entirely since enclave page addresses have no string
// form to hash.
package pagetable

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"epc/page"
)

type elem struct {
	key   uintptr
	value *page.EpcPage
	next  *elem
}

type bucket struct {
	sync.Mutex
	first *elem
}

// Table is a fixed-bucket-count map keyed by physical address.
type Table struct {
	buckets []*bucket
}

// New allocates a Table with the given number of buckets. Callers
// should size this to roughly the expected page count divided by a
// small constant to keep chains short.
func New(buckets int) *Table {
	if buckets <= 0 {
		buckets = 1
	}
	t := &Table{buckets: make([]*bucket, buckets)}
	for i := range t.buckets {
		t.buckets[i] = &bucket{}
	}
	return t
}

func (t *Table) bucketFor(key uintptr) *bucket {
	return t.buckets[hash(key)%uint64(len(t.buckets))]
}

func hash(key uintptr) uint64 {
	h := uint64(key)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}

// Get resolves pa to its page, if known. Safe to call without holding
// any lock concurrently with Set/Del on a different key, and even on
// the same key: it only ever follows pointers written by a completed
// atomic store.
func (t *Table) Get(pa uintptr) (*page.EpcPage, bool) {
	b := t.bucketFor(pa)
	for e := loadElem(&b.first); e != nil; e = loadElem(&e.next) {
		if e.key == pa {
			return e.value, true
		}
	}
	return nil, false
}

// Set records pa -> pg, replacing any existing entry for pa.
func (t *Table) Set(pa uintptr, pg *page.EpcPage) {
	b := t.bucketFor(pa)
	b.Lock()
	defer b.Unlock()

	for e := b.first; e != nil; e = e.next {
		if e.key == pa {
			e.value = pg
			return
		}
	}
	n := &elem{key: pa, value: pg, next: b.first}
	storeElem(&b.first, n)
}

// Del removes pa, if present.
func (t *Table) Del(pa uintptr) {
	b := t.bucketFor(pa)
	b.Lock()
	defer b.Unlock()

	var prev *elem
	for e := b.first; e != nil; e = e.next {
		if e.key == pa {
			if prev == nil {
				storeElem(&b.first, e.next)
			} else {
				storeElem(&prev.next, e.next)
			}
			return
		}
		prev = e
	}
}

func loadElem(p **elem) *elem {
	return (*elem)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(p))))
}

func storeElem(p **elem, n *elem) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(p)), unsafe.Pointer(n))
}
