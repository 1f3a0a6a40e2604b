// Package accnt accumulates nanosecond latency counters behind a
// mutex, with an Add/Fetch snapshot API.
//
// Grounded on biscuit's accnt.Accnt_t (src/accnt/accnt.go): two
// atomically-updated nanosecond counters (there, user/system time),
// merged across instances with a locked Add, and read out through a
// locked Fetch for a consistent snapshot. This package tracks time
// spent blocked in Allocator.Alloc and time spent executing one
// reclaim cluster instead of process user/system time, but keeps the
// same shape.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt accumulates two related latency counters under one lock so a
// caller can read both consistently with Fetch.
type Accnt struct {
	// AllocBlockedNs is nanoseconds spent inside a blocking Alloc call
	// across every caller.
	AllocBlockedNs int64
	// ReclaimClusterNs is nanoseconds spent executing reclaim clusters.
	ReclaimClusterNs int64

	mu sync.Mutex
}

// AddAllocBlocked adds delta nanoseconds to the blocked-alloc counter.
func (a *Accnt) AddAllocBlocked(delta time.Duration) {
	atomic.AddInt64(&a.AllocBlockedNs, int64(delta))
}

// AddReclaimCluster adds delta nanoseconds to the reclaim-cluster
// counter.
func (a *Accnt) AddReclaimCluster(delta time.Duration) {
	atomic.AddInt64(&a.ReclaimClusterNs, int64(delta))
}

// Since returns the duration elapsed since start in nanoseconds. Given
// a helper so callers don't each import "time" just to call
// time.Since; matches how Accnt_t.Now/Io_time wrap time bookkeeping in
// the teacher rather than leaving every caller to do it inline.
func Since(start time.Time) time.Duration {
	return time.Since(start)
}

// Add merges another Accnt's counters into this one.
func (a *Accnt) Add(n *Accnt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AllocBlockedNs += atomic.LoadInt64(&n.AllocBlockedNs)
	a.ReclaimClusterNs += atomic.LoadInt64(&n.ReclaimClusterNs)
}

// Snapshot is a consistent point-in-time read of both counters.
type Snapshot struct {
	AllocBlocked   time.Duration
	ReclaimCluster time.Duration
}

// Fetch returns a consistent snapshot of both counters.
func (a *Accnt) Fetch() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		AllocBlocked:   time.Duration(atomic.LoadInt64(&a.AllocBlockedNs)),
		ReclaimCluster: time.Duration(atomic.LoadInt64(&a.ReclaimClusterNs)),
	}
}
