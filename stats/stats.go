// Package stats provides zero-cost-when-disabled counters for opcode
// call counts and reclaim-cluster cycle counts.
//
// Grounded on biscuit's stats package (src/stats/stats.go): a
// compile-time const gate (Stats/Timing) that turns every Inc/Add into
// a no-op, so the instrumentation costs nothing in a production build
// but can be flipped on by editing the const and rebuilding.
package stats

import "sync/atomic"

// Enabled gates every Counter.Inc call in this build. biscuit uses an
// un-exported const for the same purpose; this is exported so the
// manager's tests can assert on counts without a separate build.
const Enabled = true

// Counter is a statistical counter, a no-op when Enabled is false.
type Counter struct {
	n int64
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	if Enabled {
		atomic.AddInt64(&c.n, 1)
	}
}

// Add increments the counter by delta.
func (c *Counter) Add(delta int64) {
	if Enabled {
		atomic.AddInt64(&c.n, delta)
	}
}

// Load reads the current value. Always returns 0 when Enabled is
// false, regardless of how many times Inc/Add were called.
func (c *Counter) Load() int64 {
	return atomic.LoadInt64(&c.n)
}

// OpcodeCounts tracks how many times each ENCLS leaf has been issued
// by this process, with one named counter per leaf. Kept here rather than in
// package instr so instr has no dependency on how its callers choose
// to aggregate counts.
type OpcodeCounts struct {
	Create, Eadd, Extend, Init, Remove   Counter
	Block, Track, Writeback, LoadUnblock Counter
	Pa, Dbgread, Dbgwrite, Aug           Counter
	Modpr, Modt                          Counter
}

// ReclaimCounters tracks reclaimer activity across its lifetime.
type ReclaimCounters struct {
	ClustersRun     Counter
	PagesSelected   Counter
	PagesVetoed     Counter
	PagesReclaimed  Counter
	NotTrackedRetry Counter
}
