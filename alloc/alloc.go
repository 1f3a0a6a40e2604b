// Package alloc implements TryAlloc and the blocking, watermark-driven
// Alloc described in spec.md §4.3: try every section's free stack,
// and if none has a page, ask the reclaimer for a cluster and retry,
// honoring caller interruption and crossing the low watermark to wake
// the reclaimer proactively rather than waiting for exhaustion.
//
// Grounded on biscuit's Physmem_t._phys_new/_refpg_new (src/mem/mem.go):
// try the fast per-CPU free list, then fall back to the global one,
// and on biscuit's own memory-pressure signal, oommsg (generalized here
// as package wake): when free memory runs out, block on a channel
// until the reclaimer (there, ksgxswapd's equivalent logic lives in
// the original C driver, not biscuit) makes progress, instead of
// failing immediately.
package alloc

import (
	"context"
	"time"

	"epc/accnt"
	"epc/activelist"
	"epc/instr"
	"epc/limits"
	"epc/page"
	"epc/registry"
	"epc/tinfo"
	"epc/wake"
)

// Flags controls Alloc's blocking behavior, mirroring spec.md's
// alloc(owner, flags) parameter.
type Flags struct {
	// Atomic requests the non-blocking path: Alloc must not drive the
	// reclaimer or wait on anything. It fails immediately with
	// instr.Busy if the free pool is exhausted but ActiveList still
	// holds candidates a blocking caller could have waited on, or with
	// instr.OutOfMemory if ActiveList is empty too.
	Atomic bool
}

// Allocator hands out EpcPages from the sections a Registry tracks,
// driving the reclaimer via wake when none are free.
type Allocator struct {
	reg    *registry.Registry
	limits *limits.Limits
	free   *limits.Counter
	wake   *wake.Channel
	active *activelist.List
	acc    *accnt.Accnt

	onLowWatermark func()
}

// New builds an Allocator. free must already reflect the sections'
// sanitized page counts (the caller seeds it once at boot via
// free.Store after Registry.Sanitize). active is the same ActiveList
// the reclaimer drains; Alloc consults its length to distinguish
// OutOfMemory (nothing left to reclaim) from Busy/blocking (reclaim
// candidates exist). onLowWatermark, if non-nil, is called every time
// Alloc observes the free count drop below limits.LowWatermark, before
// it proactively (non-blockingly) nudges the reclaimer; used by the
// manager to update metrics.
func New(reg *registry.Registry, lim *limits.Limits, free *limits.Counter, w *wake.Channel, active *activelist.List, acc *accnt.Accnt, onLowWatermark func()) *Allocator {
	return &Allocator{reg: reg, limits: lim, free: free, wake: w, active: active, acc: acc, onLowWatermark: onLowWatermark}
}

// TryAlloc attempts a non-blocking allocation, trying each section's
// free stack in turn. Returns instr.OutOfMemory if every section is
// empty. Callers that cannot tolerate blocking at all (the reclaimer
// itself, when it needs a VA page) call this directly; Alloc calls it
// internally too, then applies the ActiveList/flags.Atomic distinction
// between Busy and OutOfMemory described in its own doc comment.
func (a *Allocator) TryAlloc() (*page.EpcPage, instr.Err_t) {
	for _, s := range a.reg.Sections() {
		if pg := s.TryAlloc(); pg != nil {
			a.free.Add(-1)
			return pg, 0
		}
	}
	return nil, instr.OutOfMemory
}

// Alloc blocks until a page is available, driving the reclaimer
// through wake when the pool is exhausted, and honoring cancellation
// via ctx and any tinfo.Note installed on it. It returns
// instr.Interrupted if ctx is done or the note is killed before a page
// becomes available, instr.OutOfMemory if ActiveList is also empty
// (nothing left for the reclaimer to work with), and instr.Busy if
// flags.Atomic is set and the free pool is exhausted.
func (a *Allocator) Alloc(ctx context.Context, flags Flags) (*page.EpcPage, instr.Err_t) {
	start := time.Now()
	defer func() { a.acc.AddAllocBlocked(accnt.Since(start)) }()

	if note, ok := tinfo.FromContext(ctx); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-note.KillCh():
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return nil, instr.Interrupted
		default:
		}

		pg, err := a.TryAlloc()
		if err == 0 {
			if a.free.Load() < int64(a.limits.LowWatermark) {
				if a.onLowWatermark != nil {
					a.onLowWatermark()
				}
				a.wake.Nudge(1)
			}
			return pg, 0
		}

		if a.active.Len() == 0 {
			return nil, instr.OutOfMemory
		}
		if flags.Atomic {
			return nil, instr.Busy
		}

		if sendErr := a.wake.Send(ctx, 1); sendErr != nil {
			return nil, instr.Interrupted
		}
	}
}
