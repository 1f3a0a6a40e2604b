// Package reclaim implements the three-phase reclaim cluster: select,
// owner-consent, block-all, write-all, driven by wake requests from
// the allocator.
//
// Grounded on sgx_swap_cluster and ksgxswapd
// (original_source/arch/x86/kernel/cpu/intel_sgx.c:62-128): scan up to
// a fixed number of candidates off the active list's head, calling the
// owner's get/reclaim vtable hooks to decide whether each is a valid
// victim (rotating vetoes to the tail), then block every selected page
// before writing any of them back, then write and free each in a
// second pass. ksgxswapd's wait/wake loop becomes this package's Run,
// driven by wake.Channel instead of a waitqueue.
package reclaim

import (
	"context"
	"time"

	"epc/accnt"
	"epc/activelist"
	"epc/limits"
	"epc/page"
	"epc/registry"
	"epc/stats"
	"epc/wake"
)

// Reclaimer runs reclaim clusters on demand.
type Reclaimer struct {
	active   *activelist.List
	reg      *registry.Registry
	limits   *limits.Limits
	wake     *wake.Channel
	counters *stats.ReclaimCounters
	acc      *accnt.Accnt

	onClusterDone func(reclaimed int)
}

// New builds a Reclaimer. onClusterDone, if non-nil, is called after
// every cluster with the count of pages actually freed, for the
// manager to update metrics/introspection.
func New(active *activelist.List, reg *registry.Registry, lim *limits.Limits, w *wake.Channel, counters *stats.ReclaimCounters, acc *accnt.Accnt, onClusterDone func(int)) *Reclaimer {
	return &Reclaimer{active: active, reg: reg, limits: lim, wake: w, counters: counters, acc: acc, onClusterDone: onClusterDone}
}

// Run services wake requests until ctx is done, running exactly one
// cluster per request.
func (r *Reclaimer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.wake.Recv():
			start := time.Now()
			n := r.RunCluster()
			r.acc.AddReclaimCluster(accnt.Since(start))
			if r.onClusterDone != nil {
				r.onClusterDone(n)
			}
			wake.Done(req)
		}
	}
}

// RunCluster performs one full select -> consent -> block -> write
// pass and returns the number of pages actually freed. Exported so a
// caller (or test) can drive reclamation synchronously without going
// through the wake handshake.
func (r *Reclaimer) RunCluster() int {
	r.counters.ClustersRun.Inc()

	cluster := r.selectCluster()

	live := cluster[:0]
	for _, pg := range cluster {
		if err := pg.Owner.Block(pg); err != nil {
			r.abandon(pg)
			continue
		}
		live = append(live, pg)
	}

	reclaimed := 0
	for _, pg := range live {
		owner := pg.Owner
		if err := owner.Write(pg); err != nil {
			r.abandon(pg)
			continue
		}
		owner.Put(pg)
		r.reg.Section(pg.SectionIndex).Free(pg)
		r.counters.PagesReclaimed.Inc()
		reclaimed++
	}
	return reclaimed
}

// selectCluster scans up to limits.Cluster candidates off the active
// list's head, consulting each owner's Get/Reclaim hooks, and returns
// the subset that consented. Vetoed or momentarily-ungettable pages
// are rotated to the tail so the next pass starts elsewhere, mirroring
// sgx_swap_cluster's list_move_tail branch.
func (r *Reclaimer) selectCluster() []*page.EpcPage {
	cluster := make([]*page.EpcPage, 0, r.limits.Cluster)
	r.active.Drain(r.limits.Cluster, func(pg *page.EpcPage) bool {
		r.counters.PagesSelected.Inc()

		owner := pg.Owner
		if owner == nil {
			return true
		}
		if r.reg.Pinned(pg) {
			r.active.RotateToBack(pg)
			return true
		}
		if err := owner.Get(pg); err != nil {
			r.active.RotateToBack(pg)
			return true
		}
		if err := owner.Reclaim(pg); err != nil {
			r.counters.PagesVetoed.Inc()
			owner.Put(pg)
			r.active.RotateToBack(pg)
			return true
		}

		r.active.Remove(pg)
		cluster = append(cluster, pg)
		return true
	})
	return cluster
}

// abandon returns pg to the active list and releases the owner pin
// taken during selection, used whenever a page fails block or write
// partway through a cluster.
func (r *Reclaimer) abandon(pg *page.EpcPage) {
	pg.Owner.Put(pg)
	r.active.PushBack(pg)
}
