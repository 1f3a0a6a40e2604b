// Package manager wires the page, section, registry, allocator,
// reclaimer, launch, and metrics packages into one running instance,
// and discovers EPC banks from firmware the way the platform driver
// does at boot.
//
// Grounded on sgx_page_cache_init (original_source/arch/x86/kernel/cpu/
// intel_sgx.c:462-501): a bounded CPUID probe loop building the bank
// list, followed by starting the background reclaim worker.
package manager

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"epc/accnt"
	"epc/activelist"
	"epc/alloc"
	"epc/introspect"
	"epc/launch"
	"epc/limits"
	"epc/metrics"
	"epc/reclaim"
	"epc/registry"
	"epc/section"
	"epc/stats"
	"epc/wake"
)

// cpuidSGXLeaf and cpuidEPCBanksSubleaf are the CPUID leaf/sub-leaf
// SGX_CPUID/SGX_CPUID_EPC_BANKS identify in the original driver.
const (
	cpuidSGXLeaf         = 0x12
	cpuidEPCBanksSubleaf = 2
)

// Bank describes one EPC bank's physical range, as firmware reports it.
type Bank struct {
	PhysBase uintptr
	Size     uintptr
}

// Cpuid probes CPUID.(EAX=leaf, ECX=subleaf) and returns the four
// result registers. Production code wires the real instruction (via
// golang.org/x/sys/cpu or inline asm); tests wire a table.
type Cpuid func(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// DiscoverSections probes up to maxSections EPC banks via probe,
// stopping at the first sub-leaf reporting an invalid bank type in the
// low nibble of EAX, mirroring sgx_page_cache_init's `!(eax & 0xf)`
// break condition.
func DiscoverSections(probe Cpuid, maxSections int) []Bank {
	var banks []Bank
	for i := 0; i < maxSections; i++ {
		eax, ebx, ecx, edx := probe(cpuidSGXLeaf, uint32(cpuidEPCBanksSubleaf+i))
		if eax&0xf == 0 {
			break
		}
		pa := (uintptr(ebx&0xfffff) << 32) | uintptr(eax&0xfffff000)
		size := (uintptr(edx&0xfffff) << 32) | uintptr(ecx&0xfffff000)
		banks = append(banks, Bank{PhysBase: pa, Size: size})
	}
	return banks
}

// BuildSections maps each discovered bank into a *section.Section,
// tearing down any already-mapped sections if a later one fails. A
// failure partway through can leave more than one already-mapped
// section unable to unmap (e.g. a shared munmap lock held elsewhere);
// every such teardown error is collected rather than only the first,
// so the caller sees the full picture instead of silently leaking the
// rest.
func BuildSections(banks []Bank, open section.Opener) ([]*section.Section, error) {
	sections := make([]*section.Section, 0, len(banks))
	for i, b := range banks {
		s, err := section.New(i, b.PhysBase, b.Size, open)
		if err != nil {
			var result *multierror.Error
			result = multierror.Append(result, err)
			for _, done := range sections {
				if uerr := done.Unmap(); uerr != nil {
					result = multierror.Append(result, uerr)
				}
			}
			return nil, result.ErrorOrNil()
		}
		sections = append(sections, s)
	}
	return sections, nil
}

// Manager ties together every subsystem into one runnable instance.
type Manager struct {
	Registry  *registry.Registry
	Alloc     *alloc.Allocator
	Reclaimer *reclaim.Reclaimer
	Einit     *launch.Einit
	Metrics   *metrics.Metrics

	active     *activelist.List
	free       *limits.Counter
	counters   *stats.ReclaimCounters
	acc        *accnt.Accnt
	totalPages int64
	cancel     context.CancelFunc
}

// New builds a Manager over sections, which must already have been
// produced by BuildSections. It sanitizes every section, seeds the
// free counter, and wires the allocator and reclaimer together through
// a shared wake.Channel so the allocator can drive reclamation on
// exhaustion and update metrics as it happens.
func New(sections []*section.Section, lim *limits.Limits, promReg prometheus.Registerer, lcEnabled bool, writeMSR launch.WriteMSR, lanes int) (*Manager, error) {
	reg := registry.New(sections)
	reg.Sanitize()

	var total int64
	for _, s := range sections {
		total += int64(len(s.Pages()))
	}

	free := &limits.Counter{}
	free.Store(total)

	m, err := metrics.New(promReg, "epc")
	if err != nil {
		return nil, err
	}
	m.FreePages.Set(float64(total))

	active := &activelist.List{}
	counters := &stats.ReclaimCounters{}
	acc := &accnt.Accnt{}
	w := wake.New()

	allocator := alloc.New(reg, lim, free, w, active, acc, func() {
		m.ObserveWatermark("low")
	})
	reclaimer := reclaim.New(active, reg, lim, w, counters, acc, func(n int) {
		free.Add(int64(n))
		m.ReclaimClustersTotal.Inc()
		m.ClusterSize.Observe(float64(n))
		m.FreePages.Set(float64(free.Load()))
	})
	einit := launch.NewEinit(lanes, lcEnabled, writeMSR)

	return &Manager{
		Registry:   reg,
		Alloc:      allocator,
		Reclaimer:  reclaimer,
		Einit:      einit,
		Metrics:    m,
		active:     active,
		free:       free,
		counters:   counters,
		acc:        acc,
		totalPages: total,
	}, nil
}

// ActiveList exposes the shared active list so an owner implementation
// can push newly attached pages onto it (e.g. after EADD/EAUG).
func (mgr *Manager) ActiveList() *activelist.List {
	return mgr.active
}

// Counters exposes the shared reclaim counters so an owner
// implementation (e.g. owner.Enclave's onNotTrackedRetry hook) can
// report activity this manager's Snapshot surfaces, such as
// NOT_TRACKED writeback retries it cannot observe itself.
func (mgr *Manager) Counters() *stats.ReclaimCounters {
	return mgr.counters
}

// Start launches the reclaimer's background loop. Stop cancels it.
func (mgr *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	mgr.cancel = cancel
	go mgr.Reclaimer.Run(ctx)
}

// Stop cancels the reclaimer loop started by Start. Safe to call if
// Start was never called.
func (mgr *Manager) Stop() {
	if mgr.cancel != nil {
		mgr.cancel()
	}
}

// Close stops the reclaimer and unmaps every section's virtual
// mapping. Called once at process teardown; the sections themselves
// cannot be reused afterward.
func (mgr *Manager) Close() error {
	mgr.Stop()
	var result *multierror.Error
	for _, s := range mgr.Registry.Sections() {
		if err := s.Unmap(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Snapshot returns a point-in-time view of every counter this manager
// tracks, suitable for introspect.Snapshot.Bytes or .Profile.
func (mgr *Manager) Snapshot() introspect.Snapshot {
	a := mgr.acc.Fetch()
	return introspect.Snapshot{
		TotalPages:     mgr.totalPages,
		FreePages:      mgr.free.Load(),
		ClustersRun:    mgr.counters.ClustersRun.Load(),
		PagesSelected:  mgr.counters.PagesSelected.Load(),
		PagesVetoed:    mgr.counters.PagesVetoed.Load(),
		PagesReclaimed: mgr.counters.PagesReclaimed.Load(),
		NotTrackedHits: mgr.counters.NotTrackedRetry.Load(),
		AllocBlockedNs: int64(a.AllocBlocked),
		ReclaimNs:      int64(a.ReclaimCluster),
	}
}
