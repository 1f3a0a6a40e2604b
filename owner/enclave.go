package owner

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"epc/backing"
	"epc/diag"
	"epc/instr"
	"epc/page"
)

// ErrVeto is returned by Reclaim when the owner declines to give up a
// page this pass. The reclaimer treats any non-nil error the same way
// (rotate to tail, move on), but this value lets tests and logging
// distinguish a veto from a real failure.
var ErrVeto = errors.New("owner: reclaim vetoed")

// ErrDead is returned by Get and Write once an enclave has been marked
// dead, mirroring the Linux driver's SGX_ENCL_DEAD short-circuit: once a
// fatal result is observed for any of an enclave's pages, those calls
// fail fast instead of touching hardware state that may already be
// inconsistent. Reclaim does not return it: a dead enclave consents to
// reclaim of every page.
var ErrDead = errors.New("owner: enclave is dead")

// Flusher performs a cross-CPU TLB shootdown so that a blocked page's
// stale translations are guaranteed gone before a writeback retries
// after StatusNotTracked. Grounded on biscuit's vm.Tlbshoot (condflush
// fast path backed by a cross-CPU IPI slow path); here it is reduced to
// a single collaborator function because this module has no notion of
// per-CPU cpumaps of its own.
type Flusher func()

// pageMeta is the per-page bookkeeping an Enclave keeps that doesn't
// belong on the shared page.EpcPage itself: which VA slot backs this
// page, and its backing-store index.
type pageMeta struct {
	va      *VAPage
	vaSlot  int
	backIdx uint64
}

// Enclave is an example page.Owner: a minimal stand-in for a live
// enclave's control structure (struct sgx_encl). It exists to exercise
// the full Owner contract end to end; a production embedder would
// replace it with its own enclave object satisfying the same
// interface.
//
// Grounded on sgx_encl_page_ops and sgx_encl_page_write
// (original_source/.../sgx_encl_page.c): get/put track concurrent
// use, reclaim vetoes on the young bit, block issues EBLOCK, and write
// performs the NOT_TRACKED retry dance before decrementing the SECS
// child count and, on the last child, writing back and freeing SECS
// itself in the same call.
type Enclave struct {
	// ID is a stable identifier for this instance, useful for metrics
	// labels and log correlation; it carries no semantic weight of its
	// own, unlike the SGX driver's struct mm_struct pointer identity.
	ID uuid.UUID

	mu          sync.Mutex
	dead        bool
	initialized bool

	secs     *page.EpcPage
	childCnt int
	meta     map[*page.EpcPage]*pageMeta
	nextIdx  uint64

	vaRing   *VARing
	backing  backing.Store
	flush    Flusher
	freeSECS func(*page.EpcPage)

	onNotTrackedRetry func()

	faults diag.DistinctCaller
}

// NewEnclave builds an Enclave around an already-ECREATE'd SECS page.
// vaRing supplies VA slots for writeback; store resolves backing
// addresses; flush performs the cross-CPU TLB shootdown the NOT_TRACKED
// retry protocol needs; freeSECS is called once, when the last child
// page is written back and the enclave was initialized, to return the
// SECS page itself to its section's free pool (mirroring
// sgx_write_page's do_free=true path); onNotTrackedRetry, if non-nil,
// is called once per NOT_TRACKED retry writeOne issues, for callers
// that want to count them (e.g. stats.ReclaimCounters.NotTrackedRetry).
func NewEnclave(secs *page.EpcPage, vaRing *VARing, store backing.Store, flush Flusher, freeSECS func(*page.EpcPage), onNotTrackedRetry func()) *Enclave {
	e := &Enclave{
		ID:                uuid.New(),
		secs:              secs,
		meta:              make(map[*page.EpcPage]*pageMeta),
		vaRing:            vaRing,
		backing:           store,
		flush:             flush,
		freeSECS:          freeSECS,
		onNotTrackedRetry: onNotTrackedRetry,
	}
	e.faults.Enabled = true
	return e
}

// MarkInitialized records that EINIT has succeeded for this enclave.
// Until this is called, Write never triggers the SECS writeback path,
// matching SGX_ENCL_INITIALIZED gating sgx_encl_page_write's recursive
// call.
func (e *Enclave) MarkInitialized() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = true
}

// Kill marks the enclave dead. Called after a fatal Integrity or Fault
// result anywhere in this enclave's page set, and after any failed EWB.
func (e *Enclave) Kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dead = true
}

// Dead reports whether Kill has been called.
func (e *Enclave) Dead() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dead
}

// AddChild registers p as a live child page of this enclave, assigning
// it the next backing-store index. Callers (EADD/EAUG completion) must
// call this before p can be reclaimed or written back.
func (e *Enclave) AddChild(p *page.EpcPage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.nextIdx
	e.nextIdx++
	e.meta[p] = &pageMeta{backIdx: idx}
	e.childCnt++
}

// Get pins p against concurrent reclaim by marking it young; a real
// enclave would also bump a reference count here, but this module has
// no separate pin/unpin bookkeeping beyond the registry's own Pin.
func (e *Enclave) Get(p *page.EpcPage) error {
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrDead
	}
	p.MarkYoung()
	return nil
}

// Put is a no-op here; see Get's doc comment.
func (e *Enclave) Put(p *page.EpcPage) {}

// Reclaim is the owner-consent phase. A dead enclave never vetoes (its
// pages should be reclaimed as fast as possible); otherwise consent is
// denied if the page was used since last checked.
func (e *Enclave) Reclaim(p *page.EpcPage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return nil
	}
	if p.TestAndClearYoung() {
		return ErrVeto
	}
	return nil
}

// Block issues ENCLS[EBLOCK] on p.
func (e *Enclave) Block(p *page.EpcPage) error {
	if errt := instr.Block(p.PA); errt != 0 {
		return e.fatal(p.PA, errt)
	}
	return nil
}

// Write performs the full writeback of p: allocate a VA slot, issue
// EWB with the NOT_TRACKED retry protocol, and on success release any
// bookkeeping for p. If p was the enclave's last live child and the
// enclave has been initialized, SECS is written back and freed in this
// same call, mirroring sgx_encl_page_write's recursive do_free=true
// call on encl->secs.epc_page.
func (e *Enclave) Write(p *page.EpcPage) error {
	e.mu.Lock()
	if e.dead {
		e.mu.Unlock()
		return ErrDead
	}
	m, ok := e.meta[p]
	e.mu.Unlock()
	if !ok {
		return errors.New("owner: write of untracked page")
	}

	if err := e.writeOne(p, m); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.meta, p)
	e.childCnt--
	last := e.childCnt == 0 && e.initialized
	secs := e.secs
	e.mu.Unlock()

	if !last {
		return nil
	}
	secsMeta := &pageMeta{backIdx: m.backIdx + 1}
	if err := e.writeOne(secs, secsMeta); err != nil {
		return err
	}
	if e.freeSECS != nil {
		e.freeSECS(secs)
	}
	return nil
}

// writeOne runs the NOT_TRACKED retry protocol for a single page:
// issue EWB; on NOT_TRACKED, ETRACK and retry; if still NOT_TRACKED,
// force a cross-CPU flush and retry a final time. Any other non-OK
// status, or a fault, is fatal and kills the enclave.
//
// Grounded on sgx_write_page's three-attempt loop with SGX_INVD fatal
// check after the final attempt.
func (e *Enclave) writeOne(p *page.EpcPage, m *pageMeta) error {
	vaPage, slot, err := e.vaRing.Alloc()
	if err != nil {
		return err
	}

	pginfo := &instr.PageInfo{
		SrcPge:  e.backing.DataAddr(m.backIdx),
		SecInfo: e.backing.PCMDAddr(m.backIdx),
		Secs:    0,
	}

	res := instr.WritebackRaw(pginfo, p.PA, vaPage.Page.PA+uintptr(slot))
	if res.Status() == instr.StatusNotTracked {
		e.countNotTrackedRetry()
		if errt := instr.Track(p.PA); errt != 0 && errt != instr.Busy {
			e.vaRing.Free(vaPage, slot)
			return e.fatal(p.PA, errt)
		}
		res = instr.WritebackRaw(pginfo, p.PA, vaPage.Page.PA+uintptr(slot))
	}
	if res.Status() == instr.StatusNotTracked {
		e.countNotTrackedRetry()
		if e.flush != nil {
			e.flush()
		}
		res = instr.WritebackRaw(pginfo, p.PA, vaPage.Page.PA+uintptr(slot))
	}

	if err := translateResult(res); err != nil {
		e.vaRing.Free(vaPage, slot)
		e.Kill()
		return e.fatal(p.PA, err)
	}
	m.va = vaPage
	m.vaSlot = slot
	return nil
}

// countNotTrackedRetry reports one NOT_TRACKED retry to the configured
// hook, if any.
func (e *Enclave) countNotTrackedRetry() {
	if e.onNotTrackedRetry != nil {
		e.onNotTrackedRetry()
	}
}

// fatal kills the enclave whenever err reflects an Integrity or Fault
// result, matching the "fatal" classification spec.md attaches to
// those two taxonomy members, logs the first occurrence of each
// distinct call chain hitting it via diag.LogFault, and returns err
// unchanged either way.
func (e *Enclave) fatal(epc uintptr, err error) error {
	if err == instr.Integrity || err == instr.Fault {
		e.Kill()
		diag.LogFault(&e.faults, err.Error(), epc)
	}
	return err
}

// translateResult reproduces instr's internal Result->Err_t mapping
// for the final WritebackRaw call of writeOne, since instr does not
// export its translate function directly (only the per-opcode
// wrappers that call it). EWB's retry handling above needs the raw
// Result to see StatusNotTracked before falling back to the ordinary
// taxonomy, so it cannot simply call instr.Writeback instead.
func translateResult(r instr.Result) error {
	if _, faulted := r.FaultVector(); faulted {
		return instr.Fault
	}
	switch r.Status() {
	case instr.StatusOK:
		return nil
	case instr.StatusUnmaskedEvent:
		return instr.Interrupted
	case instr.StatusMacCompareFail:
		return instr.Integrity
	case instr.StatusEntryEpochLocked:
		return instr.Busy
	default:
		return instr.Denied
	}
}
