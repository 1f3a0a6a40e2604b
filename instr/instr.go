// Package instr wraps the enclave page-management opcodes (ENCLS) as
// typed, fallible Go functions and translates their hardware result
// codes into the manager's error taxonomy.
//
// Every wrapper has the same shape: it issues one privileged
// instruction through an Executor and maps the raw Result onto Err_t.
// A fault taken on the instruction itself (reported in the high 16
// bits of the encoded result) is always translated to Fault,
// regardless of which opcode faulted.
package instr

import (
	"fmt"
	"unsafe"
)

// Err_t is the small, closed error taxonomy callers of this package
// must distinguish. Zero means success; all other values are negative,
// in the style of an errno.
type Err_t int32

const (
	// OutOfMemory means no free page was available and ActiveList was
	// empty.
	OutOfMemory Err_t = -(iota + 1)
	// Busy means ENTRYEPOCH_LOCKED, or an atomic allocation found
	// nothing free.
	Busy
	// Interrupted means UNMASKED_EVENT, or a user-directed
	// interruption observed during a blocking allocation.
	Interrupted
	// Integrity means MAC_COMPARE_FAIL; fatal for the owning enclave.
	Integrity
	// Fault means an exception was raised on the privileged
	// instruction; fatal for the owning enclave.
	Fault
	// Denied covers any other non-zero hardware status.
	Denied
)

func (e Err_t) Error() string {
	switch e {
	case 0:
		return "ok"
	case OutOfMemory:
		return "out of memory"
	case Busy:
		return "busy"
	case Interrupted:
		return "interrupted"
	case Integrity:
		return "integrity violation"
	case Fault:
		return "instruction fault"
	case Denied:
		return "denied"
	default:
		return fmt.Sprintf("instr: unknown error %d", int32(e))
	}
}

// StatusCode is the hardware status code ENCLS/ENCLU return in the low
// 16 bits of the encoded result, per the Intel SDM's ENCLS error-code
// table.
type StatusCode uint16

const (
	StatusOK               StatusCode = 0
	StatusInvalidAttribute StatusCode = 2
	StatusMacCompareFail   StatusCode = 9
	StatusNotTracked       StatusCode = 11
	StatusEntryEpochLocked StatusCode = 15
	StatusUnmaskedEvent    StatusCode = 128
)

// Result is the uniform encoding every wrapped opcode produces: the low
// 16 bits carry the hardware status code, and the high 16 bits, if
// non-zero, carry the CPU fault vector taken while executing the
// instruction.
type Result uint32

// Status extracts the hardware status code.
func (r Result) Status() StatusCode {
	return StatusCode(uint16(r))
}

// FaultVector reports the trap vector and whether the instruction
// faulted at all.
func (r Result) FaultVector() (uint8, bool) {
	v := uint16(r >> 16)
	return uint8(v), v != 0
}

// translate converts a raw Result into the core error taxonomy.
func translate(r Result) Err_t {
	if _, faulted := r.FaultVector(); faulted {
		return Fault
	}
	switch r.Status() {
	case StatusOK:
		return 0
	case StatusUnmaskedEvent:
		return Interrupted
	case StatusMacCompareFail:
		return Integrity
	case StatusEntryEpochLocked:
		return Busy
	default:
		return Denied
	}
}

// Leaf identifies one ENCLS opcode variant, matching the CPU's ENCLS
// leaf function numbers.
type Leaf uint32

const (
	LeafECREATE Leaf = 0x0
	LeafEADD    Leaf = 0x1
	LeafEINIT   Leaf = 0x2
	LeafEREMOVE Leaf = 0x3
	LeafEDGBRD  Leaf = 0x4
	LeafEDGBWR  Leaf = 0x5
	LeafEEXTEND Leaf = 0x6
	LeafELDU    Leaf = 0x8
	LeafEBLOCK  Leaf = 0x9
	LeafEPA     Leaf = 0xA
	LeafEWB     Leaf = 0xB
	LeafETRACK  Leaf = 0xC
	LeafEAUG    Leaf = 0xD
	LeafEMODPR  Leaf = 0xE
	LeafEMODT   Leaf = 0xF
)

// Executor issues one ENCLS leaf with up to three operands and returns
// the raw encoded result. Production code wires the hardware backend;
// tests wire a Simulated one. Implementations must be safe to call
// concurrently from multiple goroutines — the instruction set itself
// has no notion of a calling thread beyond what the operands encode.
type Executor interface {
	Exec(leaf Leaf, rbx, rcx, rdx uintptr) Result
}

// Set is the executor every wrapper function in this package uses. It
// defaults to the platform hardware backend (see encls_amd64.go); swap
// it for a *Simulated in tests.
var Set Executor = hardware{}

// PageInfo mirrors the SGX_PAGEINFO structure: a pointer to the source
// page, an optional SECINFO/PCMD pointer, and the faulting linear
// address for ECREATE/EADD/EAUG. Callers build this from pinned
// addresses; the wrappers never dereference it themselves.
type PageInfo struct {
	SrcPge  uintptr
	SecInfo uintptr
	LinAddr uintptr
	Secs    uintptr
}

// addr returns the address of pginfo for passing to the instruction as
// an operand. The wrappers never dereference it themselves; the
// pointed-to value must remain pinned and unmoved for the instruction's
// duration, which is guaranteed here because pginfo is a Go pointer
// held live on the caller's stack/heap for the call's duration.
func addr(pginfo *PageInfo) uintptr {
	return uintptr(unsafe.Pointer(pginfo))
}

// Create builds a secure enclave control page (SECS) from pginfo.
func Create(pginfo *PageInfo, secs uintptr) Err_t {
	r := Set.Exec(LeafECREATE, addr(pginfo), secs, 0)
	return translate(r)
}

// Add copies and measures a source page into an enclave page.
func Add(pginfo *PageInfo, epc uintptr) Err_t {
	r := Set.Exec(LeafEADD, addr(pginfo), epc, 0)
	return translate(r)
}

// Extend incrementally extends the enclave's measurement over 256
// bytes of epc.
func Extend(secs, epc uintptr) Err_t {
	r := Set.Exec(LeafEEXTEND, secs, epc, 0)
	return translate(r)
}

// Init finalizes an enclave. Callers must retry on Interrupted.
func Init(sigstruct, einittoken, secs uintptr) Err_t {
	r := Set.Exec(LeafEINIT, sigstruct, secs, einittoken)
	return translate(r)
}

// Remove invalidates an enclave page. It must succeed before the page
// may re-enter any free pool.
func Remove(epc uintptr) Err_t {
	r := Set.Exec(LeafEREMOVE, epc, 0, 0)
	return translate(r)
}

// Block marks a page blocked so no new TLB entries may be created for
// it. Idempotent; may report Busy.
func Block(epc uintptr) Err_t {
	r := Set.Exec(LeafEBLOCK, epc, 0, 0)
	return translate(r)
}

// Track starts a new tracking epoch on the enclave owning epc.
func Track(epc uintptr) Err_t {
	r := Set.Exec(LeafETRACK, epc, 0, 0)
	return translate(r)
}

// Writeback encrypts epc and writes it to the pginfo-described backing
// pair, consuming one slot of the VA page at va. A Denied result with
// StatusNotTracked means the caller must force a TLB flush and retry;
// wrapped here so callers can still see the raw status via
// WritebackRaw when they need to distinguish NOT_TRACKED from other
// Denied causes.
func Writeback(pginfo *PageInfo, epc, va uintptr) Err_t {
	r := Set.Exec(LeafEWB, addr(pginfo), epc, va)
	return translate(r)
}

// WritebackRaw is like Writeback but returns the raw Result so callers
// can distinguish StatusNotTracked (recoverable locally) from other
// hardware statuses (fatal).
func WritebackRaw(pginfo *PageInfo, epc, va uintptr) Result {
	return Set.Exec(LeafEWB, addr(pginfo), epc, va)
}

// LoadUnblocked decrypts and restores a page, consuming (freeing) the
// VA slot at va.
func LoadUnblocked(pginfo *PageInfo, epc, va uintptr) Err_t {
	r := Set.Exec(LeafELDU, addr(pginfo), epc, va)
	return translate(r)
}

// Pa types epc as a version-array page.
func Pa(epc uintptr) Err_t {
	r := Set.Exec(LeafEPA, 0, epc, 0)
	return translate(r)
}

// Dbgread reads one 64-bit word from a debug enclave page.
func Dbgread(epc uintptr) (uint64, Err_t) {
	r := Set.Exec(LeafEDGBRD, 0, epc, 0)
	return uint64(r), translate(r)
}

// Dbgwrite writes one 64-bit word to a debug enclave page.
func Dbgwrite(epc uintptr, data uint64) Err_t {
	r := Set.Exec(LeafEDGBWR, uintptr(data), epc, 0)
	return translate(r)
}

// Aug dynamically augments a running enclave with a new page.
func Aug(pginfo *PageInfo, epc uintptr) Err_t {
	r := Set.Exec(LeafEAUG, addr(pginfo), epc, 0)
	return translate(r)
}

// Modpr restricts the page permissions described by secinfo for epc.
func Modpr(secinfo, epc uintptr) Err_t {
	r := Set.Exec(LeafEMODPR, secinfo, epc, 0)
	return translate(r)
}

// Modt changes the page type described by secinfo for epc.
func Modt(secinfo, epc uintptr) Err_t {
	r := Set.Exec(LeafEMODT, secinfo, epc, 0)
	return translate(r)
}
