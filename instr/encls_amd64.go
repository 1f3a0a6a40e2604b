//go:build amd64

package instr

// hardware issues ENCLS directly via the enclsRaw asm stub. It does not
// install its own exception handling: a genuine CPU fault on ENCLS
// escapes as an ordinary Go signal-derived panic rather than a
// translated Fault result, because that requires kernel-level
// exception-table support this package does not have. Production
// deployments are expected to run this behind a supervisor that can
// recognize and restart a faulted worker; tests exercise the owner and
// reclaim logic against Simulated instead, where every fault path is
// reachable without crashing the test binary.
type hardware struct{}

func (hardware) Exec(leaf Leaf, rbx, rcx, rdx uintptr) Result {
	return Result(enclsRaw(uint64(leaf), rbx, rcx, rdx))
}

// enclsRaw issues the ENCLS instruction (0F 01 CF) with leaf in RAX and
// the three operands in RBX/RCX/RDX, returning RAX.
func enclsRaw(leaf uint64, rbx, rcx, rdx uintptr) uint64
