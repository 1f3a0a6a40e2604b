//go:build !amd64

package instr

// hardware is unavailable on architectures without an ENCLS
// implementation. Every call is Denied so callers without a real SGX
// platform still link and run (against Simulated in tests) rather than
// failing the build.
type hardware struct{}

func (hardware) Exec(leaf Leaf, rbx, rcx, rdx uintptr) Result {
	return Result(uint32(StatusInvalidAttribute))
}
