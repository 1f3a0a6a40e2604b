package instr

import "sync"

// Simulated is a software model of the ENCLS leaves good enough to
// exercise every caller in this module without real SGX hardware: it
// tracks which addresses are typed as SECS/regular/VA pages, which are
// blocked, and which have a pending ETRACK epoch, and returns the same
// status code the hardware would for the sequencing error this
// module's callers must handle (NOT_TRACKED). It never reports
// ENTRYEPOCH_LOCKED.
//
// It is not a security boundary and performs no actual encryption,
// measurement, or access control; it exists purely as a test double.
type Simulated struct {
	mu sync.Mutex

	typed    map[uintptr]Leaf
	blocked  map[uintptr]bool
	tracked  map[uintptr]bool
	faultAt  map[uintptr]uint8
	deniedAt map[uintptr]bool
}

// NewSimulated returns an empty simulated instruction backend.
func NewSimulated() *Simulated {
	return &Simulated{
		typed:    make(map[uintptr]Leaf),
		blocked:  make(map[uintptr]bool),
		tracked:  make(map[uintptr]bool),
		faultAt:  make(map[uintptr]uint8),
		deniedAt: make(map[uintptr]bool),
	}
}

// InjectFault makes the next instruction touching epc report the given
// fault vector instead of a status code.
func (s *Simulated) InjectFault(epc uintptr, vector uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faultAt[epc] = vector
}

// InjectDenied makes the next instruction touching epc report a
// generic denied status once.
func (s *Simulated) InjectDenied(epc uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deniedAt[epc] = true
}

func encode(status StatusCode, fault uint8) Result {
	return Result(uint32(fault)<<16 | uint32(status))
}

// Exec implements Executor.
func (s *Simulated) Exec(leaf Leaf, rbx, rcx, rdx uintptr) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target uintptr
	switch leaf {
	case LeafECREATE:
		target = rcx
	case LeafEADD, LeafEAUG, LeafEPA:
		target = rcx
	case LeafEWB, LeafELDU:
		target = rcx
	default:
		target = rbx
	}

	if v, ok := s.faultAt[target]; ok {
		delete(s.faultAt, target)
		return encode(StatusOK, v)
	}
	if s.deniedAt[target] {
		delete(s.deniedAt, target)
		return encode(StatusInvalidAttribute, 0)
	}

	switch leaf {
	case LeafECREATE:
		s.typed[rcx] = LeafECREATE
	case LeafEADD, LeafEAUG:
		s.typed[rcx] = leaf
	case LeafEPA:
		s.typed[rcx] = LeafEPA
	case LeafEBLOCK:
		s.blocked[rbx] = true
	case LeafETRACK:
		s.tracked[rbx] = true
	case LeafEWB:
		if !s.blocked[rcx] {
			return encode(StatusInvalidAttribute, 0)
		}
		if !s.tracked[rcx] {
			return encode(StatusNotTracked, 0)
		}
		delete(s.typed, rcx)
		delete(s.blocked, rcx)
		delete(s.tracked, rcx)
	case LeafEREMOVE:
		delete(s.typed, rbx)
		delete(s.blocked, rbx)
		delete(s.tracked, rbx)
	}
	return encode(StatusOK, 0)
}
