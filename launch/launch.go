// Package launch implements the launch-control MSR cache and the
// EINIT wrapper that uses it.
//
// Grounded on sgx_einit and the per-cpu sgx_le_pubkey_hash_cache
// (original_source/arch/x86/kernel/cpu/intel_sgx.c): writing the
// launch-enclave pubkey-hash MSRs is expensive, so the kernel caches
// the last value written per CPU and skips unchanged words, and
// serializes the whole sequence (MSR writes plus ENCLS[EINIT]) with
// preempt_disable so a context switch can't interleave two enclaves'
// MSR writes on the same core.
package launch

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"epc/instr"
)

// PubkeyHash is the four 64-bit words of a launch-enclave public key
// hash, matching MSR_IA32_SGXLEPUBKEYHASH0..3.
type PubkeyHash [4]uint64

// WriteMSR writes value to the model-specific register at index i
// (0..3, offset from MSR_IA32_SGXLEPUBKEYHASH0). Production code wires
// this to whatever privileged MSR-write primitive the platform
// exposes; tests supply a recording fake.
type WriteMSR func(i int, value uint64)

// MsrCache tracks the last pubkey hash written per lane, standing in
// for the kernel's DEFINE_PER_CPU cache. "Lane" here is whatever
// serialization domain the caller wants cached independently — the
// obvious choice is one lane per worker goroutine pinned to a
// logical core, but this package does not assume Go exposes real CPU
// affinity and leaves that mapping to the caller.
type MsrCache struct {
	lanes []laneState
}

type laneState struct {
	mu   sync.Mutex
	hash [4]uint64
	init bool
}

// NewMsrCache builds a cache with the given number of lanes. The cache
// starts uninitialized in every lane (mirroring the kernel comment:
// initializing it at boot would be pure overhead since the first
// EINIT on most systems needs to write the MSRs regardless).
func NewMsrCache(lanes int) *MsrCache {
	return &MsrCache{lanes: make([]laneState, lanes)}
}

// apply writes only the words of hash that differ from lane's cached
// value, updating the cache as it goes, and holds lane's own lock for
// the duration — the direct analogue of preempt_disable bracketing the
// per-cpu MSR writes.
func (c *MsrCache) apply(lane int, hash PubkeyHash, write WriteMSR) {
	l := &c.lanes[lane]
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := 0; i < 4; i++ {
		if l.init && l.hash[i] == hash[i] {
			continue
		}
		write(i, hash[i])
		l.hash[i] = hash[i]
	}
	l.init = true
}

// Einit performs ENCLS[EINIT], writing the launch-control MSRs first
// when launch control is enabled. Concurrent calls sharing the same
// lane are collapsed via singleflight so only one EINIT sequence ever
// races the cache for that lane at a time.
type Einit struct {
	cache     *MsrCache
	lcEnabled bool
	write     WriteMSR
	group     singleflight.Group
}

// NewEinit builds an Einit wrapper. lcEnabled mirrors sgx_lc_enabled:
// when false, the MSR cache is never consulted and EINIT runs with
// whatever launch-enclave hash is already resident, matching
// hardware without launch control support.
func NewEinit(lanes int, lcEnabled bool, write WriteMSR) *Einit {
	return &Einit{cache: NewMsrCache(lanes), lcEnabled: lcEnabled, write: write}
}

// Init runs EINIT for one enclave on the given lane. Per instr.Init's
// contract, a result of instr.Interrupted means the caller should
// retry; this wrapper does not retry on the caller's behalf, since
// spec.md leaves the retry count and backoff policy to the caller.
func (e *Einit) Init(ctx context.Context, lane int, sigstruct, einittoken, secs uintptr, hash PubkeyHash) instr.Err_t {
	type result struct{ errt instr.Err_t }

	key := strconv.Itoa(lane)
	v, _, _ := e.group.Do(key, func() (interface{}, error) {
		if e.lcEnabled {
			e.cache.apply(lane, hash, e.write)
		}
		return result{errt: instr.Init(sigstruct, einittoken, secs)}, nil
	})
	return v.(result).errt
}
