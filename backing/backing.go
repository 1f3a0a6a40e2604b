// Package backing defines the backing-store collaborator spec.md names
// but leaves unimplemented: where a writeback (EWB) target's encrypted
// data and its PCMD metadata record actually live. This module owns no
// backing file, shmem segment, or remote store; it only defines the
// contract an owner's Write implementation calls into, the same way
// spec.md treats backing storage as an external dependency rather than
// part of the page-cache manager itself.
package backing

// Store resolves a page's backing index to the two addresses EWB
// needs: one for the encrypted page contents, one for its PCMD record.
// Both are opaque to this module — they are whatever the embedding
// system's backing file, once mapped, presents as a stable address for
// the duration of the call.
type Store interface {
	DataAddr(index uint64) uintptr
	PCMDAddr(index uint64) uintptr
}
