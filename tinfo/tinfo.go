// Package tinfo carries a goroutine-scoped interruption flag that a
// blocking Allocator.Alloc call polls at its yield point, the same
// role biscuit's Tnote_t.Killnaps plays for a blocked syscall deciding
// whether to wake up early.
//
// biscuit's Current()/SetCurrent() (src/tinfo/tinfo.go) stash the
// Tnote_t pointer in a per-goroutine slot its own patched runtime
// exposes (runtime.Gptr/Setgptr) — machinery that does not exist
// outside biscuit's fork. The portable equivalent or ordinary Go is
// context.Context: a Note travels explicitly on the ctx passed into
// Alloc, rather than through hidden per-goroutine state, which is
// exactly the idiom the rest of the Go ecosystem (net/http,
// google.golang.org/grpc) uses for request-scoped cancellation.
package tinfo

import (
	"context"
	"sync"
)

// Note is one caller's interruption state. A single Note may be shared
// by code that wants to interrupt a blocked Alloc (e.g. a supervisor
// tearing an enclave down) and the blocked call itself.
type Note struct {
	mu     sync.Mutex
	killed bool
	kill   chan struct{}
}

// New returns a fresh, live Note.
func New() *Note {
	return &Note{kill: make(chan struct{})}
}

// Kill marks the note interrupted and wakes anything waiting on
// KillCh. Idempotent.
func (n *Note) Kill() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.killed {
		return
	}
	n.killed = true
	close(n.kill)
}

// Killed reports whether Kill has been called.
func (n *Note) Killed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.killed
}

// KillCh returns a channel closed when Kill is called. A blocking
// Alloc selects on this alongside its own wakeup channel to notice an
// interruption without polling.
func (n *Note) KillCh() <-chan struct{} {
	return n.kill
}

type contextKey struct{}

// WithNote returns a context carrying n, for a caller to thread into
// Allocator.Alloc.
func WithNote(ctx context.Context, n *Note) context.Context {
	return context.WithValue(ctx, contextKey{}, n)
}

// FromContext retrieves the Note installed by WithNote, if any.
func FromContext(ctx context.Context) (*Note, bool) {
	n, ok := ctx.Value(contextKey{}).(*Note)
	return n, ok
}
