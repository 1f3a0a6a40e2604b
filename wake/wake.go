// Package wake is the channel-based wakeup the allocator uses to ask
// the reclaimer for a cluster and learn when it is done.
//
// Grounded on biscuit's oommsg package (src/oommsg/oommsg.go): a
// single exported channel carrying a small message struct with a
// "need" amount and a resume channel the sender blocks on. This
// package generalizes that one global channel into a value a Manager
// constructs and owns (so tests can run multiple independent managers
// without sharing global channel state), but keeps the same
// request/resume shape.
package wake

import "context"

// Request is sent to the reclaimer to ask it to run a cluster. Need is
// informational (how many free pages the requester is short); the
// reclaimer always runs exactly one cluster per request rather than
// sizing the cluster to Need, per spec.
type Request struct {
	Need   int
	Resume chan struct{}
}

// Channel is the wakeup channel between Allocator and Reclaimer.
type Channel struct {
	ch chan Request
}

// New returns a ready-to-use Channel.
func New() *Channel {
	return &Channel{ch: make(chan Request)}
}

// Send blocks until the reclaimer receives the request, then blocks
// until the reclaimer signals completion by closing Resume, or until
// ctx is done, whichever happens first.
func (c *Channel) Send(ctx context.Context, need int) error {
	req := Request{Need: need, Resume: make(chan struct{})}
	select {
	case c.ch <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.Resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv is called by the reclaimer's loop to receive the next request.
func (c *Channel) Recv() <-chan Request {
	return c.ch
}

// Nudge attempts a non-blocking wake: if the reclaimer is already
// parked on Recv, it picks up this request and a cluster runs in the
// background; otherwise (busy with another cluster already) the
// request is dropped rather than queued, since a busy reclaimer is
// already doing the work a nudge would have asked for. Used for the
// proactive LOW_WATERMARK signal, where blocking the caller to wait
// out a whole reclaim cluster would defeat the point of a successful,
// non-blocking return.
func (c *Channel) Nudge(need int) {
	req := Request{Need: need, Resume: make(chan struct{})}
	select {
	case c.ch <- req:
		go func() { <-req.Resume }()
	default:
	}
}

// Done signals the requester that one cluster has completed.
func Done(req Request) {
	close(req.Resume)
}
