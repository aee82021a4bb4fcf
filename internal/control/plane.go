// Package control carries the external cancel/pause signals into the turn
// scheduler. Steps are non-preemptible units: cancellation lets the running
// group drain and stops further dispatch, it never interrupts a step.
package control

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/parley-ai/parley/internal/core"
)

// Plane is the control surface for one running turn (or a sequence of turns
// on the same session). Safe for concurrent use from UI goroutines.
type Plane struct {
	mu        sync.RWMutex
	paused    atomic.Bool
	cancelled atomic.Bool
	reason    string
	resumeCh  chan struct{}
}

// New creates an idle control plane.
func New() *Plane {
	return &Plane{resumeCh: make(chan struct{})}
}

// Cancel requests cancellation. The first reason wins; later calls are no-ops.
func (p *Plane) Cancel(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled.Load() {
		return
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	p.reason = reason
	p.cancelled.Store(true)
	// A paused scheduler must observe the cancel, not wait for resume.
	if p.paused.Load() {
		p.paused.Store(false)
		close(p.resumeCh)
		p.resumeCh = make(chan struct{})
	}
}

// Pause stops new groups from dispatching. Running steps complete.
func (p *Plane) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused.Store(true)
}

// Resume releases a paused scheduler.
func (p *Plane) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused.Load() {
		p.paused.Store(false)
		close(p.resumeCh)
		p.resumeCh = make(chan struct{})
	}
}

// IsCancelled reports whether cancellation was requested.
func (p *Plane) IsCancelled() bool {
	return p.cancelled.Load()
}

// IsPaused reports whether the plane is paused.
func (p *Plane) IsPaused() bool {
	return p.paused.Load()
}

// CheckCancelled returns the cancellation error once Cancel was called.
func (p *Plane) CheckCancelled() error {
	if p.cancelled.Load() {
		p.mu.RLock()
		reason := p.reason
		p.mu.RUnlock()
		return core.ErrCancelled(reason)
	}
	return nil
}

// WaitIfPaused blocks until resumed, cancelled, or the context ends. The
// scheduler calls this between groups, never inside a step.
func (p *Plane) WaitIfPaused(ctx context.Context) error {
	for p.paused.Load() {
		p.mu.RLock()
		resumeCh := p.resumeCh
		p.mu.RUnlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resumeCh:
		}
	}
	return p.CheckCancelled()
}
