// Package concurrency implements the global/per-scope admission gate
// and the adaptive concurrency controller that mutates its limits from
// live signal windows. The semaphore is built on sync/context
// primitives directly: its capacity must change while holders are
// active without preempting them, which rules out a fixed-weight
// semaphore.
package concurrency

import (
	"context"
	"sync"
)

// Semaphore is a counting semaphore whose limit can be changed while
// holders are active. Lowering the limit never preempts in-flight
// holders; it only blocks new admissions until the active count falls
// below the new limit. Raising the limit immediately wakes waiters.
type Semaphore struct {
	mu      sync.Mutex
	limit   int
	active  int
	waiters []chan struct{}
}

// NewSemaphore creates a semaphore with the given initial limit.
func NewSemaphore(limit int) *Semaphore {
	if limit < 1 {
		limit = 1
	}
	return &Semaphore{limit: limit}
}

// SetLimit changes the semaphore's capacity. Called before every
// admission attempt with the adaptive controller's latest snapshot.
func (s *Semaphore) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	s.mu.Lock()
	s.limit = limit
	s.wakeLocked()
	s.mu.Unlock()
}

// wakeLocked releases as many FIFO waiters as current headroom allows.
// Caller must hold s.mu.
func (s *Semaphore) wakeLocked() {
	for len(s.waiters) > 0 && s.active < s.limit {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.active++
		close(w)
	}
}

// Acquire blocks until a slot is available or ctx is canceled.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.active < s.limit {
		s.active++
		s.mu.Unlock()
		return nil
	}
	wait := make(chan struct{})
	s.waiters = append(s.waiters, wait)
	s.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		s.cancelWaiter(wait)
		return ctx.Err()
	}
}

// cancelWaiter removes wait from the queue if it never got admitted;
// if it was already admitted concurrently with the cancellation, the
// slot it was granted is released back.
func (s *Semaphore) cancelWaiter(wait chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == wait {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
	// Already admitted: release the slot we won't use.
	select {
	case <-wait:
		s.active--
		s.wakeLocked()
	default:
	}
}

// Release frees a held slot.
func (s *Semaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active > 0 {
		s.active--
	}
	s.wakeLocked()
}

// Snapshot reports active/queued counts for pressure calculations.
func (s *Semaphore) Snapshot() (active, queued, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, len(s.waiters), s.limit
}

// Gate bounds admission globally and, independently, per scope key.
// Admission is always global-then-scope: acquiring the
// scope semaphore first and the global one second would let a single
// busy scope starve the global pool's fairness guarantee.
type Gate struct {
	mu     sync.Mutex
	global *Semaphore
	scopes map[string]*Semaphore
	scopeLimit int
}

// NewGate creates a Gate with the given initial global and per-scope
// limits. Per-scope semaphores are created lazily on first use of a
// scope key, all sharing scopeLimit until SetScopeLimit overrides one.
func NewGate(globalLimit, scopeLimit int) *Gate {
	return &Gate{
		global:     NewSemaphore(globalLimit),
		scopes:     make(map[string]*Semaphore),
		scopeLimit: scopeLimit,
	}
}

func (g *Gate) scopeFor(scope string) *Semaphore {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.scopes[scope]
	if !ok {
		s = NewSemaphore(g.scopeLimit)
		g.scopes[scope] = s
	}
	return s
}

// SetGlobalLimit mutates the global semaphore's capacity.
func (g *Gate) SetGlobalLimit(limit int) { g.global.SetLimit(limit) }

// SetScopeLimit mutates one scope's semaphore capacity.
func (g *Gate) SetScopeLimit(scope string, limit int) { g.scopeFor(scope).SetLimit(limit) }

// Admission is a held pair of slots (global, scope) released together.
type Admission struct {
	global *Semaphore
	scope  *Semaphore
}

// Release frees both held slots.
func (a *Admission) Release() {
	if a == nil {
		return
	}
	a.scope.Release()
	a.global.Release()
}

// Acquire admits through the global semaphore, then the scope
// semaphore. On scope failure (ctx canceled) the already-held global
// slot is released before returning the error.
func (g *Gate) Acquire(ctx context.Context, scope string) (*Admission, error) {
	if err := g.global.Acquire(ctx); err != nil {
		return nil, err
	}
	scopeSem := g.scopeFor(scope)
	if err := scopeSem.Acquire(ctx); err != nil {
		g.global.Release()
		return nil, err
	}
	return &Admission{global: g.global, scope: scopeSem}, nil
}

// Pressure returns (active+queued)/limit for the given scope and for
// the global semaphore, the maximum of which feeds adaptive
// observation.
func (g *Gate) Pressure(scope string) (globalPressure, scopePressure float64) {
	ga, gq, gl := g.global.Snapshot()
	globalPressure = float64(ga+gq) / float64(gl)
	sa, sq, sl := g.scopeFor(scope).Snapshot()
	scopePressure = float64(sa+sq) / float64(sl)
	return
}
