package provider

import (
	"sync"
	"time"

	"github.com/coreframe/retrieval-runtime/rterrors"
)

// HealthStatus is the three-value provider health enum.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Health is the per-provider health snapshot.
type Health struct {
	Status    HealthStatus
	UpdatedAt time.Time
	LatencyMs int
}

// circuitState is the per-provider circuit breaker state machine:
// closed -> open -> closed. Admission while open is gated purely by
// cooldown expiry; there is no half-open trial count at this layer.
type circuitState struct {
	mu               sync.Mutex
	failureThreshold int
	cooldownMs       int
	consecutiveFails int
	cooldownUntil    time.Time
	lastErr          *rterrors.Error
}

func newCircuitState(failureThreshold, cooldownMs int) *circuitState {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldownMs <= 0 {
		cooldownMs = 30000
	}
	return &circuitState{failureThreshold: failureThreshold, cooldownMs: cooldownMs}
}

func (c *circuitState) isOpen(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cooldownUntil.IsZero() {
		return false
	}
	if now.After(c.cooldownUntil) || now.Equal(c.cooldownUntil) {
		// Cooldown elapsed: reset to closed on the next admission check.
		c.cooldownUntil = time.Time{}
		c.consecutiveFails = 0
		return false
	}
	return true
}

func (c *circuitState) errorSnapshot() *rterrors.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *circuitState) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFails = 0
	c.cooldownUntil = time.Time{}
}

func (c *circuitState) recordFailure(err *rterrors.Error, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveFails++
	c.lastErr = err
	if c.consecutiveFails >= c.failureThreshold {
		c.cooldownUntil = now.Add(time.Duration(c.cooldownMs) * time.Millisecond)
	}
}

// entry bundles an adapter with its registry-owned mutable state.
type entry struct {
	adapter Adapter

	mu     sync.RWMutex
	health Health

	circuit *circuitState
}

// Registry holds the set of registered adapters keyed by id, their
// health, and their circuit breaker state: an in-memory map guarded by
// a mutex, with per-id health stored alongside the adapter rather than
// in a separate store.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	cbConfig CircuitBreakerDefaults
}

// CircuitBreakerDefaults are applied to every adapter registered
// without an explicit override.
type CircuitBreakerDefaults struct {
	FailureThreshold int
	CooldownMs       int
}

// New creates an empty Registry.
func New(cb CircuitBreakerDefaults) *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		cbConfig: cb,
	}
}

// Register adds or idempotently replaces an adapter by id. Replacing
// an existing id resets its circuit and health state; last write
// wins.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[a.ID()] = &entry{
		adapter: a,
		health:  Health{Status: HealthHealthy, UpdatedAt: time.Now()},
		circuit: newCircuitState(r.cbConfig.FailureThreshold, r.cbConfig.CooldownMs),
	}
}

// List returns every registered adapter in registration order is not
// guaranteed; callers requiring a stable order use Selector instead.
func (r *Registry) List() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.adapter)
	}
	return out
}

// Get returns the adapter registered under id, or nil.
func (r *Registry) Get(id string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil
	}
	return e.adapter
}

// Capabilities aggregates every registered adapter's capability
// descriptor for listing surfaces.
func (r *Registry) Capabilities() map[string]Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Capabilities, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.adapter.Capabilities()
	}
	return out
}

// GetHealth reads a provider's current health snapshot.
func (r *Registry) GetHealth(id string) (Health, bool) {
	e, ok := r.entryFor(id)
	if !ok {
		return Health{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health, true
}

// SetHealth overwrites a provider's health snapshot directly (used by
// adapter-supplied HealthProbe results).
func (r *Registry) SetHealth(id string, status HealthStatus, latencyMs int) {
	e, ok := r.entryFor(id)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health = Health{Status: status, UpdatedAt: time.Now(), LatencyMs: latencyMs}
}

func (r *Registry) entryFor(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// IsCircuitOpen reports whether admission to id should fail fast. A
// cooldown that has elapsed is lazily reset to closed as a side
// effect of the check.
func (r *Registry) IsCircuitOpen(id string) bool {
	e, ok := r.entryFor(id)
	if !ok {
		return false
	}
	return e.circuit.isOpen(time.Now())
}

// GetCircuitError returns the latched error from the last failure that
// (possibly) opened the circuit, or nil.
func (r *Registry) GetCircuitError(id string) *rterrors.Error {
	e, ok := r.entryFor(id)
	if !ok {
		return nil
	}
	return e.circuit.errorSnapshot()
}

// MarkSuccess resets the circuit's failure counter and marks the
// provider healthy.
func (r *Registry) MarkSuccess(id string, latencyMs int) {
	e, ok := r.entryFor(id)
	if !ok {
		return
	}
	e.circuit.recordSuccess()
	e.mu.Lock()
	e.health = Health{Status: HealthHealthy, UpdatedAt: time.Now(), LatencyMs: latencyMs}
	e.mu.Unlock()
}

// MarkFailure advances the circuit's failure counter (opening it once
// the threshold is reached) and marks the provider degraded, or
// unhealthy once the circuit has opened.
func (r *Registry) MarkFailure(id string, err *rterrors.Error) {
	e, ok := r.entryFor(id)
	if !ok {
		return
	}
	now := time.Now()
	e.circuit.recordFailure(err, now)
	status := HealthDegraded
	if e.circuit.isOpen(now) {
		status = HealthUnhealthy
	}
	e.mu.Lock()
	e.health = Health{Status: status, UpdatedAt: now}
	e.mu.Unlock()
}
