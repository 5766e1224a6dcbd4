package concurrency

import (
	"math"
	"sync"
	"time"

	"github.com/coreframe/retrieval-runtime/config"
)

// Observation is one sample appended to a track's sliding window.
type Observation struct {
	LatencyMs     int
	Timeout       bool
	Challenge     bool
	HTTP4xx       bool
	HTTP5xx       bool
	QueuePressure float64
}

// window is a fixed-capacity ring buffer of observations.
type window struct {
	size    int
	samples []Observation
	next    int
	filled  bool
}

func newWindow(size int) *window {
	return &window{size: size, samples: make([]Observation, size)}
}

func (w *window) add(o Observation) {
	w.samples[w.next] = o
	w.next = (w.next + 1) % w.size
	if w.next == 0 {
		w.filled = true
	}
}

func (w *window) snapshot() []Observation {
	if !w.filled {
		return append([]Observation(nil), w.samples[:w.next]...)
	}
	out := make([]Observation, 0, w.size)
	out = append(out, w.samples[w.next:]...)
	out = append(out, w.samples[:w.next]...)
	return out
}

// rates summarizes a window's samples for the healthy/unhealthy tests.
type rates struct {
	p95Latency    float64
	timeoutRate   float64
	challengeRate float64
	rate5xx       float64
	rate4xx       float64
	avgQueue      float64
}

func summarize(samples []Observation) rates {
	n := len(samples)
	if n == 0 {
		return rates{}
	}
	latencies := make([]float64, n)
	var timeouts, challenges, c5xx, c4xx int
	var queueSum float64
	for i, s := range samples {
		latencies[i] = float64(s.LatencyMs)
		if s.Timeout {
			timeouts++
		}
		if s.Challenge {
			challenges++
		}
		if s.HTTP5xx {
			c5xx++
		}
		if s.HTTP4xx {
			c4xx++
		}
		queueSum += s.QueuePressure
	}
	sortFloats(latencies)
	return rates{
		p95Latency:    percentile(latencies, 0.95),
		timeoutRate:   float64(timeouts) / float64(n),
		challengeRate: float64(challenges) / float64(n),
		rate5xx:       float64(c5xx) / float64(n),
		rate4xx:       float64(c4xx) / float64(n),
		avgQueue:      queueSum / float64(n),
	}
}

func sortFloats(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// TrackLimits is the {limit, min, max} triple for one track.
type TrackLimits struct {
	Limit int `json:"limit"`
	Min   int `json:"min"`
	Max   int `json:"max"`
}

// Snapshot is the adaptive concurrency diagnostics payload.
type Snapshot struct {
	Enabled bool        `json:"enabled"`
	Scope   string      `json:"scope"`
	Global  TrackLimits `json:"global"`
	Scoped  TrackLimits `json:"scoped"`
}

type track struct {
	mu           sync.Mutex
	win          *window
	limit        int
	min          int
	max          int
	lastAdjusted time.Time
}

func newTrack(cfg config.AdaptiveConcurrencyConfig, initial, min, max int) *track {
	return &track{
		win:   newWindow(cfg.WindowSize),
		limit: initial,
		min:   min,
		max:   max,
	}
}

func (t *track) observe(cfg config.AdaptiveConcurrencyConfig, o Observation, healthyLatency int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.win.add(o)
	if now.Sub(t.lastAdjusted) < time.Duration(cfg.CooldownMs)*time.Millisecond {
		return
	}
	r := summarize(t.win.snapshot())
	unhealthy := r.timeoutRate > 0 ||
		r.challengeRate > 0 ||
		r.rate5xx > 0.15 ||
		r.rate4xx > 0.3 ||
		r.p95Latency > float64(healthyLatency)*1.35 ||
		r.avgQueue > 0.85
	healthy := r.timeoutRate == 0 &&
		r.challengeRate == 0 &&
		r.rate5xx == 0 &&
		r.rate4xx == 0 &&
		r.p95Latency <= float64(healthyLatency) &&
		r.avgQueue < 0.6

	switch {
	case unhealthy:
		t.limit = clamp(int(math.Floor(float64(t.limit)*cfg.DecreaseFactor)), t.min, t.max)
		t.lastAdjusted = now
	case healthy:
		t.limit = clamp(t.limit+cfg.IncreaseStep, t.min, t.max)
		t.lastAdjusted = now
	}
}

func (t *track) snapshot() TrackLimits {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackLimits{Limit: t.limit, Min: t.min, Max: t.max}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Controller maintains the global track plus one track per scope key,
// mutating a Gate's semaphore limits as it adjusts. Re-evaluation is
// interval-gated so limits never change more often than the cooldown
// allows.
type Controller struct {
	cfg    config.AdaptiveConcurrencyConfig
	gate   *Gate
	mu     sync.Mutex
	global *track
	scopes map[string]*track

	// initialScope seeds every lazily created scope track.
	initialScope int
}

// NewController builds a Controller bound to gate, seeded from cfg's
// Max/Min fields and the gate's already-configured initial limits.
func NewController(cfg config.AdaptiveConcurrencyConfig, gate *Gate, initialGlobal, initialScope int) *Controller {
	maxGlobal, minGlobal := cfg.MaxGlobal, cfg.MinGlobal
	if maxGlobal <= 0 {
		maxGlobal = initialGlobal
	}
	if minGlobal <= 0 {
		minGlobal = 1
	}
	c := &Controller{
		cfg:    cfg,
		gate:   gate,
		global: newTrack(cfg, initialGlobal, minGlobal, maxGlobal),
		scopes: make(map[string]*track),
	}
	c.initialScope = initialScope
	return c
}

func (c *Controller) scopeTrack(scope string) *track {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.scopes[scope]
	if !ok {
		maxScope, minScope := c.cfg.MaxPerDomain, c.cfg.MinPerDomain
		if maxScope <= 0 {
			maxScope = 4
		}
		if minScope <= 0 {
			minScope = 1
		}
		initial := c.initialScope
		if initial <= 0 || initial > maxScope {
			initial = maxScope
		}
		if initial < minScope {
			initial = minScope
		}
		t = newTrack(c.cfg, initial, minScope, maxScope)
		c.scopes[scope] = t
	}
	return t
}

// SyncLimits pushes the controller's current limits into the gate,
// called immediately before every admission attempt: "Both limits are first synced from the adaptive snapshot."
func (c *Controller) SyncLimits(scope string) {
	if !c.cfg.Enabled {
		return
	}
	c.gate.SetGlobalLimit(c.global.snapshot().Limit)
	c.gate.SetScopeLimit(scope, c.scopeTrack(scope).snapshot().Limit)
}

// Observe records one sample on both the global and scope tracks and,
// past the cooldown, mutates their limits. A no-op when disabled.
func (c *Controller) Observe(scope string, op config.Operation, o Observation, now time.Time) {
	if !c.cfg.Enabled {
		return
	}
	healthy := c.cfg.HealthyLatencyMs[op]
	if healthy <= 0 {
		healthy = 2000
	}
	c.global.observe(c.cfg, o, healthy, now)
	c.scopeTrack(scope).observe(c.cfg, o, healthy, now)
}

// Snapshot reports the controller's current state for diagnostics.
func (c *Controller) Snapshot(scope string) Snapshot {
	return Snapshot{
		Enabled: c.cfg.Enabled,
		Scope:   scope,
		Global:  c.global.snapshot(),
		Scoped:  c.scopeTrack(scope).snapshot(),
	}
}

// ClampCrawlInputs bounds a crawl's maxPerDomain by the scope's
// current adaptive limit, and clamps an inferred
// filters.fetchConcurrency value the same way.
func (c *Controller) ClampCrawlInputs(scope string, maxPerDomain int, fetchConcurrency int) (clampedMaxPerDomain, clampedFetchConcurrency int) {
	if !c.cfg.Enabled {
		return maxPerDomain, fetchConcurrency
	}
	scopedLimit := c.scopeTrack(scope).snapshot().Limit
	clampedMaxPerDomain = maxPerDomain
	if clampedMaxPerDomain <= 0 || clampedMaxPerDomain > scopedLimit {
		clampedMaxPerDomain = scopedLimit
	}
	clampedFetchConcurrency = fetchConcurrency
	if clampedFetchConcurrency <= 0 || clampedFetchConcurrency > scopedLimit {
		clampedFetchConcurrency = scopedLimit
	}
	return
}
