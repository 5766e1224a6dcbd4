// Package antibot implements the anti-bot cooldown policy engine: a
// map of per-(provider, operation) cooldown entries consulted before
// dispatch and updated after.
package antibot

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreframe/retrieval-runtime/config"
)

// escalatableReasons is the closed set of reason codes for which
// PreflightResult sets EscalationIntent when the policy allows browser
// escalation.
var escalatableReasons = map[string]bool{
	"ip_blocked":         true,
	"token_required":     true,
	"auth_required":      true,
	"challenge_detected": true,
}

// cooldownReasons is the closed set of reason codes that, on failure,
// open a new cooldown entry.
var cooldownReasons = map[string]bool{
	"ip_blocked":         true,
	"token_required":     true,
	"auth_required":      true,
	"challenge_detected": true,
	"rate_limited":       true,
}

type cooldownEntry struct {
	reasonCode    string
	cooldownUntil time.Time
	updatedAt     time.Time
}

// PreflightResult is the outcome of Preflight.
type PreflightResult struct {
	Allow            bool
	ReasonCode       string
	RetryAfterMs     int
	RetryGuidance    string
	ProxyHint        string
	SessionHint      string
	EscalationIntent bool
}

// PostflightContext is the input to Postflight.
type PostflightContext struct {
	ProviderID  string
	Operation   config.Operation
	Success     bool
	ReasonCode  string
	CooldownMs  int
	Retryable   bool
	Attempt     int
	MaxAttempts int
	Now         time.Time
}

// PostflightResult is the outcome of Postflight.
type PostflightResult struct {
	AllowRetry       bool
	ReasonCode       string
	RetryAfterMs     int
	EscalationIntent bool
	ProxyHint        string
	SessionHint      string
}

// Engine holds the cooldown state map.
type Engine struct {
	mu      sync.Mutex
	entries map[string]*cooldownEntry
	cfg     config.AntiBotConfig
}

// New creates an Engine configured by cfg.
func New(cfg config.AntiBotConfig) *Engine {
	return &Engine{entries: make(map[string]*cooldownEntry), cfg: cfg}
}

func key(providerID string, op config.Operation) string {
	return fmt.Sprintf("%s:%s", providerID, op)
}

// Preflight reports whether an invocation attempt may proceed.
func (e *Engine) Preflight(providerID string, op config.Operation, now time.Time) PreflightResult {
	if !e.cfg.Enabled {
		return PreflightResult{Allow: true}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	k := key(providerID, op)
	entry, ok := e.entries[k]
	if !ok {
		return PreflightResult{Allow: true}
	}
	if !entry.cooldownUntil.After(now) {
		delete(e.entries, k)
		return PreflightResult{Allow: true}
	}
	remaining := entry.cooldownUntil.Sub(now)
	result := PreflightResult{
		Allow:        false,
		ReasonCode:   entry.reasonCode,
		RetryAfterMs: int(remaining / time.Millisecond),
	}
	if e.cfg.AllowBrowserEscalation && escalatableReasons[entry.reasonCode] {
		result.EscalationIntent = true
	}
	return result
}

// Postflight records the outcome of an invocation attempt and reports
// whether the pipeline should retry.
func (e *Engine) Postflight(ctx PostflightContext) PostflightResult {
	if !e.cfg.Enabled {
		return PostflightResult{AllowRetry: ctx.Retryable && ctx.Attempt < ctx.MaxAttempts}
	}
	e.mu.Lock()
	k := key(ctx.ProviderID, ctx.Operation)
	if ctx.Success {
		delete(e.entries, k)
		e.mu.Unlock()
		return PostflightResult{AllowRetry: false}
	}
	if cooldownReasons[ctx.ReasonCode] && ctx.CooldownMs > 0 {
		cd := ctx.CooldownMs
		if cd > 300000 {
			cd = 300000
		}
		e.entries[k] = &cooldownEntry{
			reasonCode:    ctx.ReasonCode,
			cooldownUntil: ctx.Now.Add(time.Duration(cd) * time.Millisecond),
			updatedAt:     ctx.Now,
		}
	}
	e.mu.Unlock()

	maxChallengeRetries := e.cfg.MaxChallengeRetries
	if maxChallengeRetries < 0 {
		maxChallengeRetries = 0
	}
	if maxChallengeRetries > 10 {
		maxChallengeRetries = 10
	}
	allow := ctx.Retryable && ctx.Attempt < ctx.MaxAttempts
	if ctx.ReasonCode == "challenge_detected" && ctx.Attempt > maxChallengeRetries+1 {
		allow = false
	}
	result := PostflightResult{AllowRetry: allow, ReasonCode: ctx.ReasonCode}
	if e.cfg.AllowBrowserEscalation && escalatableReasons[ctx.ReasonCode] {
		result.EscalationIntent = true
	}
	return result
}
