// Package pipeline implements the per-provider invocation pipeline:
// circuit check, anti-bot preflight, concurrency admission, timeout
// dispatch, prompt guard, realism detection, adaptive observation, and
// anti-bot postflight, wired around a single adapter call with an
// inner retry loop.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/coreframe/retrieval-runtime/antibot"
	"github.com/coreframe/retrieval-runtime/blocker"
	"github.com/coreframe/retrieval-runtime/concurrency"
	"github.com/coreframe/retrieval-runtime/config"
	"github.com/coreframe/retrieval-runtime/promptguard"
	"github.com/coreframe/retrieval-runtime/provider"
	"github.com/coreframe/retrieval-runtime/realism"
	"github.com/coreframe/retrieval-runtime/record"
	"github.com/coreframe/retrieval-runtime/rtlog"
	"github.com/coreframe/retrieval-runtime/rterrors"
	"github.com/coreframe/retrieval-runtime/telemetry"
	"github.com/coreframe/retrieval-runtime/tier"
)

// Provenance records where a record came from and how.
type Provenance struct {
	Provider      string    `json:"provider"`
	RetrievalPath string    `json:"retrievalPath"`
	RetrievedAt   time.Time `json:"retrievedAt"`
}

// ExecutionMetadata is attached to every outcome.
type ExecutionMetadata struct {
	Tier       tier.Tier  `json:"tier"`
	Provenance Provenance `json:"provenance"`
}

// PromptGuardDiagnostics summarizes one invocation's guard sweep.
type PromptGuardDiagnostics struct {
	Enabled             bool                     `json:"enabled"`
	Entries             []promptguard.AuditEntry `json:"entries,omitempty"`
	QuarantinedSegments int                      `json:"quarantinedSegments"`
}

// RealismDiagnostics summarizes one invocation's realism sweep.
type RealismDiagnostics struct {
	ViolationCount      int      `json:"violationCount"`
	MatchedPatternCodes []string `json:"matchedPatternCodes,omitempty"`
}

// Diagnostics is the per-invocation observability payload.
type Diagnostics struct {
	AdaptiveConcurrency concurrency.Snapshot   `json:"adaptiveConcurrency"`
	PromptGuard         PromptGuardDiagnostics `json:"promptGuard"`
	Realism             RealismDiagnostics     `json:"realism"`
}

// Outcome is the tagged-union per-provider result.
type Outcome struct {
	OK                bool              `json:"ok"`
	Records           []*record.Record  `json:"records,omitempty"`
	Trace             record.Trace      `json:"trace"`
	LatencyMs         int               `json:"latencyMs"`
	Attempts          int               `json:"attempts"`
	Retries           int               `json:"retries"`
	ExecutionMetadata ExecutionMetadata `json:"executionMetadata"`
	Diagnostics       Diagnostics       `json:"diagnostics"`
	Error             *rterrors.Error   `json:"error,omitempty"`
	Blocker           *blocker.Signal   `json:"blocker,omitempty"`
}

// Dispatch invokes the adapter operation bound to a single attempt.
// Callers build this closure over whichever of Search/Fetch/Crawl/Post
// the aggregator is driving.
type Dispatch func(ictx provider.InvocationContext) ([]*record.Record, error)

// Params bundles everything one invocation needs.
type Params struct {
	Operation            config.Operation
	ScopeKey             string
	Tier                 tier.Tier
	Trace                record.Trace
	TimeoutMs            int
	Retries              int
	UseCookies           bool
	CookiePolicyOverride provider.CookiePolicy
	BrowserFallback      provider.BrowserFallbackPort
	SeedURLs             []string
	Query                string
	PromptGuardEnabled   bool
	BlockerThreshold     float64
	RestrictedTargetHint bool
	EnvLimitedHint       bool
	Dispatch             Dispatch
}

// Pipeline wires the registry, gate, adaptive controller, and anti-bot
// engine shared across every invocation in a Runtime.
type Pipeline struct {
	Registry  *provider.Registry
	Gate      *concurrency.Gate
	Adaptive  *concurrency.Controller
	AntiBot   *antibot.Engine
	Logger    rtlog.Logger
	Telemetry telemetry.Telemetry
}

func (p *Pipeline) tel() telemetry.Telemetry {
	if p.Telemetry == nil {
		return telemetry.NoOp{}
	}
	return p.Telemetry
}

var reasonToCode = map[string]rterrors.Code{
	string(rterrors.ReasonTokenRequired):     rterrors.CodeAuth,
	string(rterrors.ReasonChallengeDetected): rterrors.CodePolicyBlocked,
	string(rterrors.ReasonRateLimited):       rterrors.CodeRateLimited,
	string(rterrors.ReasonIPBlocked):         rterrors.CodeUpstream,
	string(rterrors.ReasonEnvLimited):        rterrors.CodeUnavailable,
}

// Invoke runs the full invocation pipeline for one (adapter, operation)
// pair against a selected tier, including the inner retry loop. Each
// invocation is traced as one span with the outcome's error recorded
// on it.
func (p *Pipeline) Invoke(ctx context.Context, a provider.Adapter, params Params) Outcome {
	tel := p.tel()
	ctx, span := tel.StartSpan(ctx, "retrieval.provider.invoke")
	span.SetAttribute("provider", a.ID())
	span.SetAttribute("operation", string(params.Operation))
	span.SetAttribute("tier", string(params.Tier))
	span.SetAttribute("scope", params.ScopeKey)

	out := p.invoke(ctx, a, params)

	span.SetAttribute("ok", out.OK)
	span.SetAttribute("attempts", out.Attempts)
	if out.Error != nil {
		span.RecordError(out.Error)
	}
	span.End()

	labels := map[string]string{
		"provider":  a.ID(),
		"operation": string(params.Operation),
		"tier":      string(params.Tier),
	}
	tel.RecordMetric("retrieval.provider.latency.ms", float64(out.LatencyMs), labels)
	if !out.OK {
		tel.RecordMetric("retrieval.provider.failures.total", 1, labels)
	}
	if out.Retries > 0 {
		tel.RecordMetric("retrieval.provider.retries.total", float64(out.Retries), labels)
	}
	return out
}

func (p *Pipeline) invoke(ctx context.Context, a provider.Adapter, params Params) Outcome {
	start := time.Now()
	trace := params.Trace.WithProvider(a.ID())

	if p.Registry.IsCircuitOpen(a.ID()) {
		message := "circuit open"
		opts := []rterrors.Option{rterrors.WithProvider(a.ID())}
		if cerr := p.Registry.GetCircuitError(a.ID()); cerr != nil {
			message = fmt.Sprintf("circuit open: %s", cerr.Message)
			opts = append(opts, rterrors.WithCause(cerr), rterrors.WithReasonCode(cerr.ReasonCode))
		}
		return Outcome{
			OK:    false,
			Trace: trace,
			Error: rterrors.New(rterrors.CodeCircuitOpen, message, opts...),
			ExecutionMetadata: ExecutionMetadata{
				Tier: params.Tier,
				Provenance: Provenance{
					Provider:      a.ID(),
					RetrievalPath: fmt.Sprintf("%s:circuit_open", params.Operation),
					RetrievedAt:   time.Now().UTC(),
				},
			},
			Diagnostics: Diagnostics{AdaptiveConcurrency: p.Adaptive.Snapshot(params.ScopeKey)},
		}
	}

	maxAttempts := 1 + params.Retries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr *rterrors.Error
	var lastBlocker *blocker.Signal
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		now := time.Now()

		pre := p.AntiBot.Preflight(a.ID(), params.Operation, now)
		if !pre.Allow {
			code, ok := reasonToCode[pre.ReasonCode]
			if !ok {
				code = rterrors.CodePolicyBlocked
			}
			err := rterrors.New(code, "anti-bot preflight denied", rterrors.WithProvider(a.ID()), rterrors.WithReasonCode(rterrors.ReasonCode(pre.ReasonCode)))
			outcome, cont := p.handleFailure(a, params, err, attempt, maxAttempts, now, start, trace)
			lastErr, lastBlocker = outcome.Error, outcome.Blocker
			if cont {
				continue
			}
			return outcome
		}

		p.Adaptive.SyncLimits(params.ScopeKey)
		admission, err := p.Gate.Acquire(ctx, params.ScopeKey)
		if err != nil {
			normalized := rterrors.New(rterrors.CodeTimeout, "admission canceled", rterrors.WithProvider(a.ID()), rterrors.WithCause(err))
			outcome, cont := p.handleFailure(a, params, normalized, attempt, maxAttempts, now, start, trace)
			lastErr, lastBlocker = outcome.Error, outcome.Blocker
			if cont {
				continue
			}
			return outcome
		}

		records, dispatchLatency, dispatchErr := p.dispatch(ctx, params, trace, attempt)
		admission.Release()

		if dispatchErr != nil {
			normalized := rterrors.AsError(dispatchErr)
			if normalized.ReasonCode == "" {
				normalized.ReasonCode = rterrors.DeriveReasonCode(normalized)
			}
			outcome, cont := p.handleFailure(a, params, normalized, attempt, maxAttempts, time.Now(), start, trace)
			lastErr, lastBlocker = outcome.Error, outcome.Blocker
			if cont {
				continue
			}
			return outcome
		}

		guardResult := promptguard.Apply(records, params.PromptGuardEnabled)
		matchedPatterns := realism.DetectBatch(records, params.SeedURLs, params.Query)
		if len(matchedPatterns) > 0 && p.Logger != nil {
			p.Logger.Warn("realism violation detected", map[string]interface{}{
				"provider": a.ID(), "patterns": matchedPatterns,
			})
		}

		globalPressure, scopePressure := p.Gate.Pressure(params.ScopeKey)
		queuePressure := globalPressure
		if scopePressure > queuePressure {
			queuePressure = scopePressure
		}
		p.Adaptive.Observe(params.ScopeKey, params.Operation, concurrency.Observation{
			LatencyMs:     int(dispatchLatency / time.Millisecond),
			QueuePressure: queuePressure,
		}, time.Now())

		p.Registry.MarkSuccess(a.ID(), int(dispatchLatency/time.Millisecond))
		p.AntiBot.Postflight(antibot.PostflightContext{
			ProviderID: a.ID(), Operation: params.Operation, Success: true, Attempt: attempt, MaxAttempts: maxAttempts, Now: time.Now(),
		})

		if params.Operation == config.OpPost && p.Logger != nil {
			p.Logger.Info("post operation completed", map[string]interface{}{
				"provider": a.ID(), "attempt": attempt,
			})
		}

		return Outcome{
			OK:        true,
			Records:   records,
			Trace:     trace,
			LatencyMs: int(time.Since(start) / time.Millisecond),
			Attempts:  attempt,
			Retries:   attempt - 1,
			ExecutionMetadata: ExecutionMetadata{
				Tier: params.Tier,
				Provenance: Provenance{
					Provider:      a.ID(),
					RetrievalPath: fmt.Sprintf("%s:%s", params.Operation, params.ScopeKey),
					RetrievedAt:   time.Now().UTC(),
				},
			},
			Diagnostics: Diagnostics{
				AdaptiveConcurrency: p.Adaptive.Snapshot(params.ScopeKey),
				PromptGuard: PromptGuardDiagnostics{
					Enabled:             params.PromptGuardEnabled,
					Entries:             guardResult.Entries,
					QuarantinedSegments: guardResult.QuarantinedSegments,
				},
				Realism: RealismDiagnostics{
					ViolationCount:      len(matchedPatterns),
					MatchedPatternCodes: matchedPatterns,
				},
			},
		}
	}

	return Outcome{
		OK:    false,
		Trace: trace,
		Error: rterrors.New(rterrors.CodeInternal, "attempts exhausted", rterrors.WithProvider(a.ID())),
		Blocker: lastBlocker,
		ExecutionMetadata: ExecutionMetadata{
			Tier: params.Tier,
			Provenance: Provenance{
				Provider:      a.ID(),
				RetrievalPath: fmt.Sprintf("%s:%s:exhausted", params.Operation, params.ScopeKey),
				RetrievedAt:   time.Now().UTC(),
			},
		},
		Attempts:  attempts,
		Retries:   attempts - 1,
		Diagnostics: Diagnostics{AdaptiveConcurrency: p.Adaptive.Snapshot(params.ScopeKey)},
	}.withLastErr(lastErr)
}

func (o Outcome) withLastErr(err *rterrors.Error) Outcome {
	if o.Error == nil {
		o.Error = err
	}
	return o
}

// dispatch runs the adapter call under a per-attempt timeout, via a
// goroutine so a misbehaving adapter that ignores ctx cancellation
// cannot block the caller past the deadline; its eventual return value
// is discarded as timeout.
func (p *Pipeline) dispatch(ctx context.Context, params Params, trace record.Trace, attempt int) ([]*record.Record, time.Duration, error) {
	timeout := time.Duration(params.TimeoutMs) * time.Millisecond
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ictx := provider.InvocationContext{
		Ctx:                  dctx,
		Trace:                trace,
		TimeoutMs:            params.TimeoutMs,
		Attempt:              attempt,
		UseCookies:           params.UseCookies,
		CookiePolicyOverride: params.CookiePolicyOverride,
		BrowserFallback:      params.BrowserFallback,
	}

	type result struct {
		records []*record.Record
		err     error
	}
	done := make(chan result, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("adapter panic: %v", r)}
			}
		}()
		records, err := params.Dispatch(ictx)
		done <- result{records: records, err: err}
	}()

	select {
	case res := <-done:
		return res.records, time.Since(start), res.err
	case <-dctx.Done():
		return nil, time.Since(start), rterrors.New(rterrors.CodeTimeout, "operation deadline exceeded", rterrors.WithCause(dctx.Err()))
	}
}

// handleFailure is the catch path of one attempt: normalize, observe,
// mark the circuit, run anti-bot postflight, and decide whether the
// caller's loop should retry.
func (p *Pipeline) handleFailure(a provider.Adapter, params Params, normalized *rterrors.Error, attempt, maxAttempts int, now, start time.Time, trace record.Trace) (Outcome, bool) {
	status := rterrors.StatusOf(normalized)
	observation := concurrency.Observation{
		Timeout:   normalized.Code == rterrors.CodeTimeout,
		Challenge: rterrors.MatchesChallengePattern(normalized.Message),
		HTTP4xx:   status >= 400 && status < 500,
		HTTP5xx:   status >= 500 && status < 600,
	}
	globalPressure, scopePressure := p.Gate.Pressure(params.ScopeKey)
	observation.QueuePressure = globalPressure
	if scopePressure > observation.QueuePressure {
		observation.QueuePressure = scopePressure
	}
	p.Adaptive.Observe(params.ScopeKey, params.Operation, observation, now)

	p.Registry.MarkFailure(a.ID(), normalized)

	post := p.AntiBot.Postflight(antibot.PostflightContext{
		ProviderID:  a.ID(),
		Operation:   params.Operation,
		Success:     false,
		ReasonCode:  string(normalized.ReasonCode),
		CooldownMs:  cooldownMsFor(normalized.ReasonCode),
		Retryable:   normalized.Retryable,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		Now:         now,
	})

	if post.AllowRetry && attempt < maxAttempts {
		return Outcome{Error: normalized}, true
	}

	sig, ok := blocker.Classify(blocker.Input{
		Source:               blocker.SourceRuntimeFetch,
		URL:                  rterrors.DetailString(normalized, "url"),
		FinalURL:             rterrors.DetailString(normalized, "finalUrl"),
		Title:                rterrors.DetailString(normalized, "title"),
		ProviderErrorCode:    string(normalized.Code),
		Message:              normalized.Message,
		Status:               status,
		Hosts:                rterrors.DetailStrings(normalized, "hosts"),
		TraceID:              trace.RequestID,
		RetryableHint:        normalized.Retryable,
		EnvLimitedHint:       params.EnvLimitedHint,
		RestrictedTargetHint: params.RestrictedTargetHint,
		PromptGuardEnabled:   params.PromptGuardEnabled,
		ConfidenceThreshold:  params.BlockerThreshold,
		DetectedAt:           now,
	})

	outcome := Outcome{
		OK:       false,
		Trace:    trace,
		Error:    normalized,
		Attempts: attempt,
		Retries:  attempt - 1,
		ExecutionMetadata: ExecutionMetadata{
			Tier: params.Tier,
			Provenance: Provenance{
				Provider:      a.ID(),
				RetrievalPath: fmt.Sprintf("%s:%s:failure", params.Operation, params.ScopeKey),
				RetrievedAt:   time.Now().UTC(),
			},
		},
		LatencyMs:   int(time.Since(start) / time.Millisecond),
		Diagnostics: Diagnostics{AdaptiveConcurrency: p.Adaptive.Snapshot(params.ScopeKey)},
	}
	if ok {
		outcome.Blocker = &sig
	}
	return outcome, false
}

// cooldownMsFor returns the cooldown duration handed to the anti-bot
// postflight for a given reason code: challenge reasons cool down
// longest, auth and IP blocks next, rate limiting shortest. env_limited
// is not one of the engine's cooldown reasons, so it opens no cooldown.
func cooldownMsFor(reason rterrors.ReasonCode) int {
	switch reason {
	case rterrors.ReasonChallengeDetected:
		return 120000
	case rterrors.ReasonTokenRequired, rterrors.ReasonIPBlocked:
		return 60000
	case rterrors.ReasonRateLimited:
		return 15000
	case rterrors.ReasonEnvLimited:
		return 30000
	default:
		return 0
	}
}
