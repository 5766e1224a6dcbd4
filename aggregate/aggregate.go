// Package aggregate implements the two aggregation strategies,
// sequential and fan-out, that combine per-provider pipeline outcomes
// into the caller-facing envelope.
package aggregate

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/coreframe/retrieval-runtime/blocker"
	"github.com/coreframe/retrieval-runtime/pipeline"
	"github.com/coreframe/retrieval-runtime/provider"
	"github.com/coreframe/retrieval-runtime/record"
	"github.com/coreframe/retrieval-runtime/rterrors"
	"github.com/coreframe/retrieval-runtime/tier"
)

// FailureEntry is one provider's failed attempt.
type FailureEntry struct {
	Provider string          `json:"provider"`
	Error    *rterrors.Error `json:"error"`
}

// Result is the envelope returned to the caller.
// Selection is the effective source selection; Tier and TierReasonCode
// report the router's decision for the primary pass.
type Result struct {
	OK                bool                        `json:"ok"`
	Records           []*record.Record            `json:"records"`
	Trace             record.Trace                `json:"trace"`
	Partial           bool                        `json:"partial"`
	Failures          []FailureEntry              `json:"failures,omitempty"`
	Attempted         int                         `json:"attempted"`
	Succeeded         int                         `json:"succeeded"`
	Failed            int                         `json:"failed"`
	Retries           int                         `json:"retries"`
	LatencyMs         int                         `json:"latencyMs"`
	Selection         string                      `json:"selection"`
	Tier              tier.Tier                   `json:"tier"`
	TierReasonCode    tier.ReasonCode             `json:"tierReasonCode"`
	ProviderOrder     []string                    `json:"providerOrder"`
	ExecutionMetadata *pipeline.ExecutionMetadata `json:"executionMetadata,omitempty"`
	Blocker           *blocker.Signal             `json:"blocker,omitempty"`
	Diagnostics       *pipeline.Diagnostics       `json:"diagnostics,omitempty"`
	Error             *rterrors.Error             `json:"error,omitempty"`
}

// Invoker runs the pipeline for one adapter and returns its outcome.
// Supplied by the runtime so this package stays decoupled from how a
// Params value is built for a given operation.
type Invoker func(ctx context.Context, a provider.Adapter) pipeline.Outcome

// Sequential implements the default aggregation strategy: attempt
// providers in order, return on first success, and fall back to
// Tier-A web providers if every primary attempt fails.
func Sequential(ctx context.Context, providers []provider.Adapter, selectedTier tier.Tier, invoke Invoker, fallbackProviders []provider.Adapter, fallbackInvoke Invoker) Result {
	res := Result{Tier: selectedTier}

	for _, a := range providers {
		res.ProviderOrder = append(res.ProviderOrder, a.ID())
		res.Attempted++
		outcome := invoke(ctx, a)
		res.Retries += outcome.Retries
		res.LatencyMs += outcome.LatencyMs
		if outcome.OK {
			res.Succeeded++
			res.OK = true
			res.Records = outcome.Records
			res.Trace = outcome.Trace
			em := outcome.ExecutionMetadata
			diag := outcome.Diagnostics
			res.ExecutionMetadata = &em
			res.Diagnostics = &diag
			res.Partial = len(res.Failures) > 0
			return res
		}
		res.Failed++
		res.Failures = append(res.Failures, FailureEntry{Provider: a.ID(), Error: outcome.Error})
		res.Error = outcome.Error
		if outcome.Blocker != nil {
			b := *outcome.Blocker
			res.Blocker = &b
		}
		em := outcome.ExecutionMetadata
		diag := outcome.Diagnostics
		res.ExecutionMetadata = &em
		res.Diagnostics = &diag
	}

	if !tier.ShouldFallbackToTierA(selectedTier) || len(fallbackProviders) == 0 {
		return res
	}

	for _, a := range fallbackProviders {
		res.ProviderOrder = append(res.ProviderOrder, a.ID())
		res.Attempted++
		outcome := fallbackInvoke(ctx, a)
		res.Retries += outcome.Retries
		res.LatencyMs += outcome.LatencyMs
		if outcome.OK {
			res.Succeeded++
			res.OK = true
			res.Records = outcome.Records
			res.Trace = outcome.Trace
			em := outcome.ExecutionMetadata
			diag := outcome.Diagnostics
			res.ExecutionMetadata = &em
			res.Diagnostics = &diag
			res.Partial = len(res.Failures) > 0
			return res
		}
		res.Failed++
		res.Failures = append(res.Failures, FailureEntry{Provider: a.ID(), Error: outcome.Error})
		res.Error = outcome.Error
		if outcome.Blocker != nil {
			b := *outcome.Blocker
			res.Blocker = &b
		}
		em := outcome.ExecutionMetadata
		diag := outcome.Diagnostics
		res.ExecutionMetadata = &em
		res.Diagnostics = &diag
	}

	return res
}

// FanOut implements the `selection = all` aggregation strategy:
// every selected provider runs concurrently; their
// records are merged in completion order. If no provider produces any
// records and a Tier-A fallback is warranted, the fallback set is
// fanned out too.
func FanOut(ctx context.Context, providers []provider.Adapter, selectedTier tier.Tier, invoke Invoker, fallbackProviders []provider.Adapter, fallbackInvoke Invoker) Result {
	res := Result{Tier: selectedTier}
	for _, a := range providers {
		res.ProviderOrder = append(res.ProviderOrder, a.ID())
	}

	fanOutOnce(ctx, providers, invoke, &res)

	if len(res.Records) == 0 && tier.ShouldFallbackToTierA(selectedTier) && len(fallbackProviders) > 0 {
		for _, a := range fallbackProviders {
			res.ProviderOrder = append(res.ProviderOrder, a.ID())
		}
		fanOutOnce(ctx, fallbackProviders, fallbackInvoke, &res)
	}

	res.OK = len(res.Records) > 0
	res.Partial = res.OK && len(res.Failures) > 0
	return res
}

// fanOutOnce dispatches one set of providers concurrently via an
// errgroup, merging successful outcomes into res append-on-completion
// order and accumulating failures. A mutex guards res because every
// goroutine writes into it.
func fanOutOnce(ctx context.Context, providers []provider.Adapter, invoke Invoker, res *Result) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, a := range providers {
		a := a
		g.Go(func() error {
			outcome := invoke(gctx, a)

			mu.Lock()
			defer mu.Unlock()
			res.Attempted++
			res.Retries += outcome.Retries
			if outcome.LatencyMs > res.LatencyMs {
				res.LatencyMs = outcome.LatencyMs
			}
			if outcome.OK {
				res.Succeeded++
				res.Records = append(res.Records, outcome.Records...)
				if res.Trace.RequestID == "" {
					res.Trace = outcome.Trace
				}
			} else {
				res.Failed++
				res.Failures = append(res.Failures, FailureEntry{Provider: a.ID(), Error: outcome.Error})
				res.Error = outcome.Error
			}
			if outcome.Blocker != nil {
				b := *outcome.Blocker
				res.Blocker = &b
			}
			em := outcome.ExecutionMetadata
			diag := outcome.Diagnostics
			res.ExecutionMetadata = &em
			res.Diagnostics = &diag
			return nil
		})
	}

	// Every invoke() call already normalizes failures into an Outcome
	// rather than a Go error, so Wait never returns a non-nil error;
	// it only serves to block until all goroutines finish.
	_ = g.Wait()
}
