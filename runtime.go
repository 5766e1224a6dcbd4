// Package retrieval is the federated content-retrieval runtime: it
// wires the registry, selector, tier router, concurrency gate,
// adaptive controller, anti-bot engine, invocation pipeline, and
// aggregator into the four operation entry points.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/coreframe/retrieval-runtime/aggregate"
	"github.com/coreframe/retrieval-runtime/antibot"
	"github.com/coreframe/retrieval-runtime/concurrency"
	"github.com/coreframe/retrieval-runtime/config"
	"github.com/coreframe/retrieval-runtime/pipeline"
	"github.com/coreframe/retrieval-runtime/provider"
	"github.com/coreframe/retrieval-runtime/record"
	"github.com/coreframe/retrieval-runtime/rtlog"
	"github.com/coreframe/retrieval-runtime/rterrors"
	"github.com/coreframe/retrieval-runtime/selector"
	"github.com/coreframe/retrieval-runtime/telemetry"
	"github.com/coreframe/retrieval-runtime/tier"
)

// TierOverrides lets a caller supply the live tier signals for one
// call.
type TierOverrides struct {
	Preferred              tier.Tier
	HasPreferred           bool
	ForceRestrictedSafe    bool
	ChallengePressure      float64
	HighFrictionTarget     bool
	RiskScore              float64
	HasRiskScore           bool
	HybridHealthy          bool
	PolicyRestrictedSafe   bool
	LatencyBudgetExceeded  bool
	ErrorBudgetExceeded    bool
	HybridEligible         bool
	RecoveryStableForMs    int
	PolicyAllowsRecovery   bool
}

// Options configures one Search, Fetch, Crawl or Post call.
type Options struct {
	Source               config.Selection
	ProviderIDs          []string
	TimeoutMs            int
	Trace                *record.Trace
	UseCookies           bool
	CookiePolicyOverride provider.CookiePolicy
	Tier                 TierOverrides
}

// Runtime owns every long-lived shared structure: the registry, the
// concurrency gate, the adaptive controller, and the anti-bot engine.
// Multiple Runtimes may coexist in one process.
type Runtime struct {
	registry        *provider.Registry
	gate            *concurrency.Gate
	adaptive        *concurrency.Controller
	antibot         *antibot.Engine
	cfg             *config.Config
	logger          rtlog.Logger
	telemetry       telemetry.Telemetry
	browserFallback provider.BrowserFallbackPort
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithLogger overrides the default no-op logger.
func WithLogger(l rtlog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithBrowserFallbackPort overrides the default no-op escalation port.
func WithBrowserFallbackPort(p provider.BrowserFallbackPort) Option {
	return func(r *Runtime) { r.browserFallback = p }
}

// WithTelemetry overrides the default no-op telemetry provider.
func WithTelemetry(t telemetry.Telemetry) Option {
	return func(r *Runtime) { r.telemetry = t }
}

// New builds a Runtime from cfg (or config.Default() if nil).
func New(cfg *config.Config, opts ...Option) *Runtime {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.Validate()

	gate := concurrency.NewGate(cfg.Budgets.Concurrency.Global, cfg.Budgets.Concurrency.PerProvider)
	r := &Runtime{
		registry: provider.New(provider.CircuitBreakerDefaults{
			FailureThreshold: cfg.Budgets.CircuitBreaker.FailureThreshold,
			CooldownMs:       cfg.Budgets.CircuitBreaker.CooldownMs,
		}),
		gate:            gate,
		adaptive:        concurrency.NewController(cfg.AdaptiveConcurrency, gate, cfg.Budgets.Concurrency.Global, cfg.Budgets.Concurrency.PerDomain),
		antibot:         antibot.New(cfg.AntiBotPolicy),
		cfg:             cfg,
		logger:          rtlog.NoOpLogger{},
		telemetry:       telemetry.NoOp{},
		browserFallback: provider.NoOpBrowserFallbackPort{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an adapter to the runtime's registry (idempotent by
// adapter id; concurrent calls are safe).
func (r *Runtime) Register(a provider.Adapter) {
	r.registry.Register(a)
}

// Registry exposes the underlying registry for inspection (health
// reads, capability listing). It returns the live registry, so its
// mutating methods also change this runtime's circuit and health state.
func (r *Runtime) Registry() *provider.Registry { return r.registry }

func (r *Runtime) retriesFor(op config.Operation) int {
	if op == config.OpPost {
		return r.cfg.Budgets.Retries.Write
	}
	return r.cfg.Budgets.Retries.Read
}

func (r *Runtime) tierSignals(opts Options) tier.Signals {
	t := opts.Tier
	return tier.Signals{
		PreferredTier:         t.Preferred,
		HasPreferredTier:      t.HasPreferred,
		ForceRestrictedSafe:   t.ForceRestrictedSafe,
		HighFrictionTarget:    t.HighFrictionTarget,
		ChallengePressure:     t.ChallengePressure,
		RiskScore:             t.RiskScore,
		HasRiskScore:          t.HasRiskScore,
		HybridHealthy:         t.HybridHealthy,
		PolicyRestrictedSafe:  t.PolicyRestrictedSafe,
		LatencyBudgetExceeded: t.LatencyBudgetExceeded,
		ErrorBudgetExceeded:   t.ErrorBudgetExceeded,
		HybridEligible:        t.HybridEligible,
		RecoveryStableForMs:   t.RecoveryStableForMs,
		PolicyAllowsRecovery:  t.PolicyAllowsRecovery,
	}
}

func (r *Runtime) timeoutMsFor(op config.Operation, opts Options) int {
	if opts.TimeoutMs > 0 {
		return opts.TimeoutMs
	}
	return int(r.cfg.TimeoutFor(op) / time.Millisecond)
}

func (r *Runtime) newPipeline() *pipeline.Pipeline {
	return &pipeline.Pipeline{
		Registry:  r.registry,
		Gate:      r.gate,
		Adaptive:  r.adaptive,
		AntiBot:   r.antibot,
		Logger:    r.logger,
		Telemetry: r.telemetry,
	}
}

// makeInvoker builds an aggregate.Invoker bound to one operation's
// Dispatch closure, shared across every provider attempted for that
// operation call.
func (r *Runtime) makeInvoker(op config.Operation, trace record.Trace, opts Options, selectedTier tier.Tier, target, seedURL, query string, seedURLs []string, dispatchFor func(a provider.Adapter) pipeline.Dispatch) aggregate.Invoker {
	pl := r.newPipeline()
	return func(ctx context.Context, a provider.Adapter) pipeline.Outcome {
		scope := scopeKeyFor(op, a.ID(), target)
		return pl.Invoke(ctx, a, pipeline.Params{
			Operation:            op,
			ScopeKey:             scope,
			Tier:                 selectedTier,
			Trace:                trace,
			TimeoutMs:            r.timeoutMsFor(op, opts),
			Retries:              r.retriesFor(op),
			UseCookies:           opts.UseCookies,
			CookiePolicyOverride: opts.CookiePolicyOverride,
			BrowserFallback:      r.browserFallback,
			SeedURLs:             seedURLs,
			Query:                query,
			PromptGuardEnabled:   r.cfg.PromptInjectionGuard.Enabled,
			BlockerThreshold:     r.cfg.BlockerDetectionThreshold,
			Dispatch:             dispatchFor(a),
		})
	}
}

func (r *Runtime) traceFor(opts Options) record.Trace {
	if opts.Trace != nil {
		return *opts.Trace
	}
	return record.NewTrace("", "")
}

func (r *Runtime) run(ctx context.Context, op config.Operation, opts Options, target, seedURL, query string, seedURLs []string, dispatchFor func(a provider.Adapter) pipeline.Dispatch) aggregate.Result {
	start := time.Now()
	trace := r.traceFor(opts)
	selection := opts.Source
	if selection == "" {
		selection = config.SelectionAuto
	}

	ctx, span := r.telemetry.StartSpan(ctx, "retrieval."+string(op))
	span.SetAttribute("operation", string(op))
	span.SetAttribute("selection", string(selection))
	span.SetAttribute("requestId", trace.RequestID)
	defer span.End()

	decision := tier.Route(r.cfg.Tiers, r.tierSignals(opts))
	span.SetAttribute("tier", string(decision.Selected))
	span.SetAttribute("tierReason", string(decision.ReasonCode))

	candidates := selector.Select(r.registry, op, selection, opts.ProviderIDs)
	invoker := r.makeInvoker(op, trace, opts, decision.Selected, target, seedURL, query, seedURLs, dispatchFor)

	var fallbackCandidates []provider.Adapter
	var fallbackInvoker aggregate.Invoker
	if tier.ShouldFallbackToTierA(decision.Selected) {
		attempted := make(map[string]bool, len(candidates))
		for _, a := range candidates {
			attempted[a.ID()] = true
		}
		fallbackCandidates = selector.SelectExcluding(r.registry, op, config.SelectionWeb, opts.ProviderIDs, attempted)
		fallbackInvoker = r.makeInvoker(op, trace, opts, tier.FallbackMetadata().Selected, target, seedURL, query, seedURLs, dispatchFor)
	}

	var res aggregate.Result
	if selection == config.SelectionAll {
		res = aggregate.FanOut(ctx, candidates, decision.Selected, invoker, fallbackCandidates, fallbackInvoker)
	} else {
		res = aggregate.Sequential(ctx, candidates, decision.Selected, invoker, fallbackCandidates, fallbackInvoker)
	}

	res.LatencyMs = int(time.Since(start) / time.Millisecond)
	res.Selection = string(selection)
	res.TierReasonCode = decision.ReasonCode
	if len(res.ProviderOrder) == 0 && res.Error == nil {
		res.Error = rterrors.New(rterrors.CodeUnavailable, fmt.Sprintf("no providers support %s", op))
	}

	span.SetAttribute("ok", res.OK)
	span.SetAttribute("attempted", res.Attempted)
	if res.Error != nil {
		span.RecordError(res.Error)
	}
	labels := map[string]string{
		"operation": string(op),
		"selection": string(selection),
		"tier":      string(decision.Selected),
		"ok":        fmt.Sprintf("%t", res.OK),
	}
	r.telemetry.RecordMetric("retrieval.operations.total", 1, labels)
	r.telemetry.RecordMetric("retrieval.operation.duration.ms", float64(res.LatencyMs), labels)
	return res
}

// Search executes the search operation across the selected providers.
func (r *Runtime) Search(ctx context.Context, in provider.SearchInput, opts Options) aggregate.Result {
	return r.run(ctx, config.OpSearch, opts, in.Query, "", in.Query, nil, func(a provider.Adapter) pipeline.Dispatch {
		return func(ictx provider.InvocationContext) ([]*record.Record, error) {
			return a.Search(ictx, in)
		}
	})
}

// Fetch executes the fetch operation across the selected providers.
func (r *Runtime) Fetch(ctx context.Context, in provider.FetchInput, opts Options) aggregate.Result {
	return r.run(ctx, config.OpFetch, opts, in.URL, in.URL, "", []string{in.URL}, func(a provider.Adapter) pipeline.Dispatch {
		return func(ictx provider.InvocationContext) ([]*record.Record, error) {
			return a.Fetch(ictx, in)
		}
	})
}

// Crawl executes the crawl operation across the selected providers,
// applying the crawl-specific adaptive clamps before dispatch.
func (r *Runtime) Crawl(ctx context.Context, in provider.CrawlInput, opts Options) aggregate.Result {
	var seed string
	if len(in.SeedURLs) > 0 {
		seed = in.SeedURLs[0]
	}
	scope := scopeKeyFor(config.OpCrawl, "", seed)
	fetchConcurrency := 0
	if in.Filters != nil {
		if v, ok := in.Filters["fetchConcurrency"].(int); ok {
			fetchConcurrency = v
		}
	}
	clampedMaxPerDomain, clampedFetchConcurrency := r.adaptive.ClampCrawlInputs(scope, in.MaxPerDomain, fetchConcurrency)
	in.MaxPerDomain = clampedMaxPerDomain
	if in.Filters == nil {
		in.Filters = make(map[string]interface{})
	}
	in.Filters["fetchConcurrency"] = clampedFetchConcurrency

	return r.run(ctx, config.OpCrawl, opts, seed, seed, "", in.SeedURLs, func(a provider.Adapter) pipeline.Dispatch {
		return func(ictx provider.InvocationContext) ([]*record.Record, error) {
			return a.Crawl(ictx, in)
		}
	})
}

// Post executes the post operation across the selected providers.
func (r *Runtime) Post(ctx context.Context, in provider.PostInput, opts Options) aggregate.Result {
	return r.run(ctx, config.OpPost, opts, in.Target, "", "", nil, func(a provider.Adapter) pipeline.Dispatch {
		return func(ictx provider.InvocationContext) ([]*record.Record, error) {
			return a.Post(ictx, in)
		}
	})
}
