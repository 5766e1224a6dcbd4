package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreframe/retrieval-runtime/antibot"
	"github.com/coreframe/retrieval-runtime/concurrency"
	"github.com/coreframe/retrieval-runtime/config"
	"github.com/coreframe/retrieval-runtime/provider"
	"github.com/coreframe/retrieval-runtime/record"
	"github.com/coreframe/retrieval-runtime/rterrors"
	"github.com/coreframe/retrieval-runtime/tier"
)

type pipelineStub struct{ id string }

func (s pipelineStub) ID() string                                                             { return s.id }
func (s pipelineStub) Source() record.Source                                                  { return record.SourceWeb }
func (s pipelineStub) Capabilities() provider.Capabilities                                     { return provider.Capabilities{} }
func (s pipelineStub) Search(provider.InvocationContext, provider.SearchInput) ([]*record.Record, error) {
	return nil, nil
}
func (s pipelineStub) Fetch(provider.InvocationContext, provider.FetchInput) ([]*record.Record, error) {
	return nil, nil
}
func (s pipelineStub) Crawl(provider.InvocationContext, provider.CrawlInput) ([]*record.Record, error) {
	return nil, nil
}
func (s pipelineStub) Post(provider.InvocationContext, provider.PostInput) ([]*record.Record, error) {
	return nil, nil
}
func (s pipelineStub) HealthProbe() provider.HealthProbe { return nil }

func newTestPipeline() *Pipeline {
	reg := provider.New(provider.CircuitBreakerDefaults{FailureThreshold: 3, CooldownMs: 50})
	gate := concurrency.NewGate(8, 8)
	cfg := config.Default()
	adaptive := concurrency.NewController(cfg.AdaptiveConcurrency, gate, 8, 8)
	ab := antibot.New(cfg.AntiBotPolicy)
	return &Pipeline{Registry: reg, Gate: gate, Adaptive: adaptive, AntiBot: ab}
}

func baseParams(dispatch Dispatch) Params {
	return Params{
		Operation:        config.OpSearch,
		ScopeKey:         "example.com",
		Tier:             tier.TierA,
		Trace:            record.NewTrace("sess", "target"),
		TimeoutMs:        1000,
		Retries:          1,
		BlockerThreshold: 0.7,
		Dispatch:         dispatch,
	}
}

func TestInvoke_SuccessReturnsRecords(t *testing.T) {
	p := newTestPipeline()
	p.Registry.Register(pipelineStub{id: "web/a"})

	dispatch := func(ictx provider.InvocationContext) ([]*record.Record, error) {
		return []*record.Record{record.New("web/a", record.SourceWeb, "https://example.com", "t", "c", 0.9, nil)}, nil
	}

	out := p.Invoke(context.Background(), pipelineStub{id: "web/a"}, baseParams(dispatch))
	require.True(t, out.OK)
	assert.Len(t, out.Records, 1)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, out.Retries)
}

func TestInvoke_RetriesThenSucceeds(t *testing.T) {
	p := newTestPipeline()
	p.Registry.Register(pipelineStub{id: "web/a"})

	calls := 0
	dispatch := func(ictx provider.InvocationContext) ([]*record.Record, error) {
		calls++
		if calls == 1 {
			return nil, rterrors.New(rterrors.CodeNetwork, "transient")
		}
		return []*record.Record{record.New("web/a", record.SourceWeb, "u", "t", "c", 0.8, nil)}, nil
	}

	out := p.Invoke(context.Background(), pipelineStub{id: "web/a"}, baseParams(dispatch))
	require.True(t, out.OK)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 1, out.Retries)
}

func TestInvoke_CircuitOpenShortCircuits(t *testing.T) {
	p := newTestPipeline()
	p.Registry.Register(pipelineStub{id: "web/a"})
	failErr := rterrors.New(rterrors.CodeUpstream, "down")
	p.Registry.MarkFailure("web/a", failErr)
	p.Registry.MarkFailure("web/a", failErr)
	p.Registry.MarkFailure("web/a", failErr)
	require.True(t, p.Registry.IsCircuitOpen("web/a"))

	calls := 0
	dispatch := func(ictx provider.InvocationContext) ([]*record.Record, error) {
		calls++
		return nil, nil
	}

	out := p.Invoke(context.Background(), pipelineStub{id: "web/a"}, baseParams(dispatch))
	assert.False(t, out.OK)
	assert.Equal(t, 0, calls, "dispatch must never be called while the circuit is open")
	require.NotNil(t, out.Error)
	assert.Equal(t, rterrors.CodeCircuitOpen, out.Error.Code)
}

func TestInvoke_TimeoutDiscardsLateResult(t *testing.T) {
	p := newTestPipeline()
	p.Registry.Register(pipelineStub{id: "web/a"})

	dispatch := func(ictx provider.InvocationContext) ([]*record.Record, error) {
		select {
		case <-ictx.Ctx.Done():
		case <-time.After(time.Second):
		}
		return []*record.Record{record.New("web/a", record.SourceWeb, "u", "t", "c", 0.5, nil)}, nil
	}

	params := baseParams(dispatch)
	params.TimeoutMs = 20
	params.Retries = 0

	out := p.Invoke(context.Background(), pipelineStub{id: "web/a"}, params)
	assert.False(t, out.OK)
	require.NotNil(t, out.Error)
	assert.Equal(t, rterrors.CodeTimeout, out.Error.Code)
}

func TestInvoke_ExhaustsRetriesAndClassifiesBlocker(t *testing.T) {
	p := newTestPipeline()
	p.Registry.Register(pipelineStub{id: "web/a"})

	dispatch := func(ictx provider.InvocationContext) ([]*record.Record, error) {
		return nil, rterrors.New(rterrors.CodeNetwork, "retrieval failed")
	}

	params := baseParams(dispatch)
	params.Retries = 1

	out := p.Invoke(context.Background(), pipelineStub{id: "web/a"}, params)
	assert.False(t, out.OK)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, 1, out.Retries)
	require.NotNil(t, out.Blocker)
	assert.Equal(t, "upstream_block", string(out.Blocker.Type))
}

func TestInvoke_AntiBotPreflightDeniesBeforeDispatch(t *testing.T) {
	p := newTestPipeline()
	p.Registry.Register(pipelineStub{id: "web/a"})
	now := time.Now()
	p.AntiBot.Postflight(antibot.PostflightContext{
		ProviderID: "web/a", Operation: config.OpSearch, Success: false,
		ReasonCode: "ip_blocked", CooldownMs: 60000, Now: now,
	})

	calls := 0
	dispatch := func(ictx provider.InvocationContext) ([]*record.Record, error) {
		calls++
		return nil, nil
	}

	params := baseParams(dispatch)
	params.Retries = 0
	out := p.Invoke(context.Background(), pipelineStub{id: "web/a"}, params)
	assert.False(t, out.OK)
	assert.Equal(t, 0, calls)
}
