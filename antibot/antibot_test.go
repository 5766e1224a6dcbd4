package antibot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreframe/retrieval-runtime/config"
)

func TestPreflight_AllowsWhenNoEntry(t *testing.T) {
	e := New(config.AntiBotConfig{Enabled: true})
	got := e.Preflight("web/a", config.OpSearch, time.Now())
	assert.True(t, got.Allow)
}

func TestPreflight_AllowsWhenDisabled(t *testing.T) {
	e := New(config.AntiBotConfig{Enabled: false})
	now := time.Now()
	e.Postflight(PostflightContext{ProviderID: "web/a", Operation: config.OpSearch, ReasonCode: "ip_blocked", CooldownMs: 10000, Now: now})
	got := e.Preflight("web/a", config.OpSearch, now)
	assert.True(t, got.Allow)
}

func TestPostflightThenPreflight_DeniesWithinCooldown(t *testing.T) {
	e := New(config.AntiBotConfig{Enabled: true, AllowBrowserEscalation: true})
	now := time.Now()
	e.Postflight(PostflightContext{
		ProviderID: "web/a", Operation: config.OpSearch, Success: false,
		ReasonCode: "ip_blocked", CooldownMs: 10000, Retryable: true, Attempt: 1, MaxAttempts: 3, Now: now,
	})

	got := e.Preflight("web/a", config.OpSearch, now.Add(5*time.Second))
	require.False(t, got.Allow)
	assert.Equal(t, "ip_blocked", got.ReasonCode)
	assert.True(t, got.EscalationIntent)
	assert.LessOrEqual(t, got.RetryAfterMs, 5000)
}

func TestPreflight_AllowsAfterCooldownElapses(t *testing.T) {
	e := New(config.AntiBotConfig{Enabled: true})
	now := time.Now()
	e.Postflight(PostflightContext{
		ProviderID: "web/a", Operation: config.OpSearch, ReasonCode: "rate_limited", CooldownMs: 1000, Now: now,
	})
	got := e.Preflight("web/a", config.OpSearch, now.Add(2*time.Second))
	assert.True(t, got.Allow)
}

func TestPostflight_SuccessPurgesCooldown(t *testing.T) {
	e := New(config.AntiBotConfig{Enabled: true})
	now := time.Now()
	e.Postflight(PostflightContext{ProviderID: "web/a", Operation: config.OpSearch, ReasonCode: "rate_limited", CooldownMs: 60000, Now: now})
	e.Postflight(PostflightContext{ProviderID: "web/a", Operation: config.OpSearch, Success: true, Now: now})

	got := e.Preflight("web/a", config.OpSearch, now.Add(time.Second))
	assert.True(t, got.Allow)
}

func TestPostflight_ChallengeRetryLimitEnforced(t *testing.T) {
	e := New(config.AntiBotConfig{Enabled: true, MaxChallengeRetries: 1})
	now := time.Now()
	result := e.Postflight(PostflightContext{
		ProviderID: "web/a", Operation: config.OpSearch, Success: false,
		ReasonCode: "challenge_detected", Retryable: true, Attempt: 3, MaxAttempts: 5, Now: now,
	})
	assert.False(t, result.AllowRetry)
}

func TestPostflight_AllowRetryWithinBudget(t *testing.T) {
	e := New(config.AntiBotConfig{Enabled: true})
	result := e.Postflight(PostflightContext{
		ProviderID: "web/a", Operation: config.OpSearch, Success: false,
		ReasonCode: "upstream", Retryable: true, Attempt: 1, MaxAttempts: 3, Now: time.Now(),
	})
	assert.True(t, result.AllowRetry)
}
