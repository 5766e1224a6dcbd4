package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coreframe/retrieval-runtime/config"
)

func baseCfg() config.TierConfig {
	return config.TierConfig{
		DefaultTier:                      "A",
		EnableHybrid:                     true,
		EnableRestrictedSafe:             true,
		HybridRiskThreshold:              0.6,
		RestrictedSafeRecoveryIntervalMs: 60000,
	}
}

func TestRoute_PreferredTierOverride(t *testing.T) {
	cfg := baseCfg()
	got := Route(cfg, Signals{PreferredTier: TierB, HasPreferredTier: true})
	assert.Equal(t, Metadata{TierB, ReasonOperatorOverride}, got)
}

func TestRoute_PreferredTierCUnselectableWhenDisabled(t *testing.T) {
	cfg := baseCfg()
	cfg.EnableRestrictedSafe = false
	got := Route(cfg, Signals{PreferredTier: TierC, HasPreferredTier: true})
	assert.NotEqual(t, TierC, got.Selected)
}

func TestRoute_RestrictedSafeOrdering(t *testing.T) {
	cfg := baseCfg()
	cases := []struct {
		name string
		sig  Signals
		want ReasonCode
	}{
		{"policy", Signals{PolicyRestrictedSafe: true}, ReasonPolicyRestrictedSafe},
		{"forced", Signals{ForceRestrictedSafe: true}, ReasonRestrictedSafeForced},
		{"highFriction", Signals{HighFrictionTarget: true}, ReasonHighFrictionTarget},
		{"challengePressure", Signals{ChallengePressure: 0.5}, ReasonChallengePressure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Route(cfg, tc.sig)
			assert.Equal(t, TierC, got.Selected)
			assert.Equal(t, tc.want, got.ReasonCode)
		})
	}
}

func TestRoute_DefaultTierCRecoversToB(t *testing.T) {
	cfg := baseCfg()
	cfg.DefaultTier = "C"
	sig := Signals{
		PolicyAllowsRecovery: true,
		RecoveryStableForMs:  60000,
		HybridEligible:       true,
		HybridHealthy:        true,
	}
	got := Route(cfg, sig)
	assert.Equal(t, Metadata{TierB, ReasonRestrictedSafeRecovered}, got)
}

func TestRoute_DefaultTierCRecoversToAWhenNotHybridEligible(t *testing.T) {
	cfg := baseCfg()
	cfg.DefaultTier = "C"
	sig := Signals{PolicyAllowsRecovery: true, RecoveryStableForMs: 60000}
	got := Route(cfg, sig)
	assert.Equal(t, Metadata{TierA, ReasonRestrictedSafeRecovered}, got)
}

func TestRoute_DefaultTierCStaysCWithoutRecovery(t *testing.T) {
	cfg := baseCfg()
	cfg.DefaultTier = "C"
	got := Route(cfg, Signals{})
	assert.Equal(t, Metadata{TierC, ReasonDefaultTier}, got)
}

func TestRoute_DefaultTierCDisabledRestrictedSafe(t *testing.T) {
	cfg := baseCfg()
	cfg.DefaultTier = "C"
	cfg.EnableRestrictedSafe = false
	got := Route(cfg, Signals{})
	assert.Equal(t, Metadata{TierA, ReasonRestrictedSafeDisabled}, got)
}

func TestRoute_DefaultTierBHybridDisabled(t *testing.T) {
	cfg := baseCfg()
	cfg.DefaultTier = "B"
	cfg.EnableHybrid = false
	got := Route(cfg, Signals{})
	assert.Equal(t, Metadata{TierA, ReasonHybridDisabled}, got)
}

func TestRoute_HybridGuardsOrdered(t *testing.T) {
	cfg := baseCfg()
	cfg.DefaultTier = "B"

	cases := []struct {
		name string
		sig  Signals
		want ReasonCode
	}{
		{"unhealthy", Signals{HybridEligible: true, HybridHealthy: false}, ReasonHybridUnhealthy},
		{"risk", Signals{HybridEligible: true, HybridHealthy: true, RiskScore: 0.9, HasRiskScore: true}, ReasonHybridRiskThreshold},
		{"latency", Signals{HybridEligible: true, HybridHealthy: true, LatencyBudgetExceeded: true}, ReasonHybridLatencyBudget},
		{"error", Signals{HybridEligible: true, HybridHealthy: true, ErrorBudgetExceeded: true}, ReasonHybridErrorBudget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Route(cfg, tc.sig)
			assert.Equal(t, TierA, got.Selected)
			assert.Equal(t, tc.want, got.ReasonCode)
		})
	}
}

func TestRoute_HybridEligiblePasses(t *testing.T) {
	cfg := baseCfg()
	cfg.DefaultTier = "B"
	got := Route(cfg, Signals{HybridEligible: true, HybridHealthy: true})
	assert.Equal(t, Metadata{TierB, ReasonDefaultTier}, got)
}

func TestRoute_DefaultTierAHybridEligiblePromotesToB(t *testing.T) {
	cfg := baseCfg()
	got := Route(cfg, Signals{HybridEligible: true, HybridHealthy: true})
	assert.Equal(t, Metadata{TierB, ReasonDefaultTier}, got)
}

func TestRoute_DefaultTierAHybridGuardFailureStaysA(t *testing.T) {
	cfg := baseCfg()
	got := Route(cfg, Signals{HybridEligible: true, HybridHealthy: false})
	assert.Equal(t, Metadata{TierA, ReasonHybridUnhealthy}, got)
}

func TestRoute_DefaultTierAHybridDisabledStaysA(t *testing.T) {
	cfg := baseCfg()
	cfg.EnableHybrid = false
	got := Route(cfg, Signals{HybridEligible: true, HybridHealthy: true})
	assert.Equal(t, Metadata{TierA, ReasonDefaultTier}, got)
}

func TestRoute_DefaultTierANotEligibleStaysA(t *testing.T) {
	cfg := baseCfg()
	got := Route(cfg, Signals{})
	assert.Equal(t, Metadata{TierA, ReasonDefaultTier}, got)
}

func TestFallbackMetadata(t *testing.T) {
	assert.Equal(t, Metadata{TierA, ReasonFallbackToTierA}, FallbackMetadata())
}

func TestShouldFallbackToTierA(t *testing.T) {
	assert.True(t, ShouldFallbackToTierA(TierB))
	assert.True(t, ShouldFallbackToTierA(TierC))
	assert.False(t, ShouldFallbackToTierA(TierA))
}
