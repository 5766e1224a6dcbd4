// Package tier implements the tier router: a pure function mapping
// configuration and live signals to an execution tier and reason code,
// with zero hidden state.
package tier

import "github.com/coreframe/retrieval-runtime/config"

// Tier is the selected execution track.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// ReasonCode is the closed vocabulary of tier decision reasons.
type ReasonCode string

const (
	ReasonDefaultTier             ReasonCode = "default_tier"
	ReasonOperatorOverride        ReasonCode = "operator_override"
	ReasonRestrictedSafeForced    ReasonCode = "restricted_safe_forced"
	ReasonChallengePressure       ReasonCode = "challenge_pressure"
	ReasonHighFrictionTarget      ReasonCode = "high_friction_target"
	ReasonHybridEligible          ReasonCode = "hybrid_eligible"
	ReasonHybridUnhealthy         ReasonCode = "hybrid_unhealthy"
	ReasonHybridRiskThreshold     ReasonCode = "hybrid_risk_threshold"
	ReasonHybridLatencyBudget     ReasonCode = "hybrid_latency_budget"
	ReasonHybridErrorBudget       ReasonCode = "hybrid_error_budget"
	ReasonPolicyRestrictedSafe    ReasonCode = "policy_restricted_safe"
	ReasonRestrictedSafeRecovered ReasonCode = "restricted_safe_recovered"
	ReasonHybridDisabled          ReasonCode = "hybrid_disabled"
	ReasonRestrictedSafeDisabled  ReasonCode = "restricted_safe_disabled"
	ReasonFallbackToTierA         ReasonCode = "fallback_to_tier_a"
)

// Metadata is the tier decision outcome.
type Metadata struct {
	Selected   Tier       `json:"selected"`
	ReasonCode ReasonCode `json:"reasonCode"`
}

// Signals carries every live input the router consults.
type Signals struct {
	PreferredTier          Tier
	HasPreferredTier       bool
	ForceRestrictedSafe    bool
	HighFrictionTarget     bool
	ChallengePressure      float64
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

func (s Signals) effectiveRisk() float64 {
	if s.HasRiskScore {
		return s.RiskScore
	}
	return s.ChallengePressure
}

// Route decides the tier for one invocation. It is a pure function:
// identical (cfg, sig) always yields an identical Metadata.
func Route(cfg config.TierConfig, sig Signals) Metadata {
	if sig.HasPreferredTier && isSelectable(cfg, sig.PreferredTier) {
		return Metadata{sig.PreferredTier, ReasonOperatorOverride}
	}

	if cfg.EnableRestrictedSafe {
		switch {
		case sig.PolicyRestrictedSafe:
			return Metadata{TierC, ReasonPolicyRestrictedSafe}
		case sig.ForceRestrictedSafe:
			return Metadata{TierC, ReasonRestrictedSafeForced}
		case sig.HighFrictionTarget:
			return Metadata{TierC, ReasonHighFrictionTarget}
		case sig.ChallengePressure >= 0.5:
			return Metadata{TierC, ReasonChallengePressure}
		}
	}

	switch cfg.DefaultTier {
	case string(TierC):
		return routeFromTierC(cfg, sig)
	case string(TierB):
		return routeFromTierB(cfg, sig)
	default:
		if cfg.EnableHybrid && sig.HybridEligible {
			return evaluateHybridGuards(cfg, sig, ReasonDefaultTier)
		}
		return Metadata{TierA, ReasonDefaultTier}
	}
}

func routeFromTierC(cfg config.TierConfig, sig Signals) Metadata {
	if !cfg.EnableRestrictedSafe {
		return Metadata{TierA, ReasonRestrictedSafeDisabled}
	}
	if sig.PolicyAllowsRecovery && sig.RecoveryStableForMs >= cfg.RestrictedSafeRecoveryIntervalMs {
		if sig.HybridEligible {
			return evaluateHybridGuards(cfg, sig, ReasonRestrictedSafeRecovered)
		}
		return Metadata{TierA, ReasonRestrictedSafeRecovered}
	}
	return Metadata{TierC, ReasonDefaultTier}
}

func routeFromTierB(cfg config.TierConfig, sig Signals) Metadata {
	if !cfg.EnableHybrid {
		return Metadata{TierA, ReasonHybridDisabled}
	}
	if sig.HybridEligible {
		return evaluateHybridGuards(cfg, sig, ReasonDefaultTier)
	}
	return Metadata{TierA, ReasonDefaultTier}
}

// evaluateHybridGuards applies the ordered hybrid guard checks and,
// if every guard passes, returns Tier B with successReason.
func evaluateHybridGuards(cfg config.TierConfig, sig Signals, successReason ReasonCode) Metadata {
	if !sig.HybridHealthy {
		return Metadata{TierA, ReasonHybridUnhealthy}
	}
	threshold := cfg.HybridRiskThreshold
	if threshold == 0 {
		threshold = 0.6
	}
	if sig.effectiveRisk() > threshold {
		return Metadata{TierA, ReasonHybridRiskThreshold}
	}
	if sig.LatencyBudgetExceeded {
		return Metadata{TierA, ReasonHybridLatencyBudget}
	}
	if sig.ErrorBudgetExceeded {
		return Metadata{TierA, ReasonHybridErrorBudget}
	}
	return Metadata{TierB, successReason}
}

func isSelectable(cfg config.TierConfig, t Tier) bool {
	switch t {
	case TierA:
		return true
	case TierB:
		return true
	case TierC:
		return cfg.EnableRestrictedSafe
	default:
		return false
	}
}

// FallbackMetadata is always {A, fallback_to_tier_a}.
func FallbackMetadata() Metadata {
	return Metadata{TierA, ReasonFallbackToTierA}
}

// ShouldFallbackToTierA reports whether the aggregator should attempt
// the Tier-A fallback path after a primary pass with zero successes.
func ShouldFallbackToTierA(t Tier) bool {
	return t != TierA
}
