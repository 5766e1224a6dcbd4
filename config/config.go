// Package config holds the runtime's configuration surface: a
// production-ready default constructor plus clamp-on-validate
// semantics, so the runtime is always constructible.
package config

import "time"

// Operation identifies one of the four polymorphic operations.
type Operation string

const (
	OpSearch Operation = "search"
	OpFetch  Operation = "fetch"
	OpCrawl  Operation = "crawl"
	OpPost   Operation = "post"
)

// Selection is the provider-selection mode.
type Selection string

const (
	SelectionAuto      Selection = "auto"
	SelectionWeb       Selection = "web"
	SelectionCommunity Selection = "community"
	SelectionSocial    Selection = "social"
	SelectionShopping  Selection = "shopping"
	SelectionAll       Selection = "all"
)

// RetryBudget configures per-operation-class retry counts.
type RetryBudget struct {
	Read  int
	Write int
}

// BudgetsConfig bounds per-operation timeouts, retries, and concurrency.
type BudgetsConfig struct {
	TimeoutMs map[Operation]int
	Retries   RetryBudget
	Concurrency ConcurrencyBudget
	CircuitBreaker CircuitBreakerConfig
}

// ConcurrencyBudget bounds the global/per-provider/per-domain caps fed
// into the concurrency gate at construction time.
type ConcurrencyBudget struct {
	Global      int
	PerProvider int
	PerDomain   int
}

// CircuitBreakerConfig configures the registry's per-provider circuit
// breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	CooldownMs       int
}

// TierConfig configures the tier router.
type TierConfig struct {
	DefaultTier                  string // "A", "B", or "C"
	EnableHybrid                 bool
	EnableRestrictedSafe         bool
	HybridRiskThreshold          float64
	RestrictedSafeRecoveryIntervalMs int
}

// AdaptiveConcurrencyConfig configures the adaptive controller.
type AdaptiveConcurrencyConfig struct {
	Enabled         bool
	WindowSize      int
	CooldownMs      int
	DecreaseFactor  float64
	IncreaseStep    int
	HealthyLatencyMs map[Operation]int
	MaxGlobal       int
	MaxPerDomain    int
	MinGlobal       int
	MinPerDomain    int
}

// AntiBotConfig configures the anti-bot policy engine.
type AntiBotConfig struct {
	Enabled                 bool
	AllowBrowserEscalation  bool
	MaxChallengeRetries     int
}

// PromptGuardConfig configures the prompt-injection guard.
type PromptGuardConfig struct {
	Enabled bool
}

// Config is the top-level runtime configuration.
type Config struct {
	Budgets                  BudgetsConfig
	Tiers                    TierConfig
	AdaptiveConcurrency      AdaptiveConcurrencyConfig
	BlockerDetectionThreshold float64
	PromptInjectionGuard     PromptGuardConfig
	AntiBotPolicy            AntiBotConfig
}

// Default returns a production-ready configuration: 12s search/fetch,
// 20s crawl, 15s post; window size 20; cooldown 3000ms; decrease
// factor 0.7; increase step 1; hybrid risk threshold 0.6; recovery
// interval 60s.
func Default() *Config {
	return &Config{
		Budgets: BudgetsConfig{
			TimeoutMs: map[Operation]int{
				OpSearch: 12000,
				OpFetch:  12000,
				OpCrawl:  20000,
				OpPost:   15000,
			},
			Retries: RetryBudget{Read: 2, Write: 1},
			Concurrency: ConcurrencyBudget{
				Global:      16,
				PerProvider: 4,
				PerDomain:   4,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				CooldownMs:       30000,
			},
		},
		Tiers: TierConfig{
			DefaultTier:                      "A",
			EnableHybrid:                     true,
			EnableRestrictedSafe:             true,
			HybridRiskThreshold:              0.6,
			RestrictedSafeRecoveryIntervalMs: 60000,
		},
		AdaptiveConcurrency: AdaptiveConcurrencyConfig{
			Enabled:        true,
			WindowSize:     20,
			CooldownMs:     3000,
			DecreaseFactor: 0.7,
			IncreaseStep:   1,
			HealthyLatencyMs: map[Operation]int{
				OpSearch: 2000,
				OpFetch:  2000,
				OpCrawl:  4000,
				OpPost:   3000,
			},
			MaxGlobal:    16,
			MaxPerDomain: 4,
			MinGlobal:    1,
			MinPerDomain: 1,
		},
		BlockerDetectionThreshold: 0.7,
		PromptInjectionGuard:      PromptGuardConfig{Enabled: true},
		AntiBotPolicy: AntiBotConfig{
			Enabled:                true,
			AllowBrowserEscalation: true,
			MaxChallengeRetries:    2,
		},
	}
}

// Validate clamps out-of-range values into their supported bounds
// rather than rejecting the config outright; the runtime must always
// be constructible.
func (c *Config) Validate() {
	if c.AdaptiveConcurrency.WindowSize < 5 {
		c.AdaptiveConcurrency.WindowSize = 5
	}
	if c.AdaptiveConcurrency.WindowSize > 100 {
		c.AdaptiveConcurrency.WindowSize = 100
	}
	if c.AdaptiveConcurrency.CooldownMs < 250 {
		c.AdaptiveConcurrency.CooldownMs = 250
	}
	if c.AdaptiveConcurrency.CooldownMs > 60000 {
		c.AdaptiveConcurrency.CooldownMs = 60000
	}
	if c.AdaptiveConcurrency.DecreaseFactor < 0.1 {
		c.AdaptiveConcurrency.DecreaseFactor = 0.1
	}
	if c.AdaptiveConcurrency.DecreaseFactor > 0.95 {
		c.AdaptiveConcurrency.DecreaseFactor = 0.95
	}
	if c.AdaptiveConcurrency.IncreaseStep < 1 {
		c.AdaptiveConcurrency.IncreaseStep = 1
	}
	if c.AdaptiveConcurrency.IncreaseStep > 8 {
		c.AdaptiveConcurrency.IncreaseStep = 8
	}
	if c.AntiBotPolicy.MaxChallengeRetries < 0 {
		c.AntiBotPolicy.MaxChallengeRetries = 0
	}
	if c.AntiBotPolicy.MaxChallengeRetries > 10 {
		c.AntiBotPolicy.MaxChallengeRetries = 10
	}
	if c.BlockerDetectionThreshold < 0 {
		c.BlockerDetectionThreshold = 0
	}
	if c.BlockerDetectionThreshold > 1 {
		c.BlockerDetectionThreshold = 1
	}
	if c.Tiers.HybridRiskThreshold == 0 {
		c.Tiers.HybridRiskThreshold = 0.6
	}
	if c.Tiers.RestrictedSafeRecoveryIntervalMs == 0 {
		c.Tiers.RestrictedSafeRecoveryIntervalMs = 60000
	}
}

// TimeoutFor returns the configured timeout for op, falling back to
// the package defaults if unset.
func (c *Config) TimeoutFor(op Operation) time.Duration {
	if ms, ok := c.Budgets.TimeoutMs[op]; ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	defaults := map[Operation]int{OpSearch: 12000, OpFetch: 12000, OpCrawl: 20000, OpPost: 15000}
	return time.Duration(defaults[op]) * time.Millisecond
}
