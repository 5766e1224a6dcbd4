package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config's shape for YAML decoding, keeping the
// wire format's field names lowerCamel to match the JSON envelope.
type fileConfig struct {
	Budgets struct {
		TimeoutMs map[string]int `yaml:"timeoutMs"`
		Retries   struct {
			Read  int `yaml:"read"`
			Write int `yaml:"write"`
		} `yaml:"retries"`
		Concurrency struct {
			Global      int `yaml:"global"`
			PerProvider int `yaml:"perProvider"`
			PerDomain   int `yaml:"perDomain"`
		} `yaml:"concurrency"`
		CircuitBreaker struct {
			FailureThreshold int `yaml:"failureThreshold"`
			CooldownMs       int `yaml:"cooldownMs"`
		} `yaml:"circuitBreaker"`
	} `yaml:"budgets"`
	Tiers struct {
		DefaultTier                      string  `yaml:"defaultTier"`
		EnableHybrid                     *bool   `yaml:"enableHybrid"`
		EnableRestrictedSafe             *bool   `yaml:"enableRestrictedSafe"`
		HybridRiskThreshold              float64 `yaml:"hybridRiskThreshold"`
		RestrictedSafeRecoveryIntervalMs int     `yaml:"restrictedSafeRecoveryIntervalMs"`
	} `yaml:"tiers"`
	AdaptiveConcurrency struct {
		Enabled      *bool `yaml:"enabled"`
		MaxGlobal    int   `yaml:"maxGlobal"`
		MaxPerDomain int   `yaml:"maxPerDomain"`
	} `yaml:"adaptiveConcurrency"`
	BlockerDetectionThreshold float64 `yaml:"blockerDetectionThreshold"`
	PromptInjectionGuard      struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"promptInjectionGuard"`
	AntiBotPolicy struct {
		Enabled                *bool `yaml:"enabled"`
		AllowBrowserEscalation *bool `yaml:"allowBrowserEscalation"`
		MaxChallengeRetries    int   `yaml:"maxChallengeRetries"`
	} `yaml:"antiBotPolicy"`
}

// LoadFile reads a YAML config file and overlays it onto Default(),
// leaving every field the file omits at its default value. Callers
// supply only the fields they want to override.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadBytes(b)
}

// LoadBytes parses raw YAML bytes the same way LoadFile does.
func LoadBytes(b []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, err
	}

	cfg := Default()

	if len(fc.Budgets.TimeoutMs) > 0 {
		for op, ms := range fc.Budgets.TimeoutMs {
			cfg.Budgets.TimeoutMs[Operation(op)] = ms
		}
	}
	if fc.Budgets.Retries.Read > 0 {
		cfg.Budgets.Retries.Read = fc.Budgets.Retries.Read
	}
	if fc.Budgets.Retries.Write > 0 {
		cfg.Budgets.Retries.Write = fc.Budgets.Retries.Write
	}
	if fc.Budgets.Concurrency.Global > 0 {
		cfg.Budgets.Concurrency.Global = fc.Budgets.Concurrency.Global
	}
	if fc.Budgets.Concurrency.PerProvider > 0 {
		cfg.Budgets.Concurrency.PerProvider = fc.Budgets.Concurrency.PerProvider
	}
	if fc.Budgets.Concurrency.PerDomain > 0 {
		cfg.Budgets.Concurrency.PerDomain = fc.Budgets.Concurrency.PerDomain
	}
	if fc.Budgets.CircuitBreaker.FailureThreshold > 0 {
		cfg.Budgets.CircuitBreaker.FailureThreshold = fc.Budgets.CircuitBreaker.FailureThreshold
	}
	if fc.Budgets.CircuitBreaker.CooldownMs > 0 {
		cfg.Budgets.CircuitBreaker.CooldownMs = fc.Budgets.CircuitBreaker.CooldownMs
	}

	if fc.Tiers.DefaultTier != "" {
		cfg.Tiers.DefaultTier = fc.Tiers.DefaultTier
	}
	if fc.Tiers.EnableHybrid != nil {
		cfg.Tiers.EnableHybrid = *fc.Tiers.EnableHybrid
	}
	if fc.Tiers.EnableRestrictedSafe != nil {
		cfg.Tiers.EnableRestrictedSafe = *fc.Tiers.EnableRestrictedSafe
	}
	if fc.Tiers.HybridRiskThreshold > 0 {
		cfg.Tiers.HybridRiskThreshold = fc.Tiers.HybridRiskThreshold
	}
	if fc.Tiers.RestrictedSafeRecoveryIntervalMs > 0 {
		cfg.Tiers.RestrictedSafeRecoveryIntervalMs = fc.Tiers.RestrictedSafeRecoveryIntervalMs
	}

	if fc.AdaptiveConcurrency.Enabled != nil {
		cfg.AdaptiveConcurrency.Enabled = *fc.AdaptiveConcurrency.Enabled
	}
	if fc.AdaptiveConcurrency.MaxGlobal > 0 {
		cfg.AdaptiveConcurrency.MaxGlobal = fc.AdaptiveConcurrency.MaxGlobal
	}
	if fc.AdaptiveConcurrency.MaxPerDomain > 0 {
		cfg.AdaptiveConcurrency.MaxPerDomain = fc.AdaptiveConcurrency.MaxPerDomain
	}

	if fc.BlockerDetectionThreshold > 0 {
		cfg.BlockerDetectionThreshold = fc.BlockerDetectionThreshold
	}
	if fc.PromptInjectionGuard.Enabled != nil {
		cfg.PromptInjectionGuard.Enabled = *fc.PromptInjectionGuard.Enabled
	}
	if fc.AntiBotPolicy.Enabled != nil {
		cfg.AntiBotPolicy.Enabled = *fc.AntiBotPolicy.Enabled
	}
	if fc.AntiBotPolicy.AllowBrowserEscalation != nil {
		cfg.AntiBotPolicy.AllowBrowserEscalation = *fc.AntiBotPolicy.AllowBrowserEscalation
	}
	if fc.AntiBotPolicy.MaxChallengeRetries > 0 {
		cfg.AntiBotPolicy.MaxChallengeRetries = fc.AntiBotPolicy.MaxChallengeRetries
	}

	cfg.Validate()
	return cfg, nil
}
