package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 12000, cfg.Budgets.TimeoutMs[OpSearch])
	assert.Equal(t, 20000, cfg.Budgets.TimeoutMs[OpCrawl])
	assert.Equal(t, 20, cfg.AdaptiveConcurrency.WindowSize)
	assert.Equal(t, "A", cfg.Tiers.DefaultTier)
}

func TestValidate_ClampsWindowSize(t *testing.T) {
	cfg := Default()
	cfg.AdaptiveConcurrency.WindowSize = 1
	cfg.Validate()
	assert.Equal(t, 5, cfg.AdaptiveConcurrency.WindowSize)

	cfg.AdaptiveConcurrency.WindowSize = 500
	cfg.Validate()
	assert.Equal(t, 100, cfg.AdaptiveConcurrency.WindowSize)
}

func TestValidate_ClampsCooldownMs(t *testing.T) {
	cfg := Default()
	cfg.AdaptiveConcurrency.CooldownMs = 1
	cfg.Validate()
	assert.Equal(t, 250, cfg.AdaptiveConcurrency.CooldownMs)

	cfg.AdaptiveConcurrency.CooldownMs = 1000000
	cfg.Validate()
	assert.Equal(t, 60000, cfg.AdaptiveConcurrency.CooldownMs)
}

func TestValidate_ClampsDecreaseFactorAndIncreaseStep(t *testing.T) {
	cfg := Default()
	cfg.AdaptiveConcurrency.DecreaseFactor = 0
	cfg.AdaptiveConcurrency.IncreaseStep = 0
	cfg.Validate()
	assert.Equal(t, 0.1, cfg.AdaptiveConcurrency.DecreaseFactor)
	assert.Equal(t, 1, cfg.AdaptiveConcurrency.IncreaseStep)

	cfg.AdaptiveConcurrency.DecreaseFactor = 5
	cfg.AdaptiveConcurrency.IncreaseStep = 50
	cfg.Validate()
	assert.Equal(t, 0.95, cfg.AdaptiveConcurrency.DecreaseFactor)
	assert.Equal(t, 8, cfg.AdaptiveConcurrency.IncreaseStep)
}

func TestValidate_ClampsBlockerDetectionThreshold(t *testing.T) {
	cfg := Default()
	cfg.BlockerDetectionThreshold = -1
	cfg.Validate()
	assert.Equal(t, 0.0, cfg.BlockerDetectionThreshold)

	cfg.BlockerDetectionThreshold = 5
	cfg.Validate()
	assert.Equal(t, 1.0, cfg.BlockerDetectionThreshold)
}

func TestTimeoutFor_FallsBackToDefaultWhenUnset(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 0, cfg.Budgets.TimeoutMs[OpSearch])
	assert.Equal(t, 20*time.Second, cfg.TimeoutFor(OpCrawl))
}
