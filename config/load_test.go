package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBytes_OverlaysOntoDefaults(t *testing.T) {
	raw := []byte(`
budgets:
  timeoutMs:
    search: 5000
  concurrency:
    global: 32
tiers:
  defaultTier: "B"
adaptiveConcurrency:
  enabled: false
  maxGlobal: 64
antiBotPolicy:
  maxChallengeRetries: 4
`)
	cfg, err := LoadBytes(raw)
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.Budgets.TimeoutMs[OpSearch])
	require.Equal(t, 12000, cfg.Budgets.TimeoutMs[OpFetch], "unset operations keep the default")
	require.Equal(t, 32, cfg.Budgets.Concurrency.Global)
	require.Equal(t, "B", cfg.Tiers.DefaultTier)
	require.Equal(t, false, cfg.AdaptiveConcurrency.Enabled, "default-on flags can be disabled from a file")
	require.Equal(t, 64, cfg.AdaptiveConcurrency.MaxGlobal)
	require.Equal(t, 4, cfg.AntiBotPolicy.MaxChallengeRetries)
}

func TestLoadBytes_DisablesDefaultOnFlags(t *testing.T) {
	raw := []byte(`
tiers:
  enableHybrid: false
  enableRestrictedSafe: false
promptInjectionGuard:
  enabled: false
antiBotPolicy:
  enabled: false
  allowBrowserEscalation: false
`)
	cfg, err := LoadBytes(raw)
	require.NoError(t, err)

	require.False(t, cfg.Tiers.EnableHybrid)
	require.False(t, cfg.Tiers.EnableRestrictedSafe)
	require.False(t, cfg.PromptInjectionGuard.Enabled)
	require.False(t, cfg.AntiBotPolicy.Enabled)
	require.False(t, cfg.AntiBotPolicy.AllowBrowserEscalation)
}

func TestLoadBytes_OmittedFlagsKeepDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(`tiers: {defaultTier: "C"}`))
	require.NoError(t, err)

	def := Default()
	require.Equal(t, def.Tiers.EnableHybrid, cfg.Tiers.EnableHybrid)
	require.Equal(t, def.Tiers.EnableRestrictedSafe, cfg.Tiers.EnableRestrictedSafe)
	require.Equal(t, def.AdaptiveConcurrency.Enabled, cfg.AdaptiveConcurrency.Enabled)
	require.Equal(t, def.PromptInjectionGuard.Enabled, cfg.PromptInjectionGuard.Enabled)
	require.Equal(t, def.AntiBotPolicy.Enabled, cfg.AntiBotPolicy.Enabled)
}

func TestLoadBytes_EmptyInputYieldsDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(``))
	require.NoError(t, err)
	require.Equal(t, Default().Budgets.TimeoutMs[OpSearch], cfg.Budgets.TimeoutMs[OpSearch])
}

func TestLoadFile_MissingFileErrors(t *testing.T) {
	_, err := LoadFile("/nonexistent/path/does-not-exist.yaml")
	require.Error(t, err)
}
