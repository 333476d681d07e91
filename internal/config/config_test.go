package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndSetupDefaults(t *testing.T) {
	var cfg BotConfig
	require.NoError(t, cfg.ValidateAndSetup())

	assert.Equal(t, Simulated, cfg.Mode)
	assert.InDelta(t, 250, cfg.InitialCapital, 1e-9)
	assert.Equal(t, "USDT", cfg.BaseCurrency)
	assert.Equal(t, 50, cfg.UniverseLimit)
	assert.Equal(t, 2*time.Hour, cfg.LoopInterval)
	assert.Equal(t, "BTC", cfg.BenchmarkSymbol)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.InDelta(t, 1.0, cfg.Trading.DustThreshold, 1e-9)
	assert.InDelta(t, 10.0, cfg.Trading.MinTradeSize, 1e-9)
	assert.InDelta(t, 0.001, cfg.Trading.SlippagePct, 1e-9)
	assert.InDelta(t, 0.8, cfg.Trading.MaxPositionPct, 1e-9)
	assert.InDelta(t, 0.05, cfg.Allocator.MinAllocation, 1e-9)
	assert.Equal(t, 24*time.Hour, cfg.Allocator.RebalancePeriod)
	assert.Equal(t, "https://api.binance.com", cfg.Exchange.BaseURL)
	assert.Equal(t, "gemini-2.5-pro", cfg.Brain.Model)
}

func TestValidateAndSetupRejectsUnknownMode(t *testing.T) {
	cfg := BotConfig{Mode: "paper"}
	assert.Error(t, cfg.ValidateAndSetup())
}

func TestValidateAndSetupLiveRequiresCredentials(t *testing.T) {
	cfg := BotConfig{Mode: Live}
	assert.Error(t, cfg.ValidateAndSetup())

	cfg = BotConfig{Mode: Live}
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "secret"
	assert.NoError(t, cfg.ValidateAndSetup())
}

func TestAllocatorSetupRejectsInvertedClamps(t *testing.T) {
	cfg := AllocatorConfig{MinAllocation: 0.6, MaxAllocation: 0.5}
	assert.Error(t, cfg.Setup())
}

func TestLoadBotConfig(t *testing.T) {
	raw := `
mode: simulated
initial_capital: 500
base_currency: USDC
universe_limit: 20
loop_interval: 1h
trading:
  dust_threshold: 2
  min_trade_size: 25
allocator:
  learning_rate: 0.2
brain:
  model: gemini-2.5-flash
`
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadBotConfig(path)
	require.NoError(t, err)

	assert.Equal(t, Simulated, cfg.Mode)
	assert.InDelta(t, 500, cfg.InitialCapital, 1e-9)
	assert.Equal(t, "USDC", cfg.BaseCurrency)
	assert.Equal(t, 20, cfg.UniverseLimit)
	assert.Equal(t, time.Hour, cfg.LoopInterval)
	assert.InDelta(t, 2, cfg.Trading.DustThreshold, 1e-9)
	assert.InDelta(t, 25, cfg.Trading.MinTradeSize, 1e-9)
	assert.InDelta(t, 0.2, cfg.Allocator.LearningRate, 1e-9)
	assert.Equal(t, "gemini-2.5-flash", cfg.Brain.Model)

	// unset fields still get defaults
	assert.Equal(t, "BTC", cfg.BenchmarkSymbol)
	assert.InDelta(t, 0.001, cfg.Trading.SlippagePct, 1e-9)
}

func TestLoadBotConfigMissingFile(t *testing.T) {
	_, err := LoadBotConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
