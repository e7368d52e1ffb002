package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFromFileMergesOverDefaults(t *testing.T) {
	globalConfig = nil
	t.Setenv("DRY_RUN", "true")

	path := writeConfig(t, "config.yaml", `
engine:
  shares: 50
  dip_threshold: 0.2
discovery:
  coins: [eth]
  timeframe: 15m
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	require.Equal(t, float64(50), cfg.Engine.Shares)
	require.Equal(t, 0.2, cfg.Engine.DipThreshold)
	// 未覆盖的字段保持默认
	require.Equal(t, 0.95, cfg.Engine.SumTarget)
	require.Equal(t, 5, cfg.Engine.MaxConsecutiveFailures)
	require.Equal(t, []string{"eth"}, cfg.Discovery.Coins)
	require.True(t, cfg.DryRun)
}

func TestLoadRequiresPrivateKeyUnlessDryRun(t *testing.T) {
	globalConfig = nil
	t.Setenv("DRY_RUN", "")
	t.Setenv("WALLET_PRIVATE_KEY", "")

	path := writeConfig(t, "config.yaml", "log_level: info\n")
	_, err := LoadFromFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "WALLET_PRIVATE_KEY")
}

func TestEnvOverridesFile(t *testing.T) {
	globalConfig = nil
	t.Setenv("DRY_RUN", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("POLYGON_RPC_URL", "https://rpc.example.org")

	path := writeConfig(t, "config.yaml", "log_level: warn\n")
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "https://rpc.example.org", cfg.Settlement.RPCURL)
}

func TestValidateRejectsBadEngineParams(t *testing.T) {
	cases := map[string]func(*EngineConfig){
		"shares":     func(c *EngineConfig) { c.Shares = 0 },
		"sum_target": func(c *EngineConfig) { c.SumTarget = 1.0 },
		"dip":        func(c *EngineConfig) { c.DipThreshold = 0 },
		"window":     func(c *EngineConfig) { c.SlidingWindowMs = 0 },
		"slippage":   func(c *EngineConfig) { c.MaxSlippage = 1.0 },
		"leg2":       func(c *EngineConfig) { c.Leg2TimeoutSeconds = 0 },
		"breaker":    func(c *EngineConfig) { c.MaxConsecutiveFailures = -1 },
		"daily_loss": func(c *EngineConfig) { c.DailyLossLimit = -5 },
	}
	for name, mutate := range cases {
		c := DefaultEngineConfig()
		mutate(&c)
		require.Error(t, c.Validate(), name)
	}
	def := DefaultEngineConfig()
	require.NoError(t, def.Validate())
}

func TestValidateRejectsUnknownCoinAndMissingOracle(t *testing.T) {
	globalConfig = nil
	t.Setenv("DRY_RUN", "true")

	path := writeConfig(t, "config.yaml", "discovery:\n  coins: [doge]\n")
	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestRotationValidateStrategy(t *testing.T) {
	c := DefaultRotationConfig()
	c.SettleStrategy = "hodl"
	require.Error(t, c.Validate())

	c.SettleStrategy = SettleStrategySell
	require.NoError(t, c.Validate())
}

func TestProxyURL(t *testing.T) {
	var p *ProxyConfig
	require.Empty(t, p.URL())
	require.Empty(t, (&ProxyConfig{Host: "127.0.0.1"}).URL())
	require.Equal(t, "http://127.0.0.1:7890", (&ProxyConfig{Host: "127.0.0.1", Port: 7890}).URL())
}

func TestUnsupportedExtension(t *testing.T) {
	globalConfig = nil
	path := writeConfig(t, "config.toml", "x = 1\n")
	_, err := LoadFromFile(path)
	require.Error(t, err)
}

func TestOrderbookThresholdDefaultsAndValidation(t *testing.T) {
	globalConfig = nil
	t.Setenv("DRY_RUN", "true")

	path := writeConfig(t, "config.yaml", "log_level: info\n")
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	// 缺省为 0，订单簿服务落到内置套利阈值，不跟引擎参数串线
	require.Zero(t, cfg.Orderbook.ArbThreshold)

	bad := OrderbookConfig{ArbThreshold: -0.01}
	require.Error(t, bad.Validate())
	bad.ArbThreshold = 1.0
	require.Error(t, bad.Validate())

	ok := OrderbookConfig{ArbThreshold: 0.01}
	require.NoError(t, ok.Validate())
}
