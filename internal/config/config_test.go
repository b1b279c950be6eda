package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
general:
  instance_id: crosshair-test
  log_level: debug
  log_format: text

chains:
  ethereum:
    enabled: true
    trading_enabled: true
    rpc_endpoint: https://eth.example.com
    ws_endpoint: wss://eth.example.com
    min_liquidity: 2.5
    entry_amount: 0.5
    take_profit_pct: 80
    stop_loss_pct: 40
  solana:
    enabled: true
    rpc_endpoint: https://sol.example.com
    indexer_endpoint: https://indexer.example.com
    venues: [raydium, orca]

risk:
  ethereum:
    max_tx_amount: 1.0
    max_daily_volume: 10.0

safety:
  blacklist: ["0xdead"]
  red_flags: ["definitelynotascam"]

api:
  enabled: true
  listen_addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "crosshair-test", cfg.General.InstanceID)
	assert.Equal(t, "debug", cfg.General.LogLevel)

	eth := cfg.Chains[chains.ChainEthereum]
	assert.True(t, eth.TradingEnabled)
	assert.Equal(t, 2.5, eth.MinLiquidity)
	assert.Equal(t, 0.5, eth.EntryAmount)
	assert.Equal(t, 80.0, eth.TakeProfitPct)

	sol := cfg.Chains[chains.ChainSolana]
	assert.False(t, sol.TradingEnabled)
	assert.Equal(t, []string{"raydium", "orca"}, sol.Venues)

	assert.Equal(t, []string{"0xdead"}, cfg.Safety.Blacklist)
	assert.Equal(t, ":9090", cfg.API.ListenAddr)
	require.NoError(t, cfg.Validate())
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
chains:
  ethereum:
    enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	eth := cfg.Chains[chains.ChainEthereum]
	assert.Equal(t, 15.0, eth.SnipeSlippagePct)
	assert.Equal(t, 5.0, eth.ExitSlippagePct)
	assert.Equal(t, 100.0, eth.TakeProfitPct)
	assert.Equal(t, 50.0, eth.StopLossPct)
	assert.Equal(t, 30, eth.MonitorIntervalS)
	assert.Equal(t, 0.95, eth.ExitSellFraction)
	assert.Equal(t, 10, eth.CallTimeoutS)
	assert.Equal(t, 60, eth.PollIntervalS)

	rc := cfg.Risk[chains.ChainEthereum]
	assert.Equal(t, 1.0, rc.MaxTxAmount)
	assert.Equal(t, 5.0, rc.MaxDailyVolume)

	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, ":8085", cfg.API.ListenAddr)
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("TEST_RPC_URL", "https://node.example.com")
	path := writeConfig(t, `
chains:
  ethereum:
    enabled: true
    rpc_endpoint: ${TEST_RPC_URL}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://node.example.com", cfg.Chains[chains.ChainEthereum].RPCEndpoint)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "chains: [not a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefault_ThreeChainsSimulationMode(t *testing.T) {
	cfg := Default()
	require.Len(t, cfg.Chains, 3)
	for id, cc := range cfg.Chains {
		assert.True(t, cc.Enabled, "chain %s", id)
		assert.False(t, cc.TradingEnabled, "chain %s must default to simulation", id)
	}
	require.NoError(t, cfg.Validate())
}

func TestValidate_StopLossBounds(t *testing.T) {
	cfg := Default()
	cc := cfg.Chains[chains.ChainEthereum]
	cc.StopLossPct = 100
	cfg.Chains[chains.ChainEthereum] = cc
	assert.Error(t, cfg.Validate())
}

func TestValidate_ExitSellFraction(t *testing.T) {
	cfg := Default()
	cc := cfg.Chains[chains.ChainEthereum]
	cc.ExitSellFraction = 1.5
	cfg.Chains[chains.ChainEthereum] = cc
	assert.Error(t, cfg.Validate())
}

func TestValidate_EntryAmountWithinRiskCap(t *testing.T) {
	cfg := Default()
	cc := cfg.Chains[chains.ChainEthereum]
	cc.EntryAmount = 100
	cfg.Chains[chains.ChainEthereum] = cc
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_tx_amount")
}

func TestValidate_DisabledChainsAreSkipped(t *testing.T) {
	cfg := Default()
	cc := cfg.Chains[chains.ChainBitcoin]
	cc.Enabled = false
	cc.EntryAmount = -5 // invalid, but the chain is off
	cfg.Chains[chains.ChainBitcoin] = cc
	assert.NoError(t, cfg.Validate())
}
