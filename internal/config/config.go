package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

// Config is the root configuration structure for crosshair.
type Config struct {
	General GeneralConfig                  `yaml:"general"`
	Chains  map[chains.ChainID]ChainConfig `yaml:"chains"`
	Risk    map[chains.ChainID]RiskConfig  `yaml:"risk"`
	Safety  SafetyConfig                   `yaml:"safety"`
	API     APIConfig                      `yaml:"api"`
}

type GeneralConfig struct {
	InstanceID  string `yaml:"instance_id"`
	Environment string `yaml:"environment"` // production|staging|development
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json|text
}

// ChainConfig is the per-chain trading surface consumed by the core.
type ChainConfig struct {
	Enabled         bool   `yaml:"enabled"`
	TradingEnabled  bool   `yaml:"trading_enabled"` // false = simulation gate
	RPCEndpoint     string `yaml:"rpc_endpoint"`
	WSEndpoint      string `yaml:"ws_endpoint"`
	IndexerEndpoint string `yaml:"indexer_endpoint"` // poll-based discovery feed
	PriceEndpoint   string `yaml:"price_endpoint"`
	SwapService     string `yaml:"swap_service"`    // wallet service executing swaps
	AccountService  string `yaml:"account_service"` // exchange account (UTXO venues)
	WalletAddress   string `yaml:"wallet_address"`

	// UTXO-style venues: name -> ticker endpoint, markets quoted vs BTC.
	VenueEndpoints     map[string]string `yaml:"venue_endpoints"`
	Markets            []string          `yaml:"markets"`
	SpreadThresholdPct float64           `yaml:"spread_threshold_pct"`

	// Detection.
	MinLiquidity  float64  `yaml:"min_liquidity"` // in reference-asset units
	PollIntervalS int      `yaml:"poll_interval_s"`
	Venues        []string `yaml:"venues"` // preferred venues to watch

	// Entry.
	EntryAmount      float64 `yaml:"entry_amount"` // reference-asset units per snipe
	SnipeSlippagePct float64 `yaml:"snipe_slippage_pct"`
	ExitSlippagePct  float64 `yaml:"exit_slippage_pct"`

	// Exit thresholds.
	TakeProfitPct    float64 `yaml:"take_profit_pct"`
	StopLossPct      float64 `yaml:"stop_loss_pct"`
	MonitorIntervalS int     `yaml:"monitor_interval_s"`
	DustThreshold    float64 `yaml:"dust_threshold"`
	ExitSellFraction float64 `yaml:"exit_sell_fraction"` // fraction of balance sold on exit

	// Allow at most one active position per asset on this chain.
	MaxOnePositionPerAsset bool `yaml:"max_one_position_per_asset"`

	// Hard timeout applied to every adapter call.
	CallTimeoutS int `yaml:"call_timeout_s"`
}

// RiskConfig caps per-chain transaction size and rolling daily volume.
type RiskConfig struct {
	MaxTxAmount    float64 `yaml:"max_tx_amount"`    // reference-asset units
	MaxDailyVolume float64 `yaml:"max_daily_volume"` // rolling 24h, reference-asset units
	AnomalyWindowS int     `yaml:"anomaly_window_s"` // sequence anomaly window
	AnomalyMaxTx   int     `yaml:"anomaly_max_tx"`   // max tx inside the window
}

// SafetyConfig seeds the safety filter lists. All three are add-only at
// runtime via the control API.
type SafetyConfig struct {
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
	RedFlags  []string `yaml:"red_flags"` // extra terms on top of built-ins
}

type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a fully defaulted config with all three chains enabled in
// simulation mode. Used by -stub mode and tests.
func Default() *Config {
	cfg := &Config{
		Chains: map[chains.ChainID]ChainConfig{
			chains.ChainEthereum: {Enabled: true},
			chains.ChainBitcoin:  {Enabled: true},
			chains.ChainSolana:   {Enabled: true},
		},
	}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "crosshair-1"
	}
	if cfg.General.Environment == "" {
		cfg.General.Environment = "development"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Chains == nil {
		cfg.Chains = make(map[chains.ChainID]ChainConfig)
	}
	for id, cc := range cfg.Chains {
		if cc.MinLiquidity == 0 {
			cc.MinLiquidity = 1.0
		}
		if cc.PollIntervalS == 0 {
			cc.PollIntervalS = 60
		}
		if cc.EntryAmount == 0 {
			cc.EntryAmount = 0.1
		}
		if cc.SnipeSlippagePct == 0 {
			cc.SnipeSlippagePct = 15.0 // new pools are thin; wider than exits
		}
		if cc.ExitSlippagePct == 0 {
			cc.ExitSlippagePct = 5.0
		}
		if cc.TakeProfitPct == 0 {
			cc.TakeProfitPct = 100.0
		}
		if cc.StopLossPct == 0 {
			cc.StopLossPct = 50.0
		}
		if cc.MonitorIntervalS == 0 {
			cc.MonitorIntervalS = 30
		}
		if cc.DustThreshold == 0 {
			cc.DustThreshold = 1e-9
		}
		if cc.ExitSellFraction == 0 {
			cc.ExitSellFraction = 0.95
		}
		if cc.CallTimeoutS == 0 {
			cc.CallTimeoutS = 10
		}
		cfg.Chains[id] = cc
	}
	if cfg.Risk == nil {
		cfg.Risk = make(map[chains.ChainID]RiskConfig)
	}
	for id := range cfg.Chains {
		rc := cfg.Risk[id]
		if rc.MaxTxAmount == 0 {
			rc.MaxTxAmount = 1.0
		}
		if rc.MaxDailyVolume == 0 {
			rc.MaxDailyVolume = 5.0
		}
		if rc.AnomalyWindowS == 0 {
			rc.AnomalyWindowS = 60
		}
		if rc.AnomalyMaxTx == 0 {
			rc.AnomalyMaxTx = 10
		}
		cfg.Risk[id] = rc
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = ":8085"
	}
}

// Validate checks invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	for id, cc := range c.Chains {
		if !cc.Enabled {
			continue
		}
		if cc.TakeProfitPct < 0 || cc.StopLossPct < 0 {
			return fmt.Errorf("chain %s: take_profit_pct and stop_loss_pct must be >= 0", id)
		}
		if cc.StopLossPct >= 100 {
			return fmt.Errorf("chain %s: stop_loss_pct must be < 100", id)
		}
		if cc.ExitSellFraction <= 0 || cc.ExitSellFraction > 1 {
			return fmt.Errorf("chain %s: exit_sell_fraction must be in (0, 1]", id)
		}
		if cc.EntryAmount <= 0 {
			return fmt.Errorf("chain %s: entry_amount must be > 0", id)
		}
		if rc, ok := c.Risk[id]; ok && cc.EntryAmount > rc.MaxTxAmount {
			return fmt.Errorf("chain %s: entry_amount %.4f exceeds risk max_tx_amount %.4f",
				id, cc.EntryAmount, rc.MaxTxAmount)
		}
	}
	return nil
}
