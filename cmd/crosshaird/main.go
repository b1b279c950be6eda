package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/api"
	"github.com/crosshair-trading/crosshair/internal/chains"
	"github.com/crosshair-trading/crosshair/internal/chains/evm"
	"github.com/crosshair-trading/crosshair/internal/chains/solana"
	"github.com/crosshair-trading/crosshair/internal/chains/utxo"
	"github.com/crosshair-trading/crosshair/internal/config"
	"github.com/crosshair-trading/crosshair/internal/detector"
	"github.com/crosshair-trading/crosshair/internal/position"
	"github.com/crosshair-trading/crosshair/internal/risk"
	"github.com/crosshair-trading/crosshair/internal/safety"
	"github.com/crosshair-trading/crosshair/internal/sched"
	"github.com/crosshair-trading/crosshair/internal/sniper"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub chain adapters (no real chain connections)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *stubMode {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
			os.Exit(1)
		}
	}

	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("crosshair - cross-chain liquidity sniper")
	log.Info().Msg("DETECT -> FILTER -> SNIPE -> MANAGE")
	log.Info().Msg("=============================================")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration validation failed")
	}

	clock := sched.WallClock{}

	// Chain adapters: one per enabled chain.
	adapters := make(map[chains.ChainID]chains.Adapter)
	for id, cc := range cfg.Chains {
		if !cc.Enabled {
			continue
		}
		if *stubMode {
			stub := chains.NewStubAdapter(id)
			if id == chains.ChainEthereum {
				stub.SetPushCapable(true)
			}
			adapters[id] = stub
			log.Info().Str("chain", string(id)).Msg("chain adapter: STUB mode")
			continue
		}
		adapter, err := buildAdapter(id, cc)
		if err != nil {
			log.Fatal().Err(err).Str("chain", string(id)).Msg("chain adapter construction failed")
		}
		adapters[id] = adapter
	}

	// Risk validator.
	limits := make(map[chains.ChainID]risk.Limits)
	for id, rc := range cfg.Risk {
		limits[id] = risk.Limits{
			MaxTxAmount:    decimal.NewFromFloat(rc.MaxTxAmount),
			MaxDailyVolume: decimal.NewFromFloat(rc.MaxDailyVolume),
			AnomalyWindow:  time.Duration(rc.AnomalyWindowS) * time.Second,
			AnomalyMaxTx:   rc.AnomalyMaxTx,
		}
	}
	validator := risk.New(clock, limits)

	// Safety filter.
	filter := safety.New(safety.Config{
		ExtraRedFlags: cfg.Safety.RedFlags,
		Whitelist:     cfg.Safety.Whitelist,
		Blacklist:     cfg.Safety.Blacklist,
	})

	// Position manager.
	settings := make(map[chains.ChainID]position.Settings)
	for id, cc := range cfg.Chains {
		settings[id] = position.Settings{
			MonitorInterval:  time.Duration(cc.MonitorIntervalS) * time.Second,
			DustThreshold:    decimal.NewFromFloat(cc.DustThreshold),
			ExitSellFraction: decimal.NewFromFloat(cc.ExitSellFraction),
			ExitSlippagePct:  cc.ExitSlippagePct,
			CallTimeout:      time.Duration(cc.CallTimeoutS) * time.Second,
		}
	}
	manager := position.NewManager(clock, adapters, settings)

	// Snipe executor.
	params := make(map[chains.ChainID]sniper.ChainParams)
	for id, cc := range cfg.Chains {
		params[id] = sniper.ChainParams{
			TradingEnabled:         cc.TradingEnabled,
			EntryAmount:            decimal.NewFromFloat(cc.EntryAmount),
			SnipeSlippagePct:       cc.SnipeSlippagePct,
			TakeProfitPct:          cc.TakeProfitPct,
			StopLossPct:            cc.StopLossPct,
			MaxOnePositionPerAsset: cc.MaxOnePositionPerAsset,
			CallTimeout:            time.Duration(cc.CallTimeoutS) * time.Second,
		}
	}
	executor := sniper.NewExecutor(adapters, params, validator, manager)

	// Detection coordinator.
	detParams := make(map[chains.ChainID]detector.ChainParams)
	for id, cc := range cfg.Chains {
		detParams[id] = detector.ChainParams{
			MinLiquidity: decimal.NewFromFloat(cc.MinLiquidity),
			PollInterval: time.Duration(cc.PollIntervalS) * time.Second,
			CallTimeout:  time.Duration(cc.CallTimeoutS) * time.Second,
		}
	}
	coordinator := detector.NewCoordinator(clock, adapters, detParams, filter, executor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := 0
	for id := range adapters {
		if err := coordinator.Start(ctx, id); err != nil {
			log.Error().Err(err).Str("chain", string(id)).Msg("detector start failed, chain skipped")
			continue
		}
		started++
	}
	if started == 0 {
		log.Fatal().Msg("no chain detector started")
	}
	log.Info().Int("chains", started).Msg("detection running")

	var server *api.Server
	if cfg.API.Enabled || *stubMode {
		server = api.NewServer(cfg.API.ListenAddr, coordinator, manager, filter)
		server.Start()
	}

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	coordinator.StopAll()
	manager.StopAll()
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("api shutdown failed")
		}
		shutdownCancel()
	}
	cancel()
	log.Info().Msg("shutdown complete")
}

// buildAdapter constructs the live adapter for a chain.
func buildAdapter(id chains.ChainID, cc config.ChainConfig) (chains.Adapter, error) {
	switch id {
	case chains.ChainEthereum:
		evmCfg := evm.DefaultConfig()
		evmCfg.RPCEndpoint = cc.RPCEndpoint
		evmCfg.WS.WSEndpoint = cc.WSEndpoint
		evmCfg.SwapService = cc.SwapService
		evmCfg.WalletAddress = cc.WalletAddress
		if len(cc.Venues) > 0 {
			evmCfg.WS.Factories = cc.Venues
		}
		return evm.New(evmCfg), nil
	case chains.ChainSolana:
		return solana.New(solana.Config{
			RPCEndpoint:     cc.RPCEndpoint,
			IndexerEndpoint: cc.IndexerEndpoint,
			PriceEndpoint:   cc.PriceEndpoint,
			SwapService:     cc.SwapService,
			WalletAddress:   cc.WalletAddress,
			Venues:          cc.Venues,
		}), nil
	case chains.ChainBitcoin:
		return utxo.New(utxo.Config{
			Venues:             cc.VenueEndpoints,
			Markets:            cc.Markets,
			SpreadThresholdPct: cc.SpreadThresholdPct,
			AccountService:     cc.AccountService,
		}), nil
	default:
		return nil, fmt.Errorf("unknown chain %q", id)
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "crosshaird").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "crosshaird").
			Str("instance", general.InstanceID).Logger()
	}
}
