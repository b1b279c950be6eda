package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/chains"
	"github.com/crosshair-trading/crosshair/internal/observability"
	"github.com/crosshair-trading/crosshair/internal/safety"
	"github.com/crosshair-trading/crosshair/internal/sched"
	"github.com/crosshair-trading/crosshair/internal/sniper"
)

// ---------------------------------------------------------------------------
// Detection Coordinator — owns one listener/poller per chain and fans
// discovered pairs through the safety filter into the snipe executor.
// Events from one chain are consumed in emission order; each accepted
// event's pipeline runs as its own goroutine so a slow evaluation never
// delays the next event, on this chain or any other.
// ---------------------------------------------------------------------------

// eventBuffer bounds the per-chain queue between the listener and the
// consumer, giving backpressure instead of unbounded fan-out.
const eventBuffer = 256

// ChainParams is the per-chain detection surface.
type ChainParams struct {
	MinLiquidity decimal.Decimal // in reference-asset units
	PollInterval time.Duration
	CallTimeout  time.Duration
}

// Mode says how a chain's detector obtains events.
type Mode string

const (
	ModePush Mode = "push" // native pair-creation events
	ModePoll Mode = "poll" // fixed-interval poller
)

// ChainStatus reports one chain detector for the control API.
type ChainStatus struct {
	Chain   chains.ChainID `json:"chain"`
	Running bool           `json:"running"`
	Mode    Mode           `json:"mode,omitempty"`
	Seen    int            `json:"pairs_seen"`
}

type chainDetector struct {
	cancel context.CancelFunc
	done   chan struct{}
	poller *sched.Periodic
	mode   Mode

	seenMu sync.Mutex
	seen   map[string]time.Time // pair address -> first seen
}

// Coordinator wires chain adapters into the snipe pipeline.
type Coordinator struct {
	clock    sched.Clock
	adapters map[chains.ChainID]chains.Adapter
	params   map[chains.ChainID]ChainParams
	filter   *safety.Filter
	executor *sniper.Executor

	mu        sync.Mutex
	detectors map[chains.ChainID]*chainDetector
}

// NewCoordinator creates a detection coordinator.
func NewCoordinator(clock sched.Clock, adapters map[chains.ChainID]chains.Adapter, params map[chains.ChainID]ChainParams, filter *safety.Filter, executor *sniper.Executor) *Coordinator {
	if clock == nil {
		clock = sched.WallClock{}
	}
	return &Coordinator{
		clock:     clock,
		adapters:  adapters,
		params:    params,
		filter:    filter,
		executor:  executor,
		detectors: make(map[chains.ChainID]*chainDetector),
	}
}

// Start begins detection for a chain. Idempotent: starting a running chain
// is a no-op. Returns chains.ErrAdapterUnavailable when the chain has no
// adapter or the adapter cannot initialize.
func (c *Coordinator) Start(ctx context.Context, chain chains.ChainID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, running := c.detectors[chain]; running {
		return nil
	}

	adapter, ok := c.adapters[chain]
	if !ok {
		return fmt.Errorf("start %s: %w", chain, chains.ErrAdapterUnavailable)
	}
	params, ok := c.params[chain]
	if !ok {
		return fmt.Errorf("start %s: no detection parameters: %w", chain, chains.ErrAdapterUnavailable)
	}

	initCtx, cancel := context.WithTimeout(ctx, params.CallTimeout)
	err := adapter.Initialize(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("start %s: initialize: %v: %w", chain, err, chains.ErrAdapterUnavailable)
	}

	detCtx, detCancel := context.WithCancel(ctx)
	det := &chainDetector{
		cancel: detCancel,
		done:   make(chan struct{}),
		seen:   make(map[string]time.Time),
	}

	events := make(chan chains.PairEvent, eventBuffer)

	sub, err := adapter.SubscribeNewPairs(detCtx)
	switch {
	case err == nil:
		det.mode = ModePush
		go func() {
			defer close(events)
			for {
				select {
				case <-detCtx.Done():
					return
				case e, ok := <-sub:
					if !ok {
						return
					}
					select {
					case events <- e:
					case <-detCtx.Done():
						return
					}
				}
			}
		}()

	case errors.Is(err, chains.ErrUnsupported):
		det.mode = ModePoll
		det.poller = sched.Every(detCtx, c.clock, params.PollInterval, func(pollCtx context.Context) {
			callCtx, cancel := context.WithTimeout(pollCtx, params.CallTimeout)
			found, perr := adapter.PollNewAssets(callCtx)
			cancel()
			if perr != nil {
				observability.AdapterErrors.WithLabelValues(string(chain), "poll").Inc()
				log.Warn().Err(perr).Str("chain", string(chain)).Msg("detector: poll failed, retrying next tick")
				return
			}
			for _, e := range found {
				select {
				case events <- e:
				case <-pollCtx.Done():
					return
				}
			}
		})
		go func() {
			<-det.poller.Done()
			close(events)
		}()

	default:
		detCancel()
		return fmt.Errorf("start %s: subscribe: %v: %w", chain, err, chains.ErrAdapterUnavailable)
	}

	// Consumer: in-order per chain, pipeline dispatched per event.
	go func() {
		defer close(det.done)
		for e := range events {
			c.handleEvent(detCtx, chain, adapter, params, det, e)
		}
	}()

	c.detectors[chain] = det
	log.Info().
		Str("chain", string(chain)).
		Str("mode", string(det.mode)).
		Str("min_liquidity", params.MinLiquidity.String()).
		Msg("detector: started")
	return nil
}

// handleEvent filters one discovery and dispatches its pipeline.
func (c *Coordinator) handleEvent(ctx context.Context, chain chains.ChainID, adapter chains.Adapter, params ChainParams, det *chainDetector, e chains.PairEvent) {
	observability.PairsDiscovered.WithLabelValues(string(chain)).Inc()

	// Observability contract: every discovery is logged regardless of
	// downstream outcome.
	log.Info().
		Str("chain", string(chain)).
		Str("pair", e.PairAddress).
		Str("asset0", e.Asset0.Symbol).
		Str("asset1", e.Asset1.Symbol).
		Str("liquidity_ref", e.LiquidityRef.String()).
		Bool("has_reference", e.HasReferenceAsset).
		Str("source", e.Source).
		Msg("detector: pair discovered")

	if !e.HasReferenceAsset {
		observability.PairsFiltered.WithLabelValues(string(chain), "no-reference-asset").Inc()
		return
	}
	if e.LiquidityRef.LessThan(params.MinLiquidity) {
		observability.PairsFiltered.WithLabelValues(string(chain), "low-liquidity").Inc()
		return
	}

	det.seenMu.Lock()
	_, dup := det.seen[e.PairAddress]
	if !dup {
		det.seen[e.PairAddress] = c.clock.Now()
	}
	det.seenMu.Unlock()
	if dup {
		observability.PairsFiltered.WithLabelValues(string(chain), "duplicate").Inc()
		return
	}

	asset, ok := e.NonReferenceAsset(adapter.ReferenceAsset())
	if !ok {
		observability.PairsFiltered.WithLabelValues(string(chain), "no-reference-asset").Inc()
		return
	}

	// Each pipeline is an independent unit of work: a slow safety
	// evaluation must not delay the next event.
	go c.pipeline(ctx, chain, adapter, asset)
}

// pipeline runs safety evaluation and, on a tradeable verdict, the snipe.
func (c *Coordinator) pipeline(ctx context.Context, chain chains.ChainID, adapter chains.Adapter, asset chains.AssetDescriptor) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("chain", string(chain)).
				Str("asset", asset.Address).Msg("detector: pipeline panic recovered")
		}
	}()

	verdict := c.filter.Evaluate(ctx, adapter, asset.Address)
	observability.SafetyVerdicts.WithLabelValues(string(chain), fmt.Sprintf("%t", verdict.Tradeable)).Inc()
	if !verdict.Tradeable {
		return
	}

	if _, failure := c.executor.Snipe(ctx, chain, verdict.Asset); failure != nil {
		// Already logged and counted by the executor; a failed snipe is
		// skipped, never retried.
		return
	}
}

// Stop cancels a chain's detector. Safe to call repeatedly and on chains
// that were never started; effective before the next scheduled tick.
func (c *Coordinator) Stop(chain chains.ChainID) {
	c.mu.Lock()
	det, ok := c.detectors[chain]
	if ok {
		delete(c.detectors, chain)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	det.cancel()
	if det.poller != nil {
		det.poller.Stop()
	}
	<-det.done
	log.Info().Str("chain", string(chain)).Msg("detector: stopped")
}

// StopAll stops every running chain detector.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	ids := make([]chains.ChainID, 0, len(c.detectors))
	for id := range c.detectors {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Stop(id)
	}
}

// Status reports every configured chain for the control API.
func (c *Coordinator) Status() []ChainStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChainStatus, 0, len(c.adapters))
	for id := range c.adapters {
		st := ChainStatus{Chain: id}
		if det, ok := c.detectors[id]; ok {
			st.Running = true
			st.Mode = det.mode
			det.seenMu.Lock()
			st.Seen = len(det.seen)
			det.seenMu.Unlock()
		}
		out = append(out, st)
	}
	return out
}
