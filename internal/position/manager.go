package position

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/chains"
	"github.com/crosshair-trading/crosshair/internal/observability"
	"github.com/crosshair-trading/crosshair/internal/sched"
)

// ---------------------------------------------------------------------------
// Position Manager — owns the lifecycle of every open position. One
// monitoring loop per position; loops are mutually independent and share
// nothing beyond the registry.
// ---------------------------------------------------------------------------

// Settings is the per-chain monitoring surface.
type Settings struct {
	MonitorInterval  time.Duration
	DustThreshold    decimal.Decimal
	ExitSellFraction decimal.Decimal // fraction of current balance sold on exit
	ExitSlippagePct  float64
	CallTimeout      time.Duration
}

// DefaultSettings returns conservative monitoring defaults.
func DefaultSettings() Settings {
	return Settings{
		MonitorInterval:  30 * time.Second,
		DustThreshold:    decimal.NewFromFloat(1e-9),
		ExitSellFraction: decimal.NewFromFloat(0.95),
		ExitSlippagePct:  5.0,
		CallTimeout:      10 * time.Second,
	}
}

// Manager owns all open positions and their monitor loops.
type Manager struct {
	clock    sched.Clock
	adapters map[chains.ChainID]chains.Adapter
	settings map[chains.ChainID]Settings

	mu        sync.RWMutex
	closeDone *sync.Cond // broadcast whenever a close attempt resolves
	positions map[string]*Position
	monitors  map[string]*sched.Periodic
	baseCtx   context.Context
	baseStop  context.CancelFunc

	onClose func(pos Position)
}

// NewManager creates a position manager over the given chain adapters.
// Chains missing from settings fall back to DefaultSettings.
func NewManager(clock sched.Clock, adapters map[chains.ChainID]chains.Adapter, settings map[chains.ChainID]Settings) *Manager {
	if clock == nil {
		clock = sched.WallClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		clock:     clock,
		adapters:  adapters,
		settings:  settings,
		positions: make(map[string]*Position),
		monitors:  make(map[string]*sched.Periodic),
		baseCtx:   ctx,
		baseStop:  cancel,
	}
	m.closeDone = sync.NewCond(&m.mu)
	return m
}

// SetOnClose registers a callback invoked (with a snapshot) after every close.
func (m *Manager) SetOnClose(fn func(pos Position)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClose = fn
}

func (m *Manager) chainSettings(chain chains.ChainID) Settings {
	if s, ok := m.settings[chain]; ok {
		return s
	}
	return DefaultSettings()
}

// Open registers the position and starts its monitoring loop.
func (m *Manager) Open(pos *Position) error {
	if pos == nil || pos.Status != StatusActive {
		return fmt.Errorf("position must be active to open")
	}
	adapter, ok := m.adapters[pos.Chain]
	if !ok {
		return fmt.Errorf("open %s: %w", pos.Chain, chains.ErrAdapterUnavailable)
	}

	s := m.chainSettings(pos.Chain)

	m.mu.Lock()
	if _, exists := m.positions[pos.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("position %s already open", pos.ID)
	}
	// Re-stamp from the manager's clock so OpenedAt and ClosedAt come from
	// the same time source.
	pos.OpenedAt = m.clock.Now()
	m.positions[pos.ID] = pos
	loop := sched.Every(m.baseCtx, m.clock, s.MonitorInterval, func(ctx context.Context) {
		m.tick(ctx, pos.ID, adapter, s)
	})
	m.monitors[pos.ID] = loop
	m.mu.Unlock()

	observability.PositionsOpen.WithLabelValues(string(pos.Chain)).Inc()
	log.Info().
		Str("pos_id", pos.ID).
		Str("chain", string(pos.Chain)).
		Str("asset", pos.Asset.Address).
		Str("entry_price", pos.EntryPrice.String()).
		Str("tp", pos.TakeProfitPrice.String()).
		Str("sl", pos.StopLossPrice.String()).
		Bool("simulated", pos.Simulated).
		Msg("position: opened")
	return nil
}

// tick is one monitoring pass for a single position. Transient adapter
// errors are logged and retried on the next tick; only a threshold hit or a
// zero balance ends the loop.
func (m *Manager) tick(ctx context.Context, id string, adapter chains.Adapter, s Settings) {
	m.mu.RLock()
	pos, ok := m.positions[id]
	active := ok && pos.Status == StatusActive && !pos.closing
	m.mu.RUnlock()
	if !active {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	defer cancel()

	bal, err := adapter.GetBalance(callCtx, pos.Asset.Address)
	if err != nil {
		observability.AdapterErrors.WithLabelValues(string(pos.Chain), "balance").Inc()
		log.Warn().Err(err).Str("pos_id", id).Msg("position: balance poll failed, retrying next tick")
		return
	}

	// Balance gone = closed by an external actor. No exit trade to issue.
	if bal.LessThan(s.DustThreshold) {
		m.close(ctx, pos, adapter, s, CloseZeroBalance, bal)
		return
	}

	price, err := adapter.GetAssetPrice(callCtx, pos.Asset.Address)
	if err != nil || !price.IsPositive() {
		observability.AdapterErrors.WithLabelValues(string(pos.Chain), "price").Inc()
		log.Warn().Err(err).Str("pos_id", id).Msg("position: price poll failed, retrying next tick")
		return
	}

	// Take-profit is evaluated first and wins ties.
	switch {
	case price.GreaterThanOrEqual(pos.TakeProfitPrice):
		m.close(ctx, pos, adapter, s, CloseTakeProfit, bal)
	case price.LessThanOrEqual(pos.StopLossPrice):
		m.close(ctx, pos, adapter, s, CloseStopLoss, bal)
	}
}

// close executes the exit (when one is due), marks the position closed and
// tears down its monitor. Status is set before the position is removed from
// the active set, so the asset only counts as free once closure is durable.
func (m *Manager) close(ctx context.Context, pos *Position, adapter chains.Adapter, s Settings, reason CloseReason, balance decimal.Decimal) {
	m.mu.Lock()
	if pos.Status != StatusActive || pos.closing {
		m.mu.Unlock()
		return
	}
	pos.closing = true
	m.mu.Unlock()

	result := CloseResult{
		Reason:    reason,
		Simulated: pos.Simulated,
		ClosedAt:  m.clock.Now(),
	}

	if reason != CloseZeroBalance && balance.IsPositive() {
		sellAmount := balance.Mul(s.ExitSellFraction)
		result.SoldAmount = sellAmount

		if pos.Simulated {
			// Paper exit: value the sale at the last observed price.
			callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
			price, err := adapter.GetAssetPrice(callCtx, pos.Asset.Address)
			cancel()
			if err == nil && price.IsPositive() {
				result.ExitPrice = price
				result.Proceeds = sellAmount.Mul(price)
			}
		} else {
			callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
			receipt, err := adapter.Swap(callCtx, pos.Asset.Address, adapter.ReferenceAsset().Address, sellAmount, s.ExitSlippagePct)
			cancel()
			if err != nil {
				observability.AdapterErrors.WithLabelValues(string(pos.Chain), "swap").Inc()
				log.Error().Err(err).
					Str("pos_id", pos.ID).
					Str("reason", string(reason)).
					Msg("position: exit trade failed, retrying next tick")
				m.mu.Lock()
				pos.closing = false
				m.closeDone.Broadcast()
				m.mu.Unlock()
				return
			}
			result.Proceeds = receipt.AmountOut
			result.ExitPrice = receipt.FillPrice
			result.TxRef = receipt.TxRef
		}
	}

	now := m.clock.Now()
	m.mu.Lock()
	pos.Status = StatusClosed
	pos.CloseReason = reason
	pos.ClosedAt = &now
	pos.Close = &result
	loop := m.monitors[pos.ID]
	delete(m.monitors, pos.ID)
	cb := m.onClose
	snap := pos.snapshot()
	m.closeDone.Broadcast()
	m.mu.Unlock()

	// The loop is stopped asynchronously: Stop waits for the current tick,
	// and the closing tick is the one calling us.
	if loop != nil {
		go loop.Stop()
	}

	observability.PositionsOpen.WithLabelValues(string(pos.Chain)).Dec()
	observability.PositionsClosed.WithLabelValues(string(pos.Chain), string(reason)).Inc()
	log.Info().
		Str("pos_id", pos.ID).
		Str("chain", string(pos.Chain)).
		Str("asset", pos.Asset.Address).
		Str("reason", string(reason)).
		Str("sold", result.SoldAmount.String()).
		Str("proceeds", result.Proceeds.String()).
		Bool("simulated", result.Simulated).
		Msg("position: closed")

	if cb != nil {
		cb(snap)
	}
}

// CloseNow closes a position on explicit external request. The exit trade is
// issued against the current balance unless the balance is already dust.
func (m *Manager) CloseNow(ctx context.Context, id string, reason CloseReason) (*CloseResult, error) {
	m.mu.RLock()
	pos, ok := m.positions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("position %s not found", id)
	}
	if pos.Status == StatusClosed {
		return nil, fmt.Errorf("position %s already closed", id)
	}
	adapter, ok := m.adapters[pos.Chain]
	if !ok {
		return nil, fmt.Errorf("close %s: %w", pos.Chain, chains.ErrAdapterUnavailable)
	}
	if reason == "" {
		reason = CloseManual
	}
	s := m.chainSettings(pos.Chain)

	callCtx, cancel := context.WithTimeout(ctx, s.CallTimeout)
	bal, err := adapter.GetBalance(callCtx, pos.Asset.Address)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("close %s: balance: %w", id, err)
	}
	if bal.LessThan(s.DustThreshold) {
		reason = CloseZeroBalance
	}

	m.close(ctx, pos, adapter, s, reason, bal)

	// A threshold close may already be mid-flight; wait for it to resolve
	// instead of reporting failure for a close that is about to succeed.
	m.mu.Lock()
	defer m.mu.Unlock()
	for pos.Status != StatusClosed && pos.closing {
		m.closeDone.Wait()
	}
	if pos.Status != StatusClosed {
		return nil, fmt.Errorf("close %s: exit trade failed", id)
	}
	res := *pos.Close
	return &res, nil
}

// StopAll cancels every monitoring loop without closing the positions.
// Used for orderly shutdown, not as an exit signal. Once it returns, no
// further close events are emitted.
func (m *Manager) StopAll() {
	m.baseStop()

	m.mu.Lock()
	loops := make([]*sched.Periodic, 0, len(m.monitors))
	for id, loop := range m.monitors {
		loops = append(loops, loop)
		delete(m.monitors, id)
	}
	m.mu.Unlock()

	for _, loop := range loops {
		loop.Stop()
	}
	log.Info().Int("stopped", len(loops)).Msg("position: all monitors stopped")
}

// Get returns a snapshot of the position, if known.
func (m *Manager) Get(id string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[id]
	if !ok {
		return Position{}, false
	}
	return pos.snapshot(), true
}

// Active returns snapshots of every active position.
func (m *Manager) Active() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		if pos.Status == StatusActive {
			out = append(out, pos.snapshot())
		}
	}
	return out
}

// All returns snapshots of every known position, open and closed.
func (m *Manager) All() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos.snapshot())
	}
	return out
}

// HasActive reports whether an active position exists for (chain, asset).
func (m *Manager) HasActive(chain chains.ChainID, assetAddr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pos := range m.positions {
		if pos.Status == StatusActive && pos.Chain == chain &&
			strings.EqualFold(pos.Asset.Address, assetAddr) {
			return true
		}
	}
	return false
}
