package sniper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/chains"
	"github.com/crosshair-trading/crosshair/internal/observability"
	"github.com/crosshair-trading/crosshair/internal/position"
	"github.com/crosshair-trading/crosshair/internal/risk"
)

// ---------------------------------------------------------------------------
// Snipe Executor — converts an approved asset into a live position.
// One-shot: a missed snipe is never reattempted, pool conditions change
// every block.
// ---------------------------------------------------------------------------

// Failure reasons. Business outcomes, not errors.
const (
	ReasonRiskRejected      = "risk-rejected"
	ReasonExecutionError    = "execution-error"
	ReasonDuplicatePosition = "duplicate-position"
	ReasonChainUnavailable  = "chain-unavailable"
)

// Failure describes why a snipe did not produce a position.
type Failure struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

func (f *Failure) String() string {
	if f.Detail == "" {
		return f.Reason
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
}

// ChainParams is the per-chain entry surface.
type ChainParams struct {
	TradingEnabled         bool
	EntryAmount            decimal.Decimal // reference-asset units
	SnipeSlippagePct       float64         // wider than exit slippage, new pools are thin
	TakeProfitPct          float64
	StopLossPct            float64
	MaxOnePositionPerAsset bool
	CallTimeout            time.Duration
}

// Executor performs entry trades and hands positions to the manager.
type Executor struct {
	adapters  map[chains.ChainID]chains.Adapter
	params    map[chains.ChainID]ChainParams
	validator *risk.Validator
	manager   *position.Manager
}

// NewExecutor creates a snipe executor.
func NewExecutor(adapters map[chains.ChainID]chains.Adapter, params map[chains.ChainID]ChainParams, validator *risk.Validator, manager *position.Manager) *Executor {
	return &Executor{
		adapters:  adapters,
		params:    params,
		validator: validator,
		manager:   manager,
	}
}

// Snipe executes the entry for an asset that already passed the safety
// filter. Exactly one of the return values is non-nil.
func (e *Executor) Snipe(ctx context.Context, chain chains.ChainID, asset chains.AssetDescriptor) (*position.Position, *Failure) {
	adapter, ok := e.adapters[chain]
	if !ok {
		return nil, e.fail(chain, asset, ReasonChainUnavailable, "no adapter for chain")
	}
	params, ok := e.params[chain]
	if !ok {
		return nil, e.fail(chain, asset, ReasonChainUnavailable, "no entry parameters for chain")
	}

	log.Info().
		Str("chain", string(chain)).
		Str("asset", asset.Address).
		Str("symbol", asset.Symbol).
		Str("entry_amount", params.EntryAmount.String()).
		Bool("trading_enabled", params.TradingEnabled).
		Msg("sniper: snipe attempt")

	if params.MaxOnePositionPerAsset && e.manager.HasActive(chain, asset.Address) {
		return nil, e.fail(chain, asset, ReasonDuplicatePosition, "active position exists for asset")
	}

	// Risk validation happens before the chain is contacted.
	decision := e.validator.Validate(chain, params.EntryAmount, risk.KindSnipe)
	if !decision.Approved {
		return nil, e.fail(chain, asset, ReasonRiskRejected, decision.Reason)
	}

	if !params.TradingEnabled {
		return e.snipeSimulated(ctx, adapter, chain, asset, params)
	}

	callCtx, cancel := context.WithTimeout(ctx, params.CallTimeout)
	receipt, err := adapter.Swap(callCtx, adapter.ReferenceAsset().Address, asset.Address, params.EntryAmount, params.SnipeSlippagePct)
	cancel()
	if err != nil {
		return nil, e.fail(chain, asset, ReasonExecutionError, err.Error())
	}

	entryPrice := receipt.FillPrice
	if !entryPrice.IsPositive() {
		// Venue reported no fill price; fall back to a post-trade quote.
		callCtx, cancel := context.WithTimeout(ctx, params.CallTimeout)
		quoted, qerr := adapter.GetAssetPrice(callCtx, asset.Address)
		cancel()
		if qerr == nil {
			entryPrice = quoted
		}
	}

	pos := position.New(chain, asset, params.EntryAmount, receipt.AmountOut, entryPrice,
		params.TakeProfitPct, params.StopLossPct, false)
	if err := e.manager.Open(pos); err != nil {
		return nil, e.fail(chain, asset, ReasonExecutionError, "register position: "+err.Error())
	}

	observability.Snipes.WithLabelValues(string(chain), "opened").Inc()
	log.Info().
		Str("chain", string(chain)).
		Str("asset", asset.Address).
		Str("pos_id", pos.ID).
		Str("tx_ref", receipt.TxRef).
		Str("entry_price", entryPrice.String()).
		Msg("sniper: position opened")
	return pos, nil
}

// snipeSimulated records a paper entry when chain-level trading is
// administratively disabled, so the detection and monitoring pipeline can be
// exercised end-to-end without risking funds.
func (e *Executor) snipeSimulated(ctx context.Context, adapter chains.Adapter, chain chains.ChainID, asset chains.AssetDescriptor, params ChainParams) (*position.Position, *Failure) {
	callCtx, cancel := context.WithTimeout(ctx, params.CallTimeout)
	price, err := adapter.GetAssetPrice(callCtx, asset.Address)
	cancel()
	if err != nil || !price.IsPositive() {
		// A paper fill at an unknown price would make the TP/SL thresholds
		// meaningless, so even the simulated path needs a usable quote.
		detail := "cannot price simulated entry"
		if err != nil {
			detail += ": " + err.Error()
		}
		return nil, e.fail(chain, asset, ReasonExecutionError, detail)
	}

	tokenAmount := params.EntryAmount.Div(price)
	pos := position.New(chain, asset, params.EntryAmount, tokenAmount, price,
		params.TakeProfitPct, params.StopLossPct, true)
	if err := e.manager.Open(pos); err != nil {
		return nil, e.fail(chain, asset, ReasonExecutionError, "register position: "+err.Error())
	}

	observability.Snipes.WithLabelValues(string(chain), "simulated").Inc()
	log.Info().
		Str("chain", string(chain)).
		Str("asset", asset.Address).
		Str("pos_id", pos.ID).
		Str("entry_price", price.String()).
		Msg("sniper: SIMULATED position opened (trading disabled)")
	return pos, nil
}

func (e *Executor) fail(chain chains.ChainID, asset chains.AssetDescriptor, reason, detail string) *Failure {
	observability.Snipes.WithLabelValues(string(chain), reason).Inc()
	log.Warn().
		Str("chain", string(chain)).
		Str("asset", asset.Address).
		Str("reason", reason).
		Str("detail", detail).
		Msg("sniper: snipe failed")
	return &Failure{Reason: reason, Detail: detail}
}
