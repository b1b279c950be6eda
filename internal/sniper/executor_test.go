package sniper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosshair-trading/crosshair/internal/chains"
	"github.com/crosshair-trading/crosshair/internal/position"
	"github.com/crosshair-trading/crosshair/internal/risk"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func testAsset() chains.AssetDescriptor {
	return chains.AssetDescriptor{
		Chain:   chains.ChainEthereum,
		Address: "0xmeme",
		Name:    "Meme Token",
		Symbol:  "MEME",
	}
}

func testParams(tradingEnabled bool) map[chains.ChainID]ChainParams {
	return map[chains.ChainID]ChainParams{
		chains.ChainEthereum: {
			TradingEnabled:         tradingEnabled,
			EntryAmount:            dec(1),
			SnipeSlippagePct:       15,
			TakeProfitPct:          100,
			StopLossPct:            50,
			MaxOnePositionPerAsset: true,
			CallTimeout:            time.Second,
		},
	}
}

func testRisk() *risk.Validator {
	return risk.New(nil, map[chains.ChainID]risk.Limits{
		chains.ChainEthereum: {
			MaxTxAmount:    dec(10),
			MaxDailyVolume: dec(100),
		},
	})
}

func newTestExecutor(adapter *chains.StubAdapter, tradingEnabled bool) (*Executor, *position.Manager) {
	adapters := map[chains.ChainID]chains.Adapter{chains.ChainEthereum: adapter}
	mgr := position.NewManager(nil, adapters, nil)
	return NewExecutor(adapters, testParams(tradingEnabled), testRisk(), mgr), mgr
}

func TestSnipe_LiveTradeOpensPosition(t *testing.T) {
	adapter := chains.NewStubAdapter(chains.ChainEthereum)
	adapter.SetSwapReceipt(chains.TradeReceipt{
		TxRef:     "0xtx1",
		AmountIn:  dec(1),
		AmountOut: dec(5000),
		FillPrice: dec(0.0002),
	})

	ex, mgr := newTestExecutor(adapter, true)
	defer mgr.StopAll()

	pos, failure := ex.Snipe(context.Background(), chains.ChainEthereum, testAsset())
	require.Nil(t, failure)
	require.NotNil(t, pos)

	assert.False(t, pos.Simulated)
	assert.True(t, pos.TokenAmount.Equal(dec(5000)))
	assert.True(t, pos.EntryPrice.Equal(dec(0.0002)))
	assert.True(t, pos.TakeProfitPrice.Equal(dec(0.0004)), "tp %s", pos.TakeProfitPrice)
	assert.True(t, pos.StopLossPrice.Equal(dec(0.0001)), "sl %s", pos.StopLossPrice)

	calls := adapter.SwapCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, adapter.ReferenceAsset().Address, calls[0].In)
	assert.Equal(t, "0xmeme", calls[0].Out)
	assert.Equal(t, 15.0, calls[0].SlippagePct)

	assert.True(t, mgr.HasActive(chains.ChainEthereum, "0xmeme"))
}

func TestSnipe_MissingFillPriceFallsBackToQuote(t *testing.T) {
	adapter := chains.NewStubAdapter(chains.ChainEthereum)
	adapter.SetSwapReceipt(chains.TradeReceipt{
		TxRef:     "0xtx2",
		AmountIn:  dec(1),
		AmountOut: dec(5000),
		// FillPrice left zero: venue reported no fill price.
	})
	adapter.SetPrices("0xmeme", dec(0.0002))

	ex, mgr := newTestExecutor(adapter, true)
	defer mgr.StopAll()

	pos, failure := ex.Snipe(context.Background(), chains.ChainEthereum, testAsset())
	require.Nil(t, failure)
	assert.True(t, pos.EntryPrice.Equal(dec(0.0002)))
}

func TestSnipe_DisabledTradingNeverCallsSwap(t *testing.T) {
	adapter := chains.NewStubAdapter(chains.ChainEthereum)
	adapter.SetPrices("0xmeme", dec(0.0005))

	ex, mgr := newTestExecutor(adapter, false)
	defer mgr.StopAll()

	pos, failure := ex.Snipe(context.Background(), chains.ChainEthereum, testAsset())
	require.Nil(t, failure)
	require.NotNil(t, pos)

	assert.True(t, pos.Simulated)
	assert.Empty(t, adapter.SwapCalls())
	// 1 reference unit at 0.0005 per token = 2000 tokens.
	assert.True(t, pos.TokenAmount.Equal(dec(2000)), "tokens %s", pos.TokenAmount)
	assert.True(t, mgr.HasActive(chains.ChainEthereum, "0xmeme"), "simulated positions are monitored too")
}

func TestSnipe_SimulatedEntryNeedsQuote(t *testing.T) {
	adapter := chains.NewStubAdapter(chains.ChainEthereum) // no price scripted -> zero quote

	ex, mgr := newTestExecutor(adapter, false)
	defer mgr.StopAll()

	pos, failure := ex.Snipe(context.Background(), chains.ChainEthereum, testAsset())
	assert.Nil(t, pos)
	require.NotNil(t, failure)
	assert.Equal(t, ReasonExecutionError, failure.Reason)
	assert.Empty(t, mgr.Active())
}

func TestSnipe_RiskRejectionBeforeChainContact(t *testing.T) {
	adapter := chains.NewStubAdapter(chains.ChainEthereum)

	adapters := map[chains.ChainID]chains.Adapter{chains.ChainEthereum: adapter}
	mgr := position.NewManager(nil, adapters, nil)
	defer mgr.StopAll()

	params := testParams(true)
	p := params[chains.ChainEthereum]
	p.EntryAmount = dec(50) // over the per-tx cap
	params[chains.ChainEthereum] = p

	ex := NewExecutor(adapters, params, testRisk(), mgr)

	pos, failure := ex.Snipe(context.Background(), chains.ChainEthereum, testAsset())
	assert.Nil(t, pos)
	require.NotNil(t, failure)
	assert.Equal(t, ReasonRiskRejected, failure.Reason)
	assert.Empty(t, adapter.SwapCalls(), "rejected snipes must not reach the chain")
}

func TestSnipe_SwapFailureReturnsExecutionError(t *testing.T) {
	adapter := chains.NewStubAdapter(chains.ChainEthereum)
	adapter.SetSwapError(errors.New("transfer amount exceeds allowance"))

	ex, mgr := newTestExecutor(adapter, true)
	defer mgr.StopAll()

	pos, failure := ex.Snipe(context.Background(), chains.ChainEthereum, testAsset())
	assert.Nil(t, pos)
	require.NotNil(t, failure)
	assert.Equal(t, ReasonExecutionError, failure.Reason)
	assert.Empty(t, mgr.Active(), "no position without a completed entry")
}

func TestSnipe_DuplicatePositionGuard(t *testing.T) {
	adapter := chains.NewStubAdapter(chains.ChainEthereum)
	adapter.SetPrices("0xmeme", dec(0.001))

	ex, mgr := newTestExecutor(adapter, false)
	defer mgr.StopAll()

	_, failure := ex.Snipe(context.Background(), chains.ChainEthereum, testAsset())
	require.Nil(t, failure)

	pos, failure := ex.Snipe(context.Background(), chains.ChainEthereum, testAsset())
	assert.Nil(t, pos)
	require.NotNil(t, failure)
	assert.Equal(t, ReasonDuplicatePosition, failure.Reason)
}

func TestSnipe_UnknownChainUnavailable(t *testing.T) {
	adapter := chains.NewStubAdapter(chains.ChainEthereum)
	ex, mgr := newTestExecutor(adapter, false)
	defer mgr.StopAll()

	pos, failure := ex.Snipe(context.Background(), chains.ChainSolana, testAsset())
	assert.Nil(t, pos)
	require.NotNil(t, failure)
	assert.Equal(t, ReasonChainUnavailable, failure.Reason)
}

func TestFailure_String(t *testing.T) {
	f := &Failure{Reason: ReasonRiskRejected, Detail: "over cap"}
	assert.Equal(t, "risk-rejected: over cap", f.String())
	assert.Equal(t, "chain-unavailable", (&Failure{Reason: ReasonChainUnavailable}).String())
}
