package safety

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

func newTestAdapter() *chains.StubAdapter {
	a := chains.NewStubAdapter(chains.ChainEthereum)
	a.AddAsset(chains.AssetDescriptor{
		Chain:   chains.ChainEthereum,
		Address: "0xabc",
		Name:    "Plain Token",
		Symbol:  "PLAIN",
	})
	a.SetPrices("0xabc", decimal.NewFromFloat(0.5))
	return a
}

func TestEvaluate_CleanAssetIsTradeable(t *testing.T) {
	f := New(Config{})
	v := f.Evaluate(context.Background(), newTestAdapter(), "0xabc")

	assert.True(t, v.Tradeable)
	assert.Empty(t, v.Blocked)
	assert.Empty(t, v.Warnings)
	assert.Equal(t, "PLAIN", v.Asset.Symbol)
}

func TestEvaluate_BlacklistBlocksWithoutChainContact(t *testing.T) {
	a := newTestAdapter()
	a.FailNext("info") // would fail closed if the chain were contacted

	f := New(Config{Blacklist: []string{"0xABC"}})
	v := f.Evaluate(context.Background(), a, "0xabc")

	assert.False(t, v.Tradeable)
	assert.Contains(t, v.Blocked, "address is blacklisted")

	// The next info call still carries the scripted failure, proving the
	// blacklist verdict never reached the adapter.
	_, err := a.GetAssetInfo(context.Background(), "0xabc")
	assert.Error(t, err)
}

func TestEvaluate_BlacklistBeatsWhitelist(t *testing.T) {
	f := New(Config{Whitelist: []string{"0xabc"}, Blacklist: []string{"0xabc"}})
	v := f.Evaluate(context.Background(), newTestAdapter(), "0xabc")

	assert.False(t, v.Tradeable)
	assert.Contains(t, v.Blocked, "address is blacklisted")
}

func TestEvaluate_ActiveWhitelistExcludesUnknownAssets(t *testing.T) {
	f := New(Config{Whitelist: []string{"0xother"}})
	v := f.Evaluate(context.Background(), newTestAdapter(), "0xabc")

	assert.False(t, v.Tradeable)
	assert.Contains(t, v.Blocked, "whitelist active and asset not on it")
}

func TestEvaluate_WhitelistedAssetStillNeedsQuote(t *testing.T) {
	a := newTestAdapter()
	a.SetPrices("0xabc", decimal.Zero)

	f := New(Config{Whitelist: []string{"0xabc"}})
	v := f.Evaluate(context.Background(), a, "0xabc")

	assert.False(t, v.Tradeable)
}

func TestEvaluate_MetadataFailureFailsClosed(t *testing.T) {
	a := newTestAdapter()
	a.FailNext("info")

	f := New(Config{})
	v := f.Evaluate(context.Background(), a, "0xabc")

	assert.False(t, v.Tradeable)
	assert.NotEmpty(t, v.Blocked)
}

func TestEvaluate_RedFlagsWarnButDoNotBlock(t *testing.T) {
	a := chains.NewStubAdapter(chains.ChainEthereum)
	a.AddAsset(chains.AssetDescriptor{
		Chain:   chains.ChainEthereum,
		Address: "0xdef",
		Name:    "Safe Moon Pump",
		Symbol:  "MOONX",
	})
	a.SetPrices("0xdef", decimal.NewFromFloat(0.01))

	f := New(Config{})
	v := f.Evaluate(context.Background(), a, "0xdef")

	assert.True(t, v.Tradeable)
	assert.NotEmpty(t, v.Warnings)
}

func TestEvaluate_ZeroQuoteBlocksAsHoneypot(t *testing.T) {
	a := newTestAdapter()
	a.SetPrices("0xabc", decimal.Zero)

	f := New(Config{})
	v := f.Evaluate(context.Background(), a, "0xabc")

	assert.False(t, v.Tradeable)
	assert.NotEmpty(t, v.Blocked)
}

func TestEvaluate_QuoteFailureBlocks(t *testing.T) {
	a := newTestAdapter()
	a.FailNext("price")

	f := New(Config{})
	v := f.Evaluate(context.Background(), a, "0xabc")

	assert.False(t, v.Tradeable)
}

func TestAddBlacklist_TakesEffectImmediately(t *testing.T) {
	a := newTestAdapter()
	f := New(Config{})

	v := f.Evaluate(context.Background(), a, "0xabc")
	assert.True(t, v.Tradeable)

	f.AddBlacklist("0xabc")
	a.SetPrices("0xabc", decimal.NewFromFloat(0.5))
	v = f.Evaluate(context.Background(), a, "0xabc")
	assert.False(t, v.Tradeable)
}

func TestAddRedFlags_ExtendsBuiltins(t *testing.T) {
	a := chains.NewStubAdapter(chains.ChainEthereum)
	a.AddAsset(chains.AssetDescriptor{
		Chain:   chains.ChainEthereum,
		Address: "0xzzz",
		Name:    "Frobnicator",
		Symbol:  "FROB",
	})
	a.SetPrices("0xzzz", decimal.NewFromInt(1))

	f := New(Config{})
	f.AddRedFlags("frobnicator")

	v := f.Evaluate(context.Background(), a, "0xzzz")
	assert.True(t, v.Tradeable)
	assert.Len(t, v.Warnings, 1)
}

func TestListMembership_CaseInsensitive(t *testing.T) {
	f := New(Config{})
	f.AddWhitelist("0xAbCd")
	f.AddBlacklist("0xDeAd")

	assert.True(t, f.Whitelisted("0xABCD"))
	assert.True(t, f.Blacklisted("0xdead"))
	assert.False(t, f.Blacklisted("0xbeef"))
}
