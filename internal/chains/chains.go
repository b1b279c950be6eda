package chains

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Shared chain types — every venue (EVM AMM, UTXO venue, Solana DEX) is
// normalized into these before the core pipeline sees it.
// ---------------------------------------------------------------------------

// ChainID identifies a supported chain.
type ChainID string

const (
	ChainEthereum ChainID = "ethereum"
	ChainBitcoin  ChainID = "bitcoin"
	ChainSolana   ChainID = "solana"
)

// AssetDescriptor describes a token/asset on a specific chain.
// Fetched lazily via Adapter.GetAssetInfo and cached per evaluation only.
type AssetDescriptor struct {
	Chain       ChainID         `json:"chain"`
	Address     string          `json:"address"` // contract address or mint
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    int             `json:"decimals"`
	TotalSupply decimal.Decimal `json:"total_supply"`
}

// PairEvent is emitted when a new liquidity venue (pair/pool) is discovered.
// Immutable once emitted.
type PairEvent struct {
	Chain             ChainID         `json:"chain"`
	PairAddress       string          `json:"pair_address"`
	Asset0            AssetDescriptor `json:"asset0"`
	Asset1            AssetDescriptor `json:"asset1"`
	HasReferenceAsset bool            `json:"has_reference_asset"`
	Reserve0          decimal.Decimal `json:"reserve0"`
	Reserve1          decimal.Decimal `json:"reserve1"`
	LiquidityRef      decimal.Decimal `json:"liquidity_ref"` // liquidity in reference-asset units
	LiquidityUSD      decimal.Decimal `json:"liquidity_usd"` // best-effort estimate
	DiscoveredAt      time.Time       `json:"discovered_at"`
	Block             uint64          `json:"block,omitempty"`
	TxRef             string          `json:"tx_ref,omitempty"`
	Source            string          `json:"source"` // websocket|poll
}

// NonReferenceAsset returns the side of the pair that is not the chain's
// reference asset, given the reference descriptor. When neither side matches
// the reference, Asset1 is returned and ok is false.
func (e PairEvent) NonReferenceAsset(ref AssetDescriptor) (AssetDescriptor, bool) {
	if e.Asset0.Address == ref.Address {
		return e.Asset1, true
	}
	if e.Asset1.Address == ref.Address {
		return e.Asset0, true
	}
	return e.Asset1, false
}

// TradeReceipt is the result of an executed swap.
type TradeReceipt struct {
	TxRef      string          `json:"tx_ref"`
	AmountIn   decimal.Decimal `json:"amount_in"`
	AmountOut  decimal.Decimal `json:"amount_out"`
	FillPrice  decimal.Decimal `json:"fill_price"` // zero if the venue reports no fill price
	ExecutedAt time.Time       `json:"executed_at"`
}
