package chains

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Adapter contract — one instance per chain. The core never knows whether it
// is talking to an EVM node, a UTXO venue, or a Solana RPC endpoint.
// ---------------------------------------------------------------------------

// Error taxonomy. Transient errors (ErrNotFound, ErrNetwork) are handled
// per-call: the safety filter fails closed, the position loop retries on the
// next tick. Execution errors surface as SnipeFailure, never as panics.
var (
	// ErrAdapterUnavailable means the chain is not initialized and cannot be.
	// Fatal to starting that chain's detector only.
	ErrAdapterUnavailable = errors.New("chain adapter unavailable")

	// ErrUnsupported is returned by SubscribeNewPairs on chains without
	// native pair-creation events; callers fall back to PollNewAssets.
	ErrUnsupported = errors.New("operation not supported on this chain")

	// ErrNotFound means the requested asset/account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNetwork is a transient RPC/transport failure.
	ErrNetwork = errors.New("network error")

	// Swap failure subtypes. All are handled as execution errors.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrGasPriceExceeded      = errors.New("gas price exceeded")
)

// Adapter is the per-chain capability surface consumed by the core.
// Implementations: evm.Adapter, solana.Adapter, utxo.Adapter, StubAdapter.
type Adapter interface {
	// Name returns the chain this adapter serves.
	Name() ChainID

	// Initialize prepares the adapter (connectivity check, wallet load).
	// Must be cheap to call repeatedly once initialized.
	Initialize(ctx context.Context) error

	// ReferenceAsset returns the chain's base currency descriptor
	// (e.g. the wrapped native coin) used to denominate liquidity and prices.
	ReferenceAsset() AssetDescriptor

	// SubscribeNewPairs opens a push subscription for pair-creation events.
	// Returns ErrUnsupported on chains without native events; the detector
	// then uses PollNewAssets on a fixed interval instead.
	SubscribeNewPairs(ctx context.Context) (<-chan PairEvent, error)

	// PollNewAssets returns pair events discovered since the previous poll.
	PollNewAssets(ctx context.Context) ([]PairEvent, error)

	// GetAssetInfo fetches token metadata for an address/mint.
	GetAssetInfo(ctx context.Context, addr string) (*AssetDescriptor, error)

	// GetAssetPrice quotes the asset against the reference asset.
	// A zero price means the asset could not be quoted.
	GetAssetPrice(ctx context.Context, addr string) (decimal.Decimal, error)

	// GetBalance returns the wallet's balance of the given asset.
	GetBalance(ctx context.Context, addr string) (decimal.Decimal, error)

	// Swap trades amount of the in asset for the out asset within the given
	// slippage tolerance (percent).
	Swap(ctx context.Context, in, out string, amount decimal.Decimal, slippagePct float64) (*TradeReceipt, error)
}
