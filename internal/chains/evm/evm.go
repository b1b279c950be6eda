package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

// ---------------------------------------------------------------------------
// EVM chain adapter — Uniswap V2 style AMM over JSON-RPC. Pair discovery is
// push-based (factory PairCreated logs over websocket); metadata, quotes and
// balances go through eth_call. Swap execution is delegated to a wallet
// service, the signer never lives in this process.
// ---------------------------------------------------------------------------

// Well-known function selectors.
const (
	selName          = "0x06fdde03" // name()
	selSymbol        = "0x95d89b41" // symbol()
	selDecimals      = "0x313ce567" // decimals()
	selTotalSupply   = "0x18160ddd" // totalSupply()
	selBalanceOf     = "0x70a08231" // balanceOf(address)
	selGetReserves   = "0x0902f1ac" // getReserves()
	selToken0        = "0x0dfe1681" // token0()
	selGetAmountsOut = "0xd06ca61f" // getAmountsOut(uint256,address[])
)

// Config configures the EVM adapter.
type Config struct {
	RPCEndpoint   string        `yaml:"rpc_endpoint"`
	WS            WSConfig      `yaml:"ws"`
	RouterAddress string        `yaml:"router_address"` // V2 router for quotes
	WrappedNative string        `yaml:"wrapped_native"` // reference asset (e.g. WETH)
	WalletAddress string        `yaml:"wallet_address"`
	SwapService   string        `yaml:"swap_service"` // wallet service executing swaps
	Timeout       time.Duration `yaml:"timeout"`
}

// DefaultConfig returns Ethereum mainnet defaults.
func DefaultConfig() Config {
	return Config{
		WS:            DefaultWSConfig(),
		RouterAddress: "0x7a250d5630b4cf539739df2c5dacb4c659f2488d", // Uniswap V2 router
		WrappedNative: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", // WETH
		Timeout:       10 * time.Second,
	}
}

// Adapter is the Ethereum-style chain adapter.
type Adapter struct {
	config     Config
	httpClient *http.Client
	monitor    *WSMonitor

	initialized atomic.Bool
	reqID       atomic.Int64
}

// New creates an EVM adapter.
func New(config Config) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		monitor:    NewWSMonitor(config.WS),
	}
}

func (a *Adapter) Name() chains.ChainID { return chains.ChainEthereum }

// Initialize verifies RPC connectivity. Cheap once initialized.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.initialized.Load() {
		return nil
	}
	if a.config.RPCEndpoint == "" {
		return fmt.Errorf("evm: rpc endpoint not configured: %w", chains.ErrAdapterUnavailable)
	}
	var block string
	if err := a.rpcCall(ctx, "eth_blockNumber", []any{}, &block); err != nil {
		return fmt.Errorf("evm: connectivity check: %w", err)
	}
	a.initialized.Store(true)
	log.Info().Str("endpoint", a.config.RPCEndpoint).Str("block", block).Msg("evm: adapter initialized")
	return nil
}

func (a *Adapter) ReferenceAsset() chains.AssetDescriptor {
	return chains.AssetDescriptor{
		Chain:    chains.ChainEthereum,
		Address:  strings.ToLower(a.config.WrappedNative),
		Name:     "Wrapped Ether",
		Symbol:   "WETH",
		Decimals: 18,
	}
}

// SubscribeNewPairs starts the factory log monitor and enriches each decoded
// PairCreated log into a full PairEvent.
func (a *Adapter) SubscribeNewPairs(ctx context.Context) (<-chan chains.PairEvent, error) {
	raw := a.monitor.Start(ctx)
	out := make(chan chains.PairEvent, 64)

	go func() {
		defer close(out)
		for pl := range raw {
			event, err := a.enrichPair(ctx, pl)
			if err != nil {
				log.Warn().Err(err).Str("pair", pl.PairAddress).Msg("evm: pair enrichment failed, emitting bare event")
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// PollNewAssets is unused on EVM chains: discovery is push-based.
func (a *Adapter) PollNewAssets(_ context.Context) ([]chains.PairEvent, error) {
	return nil, chains.ErrUnsupported
}

// enrichPair resolves token metadata and reserves for a PairCreated log.
// Best effort: a partially enriched event is still emitted.
func (a *Adapter) enrichPair(ctx context.Context, pl PairLog) (chains.PairEvent, error) {
	ref := strings.ToLower(a.config.WrappedNative)
	t0, t1 := strings.ToLower(pl.Token0), strings.ToLower(pl.Token1)

	event := chains.PairEvent{
		Chain:             chains.ChainEthereum,
		PairAddress:       strings.ToLower(pl.PairAddress),
		HasReferenceAsset: t0 == ref || t1 == ref,
		DiscoveredAt:      pl.DetectedAt,
		Block:             pl.Block,
		TxRef:             pl.TxHash,
		Source:            "websocket",
	}

	var firstErr error
	for i, addr := range []string{t0, t1} {
		info, err := a.GetAssetInfo(ctx, addr)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			info = &chains.AssetDescriptor{Chain: chains.ChainEthereum, Address: addr}
		}
		if i == 0 {
			event.Asset0 = *info
		} else {
			event.Asset1 = *info
		}
	}

	r0, r1, err := a.getReserves(ctx, event.PairAddress)
	if err == nil {
		event.Reserve0, event.Reserve1 = r0, r1
		// Liquidity in reference units = twice the reference-side reserve.
		switch ref {
		case t0:
			event.LiquidityRef = r0.Mul(decimal.NewFromInt(2))
		case t1:
			event.LiquidityRef = r1.Mul(decimal.NewFromInt(2))
		}
	} else if firstErr == nil {
		firstErr = err
	}

	return event, firstErr
}

// GetAssetInfo reads ERC-20 metadata via eth_call.
func (a *Adapter) GetAssetInfo(ctx context.Context, addr string) (*chains.AssetDescriptor, error) {
	name, err := a.ethCallString(ctx, addr, selName)
	if err != nil {
		return nil, err
	}
	symbol, err := a.ethCallString(ctx, addr, selSymbol)
	if err != nil {
		return nil, err
	}
	decimalsWord, err := a.ethCallWord(ctx, addr, selDecimals)
	if err != nil {
		return nil, err
	}
	supplyWord, err := a.ethCallWord(ctx, addr, selTotalSupply)
	if err != nil {
		return nil, err
	}

	dec := int(decimalsWord.Int64())
	return &chains.AssetDescriptor{
		Chain:       chains.ChainEthereum,
		Address:     strings.ToLower(addr),
		Name:        name,
		Symbol:      symbol,
		Decimals:    dec,
		TotalSupply: fromWei(supplyWord, dec),
	}, nil
}

// GetAssetPrice quotes 1 token against the wrapped native via the router.
// Returns zero (no error) when the router cannot route the pair.
func (a *Adapter) GetAssetPrice(ctx context.Context, addr string) (decimal.Decimal, error) {
	decimalsWord, err := a.ethCallWord(ctx, addr, selDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	dec := int(decimalsWord.Int64())

	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)
	data := selGetAmountsOut +
		word(one) +
		word(big.NewInt(64)) + // offset of the address[]
		word(big.NewInt(2)) +
		addressArg(addr) +
		addressArg(a.config.WrappedNative)

	raw, err := a.ethCall(ctx, a.config.RouterAddress, data)
	if err != nil {
		// An unroutable token quotes as zero, it is not a transport failure.
		if strings.Contains(err.Error(), "execution reverted") {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}

	// getAmountsOut returns uint256[]: offset, length, amounts... The last
	// amount is the WETH leg.
	words := splitWords(raw)
	if len(words) < 4 {
		return decimal.Zero, nil
	}
	out := words[len(words)-1]
	return fromWei(out, 18), nil
}

// GetBalance reads the wallet's ERC-20 balance.
func (a *Adapter) GetBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	decimalsWord, err := a.ethCallWord(ctx, addr, selDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	bal, err := a.ethCallWordWithArgs(ctx, addr, selBalanceOf+addressArg(a.config.WalletAddress))
	if err != nil {
		return decimal.Zero, err
	}
	return fromWei(bal, int(decimalsWord.Int64())), nil
}

// swapRequest is the wallet-service swap contract.
type swapRequest struct {
	In          string  `json:"in"`
	Out         string  `json:"out"`
	Amount      string  `json:"amount"`
	SlippagePct float64 `json:"slippage_pct"`
}

type swapResponse struct {
	TxHash    string `json:"tx_hash"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	FillPrice string `json:"fill_price"`
	Error     string `json:"error,omitempty"`
}

// Swap delegates execution to the configured wallet service.
func (a *Adapter) Swap(ctx context.Context, in, out string, amount decimal.Decimal, slippagePct float64) (*chains.TradeReceipt, error) {
	if a.config.SwapService == "" {
		return nil, fmt.Errorf("evm: no swap service configured: %w", chains.ErrAdapterUnavailable)
	}

	body, _ := json.Marshal(swapRequest{In: in, Out: out, Amount: amount.String(), SlippagePct: slippagePct})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.SwapService+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("evm swap: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evm swap: %v: %w", err, chains.ErrNetwork)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("evm swap: read response: %w", chains.ErrNetwork)
	}

	var sr swapResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("evm swap: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || sr.Error != "" {
		return nil, swapError(sr.Error, resp.StatusCode)
	}

	amountIn, _ := decimal.NewFromString(sr.AmountIn)
	amountOut, _ := decimal.NewFromString(sr.AmountOut)
	fillPrice, _ := decimal.NewFromString(sr.FillPrice)
	return &chains.TradeReceipt{
		TxRef:      sr.TxHash,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		FillPrice:  fillPrice,
		ExecutedAt: time.Now(),
	}, nil
}

// swapError maps wallet-service failures onto the adapter error taxonomy.
func swapError(msg string, status int) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "slippage"):
		return fmt.Errorf("evm swap: %s: %w", msg, chains.ErrSlippageExceeded)
	case strings.Contains(lower, "allowance"):
		return fmt.Errorf("evm swap: %s: %w", msg, chains.ErrInsufficientAllowance)
	case strings.Contains(lower, "gas"):
		return fmt.Errorf("evm swap: %s: %w", msg, chains.ErrGasPriceExceeded)
	default:
		return fmt.Errorf("evm swap: status %d: %s: %w", status, msg, chains.ErrNetwork)
	}
}

// getReserves reads pair reserves (token units, not wei-adjusted for the
// non-reference side; reserves are normalized from 18 decimals).
func (a *Adapter) getReserves(ctx context.Context, pair string) (decimal.Decimal, decimal.Decimal, error) {
	raw, err := a.ethCall(ctx, pair, selGetReserves)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	words := splitWords(raw)
	if len(words) < 2 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("evm: malformed getReserves response")
	}
	return fromWei(words[0], 18), fromWei(words[1], 18), nil
}

// ---------------------------------------------------------------------------
// JSON-RPC plumbing
// ---------------------------------------------------------------------------

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) rpcCall(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      a.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("evm rpc: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.RPCEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("evm rpc: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("evm rpc %s: %v: %w", method, err, chains.ErrNetwork)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("evm rpc %s: read: %w", method, chains.ErrNetwork)
	}

	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("evm rpc %s: decode: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("evm rpc %s: %s (code %d)", method, rr.Error.Message, rr.Error.Code)
	}
	return json.Unmarshal(rr.Result, result)
}

func (a *Adapter) ethCall(ctx context.Context, to, data string) (string, error) {
	var out string
	err := a.rpcCall(ctx, "eth_call", []any{
		map[string]string{"to": to, "data": data},
		"latest",
	}, &out)
	return out, err
}

func (a *Adapter) ethCallString(ctx context.Context, to, selector string) (string, error) {
	raw, err := a.ethCall(ctx, to, selector)
	if err != nil {
		return "", err
	}
	s, ok := abiString(raw)
	if !ok {
		return "", fmt.Errorf("evm: %s on %s returned malformed string", selector, to)
	}
	return s, nil
}

func (a *Adapter) ethCallWord(ctx context.Context, to, selector string) (*big.Int, error) {
	return a.ethCallWordWithArgs(ctx, to, selector)
}

func (a *Adapter) ethCallWordWithArgs(ctx context.Context, to, data string) (*big.Int, error) {
	raw, err := a.ethCall(ctx, to, data)
	if err != nil {
		return nil, err
	}
	words := splitWords(raw)
	if len(words) == 0 {
		return nil, fmt.Errorf("evm: empty eth_call response from %s", to)
	}
	return words[0], nil
}
