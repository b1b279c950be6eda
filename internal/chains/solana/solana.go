package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

// ---------------------------------------------------------------------------
// Solana chain adapter — poll-based token discovery. Solana has no
// factory-event equivalent this adapter can subscribe to, so new pools come
// from a fixed-interval poll of the indexer's new-pools feed.
// ---------------------------------------------------------------------------

// WSOLMint is the wrapped SOL mint, the chain's reference asset.
const WSOLMint = "So11111111111111111111111111111111111111112"

// Config configures the Solana adapter.
type Config struct {
	RPCEndpoint     string        `yaml:"rpc_endpoint"`
	IndexerEndpoint string        `yaml:"indexer_endpoint"` // new-pools + token metadata feed
	PriceEndpoint   string        `yaml:"price_endpoint"`   // Jupiter-style price API
	SwapService     string        `yaml:"swap_service"`     // wallet service executing swaps
	WalletAddress   string        `yaml:"wallet_address"`
	Venues          []string      `yaml:"venues"` // raydium|pumpfun|orca
	Timeout         time.Duration `yaml:"timeout"`
}

// Adapter is the Solana chain adapter.
type Adapter struct {
	config     Config
	httpClient *http.Client

	initialized atomic.Bool

	mu       sync.Mutex
	lastPoll time.Time
}

// New creates a Solana adapter.
func New(config Config) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if len(config.Venues) == 0 {
		config.Venues = []string{"raydium", "pumpfun"}
	}
	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

func (a *Adapter) Name() chains.ChainID { return chains.ChainSolana }

// Initialize checks RPC health.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.initialized.Load() {
		return nil
	}
	if a.config.RPCEndpoint == "" || a.config.IndexerEndpoint == "" {
		return fmt.Errorf("solana: endpoints not configured: %w", chains.ErrAdapterUnavailable)
	}

	body := `{"jsonrpc":"2.0","id":1,"method":"getHealth"}`
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.RPCEndpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("solana: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solana: health check: %v: %w", err, chains.ErrNetwork)
	}
	resp.Body.Close()

	a.initialized.Store(true)
	log.Info().Str("endpoint", a.config.RPCEndpoint).Msg("solana: adapter initialized")
	return nil
}

func (a *Adapter) ReferenceAsset() chains.AssetDescriptor {
	return chains.AssetDescriptor{
		Chain:    chains.ChainSolana,
		Address:  WSOLMint,
		Name:     "Wrapped SOL",
		Symbol:   "SOL",
		Decimals: 9,
	}
}

// SubscribeNewPairs is unsupported: discovery on Solana is poll-based here.
func (a *Adapter) SubscribeNewPairs(_ context.Context) (<-chan chains.PairEvent, error) {
	return nil, chains.ErrUnsupported
}

// indexerPool is one entry from the indexer's new-pools feed.
type indexerPool struct {
	PoolAddress  string  `json:"pool_address"`
	DEX          string  `json:"dex"`
	BaseMint     string  `json:"base_mint"`
	BaseName     string  `json:"base_name"`
	BaseSymbol   string  `json:"base_symbol"`
	Decimals     int     `json:"decimals"`
	QuoteMint    string  `json:"quote_mint"`
	BaseReserve  string  `json:"base_reserve"`
	SOLReserve   string  `json:"sol_reserve"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	CreatedAt    int64   `json:"created_at"`
	TxSignature  string  `json:"tx_signature"`
}

// PollNewAssets fetches pools created since the previous poll.
func (a *Adapter) PollNewAssets(ctx context.Context) ([]chains.PairEvent, error) {
	a.mu.Lock()
	since := a.lastPoll
	if since.IsZero() {
		since = time.Now().Add(-time.Minute)
	}
	a.mu.Unlock()

	u := fmt.Sprintf("%s/new-pools?since=%d&venues=%s",
		a.config.IndexerEndpoint, since.Unix(), url.QueryEscape(strings.Join(a.config.Venues, ",")))
	var pools []indexerPool
	if err := a.getJSON(ctx, u, &pools); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.lastPoll = time.Now()
	a.mu.Unlock()

	events := make([]chains.PairEvent, 0, len(pools))
	for _, p := range pools {
		if !ValidMint(p.BaseMint) {
			log.Warn().Str("mint", p.BaseMint).Str("dex", p.DEX).Msg("solana: skipping pool with malformed mint")
			continue
		}
		baseReserve, _ := decimal.NewFromString(p.BaseReserve)
		solReserve, _ := decimal.NewFromString(p.SOLReserve)
		events = append(events, chains.PairEvent{
			Chain:       chains.ChainSolana,
			PairAddress: p.PoolAddress,
			Asset0: chains.AssetDescriptor{
				Chain:    chains.ChainSolana,
				Address:  p.BaseMint,
				Name:     p.BaseName,
				Symbol:   p.BaseSymbol,
				Decimals: p.Decimals,
			},
			Asset1:            a.ReferenceAsset(),
			HasReferenceAsset: p.QuoteMint == WSOLMint,
			Reserve0:          baseReserve,
			Reserve1:          solReserve,
			LiquidityRef:      solReserve.Mul(decimal.NewFromInt(2)),
			LiquidityUSD:      decimal.NewFromFloat(p.LiquidityUSD),
			DiscoveredAt:      time.Unix(p.CreatedAt, 0),
			TxRef:             p.TxSignature,
			Source:            "poll",
		})
	}
	return events, nil
}

// GetAssetInfo fetches token metadata from the indexer.
func (a *Adapter) GetAssetInfo(ctx context.Context, addr string) (*chains.AssetDescriptor, error) {
	if !ValidMint(addr) {
		return nil, fmt.Errorf("solana: mint %q: %w", addr, chains.ErrNotFound)
	}
	var meta struct {
		Mint     string `json:"mint"`
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
		Supply   string `json:"supply"`
	}
	if err := a.getJSON(ctx, a.config.IndexerEndpoint+"/token/"+addr, &meta); err != nil {
		return nil, err
	}
	supply, _ := decimal.NewFromString(meta.Supply)
	return &chains.AssetDescriptor{
		Chain:       chains.ChainSolana,
		Address:     addr,
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Decimals:    meta.Decimals,
		TotalSupply: supply,
	}, nil
}

// GetAssetPrice quotes the mint against SOL via the price API. A token the
// API cannot price quotes as zero.
func (a *Adapter) GetAssetPrice(ctx context.Context, addr string) (decimal.Decimal, error) {
	var out struct {
		Data map[string]struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	u := fmt.Sprintf("%s?ids=%s&vsToken=%s", a.config.PriceEndpoint, url.QueryEscape(addr), WSOLMint)
	if err := a.getJSON(ctx, u, &out); err != nil {
		return decimal.Zero, err
	}
	entry, ok := out.Data[addr]
	if !ok {
		return decimal.Zero, nil
	}
	return decimal.NewFromFloat(entry.Price), nil
}

// GetBalance reads the wallet's token balance via getTokenAccountsByOwner.
func (a *Adapter) GetBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"getTokenAccountsByOwner","params":["%s",{"mint":"%s"},{"encoding":"jsonParsed"}]}`,
		a.config.WalletAddress, addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.RPCEndpoint, strings.NewReader(body))
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("solana: balance: %v: %w", err, chains.ErrNetwork)
	}
	defer resp.Body.Close()

	var rr struct {
		Result struct {
			Value []struct {
				Account struct {
					Data struct {
						Parsed struct {
							Info struct {
								TokenAmount struct {
									UIAmountString string `json:"uiAmountString"`
								} `json:"tokenAmount"`
							} `json:"info"`
						} `json:"parsed"`
					} `json:"data"`
				} `json:"account"`
			} `json:"value"`
		} `json:"result"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rr); err != nil {
		return decimal.Zero, fmt.Errorf("solana: balance decode: %w", err)
	}

	total := decimal.Zero
	for _, v := range rr.Result.Value {
		amt, err := decimal.NewFromString(v.Account.Data.Parsed.Info.TokenAmount.UIAmountString)
		if err == nil {
			total = total.Add(amt)
		}
	}
	return total, nil
}

// Swap delegates execution to the wallet service.
func (a *Adapter) Swap(ctx context.Context, in, out string, amount decimal.Decimal, slippagePct float64) (*chains.TradeReceipt, error) {
	if a.config.SwapService == "" {
		return nil, fmt.Errorf("solana: no swap service configured: %w", chains.ErrAdapterUnavailable)
	}

	body := fmt.Sprintf(`{"in":"%s","out":"%s","amount":"%s","slippage_pct":%g}`, in, out, amount.String(), slippagePct)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.SwapService+"/swap", strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("solana swap: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solana swap: %v: %w", err, chains.ErrNetwork)
	}
	defer resp.Body.Close()

	var sr struct {
		Signature string `json:"signature"`
		AmountIn  string `json:"amount_in"`
		AmountOut string `json:"amount_out"`
		FillPrice string `json:"fill_price"`
		Error     string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return nil, fmt.Errorf("solana swap: decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK || sr.Error != "" {
		if strings.Contains(strings.ToLower(sr.Error), "slippage") {
			return nil, fmt.Errorf("solana swap: %s: %w", sr.Error, chains.ErrSlippageExceeded)
		}
		return nil, fmt.Errorf("solana swap: status %d: %s: %w", resp.StatusCode, sr.Error, chains.ErrNetwork)
	}

	amountIn, _ := decimal.NewFromString(sr.AmountIn)
	amountOut, _ := decimal.NewFromString(sr.AmountOut)
	fillPrice, _ := decimal.NewFromString(sr.FillPrice)
	return &chains.TradeReceipt{
		TxRef:      sr.Signature,
		AmountIn:   amountIn,
		AmountOut:  amountOut,
		FillPrice:  fillPrice,
		ExecutedAt: time.Now(),
	}, nil
}

func (a *Adapter) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("solana: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("solana: get %s: %v: %w", u, err, chains.ErrNetwork)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("solana: get %s: %w", u, chains.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("solana: get %s: status %d: %w", u, resp.StatusCode, chains.ErrNetwork)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}

// ValidMint reports whether s is a plausible Solana mint: base58, 32 bytes.
func ValidMint(s string) bool {
	decoded, err := base58.Decode(s)
	return err == nil && len(decoded) == 32
}
