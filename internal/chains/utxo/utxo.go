package utxo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

// ---------------------------------------------------------------------------
// UTXO venue adapter — Bitcoin-style chains have no on-chain pair creation
// to listen for. Discovery is a fixed-interval poll comparing venue quotes:
// a listing whose cross-venue spread exceeds the threshold is surfaced as a
// synthetic pair event against BTC.
// ---------------------------------------------------------------------------

// Config configures the UTXO venue adapter.
type Config struct {
	// Venue name -> ticker endpoint base URL.
	Venues map[string]string `yaml:"venues"`

	// Markets quoted against BTC, e.g. "LTC", "DOGE".
	Markets []string `yaml:"markets"`

	// Minimum cross-venue spread (percent) to surface a market.
	SpreadThresholdPct float64 `yaml:"spread_threshold_pct"`

	// Exchange account service (balances + order execution).
	AccountService string `yaml:"account_service"`

	Timeout time.Duration `yaml:"timeout"`
}

// Adapter is the Bitcoin-style venue adapter.
type Adapter struct {
	config     Config
	httpClient *http.Client

	initialized atomic.Bool

	mu       sync.Mutex
	lastSeen map[string]time.Time // market -> last surfaced
}

// New creates a UTXO venue adapter.
func New(config Config) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.SpreadThresholdPct == 0 {
		config.SpreadThresholdPct = 1.5
	}
	return &Adapter{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		lastSeen:   make(map[string]time.Time),
	}
}

func (a *Adapter) Name() chains.ChainID { return chains.ChainBitcoin }

// Initialize checks at least one venue answers.
func (a *Adapter) Initialize(ctx context.Context) error {
	if a.initialized.Load() {
		return nil
	}
	if len(a.config.Venues) == 0 || len(a.config.Markets) == 0 {
		return fmt.Errorf("utxo: no venues/markets configured: %w", chains.ErrAdapterUnavailable)
	}
	for venue, base := range a.config.Venues {
		if _, err := a.ticker(ctx, base, a.config.Markets[0]); err == nil {
			a.initialized.Store(true)
			log.Info().Str("venue", venue).Msg("utxo: adapter initialized")
			return nil
		}
	}
	return fmt.Errorf("utxo: no venue reachable: %w", chains.ErrAdapterUnavailable)
}

func (a *Adapter) ReferenceAsset() chains.AssetDescriptor {
	return chains.AssetDescriptor{
		Chain:    chains.ChainBitcoin,
		Address:  "BTC",
		Name:     "Bitcoin",
		Symbol:   "BTC",
		Decimals: 8,
	}
}

// SubscribeNewPairs is unsupported: this venue is poll-only.
func (a *Adapter) SubscribeNewPairs(_ context.Context) (<-chan chains.PairEvent, error) {
	return nil, chains.ErrUnsupported
}

type tickerResponse struct {
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Volume float64 `json:"volume"` // 24h, in BTC
}

// PollNewAssets surfaces markets whose cross-venue spread exceeds the
// configured threshold. A market is not re-surfaced within an hour.
func (a *Adapter) PollNewAssets(ctx context.Context) ([]chains.PairEvent, error) {
	var events []chains.PairEvent
	var lastErr error

	for _, market := range a.config.Markets {
		quotes := make(map[string]tickerResponse)
		for venue, base := range a.config.Venues {
			t, err := a.ticker(ctx, base, market)
			if err != nil {
				lastErr = err
				continue
			}
			quotes[venue] = *t
		}
		if len(quotes) < 2 {
			continue
		}

		low, high := 0.0, 0.0
		volume := 0.0
		for _, q := range quotes {
			if low == 0 || q.Last < low {
				low = q.Last
			}
			if q.Last > high {
				high = q.Last
			}
			volume += q.Volume
		}
		if low <= 0 {
			continue
		}
		spreadPct := (high - low) / low * 100
		if spreadPct < a.config.SpreadThresholdPct {
			continue
		}

		a.mu.Lock()
		recent := time.Since(a.lastSeen[market]) < time.Hour
		if !recent {
			a.lastSeen[market] = time.Now()
		}
		a.mu.Unlock()
		if recent {
			continue
		}

		events = append(events, chains.PairEvent{
			Chain:       chains.ChainBitcoin,
			PairAddress: market + "/BTC",
			Asset0: chains.AssetDescriptor{
				Chain:    chains.ChainBitcoin,
				Address:  market,
				Name:     market,
				Symbol:   market,
				Decimals: 8,
			},
			Asset1:            a.ReferenceAsset(),
			HasReferenceAsset: true,
			LiquidityRef:      decimal.NewFromFloat(volume),
			DiscoveredAt:      time.Now(),
			Source:            "poll",
		})
		log.Info().
			Str("market", market).
			Float64("spread_pct", spreadPct).
			Msg("utxo: cross-venue spread detected")
	}

	if len(events) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return events, nil
}

// GetAssetInfo describes a market symbol. No on-chain metadata exists.
func (a *Adapter) GetAssetInfo(_ context.Context, addr string) (*chains.AssetDescriptor, error) {
	for _, m := range a.config.Markets {
		if strings.EqualFold(m, addr) {
			return &chains.AssetDescriptor{
				Chain:    chains.ChainBitcoin,
				Address:  strings.ToUpper(addr),
				Name:     strings.ToUpper(addr),
				Symbol:   strings.ToUpper(addr),
				Decimals: 8,
			}, nil
		}
	}
	return nil, fmt.Errorf("utxo: market %q not configured: %w", addr, chains.ErrNotFound)
}

// GetAssetPrice returns the best (lowest-ask) venue quote in BTC.
func (a *Adapter) GetAssetPrice(ctx context.Context, addr string) (decimal.Decimal, error) {
	best := 0.0
	var lastErr error
	for _, base := range a.config.Venues {
		t, err := a.ticker(ctx, base, addr)
		if err != nil {
			lastErr = err
			continue
		}
		if t.Last > 0 && (best == 0 || t.Last < best) {
			best = t.Last
		}
	}
	if best == 0 && lastErr != nil {
		return decimal.Zero, lastErr
	}
	return decimal.NewFromFloat(best), nil
}

// GetBalance reads the exchange account balance for the market's asset.
func (a *Adapter) GetBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := a.getJSON(ctx, fmt.Sprintf("%s/balance/%s", a.config.AccountService, strings.ToUpper(addr)), &out); err != nil {
		return decimal.Zero, err
	}
	bal, err := decimal.NewFromString(out.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("utxo: malformed balance %q: %w", out.Balance, err)
	}
	return bal, nil
}

// Swap places a market order through the exchange account service.
func (a *Adapter) Swap(ctx context.Context, in, out string, amount decimal.Decimal, slippagePct float64) (*chains.TradeReceipt, error) {
	if a.config.AccountService == "" {
		return nil, fmt.Errorf("utxo: no account service configured: %w", chains.ErrAdapterUnavailable)
	}

	side := "buy"
	market := out
	if !strings.EqualFold(in, "BTC") {
		side = "sell"
		market = in
	}
	body := fmt.Sprintf(`{"market":"%s/BTC","side":"%s","amount":"%s","max_slippage_pct":%g}`,
		strings.ToUpper(market), side, amount.String(), slippagePct)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.AccountService+"/orders", strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("utxo order: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("utxo order: %v: %w", err, chains.ErrNetwork)
	}
	defer resp.Body.Close()

	var or struct {
		OrderID   string `json:"order_id"`
		FilledQty string `json:"filled_qty"`
		AvgPrice  string `json:"avg_price"`
		Cost      string `json:"cost"`
		Error     string `json:"error,omitempty"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&or); err != nil {
		return nil, fmt.Errorf("utxo order: decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK || or.Error != "" {
		if strings.Contains(strings.ToLower(or.Error), "slippage") {
			return nil, fmt.Errorf("utxo order: %s: %w", or.Error, chains.ErrSlippageExceeded)
		}
		return nil, fmt.Errorf("utxo order: status %d: %s: %w", resp.StatusCode, or.Error, chains.ErrNetwork)
	}

	filled, _ := decimal.NewFromString(or.FilledQty)
	avgPrice, _ := decimal.NewFromString(or.AvgPrice)
	cost, _ := decimal.NewFromString(or.Cost)

	receipt := &chains.TradeReceipt{
		TxRef:      or.OrderID,
		FillPrice:  avgPrice,
		ExecutedAt: time.Now(),
	}
	if side == "buy" {
		receipt.AmountIn = cost
		receipt.AmountOut = filled
	} else {
		receipt.AmountIn = filled
		receipt.AmountOut = cost
	}
	return receipt, nil
}

func (a *Adapter) ticker(ctx context.Context, base, market string) (*tickerResponse, error) {
	var t tickerResponse
	if err := a.getJSON(ctx, fmt.Sprintf("%s/ticker/%sBTC", base, strings.ToUpper(market)), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (a *Adapter) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("utxo: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("utxo: get %s: %v: %w", u, err, chains.ErrNetwork)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("utxo: get %s: %w", u, chains.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("utxo: get %s: status %d: %w", u, resp.StatusCode, chains.ErrNetwork)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
