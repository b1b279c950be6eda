package utxo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

// tickerServer serves /ticker/<MARKET>BTC with fixed quotes.
func tickerServer(t *testing.T, last, volume float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"bid":%g,"ask":%g,"last":%g,"volume":%g}`, last*0.999, last*1.001, last, volume)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInitialize_NoVenuesConfigured(t *testing.T) {
	a := New(Config{})
	err := a.Initialize(context.Background())
	assert.ErrorIs(t, err, chains.ErrAdapterUnavailable)
}

func TestInitialize_SucceedsWhenOneVenueAnswers(t *testing.T) {
	up := tickerServer(t, 0.005, 10)
	a := New(Config{
		Venues:  map[string]string{"up": up.URL, "down": "http://127.0.0.1:1"},
		Markets: []string{"LTC"},
	})
	assert.NoError(t, a.Initialize(context.Background()))
}

func TestSubscribeNewPairs_Unsupported(t *testing.T) {
	a := New(Config{})
	_, err := a.SubscribeNewPairs(context.Background())
	assert.ErrorIs(t, err, chains.ErrUnsupported)
}

func TestPollNewAssets_SurfacesWideSpread(t *testing.T) {
	cheap := tickerServer(t, 0.0050, 12)
	rich := tickerServer(t, 0.0052, 8) // 4% above cheap

	a := New(Config{
		Venues:             map[string]string{"cheap": cheap.URL, "rich": rich.URL},
		Markets:            []string{"LTC"},
		SpreadThresholdPct: 1.5,
	})

	events, err := a.PollNewAssets(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "LTC/BTC", e.PairAddress)
	assert.Equal(t, "LTC", e.Asset0.Symbol)
	assert.Equal(t, "BTC", e.Asset1.Symbol)
	assert.True(t, e.HasReferenceAsset)
	assert.Equal(t, "20", e.LiquidityRef.String(), "volume summed across venues")

	// The same market is suppressed on the next poll.
	events, err = a.PollNewAssets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPollNewAssets_NarrowSpreadIgnored(t *testing.T) {
	v1 := tickerServer(t, 0.0050, 12)
	v2 := tickerServer(t, 0.00502, 8) // 0.4%

	a := New(Config{
		Venues:             map[string]string{"v1": v1.URL, "v2": v2.URL},
		Markets:            []string{"LTC"},
		SpreadThresholdPct: 1.5,
	})

	events, err := a.PollNewAssets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestPollNewAssets_SingleVenueCannotSpread(t *testing.T) {
	v1 := tickerServer(t, 0.0050, 12)
	a := New(Config{
		Venues:             map[string]string{"v1": v1.URL, "dead": "http://127.0.0.1:1"},
		Markets:            []string{"LTC"},
		SpreadThresholdPct: 1.5,
	})

	events, err := a.PollNewAssets(context.Background())
	assert.Error(t, err, "one live venue is not enough to compare")
	assert.Empty(t, events)
}

func TestGetAssetInfo_KnownMarket(t *testing.T) {
	a := New(Config{Markets: []string{"LTC", "DOGE"}})

	info, err := a.GetAssetInfo(context.Background(), "doge")
	require.NoError(t, err)
	assert.Equal(t, "DOGE", info.Symbol)
	assert.Equal(t, chains.ChainBitcoin, info.Chain)

	_, err = a.GetAssetInfo(context.Background(), "XMR")
	assert.ErrorIs(t, err, chains.ErrNotFound)
}

func TestGetAssetPrice_PicksBestVenue(t *testing.T) {
	cheap := tickerServer(t, 0.0040, 1)
	rich := tickerServer(t, 0.0050, 1)

	a := New(Config{
		Venues:  map[string]string{"cheap": cheap.URL, "rich": rich.URL},
		Markets: []string{"LTC"},
	})

	price, err := a.GetAssetPrice(context.Background(), "LTC")
	require.NoError(t, err)
	assert.Equal(t, "0.004", price.String())
}

func TestGetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/balance/LTC", r.URL.Path)
		fmt.Fprint(w, `{"balance":"12.5"}`)
	}))
	defer srv.Close()

	a := New(Config{AccountService: srv.URL})
	bal, err := a.GetBalance(context.Background(), "ltc")
	require.NoError(t, err)
	assert.Equal(t, "12.5", bal.String())
}

func TestSwap_BuyOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		fmt.Fprint(w, `{"order_id":"ord-1","filled_qty":"100","avg_price":"0.005","cost":"0.5"}`)
	}))
	defer srv.Close()

	a := New(Config{AccountService: srv.URL})
	receipt, err := a.Swap(context.Background(), "BTC", "LTC", decimalFromString(t, "0.5"), 5)
	require.NoError(t, err)

	assert.Equal(t, "ord-1", receipt.TxRef)
	assert.Equal(t, "0.5", receipt.AmountIn.String())
	assert.Equal(t, "100", receipt.AmountOut.String())
	assert.Equal(t, "0.005", receipt.FillPrice.String())
}

func TestSwap_SellOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"order_id":"ord-2","filled_qty":"100","avg_price":"0.005","cost":"0.5"}`)
	}))
	defer srv.Close()

	a := New(Config{AccountService: srv.URL})
	receipt, err := a.Swap(context.Background(), "LTC", "BTC", decimalFromString(t, "100"), 5)
	require.NoError(t, err)

	assert.Equal(t, "100", receipt.AmountIn.String())
	assert.Equal(t, "0.5", receipt.AmountOut.String())
}

func TestSwap_SlippageErrorMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"slippage limit exceeded"}`)
	}))
	defer srv.Close()

	a := New(Config{AccountService: srv.URL})
	_, err := a.Swap(context.Background(), "BTC", "LTC", decimalFromString(t, "0.5"), 5)
	assert.ErrorIs(t, err, chains.ErrSlippageExceeded)
}

func TestSwap_NoAccountService(t *testing.T) {
	a := New(Config{})
	_, err := a.Swap(context.Background(), "BTC", "LTC", decimalFromString(t, "0.5"), 5)
	assert.ErrorIs(t, err, chains.ErrAdapterUnavailable)
}
