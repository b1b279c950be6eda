package chains

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Stub Adapter (for testing and stub mode)
// ---------------------------------------------------------------------------

// SwapCall records one Swap invocation made against the stub.
type SwapCall struct {
	In          string
	Out         string
	Amount      decimal.Decimal
	SlippagePct float64
}

// StubAdapter is an in-memory Adapter for tests and -stub mode.
// Prices and balances can be scripted as sequences; each read consumes the
// next value, the last value repeats once the sequence is exhausted.
type StubAdapter struct {
	chain ChainID
	ref   AssetDescriptor

	mu          sync.Mutex
	initialized bool
	initErr     error
	pushCapable bool
	assets      map[string]*AssetDescriptor
	prices      map[string][]decimal.Decimal
	balances    map[string][]decimal.Decimal
	pollQueue   []PairEvent
	pairCh      chan PairEvent
	swapCalls   []SwapCall
	swapErr     error
	swapReceipt *TradeReceipt
	failNext    map[string]bool // op name -> fail once
	priceDelay  time.Duration   // artificial latency for concurrency tests
	swapDelay   time.Duration
}

// NewStubAdapter creates a stub for the given chain with a default reference
// asset named after the chain.
func NewStubAdapter(chain ChainID) *StubAdapter {
	return &StubAdapter{
		chain: chain,
		ref: AssetDescriptor{
			Chain:    chain,
			Address:  fmt.Sprintf("%s-reference", chain),
			Name:     "Wrapped Native",
			Symbol:   "WNATIVE",
			Decimals: 18,
		},
		assets:   make(map[string]*AssetDescriptor),
		prices:   make(map[string][]decimal.Decimal),
		balances: make(map[string][]decimal.Decimal),
		pairCh:   make(chan PairEvent, 64),
		failNext: make(map[string]bool),
	}
}

// SetPushCapable makes SubscribeNewPairs succeed (EVM-style chains).
func (s *StubAdapter) SetPushCapable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushCapable = v
}

// SetInitError makes Initialize fail.
func (s *StubAdapter) SetInitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = err
}

// AddAsset registers asset metadata.
func (s *StubAdapter) AddAsset(a AssetDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[a.Address] = &a
}

// SetPrices scripts the price sequence returned for an asset.
func (s *StubAdapter) SetPrices(addr string, prices ...decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[addr] = prices
}

// SetBalances scripts the balance sequence returned for an asset.
func (s *StubAdapter) SetBalances(addr string, balances ...decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = balances
}

// SetPriceDelay injects artificial latency into every GetAssetPrice call.
func (s *StubAdapter) SetPriceDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceDelay = d
}

// SetSwapDelay injects artificial latency into every Swap call.
func (s *StubAdapter) SetSwapDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapDelay = d
}

// SetSwapError makes every Swap call fail with err.
func (s *StubAdapter) SetSwapError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapErr = err
}

// SetSwapReceipt overrides the receipt returned by Swap.
func (s *StubAdapter) SetSwapReceipt(r TradeReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapReceipt = &r
}

// FailNext makes the next call of the named op ("info"|"price"|"balance")
// fail with a simulated network error.
func (s *StubAdapter) FailNext(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = true
}

// EmitPair pushes a pair event on the subscription channel.
func (s *StubAdapter) EmitPair(e PairEvent) {
	s.pairCh <- e
}

// QueuePoll queues events for the next PollNewAssets call.
func (s *StubAdapter) QueuePoll(events ...PairEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollQueue = append(s.pollQueue, events...)
}

// SwapCalls returns all recorded swap invocations.
func (s *StubAdapter) SwapCalls() []SwapCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SwapCall, len(s.swapCalls))
	copy(out, s.swapCalls)
	return out
}

func (s *StubAdapter) shouldFail(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext[op] {
		s.failNext[op] = false
		return true
	}
	return false
}

// consume pops the next value from a scripted sequence, repeating the last.
func consume(m map[string][]decimal.Decimal, addr string) (decimal.Decimal, bool) {
	seq, ok := m[addr]
	if !ok || len(seq) == 0 {
		return decimal.Zero, false
	}
	v := seq[0]
	if len(seq) > 1 {
		m[addr] = seq[1:]
	}
	return v, true
}

// --- Adapter implementation ---

func (s *StubAdapter) Name() ChainID { return s.chain }

func (s *StubAdapter) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initErr != nil {
		return fmt.Errorf("stub %s: %w", s.chain, s.initErr)
	}
	s.initialized = true
	return nil
}

func (s *StubAdapter) ReferenceAsset() AssetDescriptor {
	return s.ref
}

func (s *StubAdapter) SubscribeNewPairs(ctx context.Context) (<-chan PairEvent, error) {
	s.mu.Lock()
	push := s.pushCapable
	s.mu.Unlock()
	if !push {
		return nil, ErrUnsupported
	}
	out := make(chan PairEvent, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-s.pairCh:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *StubAdapter) PollNewAssets(_ context.Context) ([]PairEvent, error) {
	if s.shouldFail("poll") {
		return nil, fmt.Errorf("stub poll: %w", ErrNetwork)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pollQueue
	s.pollQueue = nil
	return out, nil
}

func (s *StubAdapter) GetAssetInfo(_ context.Context, addr string) (*AssetDescriptor, error) {
	if s.shouldFail("info") {
		return nil, fmt.Errorf("stub info %s: %w", addr, ErrNetwork)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.assets[addr]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, fmt.Errorf("stub info %s: %w", addr, ErrNotFound)
}

func (s *StubAdapter) GetAssetPrice(ctx context.Context, addr string) (decimal.Decimal, error) {
	if s.shouldFail("price") {
		return decimal.Zero, fmt.Errorf("stub price %s: %w", addr, ErrNetwork)
	}
	s.mu.Lock()
	delay := s.priceDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ := consume(s.prices, addr)
	return p, nil
}

func (s *StubAdapter) GetBalance(_ context.Context, addr string) (decimal.Decimal, error) {
	if s.shouldFail("balance") {
		return decimal.Zero, fmt.Errorf("stub balance %s: %w", addr, ErrNetwork)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ := consume(s.balances, addr)
	return b, nil
}

func (s *StubAdapter) Swap(ctx context.Context, in, out string, amount decimal.Decimal, slippagePct float64) (*TradeReceipt, error) {
	s.mu.Lock()
	delay := s.swapDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapCalls = append(s.swapCalls, SwapCall{In: in, Out: out, Amount: amount, SlippagePct: slippagePct})
	if s.swapErr != nil {
		return nil, s.swapErr
	}
	if s.swapReceipt != nil {
		r := *s.swapReceipt
		return &r, nil
	}
	// Default: 1:1 fill against the scripted price if present, else unit price.
	price := decimal.NewFromInt(1)
	if seq, ok := s.prices[out]; ok && len(seq) > 0 && seq[0].IsPositive() {
		price = seq[0]
	}
	return &TradeReceipt{
		TxRef:      fmt.Sprintf("stub-tx-%d", time.Now().UnixNano()),
		AmountIn:   amount,
		AmountOut:  amount.Div(price),
		FillPrice:  price,
		ExecutedAt: time.Now(),
	}, nil
}
