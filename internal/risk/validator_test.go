package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/crosshair-trading/crosshair/internal/chains"
	"github.com/crosshair-trading/crosshair/internal/sched"
)

func testLimits() map[chains.ChainID]Limits {
	return map[chains.ChainID]Limits{
		chains.ChainEthereum: {
			MaxTxAmount:    decimal.NewFromInt(10),
			MaxDailyVolume: decimal.NewFromInt(100),
			AnomalyWindow:  time.Minute,
			AnomalyMaxTx:   3,
		},
	}
}

func TestValidate_ApprovesWithinLimits(t *testing.T) {
	v := New(nil, testLimits())
	d := v.Validate(chains.ChainEthereum, decimal.NewFromInt(5), KindSnipe)
	assert.True(t, d.Approved)
	assert.Empty(t, d.Reason)
}

func TestValidate_RejectsUnknownChain(t *testing.T) {
	v := New(nil, testLimits())
	d := v.Validate(chains.ChainSolana, decimal.NewFromInt(1), KindSnipe)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "no risk limits")
}

func TestValidate_RejectsNonPositiveAmount(t *testing.T) {
	v := New(nil, testLimits())
	assert.False(t, v.Validate(chains.ChainEthereum, decimal.Zero, KindSnipe).Approved)
	assert.False(t, v.Validate(chains.ChainEthereum, decimal.NewFromInt(-3), KindExit).Approved)
}

func TestValidate_PerTxCap(t *testing.T) {
	v := New(nil, testLimits())
	d := v.Validate(chains.ChainEthereum, decimal.NewFromInt(11), KindSnipe)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "per-tx cap")
}

func TestValidate_DailyVolumeCap(t *testing.T) {
	fc := sched.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	v := New(fc, testLimits())

	for i := 0; i < 10; i++ {
		fc.Advance(5 * time.Minute) // stay clear of the anomaly window
		d := v.Validate(chains.ChainEthereum, decimal.NewFromInt(10), KindSnipe)
		assert.True(t, d.Approved, "tx %d should be approved", i)
	}

	fc.Advance(5 * time.Minute)
	d := v.Validate(chains.ChainEthereum, decimal.NewFromInt(1), KindSnipe)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "daily volume")
}

func TestValidate_RejectionsDoNotConsumeBudget(t *testing.T) {
	fc := sched.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	v := New(fc, testLimits())

	// Burn many rejections against the per-tx cap.
	for i := 0; i < 50; i++ {
		v.Validate(chains.ChainEthereum, decimal.NewFromInt(1000), KindSnipe)
	}

	d := v.Validate(chains.ChainEthereum, decimal.NewFromInt(10), KindSnipe)
	assert.True(t, d.Approved)
}

func TestValidate_VolumeWindowRolls(t *testing.T) {
	fc := sched.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	v := New(fc, testLimits())

	for i := 0; i < 10; i++ {
		fc.Advance(5 * time.Minute)
		assert.True(t, v.Validate(chains.ChainEthereum, decimal.NewFromInt(10), KindSnipe).Approved)
	}
	fc.Advance(5 * time.Minute)
	assert.False(t, v.Validate(chains.ChainEthereum, decimal.NewFromInt(10), KindSnipe).Approved)

	// A day later the early spend has aged out.
	fc.Advance(25 * time.Hour)
	assert.True(t, v.Validate(chains.ChainEthereum, decimal.NewFromInt(10), KindSnipe).Approved)
}

func TestValidate_AnomalousBurst(t *testing.T) {
	fc := sched.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	v := New(fc, testLimits())

	for i := 0; i < 3; i++ {
		fc.Advance(time.Second)
		assert.True(t, v.Validate(chains.ChainEthereum, decimal.NewFromInt(1), KindSnipe).Approved)
	}

	fc.Advance(time.Second)
	d := v.Validate(chains.ChainEthereum, decimal.NewFromInt(1), KindSnipe)
	assert.False(t, d.Approved)
	assert.Contains(t, d.Reason, "anomalous sequence")

	// Once the burst leaves the window, approvals resume.
	fc.Advance(2 * time.Minute)
	assert.True(t, v.Validate(chains.ChainEthereum, decimal.NewFromInt(1), KindSnipe).Approved)
}

func TestValidate_ChainsAreIndependent(t *testing.T) {
	limits := testLimits()
	limits[chains.ChainSolana] = Limits{
		MaxTxAmount:    decimal.NewFromInt(1),
		MaxDailyVolume: decimal.NewFromInt(2),
	}
	v := New(nil, limits)

	assert.False(t, v.Validate(chains.ChainSolana, decimal.NewFromInt(5), KindSnipe).Approved)
	assert.True(t, v.Validate(chains.ChainEthereum, decimal.NewFromInt(5), KindSnipe).Approved)
}

func TestValidate_ConcurrentCallsNeverOversubscribe(t *testing.T) {
	limits := map[chains.ChainID]Limits{
		chains.ChainEthereum: {
			MaxTxAmount:    decimal.NewFromInt(10),
			MaxDailyVolume: decimal.NewFromInt(50),
		},
	}
	v := New(nil, limits)

	var wg sync.WaitGroup
	var mu sync.Mutex
	approved := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Validate(chains.ChainEthereum, decimal.NewFromInt(10), KindSnipe).Approved {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 50 of budget at 10 per tx: exactly 5 approvals, no matter the schedule.
	assert.Equal(t, 5, approved)
	a, r := v.Stats()
	assert.Equal(t, int64(5), a)
	assert.Equal(t, int64(15), r)
}
