package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/chains"
	"github.com/crosshair-trading/crosshair/internal/sched"
)

// ---------------------------------------------------------------------------
// Risk Validator — per-chain transaction caps and rolling daily volume.
// The counters are the one piece of cross-cutting shared state in the
// system: a single mutex serializes every validation so two concurrent
// snipes can never both be approved against a limit they jointly exceed.
// ---------------------------------------------------------------------------

// Kind classifies the proposed transaction. Only entries are validated in
// practice: exit trades bypass the caps, because blocking a loss-cutting
// sell would be worse than exceeding a volume limit.
type Kind string

const (
	KindSnipe Kind = "snipe"
	KindExit  Kind = "exit"
)

// Limits caps a single chain.
type Limits struct {
	MaxTxAmount    decimal.Decimal
	MaxDailyVolume decimal.Decimal
	AnomalyWindow  time.Duration
	AnomalyMaxTx   int
}

// Decision is the outcome of one validation.
type Decision struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

type txRecord struct {
	at     time.Time
	amount decimal.Decimal
}

// Validator approves or rejects proposed transactions.
type Validator struct {
	clock sched.Clock

	mu      sync.Mutex
	limits  map[chains.ChainID]Limits
	history map[chains.ChainID][]txRecord // approved transactions only

	approved int64
	rejected int64
}

// New creates a validator with the given per-chain limits.
func New(clock sched.Clock, limits map[chains.ChainID]Limits) *Validator {
	if clock == nil {
		clock = sched.WallClock{}
	}
	return &Validator{
		clock:   clock,
		limits:  limits,
		history: make(map[chains.ChainID][]txRecord),
	}
}

// Validate checks a proposed transaction against the chain's limits.
// Internal counters mutate only on approval.
func (v *Validator) Validate(chain chains.ChainID, amount decimal.Decimal, kind Kind) Decision {
	v.mu.Lock()
	defer v.mu.Unlock()

	lim, ok := v.limits[chain]
	if !ok {
		v.rejected++
		return Decision{Approved: false, Reason: fmt.Sprintf("no risk limits configured for chain %s", chain)}
	}

	if !amount.IsPositive() {
		v.rejected++
		return Decision{Approved: false, Reason: "amount must be positive"}
	}

	if lim.MaxTxAmount.IsPositive() && amount.GreaterThan(lim.MaxTxAmount) {
		v.rejected++
		return Decision{Approved: false, Reason: fmt.Sprintf(
			"amount %s exceeds per-tx cap %s", amount, lim.MaxTxAmount)}
	}

	now := v.clock.Now()
	recent := v.prune(chain, now)

	// Rolling 24h volume.
	if lim.MaxDailyVolume.IsPositive() {
		vol := decimal.Zero
		for _, r := range recent {
			vol = vol.Add(r.amount)
		}
		if vol.Add(amount).GreaterThan(lim.MaxDailyVolume) {
			v.rejected++
			return Decision{Approved: false, Reason: fmt.Sprintf(
				"daily volume %s + %s exceeds cap %s", vol, amount, lim.MaxDailyVolume)}
		}
	}

	// Anomalous sequence: too many approvals in a short window.
	if lim.AnomalyMaxTx > 0 && lim.AnomalyWindow > 0 {
		cutoff := now.Add(-lim.AnomalyWindow)
		burst := 0
		for _, r := range recent {
			if r.at.After(cutoff) {
				burst++
			}
		}
		if burst >= lim.AnomalyMaxTx {
			v.rejected++
			log.Warn().
				Str("chain", string(chain)).
				Int("burst", burst).
				Dur("window", lim.AnomalyWindow).
				Msg("risk: anomalous transaction sequence")
			return Decision{Approved: false, Reason: fmt.Sprintf(
				"anomalous sequence: %d tx within %s", burst, lim.AnomalyWindow)}
		}
	}

	v.history[chain] = append(recent, txRecord{at: now, amount: amount})
	v.approved++
	log.Debug().
		Str("chain", string(chain)).
		Str("kind", string(kind)).
		Str("amount", amount.String()).
		Msg("risk: approved")
	return Decision{Approved: true}
}

// prune drops history entries older than the rolling day. Caller holds mu.
func (v *Validator) prune(chain chains.ChainID, now time.Time) []txRecord {
	cutoff := now.Add(-24 * time.Hour)
	old := v.history[chain]
	kept := old[:0]
	for _, r := range old {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	v.history[chain] = kept
	return kept
}

// Stats returns lifetime approval counters.
func (v *Validator) Stats() (approved, rejected int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.approved, v.rejected
}
