package position

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crosshair-trading/crosshair/internal/chains"
)

// Status of a position's lifecycle. The only transition is active -> closed.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// CloseReason records why a position left the active set.
type CloseReason string

const (
	CloseTakeProfit  CloseReason = "take-profit"
	CloseStopLoss    CloseReason = "stop-loss"
	CloseZeroBalance CloseReason = "zero-balance"
	CloseManual      CloseReason = "manual"
)

// CloseResult captures the exit trade (or its absence).
type CloseResult struct {
	Reason     CloseReason     `json:"reason"`
	SoldAmount decimal.Decimal `json:"sold_amount"`
	Proceeds   decimal.Decimal `json:"proceeds"` // reference-asset units received
	ExitPrice  decimal.Decimal `json:"exit_price"`
	TxRef      string          `json:"tx_ref,omitempty"`
	Simulated  bool            `json:"simulated"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// Position is one open snipe. Created by the sniper immediately after a
// successful (or simulated) entry; owned exclusively by the Manager until
// closed.
type Position struct {
	ID              string                 `json:"id"`
	Chain           chains.ChainID         `json:"chain"`
	Asset           chains.AssetDescriptor `json:"asset"`
	EntryAmount     decimal.Decimal        `json:"entry_amount"` // reference-asset units spent
	TokenAmount     decimal.Decimal        `json:"token_amount"` // tokens received at entry
	EntryPrice      decimal.Decimal        `json:"entry_price"`
	TakeProfitPrice decimal.Decimal        `json:"take_profit_price"`
	StopLossPrice   decimal.Decimal        `json:"stop_loss_price"`
	Simulated       bool                   `json:"simulated"` // entry was a paper fill
	Status          Status                 `json:"status"`
	CloseReason     CloseReason            `json:"close_reason,omitempty"`
	OpenedAt        time.Time              `json:"opened_at"`
	ClosedAt        *time.Time             `json:"closed_at,omitempty"`
	Close           *CloseResult           `json:"close,omitempty"`

	// closing guards against a threshold close and a manual close racing.
	closing bool
}

// New builds an active position and derives the TP/SL thresholds from the
// entry price: tp = entry*(1+tpPct/100), sl = entry*(1-slPct/100). For
// positive percentages this keeps tp > entry > sl. OpenedAt is provisional
// until the Manager registers the position and stamps it from its clock.
func New(chain chains.ChainID, asset chains.AssetDescriptor, entryAmount, tokenAmount, entryPrice decimal.Decimal, tpPct, slPct float64, simulated bool) *Position {
	hundred := decimal.NewFromInt(100)
	return &Position{
		ID:              uuid.New().String()[:12],
		Chain:           chain,
		Asset:           asset,
		EntryAmount:     entryAmount,
		TokenAmount:     tokenAmount,
		EntryPrice:      entryPrice,
		TakeProfitPrice: entryPrice.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(tpPct).Div(hundred))),
		StopLossPrice:   entryPrice.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slPct).Div(hundred))),
		Simulated:       simulated,
		Status:          StatusActive,
		OpenedAt:        time.Now(),
	}
}

// snapshot returns a copy safe to hand out of the manager.
func (p *Position) snapshot() Position {
	cp := *p
	if p.Close != nil {
		c := *p.Close
		cp.Close = &c
	}
	if p.ClosedAt != nil {
		ts := *p.ClosedAt
		cp.ClosedAt = &ts
	}
	return cp
}
