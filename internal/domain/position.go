package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the side of an order that closes a position on s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// PositionState is the lifecycle state of a managed position.
type PositionState string

// Positions enter the store only after a confirmed fill, so Open is the
// first recorded state; the submission window is serialized by the
// scheduler's single-flight cycle.
const (
	StateOpen    PositionState = "OPEN"
	StateClosing PositionState = "CLOSING"
	StateClosed  PositionState = "CLOSED"
	// StateFailed is terminal: the close order kept failing. Capital stays
	// committed and the position must be reconciled against the exchange.
	StateFailed PositionState = "FAILED"
)

// Position is the engine's record of a held exchange position.
type Position struct {
	Symbol         string        `json:"symbol"`
	Side           Side          `json:"side"`
	State          PositionState `json:"state"`
	Quantity       float64       `json:"quantity"`
	EntryPrice     float64       `json:"entry_price"`
	Committed      float64       `json:"committed"` // quote currency locked in the ledger
	Leverage       int           `json:"leverage"`
	OpenedAt       time.Time     `json:"opened_at"`
	TrailingStop   float64       `json:"trailing_stop"`
	WaterMark      float64       `json:"water_mark"` // best price seen since entry
	CloseReason    string        `json:"close_reason,omitempty"`
	CloseOrderLink string        `json:"-"` // idempotency token for the close intent
	CloseAttempts  int           `json:"-"`
}

// UnrealizedPnL computes the mark-to-market P&L at the given price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	if p.Side == SideLong {
		return (price - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - price) * p.Quantity
}

// ExchangePosition is the raw position as reported by the exchange,
// used for reconciliation and operator tooling.
type ExchangePosition struct {
	Symbol        string
	Side          Side
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// PositionHistory is an append-only record of a closed (or failed) position.
type PositionHistory struct {
	ID          int64         `json:"id"`
	Symbol      string        `json:"symbol"`
	Side        Side          `json:"side"`
	Quantity    float64       `json:"quantity"`
	EntryPrice  float64       `json:"entry_price"`
	ExitPrice   float64       `json:"exit_price"`
	RealizedPnL float64       `json:"realized_pnl"`
	Committed   float64       `json:"committed"`
	Leverage    int           `json:"leverage"`
	State       PositionState `json:"state"`
	CloseReason string        `json:"close_reason"`
	OpenedAt    time.Time     `json:"opened_at"`
	ClosedAt    time.Time     `json:"closed_at"`
}

// RiskAssessment is derived per monitoring tick and consumed immediately.
type RiskAssessment struct {
	Symbol        string
	Price         float64
	UnrealizedPnL float64
	StopDistance  float64 // adverse distance from price to the trailing stop
	Intervene     bool
	Reason        string
}
