package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// PositionKey identifies the single open position a fill merges into.
type PositionKey struct {
	Symbol   string
	Strategy Strategy
}

// Position aggregates fills for one (symbol, strategy) pair in a session.
// Quantity is signed: positive is long, negative is short.
type Position struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Symbol         string         `json:"symbol"`
	Strategy       Strategy       `json:"strategy"`
	AssetClass     AssetClass     `json:"asset_class"`
	Quantity       float64        `json:"quantity"`
	AveragePrice   float64        `json:"average_price"`
	CurrentPrice   float64        `json:"current_price"`
	CurrentValue   float64        `json:"current_value"`
	InvestedAmount float64        `json:"invested_amount"`
	UnrealizedPnL  float64        `json:"unrealized_pnl"`
	RealizedPnL    float64        `json:"realized_pnl"`
	EntryValue     float64        `json:"entry_value"`                // notional of every opening fill
	ClosedQuantity float64        `json:"closed_quantity,omitempty"` // signed quantity just before close
	ExitPrice      float64        `json:"exit_price,omitempty"`
	StopLoss       float64        `json:"stop_loss"`
	TakeProfit     float64        `json:"take_profit"`
	Status         PositionStatus `json:"status"`
	OpenedAt       time.Time      `json:"opened_at"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Key returns the merge key of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, Strategy: p.Strategy}
}

// IsLong reports whether the open quantity is positive.
func (p Position) IsLong() bool {
	return p.Quantity > 0
}

// PnLAt is the unrealized profit of the open quantity marked at price.
// The signed quantity makes the short formula the mirror of the long one.
func (p Position) PnLAt(price float64) float64 {
	return (price - p.AveragePrice) * p.Quantity
}

// CostBasis is the capital the position put at risk, used as the
// denominator of its return. It is the total notional of the fills that
// opened or grew it, falling back to the closed quantity at average price.
func (p Position) CostBasis() float64 {
	if p.EntryValue > 0 {
		return p.EntryValue
	}
	if p.Status == PositionStatusClosed {
		q := p.ClosedQuantity
		if q < 0 {
			q = -q
		}
		return q * p.AveragePrice
	}
	return p.InvestedAmount
}

// PositionAction describes what a fill did to the ledger.
type PositionAction string

const (
	PositionOpened    PositionAction = "opened"
	PositionIncreased PositionAction = "increased"
	PositionReduced   PositionAction = "reduced"
	PositionClosed    PositionAction = "closed"
	PositionFlipped   PositionAction = "flipped"
)

// PositionUpdate is the result of applying one fill.
type PositionUpdate struct {
	Action      PositionAction `json:"action"`
	Trade       Trade          `json:"trade"`
	Positions   []Position     `json:"positions"` // touched positions, closed before opened
	RealizedPnL float64        `json:"realized_pnl"`
	Available   float64        `json:"available_capital"`
}

// TriggerKind distinguishes stop-loss from take-profit crossings.
type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "stop_loss"
	TriggerTakeProfit TriggerKind = "take_profit"
)

// Trigger reports that a mark crossed a protective level. Triggers never
// close positions on their own.
type Trigger struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	PositionID string      `json:"position_id"`
	Symbol     string      `json:"symbol"`
	Strategy   Strategy    `json:"strategy"`
	Kind       TriggerKind `json:"kind"`
	Level      float64     `json:"level"`
	Price      float64     `json:"price"`
	Quantity   float64     `json:"quantity"`
	At         time.Time   `json:"at"`
}

// SessionTotals is the ledger-wide rollup of one session.
type SessionTotals struct {
	InitialCapital   float64 `json:"initial_capital"`
	AvailableCapital float64 `json:"available_capital"`
	CurrentCapital   float64 `json:"current_capital"` // initial + realized - commissions
	InvestedAmount   float64 `json:"invested_amount"`
	CurrentValue     float64 `json:"current_value"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	RealizedPnL      float64 `json:"realized_pnl"`
	Commissions      float64 `json:"commissions"`
	Equity           float64 `json:"equity"` // current capital + unrealized
	TotalReturn      float64 `json:"total_return"`
	TotalReturnPct   float64 `json:"total_return_pct"`
	OpenPositions    int     `json:"open_positions"`
	ClosedPositions  int     `json:"closed_positions"`
	Trades           int     `json:"trades"`
}
