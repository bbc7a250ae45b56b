package domain

import (
	"fmt"
	"math"
	"time"
)

// Signal is a trade request produced by an upstream strategy engine.
type Signal struct {
	ID                    string    `json:"id"`
	Strategy              Strategy  `json:"strategy"`
	Symbol                string    `json:"symbol"`
	Direction             Direction `json:"direction"`
	Confidence            float64   `json:"confidence"`
	ExpectedReturn        float64   `json:"expected_return,omitempty"` // fraction; 0 when not provided
	RequestedDollarAmount float64   `json:"requested_dollar_amount"`
	RequestedQuantity     float64   `json:"requested_quantity,omitempty"` // optional; overrides the dollar sizing
	CreatedAt             time.Time `json:"created_at"`
}

// Validate checks the structural constraints of a signal.
func (s Signal) Validate() error {
	switch {
	case s.Symbol == "":
		return fmt.Errorf("%w: symbol required", ErrInvalidSignal)
	case !s.Direction.Valid():
		return fmt.Errorf("%w: direction %q", ErrInvalidSignal, s.Direction)
	case s.Strategy == "":
		return fmt.Errorf("%w: strategy required", ErrInvalidSignal)
	case math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1:
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidSignal, s.Confidence)
	case !(s.RequestedDollarAmount > 0) || math.IsInf(s.RequestedDollarAmount, 0):
		return fmt.Errorf("%w: requested dollar amount must be positive", ErrInvalidSignal)
	case s.RequestedQuantity < 0 || math.IsNaN(s.RequestedQuantity):
		return fmt.Errorf("%w: requested quantity must not be negative", ErrInvalidSignal)
	}
	return nil
}

// Fill is the simulated execution of a Signal. It is produced by the
// execution simulator and never mutated afterwards.
type Fill struct {
	Strategy              Strategy      `json:"strategy"`
	Symbol                string        `json:"symbol"`
	AssetClass            AssetClass    `json:"asset_class"`
	Direction             Direction     `json:"direction"`
	RequestedQuantity     float64       `json:"requested_quantity"`
	RequestedDollarAmount float64       `json:"requested_dollar_amount"`
	QuotedPrice           float64       `json:"quoted_price"`
	FillPrice             float64       `json:"fill_price"`
	Quantity              float64       `json:"quantity"` // unsigned
	DollarAmount          float64       `json:"dollar_amount"`
	SlippagePct           float64       `json:"slippage_pct"` // fraction of the quoted price
	SlippageAmount        float64       `json:"slippage_amount"`
	Commission            float64       `json:"commission"`
	StopLoss              float64       `json:"stop_loss"`
	TakeProfit            float64       `json:"take_profit"`
	Confidence            float64       `json:"confidence"`
	ExpectedReturn        float64       `json:"expected_return"`
	SignalTime            time.Time     `json:"signal_time"`
	ExecutedAt            time.Time     `json:"executed_at"`
	Latency               time.Duration `json:"latency"`
	Forced                bool          `json:"forced"` // session-close fill
}

// SignedQuantity is Quantity carrying the direction's sign.
func (f Fill) SignedQuantity() float64 {
	return f.Direction.Sign() * f.Quantity
}

// Trade is the append-only record of one applied fill.
type Trade struct {
	ID         string `json:"id"`
	SessionID  string `json:"session_id"`
	PositionID string `json:"position_id"`
	SignalID   string `json:"signal_id,omitempty"`
	// RealizedPnL is the profit this fill realized by reducing or closing
	// an existing position. Commission is not included.
	RealizedPnL float64 `json:"realized_pnl"`
	Fill
}
