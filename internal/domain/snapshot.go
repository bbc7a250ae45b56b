package domain

import (
	"encoding/json"
	"math"
	"time"
)

// Ratio is a statistic that may legitimately be infinite, such as a profit
// factor with no losses. JSON has no infinity, so it is written as a string.
type Ratio float64

// IsInf reports whether the ratio is positive or negative infinity.
func (r Ratio) IsInf() bool { return math.IsInf(float64(r), 0) }

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	case math.IsNaN(f):
		return []byte(`null`), nil
	}
	return json.Marshal(f)
}

func (r *Ratio) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"Infinity"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-Infinity"`:
		*r = Ratio(math.Inf(-1))
		return nil
	case `null`:
		*r = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// PerformanceStats are the statistics computed over one set of trades and
// positions. Percentages use a 0-100 scale.
type PerformanceStats struct {
	TotalTrades       int     `json:"total_trades"`
	ClosedPositions   int     `json:"closed_positions"`
	WinningTrades     int     `json:"winning_trades"`
	LosingTrades      int     `json:"losing_trades"`
	WinRate           float64 `json:"win_rate"`
	GrossProfit       float64 `json:"gross_profit"`
	GrossLoss         float64 `json:"gross_loss"` // positive magnitude
	NetRealizedPnL    float64 `json:"net_realized_pnl"`
	ProfitFactor      Ratio   `json:"profit_factor"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	CurrentDrawdown   float64 `json:"current_drawdown"`
	SharpeRatio       Ratio   `json:"sharpe_ratio"`
	SortinoRatio      Ratio   `json:"sortino_ratio"`
	AverageWin        float64 `json:"average_win"`
	AverageLoss       float64 `json:"average_loss"`
	AverageSlippage   float64 `json:"average_slippage"`
	AverageCommission float64 `json:"average_commission"`
	AverageLatencyMs  float64 `json:"average_latency_ms"`
	TotalCommissions  float64 `json:"total_commissions"`
}

// PerformanceSnapshot is a timestamped rollup of a session window.
type PerformanceSnapshot struct {
	ID              string                        `json:"id"`
	SessionID       string                        `json:"session_id"`
	WindowStart     time.Time                     `json:"window_start"`
	WindowEnd       time.Time                     `json:"window_end"`
	StartingCapital float64                       `json:"starting_capital"`
	EndingCapital   float64                       `json:"ending_capital"`
	TotalReturn     float64                       `json:"total_return"`
	TotalReturnPct  float64                       `json:"total_return_pct"`
	UnrealizedPnL   float64                       `json:"unrealized_pnl"`
	Stats           PerformanceStats              `json:"stats"`
	ByStrategy      map[Strategy]PerformanceStats `json:"by_strategy"`
	Final           bool                          `json:"final"`
	CreatedAt       time.Time                     `json:"created_at"`
}
