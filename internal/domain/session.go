package domain

import (
	"slices"
	"time"
)

// SessionStatus is the lifecycle state of a paper-trading session.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusPaused     SessionStatus = "paused"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusTerminated SessionStatus = "terminated"
)

// Live reports whether the session can still change state.
func (s SessionStatus) Live() bool {
	return s == SessionStatusActive || s == SessionStatusPaused
}

// RiskLimits are the pre-trade checks applied to every signal. Fractions
// are of capital: position size against available, losses against initial.
type RiskLimits struct {
	MaxPositionSizeFraction float64 `json:"max_position_size_fraction"`
	MaxDailyLossFraction    float64 `json:"max_daily_loss_fraction"`
	MinConfidence           float64 `json:"min_confidence"`
	KillSwitchLossFraction  float64 `json:"kill_switch_loss_fraction"` // 0 disables
}

// SessionConfig carries the parameters of startSession.
type SessionConfig struct {
	OwnerID        string     `json:"owner_id"`
	InitialCapital float64    `json:"initial_capital"`
	Limits         RiskLimits `json:"limits"`
	Strategies     []Strategy `json:"strategies"`
	RiskFreeRate   float64    `json:"risk_free_rate"`
}

// Session is one paper-trading run.
type Session struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"owner_id"`
	Status           SessionStatus `json:"status"`
	InitialCapital   float64       `json:"initial_capital"`
	CurrentCapital   float64       `json:"current_capital"`
	AvailableCapital float64       `json:"available_capital"`
	RealizedPnL      float64       `json:"realized_pnl"`
	Commissions      float64       `json:"commissions"`
	TradeCount       int           `json:"trade_count"`
	Limits           RiskLimits    `json:"limits"`
	Strategies       []Strategy    `json:"strategies"`
	RiskFreeRate     float64       `json:"risk_free_rate"`
	StartedAt        time.Time     `json:"started_at"`
	EndedAt          *time.Time    `json:"ended_at,omitempty"`
	EndReason        string        `json:"end_reason,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// StrategyEnabled reports whether signals tagged st are accepted. An empty
// strategy set enables every strategy.
func (s Session) StrategyEnabled(st Strategy) bool {
	return len(s.Strategies) == 0 || slices.Contains(s.Strategies, st)
}

// PortfolioStatus is the read model returned by getPortfolioStatus.
type PortfolioStatus struct {
	Session   Session       `json:"session"`
	Totals    SessionTotals `json:"totals"`
	Positions []Position    `json:"positions"`
	DailyPnL  float64       `json:"daily_pnl"`
	AsOf      time.Time     `json:"as_of"`
}
