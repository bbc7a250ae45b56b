package service

import (
	"fmt"
	"math"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/execution"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/ledger"
)

// RiskChecker applies the pre-trade limits of a session. Day boundaries for
// the loss limits are midnight in loc.
type RiskChecker struct {
	loc *time.Location
}

// NewRiskChecker creates a RiskChecker. A nil loc means UTC.
func NewRiskChecker(loc *time.Location) *RiskChecker {
	if loc == nil {
		loc = time.UTC
	}
	return &RiskChecker{loc: loc}
}

// DayStart returns the most recent midnight at or before t.
func (r *RiskChecker) DayStart(t time.Time) time.Time {
	lt := t.In(r.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, r.loc)
}

// DailyPnL is realized P&L minus commissions since the day started, plus the
// unrealized P&L currently carried by open positions.
func (r *RiskChecker) DailyPnL(l *ledger.Ledger, now time.Time) float64 {
	realized, commissions := l.PnLSince(r.DayStart(now))
	return realized - commissions + l.Totals().UnrealizedPnL
}

// PreTradeCheck returns the first limit sig breaks, or nil. price is called
// at most once, and only when the size check needs a quote.
//
// Checks performed, in order:
//  1. Strategy enabled for the session
//  2. Confidence at or above the minimum
//  3. Added exposure within the available-capital fraction
//  4. Day's loss within the daily limit
func (r *RiskChecker) PreTradeCheck(sess domain.Session, l *ledger.Ledger, sig domain.Signal, price func() (float64, error), now time.Time) error {
	lim := sess.Limits

	if !sess.StrategyEnabled(sig.Strategy) {
		return fmt.Errorf("risk: strategy %q: %w", sig.Strategy, domain.ErrStrategyNotEnabled)
	}

	if sig.Confidence < lim.MinConfidence {
		return fmt.Errorf("risk: confidence %.3f below %.3f: %w",
			sig.Confidence, lim.MinConfidence, domain.ErrConfidenceBelowThreshold)
	}

	added, err := AddedExposure(l, sig, price)
	if err != nil {
		return err
	}
	if maxSize := l.Available() * lim.MaxPositionSizeFraction; added > maxSize {
		return fmt.Errorf("risk: exposure %.2f exceeds %.2f (%.1f%% of %.2f available): %w",
			added, maxSize, lim.MaxPositionSizeFraction*100, l.Available(), domain.ErrPositionTooLarge)
	}

	if maxLoss := lim.MaxDailyLossFraction * sess.InitialCapital; maxLoss > 0 {
		if loss := -r.DailyPnL(l, now); loss > maxLoss {
			return fmt.Errorf("risk: daily loss %.2f exceeds %.2f: %w", loss, maxLoss, domain.ErrDailyLossLimitExceeded)
		}
	}
	return nil
}

// AddedExposure is the dollar amount by which sig would grow the position
// on its (symbol, strategy). Quantity orders are valued at price. The part
// of an order that offsets an opposite open position adds nothing.
func AddedExposure(l *ledger.Ledger, sig domain.Signal, price func() (float64, error)) (float64, error) {
	pos, ok := l.OpenPosition(domain.PositionKey{Symbol: sig.Symbol, Strategy: sig.Strategy})
	opposing := ok && pos.Quantity*sig.Direction.Sign() < 0
	if sig.RequestedQuantity <= 0 && !opposing {
		return sig.RequestedDollarAmount, nil
	}

	p, err := price()
	if err != nil {
		return 0, err
	}
	notional := execution.OrderNotional(sig, p)
	if opposing {
		notional = math.Max(0, notional-math.Abs(pos.Quantity)*p)
	}
	return notional, nil
}

// KillSwitchTripped reports whether the day's loss is past the session's
// kill-switch threshold. A zero fraction disables the switch.
func (r *RiskChecker) KillSwitchTripped(sess domain.Session, l *ledger.Ledger, now time.Time) (float64, bool) {
	frac := sess.Limits.KillSwitchLossFraction
	if frac <= 0 {
		return 0, false
	}
	loss := -r.DailyPnL(l, now)
	return loss, loss > frac*sess.InitialCapital
}
