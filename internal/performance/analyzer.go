// Package performance derives session statistics from the trade log and
// position history. Everything except the snapshot buffer is a pure
// function of its inputs.
package performance

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// TradingDays is the default annualization factor. It is applied to every
// asset class, including crypto which trades all year; this is a known
// simplification and callers may configure another value.
const TradingDays = 252

// Input is everything a snapshot is computed from.
type Input struct {
	SessionID      string
	Trades         []domain.Trade
	Positions      []domain.Position // open and closed
	InitialCapital float64
	RiskFreeRate   float64 // annualized
	// WindowStart bounds the statistics: trades executed and positions
	// closed before it are left out, and the starting capital is the
	// realized equity at that instant. Zero covers the whole session.
	WindowStart time.Time
	At          time.Time
}

// ComputeSnapshot builds a snapshot over in. annualizationDays <= 0 falls
// back to TradingDays.
func ComputeSnapshot(in Input, annualizationDays int) domain.PerformanceSnapshot {
	days := float64(annualizationDays)
	if days <= 0 {
		days = TradingDays
	}

	trades, positions, starting := windowed(in)

	snap := domain.PerformanceSnapshot{
		ID:              uuid.NewString(),
		SessionID:       in.SessionID,
		WindowStart:     in.WindowStart,
		WindowEnd:       in.At,
		StartingCapital: starting,
		Stats:           computeStats(trades, positions, starting, in.RiskFreeRate, days),
		ByStrategy:      make(map[domain.Strategy]domain.PerformanceStats),
		CreatedAt:       in.At,
	}

	realized, commissions := 0.0, 0.0
	for _, p := range in.Positions {
		realized += p.RealizedPnL
		if p.Status == domain.PositionStatusOpen {
			snap.UnrealizedPnL += p.UnrealizedPnL
		}
	}
	for _, t := range in.Trades {
		commissions += t.Commission
	}
	snap.EndingCapital = in.InitialCapital + realized - commissions + snap.UnrealizedPnL
	snap.TotalReturn = snap.EndingCapital - snap.StartingCapital
	if starting > 0 {
		snap.TotalReturnPct = snap.TotalReturn / starting * 100
	}

	tradesBy := make(map[domain.Strategy][]domain.Trade)
	for _, t := range trades {
		tradesBy[t.Strategy] = append(tradesBy[t.Strategy], t)
	}
	positionsBy := make(map[domain.Strategy][]domain.Position)
	for _, p := range positions {
		positionsBy[p.Strategy] = append(positionsBy[p.Strategy], p)
	}
	for st := range tradesBy {
		snap.ByStrategy[st] = computeStats(tradesBy[st], positionsBy[st], starting, in.RiskFreeRate, days)
	}
	for st := range positionsBy {
		if _, done := snap.ByStrategy[st]; !done {
			snap.ByStrategy[st] = computeStats(nil, positionsBy[st], starting, in.RiskFreeRate, days)
		}
	}
	return snap
}

// windowed splits in at WindowStart. Open positions are always kept; their
// unrealized P&L belongs to the window that is still running.
func windowed(in Input) (trades []domain.Trade, positions []domain.Position, starting float64) {
	starting = in.InitialCapital
	if in.WindowStart.IsZero() {
		return in.Trades, in.Positions, starting
	}
	for _, t := range in.Trades {
		if t.ExecutedAt.Before(in.WindowStart) {
			starting += t.RealizedPnL - t.Commission
			continue
		}
		trades = append(trades, t)
	}
	for _, p := range in.Positions {
		if p.Status == domain.PositionStatusClosed && closeTime(p).Before(in.WindowStart) {
			continue
		}
		positions = append(positions, p)
	}
	return trades, positions, starting
}

func computeStats(trades []domain.Trade, positions []domain.Position, initial, riskFree, days float64) domain.PerformanceStats {
	var s domain.PerformanceStats

	s.TotalTrades = len(trades)
	var slippage, latency float64
	for _, t := range trades {
		slippage += t.SlippageAmount
		s.TotalCommissions += t.Commission
		latency += float64(t.Latency) / float64(time.Millisecond)
	}
	if n := float64(len(trades)); n > 0 {
		s.AverageSlippage = slippage / n
		s.AverageCommission = s.TotalCommissions / n
		s.AverageLatencyMs = latency / n
	}

	closed := ClosedByTime(positions)
	s.ClosedPositions = len(closed)
	returns := make([]float64, 0, len(closed))
	for _, p := range closed {
		switch {
		case p.RealizedPnL > 0:
			s.WinningTrades++
			s.GrossProfit += p.RealizedPnL
		case p.RealizedPnL < 0:
			s.LosingTrades++
			s.GrossLoss -= p.RealizedPnL
		}
		if basis := p.CostBasis(); basis > 0 {
			returns = append(returns, p.RealizedPnL/basis)
		}
	}
	s.NetRealizedPnL = s.GrossProfit - s.GrossLoss
	if s.ClosedPositions > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.ClosedPositions) * 100
	}
	if s.WinningTrades > 0 {
		s.AverageWin = s.GrossProfit / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AverageLoss = s.GrossLoss / float64(s.LosingTrades)
	}
	s.ProfitFactor = ProfitFactor(s.GrossProfit, s.GrossLoss)
	s.MaxDrawdown, s.CurrentDrawdown = Drawdown(initial, closed)
	s.SharpeRatio = Sharpe(returns, riskFree, days)
	s.SortinoRatio = Sortino(returns, riskFree, days)
	return s
}

// ClosedByTime returns the closed positions ordered by close time.
func ClosedByTime(positions []domain.Position) []domain.Position {
	var closed []domain.Position
	for _, p := range positions {
		if p.Status == domain.PositionStatusClosed {
			closed = append(closed, p)
		}
	}
	slices.SortStableFunc(closed, func(a, b domain.Position) int {
		return closeTime(a).Compare(closeTime(b))
	})
	return closed
}

func closeTime(p domain.Position) time.Time {
	if p.ClosedAt == nil {
		return time.Time{}
	}
	return *p.ClosedAt
}

// ProfitFactor is gross profit over gross loss: +Inf when there are only
// wins and 0 when there is nothing to compare.
func ProfitFactor(grossProfit, grossLoss float64) domain.Ratio {
	switch {
	case grossLoss > 0:
		return domain.Ratio(grossProfit / grossLoss)
	case grossProfit > 0:
		return domain.Ratio(math.Inf(1))
	default:
		return 0
	}
}

// Drawdown walks the equity curve that starts at initial and adds each
// closed position's realized P&L in close order. It returns the largest and
// the latest peak-to-trough decline in percent.
func Drawdown(initial float64, closed []domain.Position) (maxDD, currentDD float64) {
	equity := initial
	peak := initial
	for _, p := range closed {
		equity += p.RealizedPnL
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		currentDD = (peak - equity) / peak * 100
		if currentDD > maxDD {
			maxDD = currentDD
		}
	}
	return maxDD, currentDD
}

// Sharpe is the annualized mean excess return over the annualized sample
// standard deviation. It is 0 with fewer than two returns or no variance.
func Sharpe(returns []float64, riskFree, days float64) domain.Ratio {
	if len(returns) < 2 {
		return 0
	}
	mean := Mean(returns)
	sd := StdDev(returns)
	if sd == 0 {
		return 0
	}
	return domain.Ratio((mean*days - riskFree) / (sd * math.Sqrt(days)))
}

// Sortino divides the annualized mean excess return by the annualized
// downside deviation, sqrt(Σ min(r,0)² / n). With no losing returns it is
// +Inf; with no returns at all it is 0.
func Sortino(returns []float64, riskFree, days float64) domain.Ratio {
	if len(returns) == 0 {
		return 0
	}
	var sumSq float64
	losing := false
	for _, r := range returns {
		if r < 0 {
			losing = true
			sumSq += r * r
		}
	}
	if !losing {
		return domain.Ratio(math.Inf(1))
	}
	downside := math.Sqrt(sumSq/float64(len(returns))) * math.Sqrt(days)
	return domain.Ratio((Mean(returns)*days - riskFree) / downside)
}

// Mean returns the arithmetic mean, 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample (n-1) standard deviation.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Analyzer computes snapshots for one session and keeps the most recent
// ones in a bounded buffer.
type Analyzer struct {
	days   int
	window int

	mu  sync.RWMutex
	buf []domain.PerformanceSnapshot
}

// NewAnalyzer creates an Analyzer keeping at most window snapshots.
func NewAnalyzer(annualizationDays, window int) *Analyzer {
	if window < 1 {
		window = 1
	}
	return &Analyzer{days: annualizationDays, window: window}
}

// Compute builds a snapshot without recording it.
func (a *Analyzer) Compute(in Input) domain.PerformanceSnapshot {
	return ComputeSnapshot(in, a.days)
}

// Record appends snap to the buffer, evicting the oldest entry when full.
func (a *Analyzer) Record(snap domain.PerformanceSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == a.window {
		copy(a.buf, a.buf[1:])
		a.buf = a.buf[:len(a.buf)-1]
	}
	a.buf = append(a.buf, snap)
}

// History returns the buffered snapshots, oldest first.
func (a *Analyzer) History() []domain.PerformanceSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.buf)
}

// Latest returns the most recent buffered snapshot.
func (a *Analyzer) Latest() (domain.PerformanceSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.buf) == 0 {
		return domain.PerformanceSnapshot{}, false
	}
	return a.buf[len(a.buf)-1], true
}
