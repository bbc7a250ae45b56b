package performance

import (
	"math"
	"testing"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func closedPos(st domain.Strategy, basis, pnl float64, closedAfter time.Duration) domain.Position {
	at := t0.Add(closedAfter)
	return domain.Position{
		ID:          "p-" + closedAfter.String(),
		Symbol:      "RELIANCE",
		Strategy:    st,
		EntryValue:  basis,
		RealizedPnL: pnl,
		Status:      domain.PositionStatusClosed,
		OpenedAt:    t0,
		ClosedAt:    &at,
	}
}

func TestZeroTradesHasNoNaN(t *testing.T) {
	snap := ComputeSnapshot(Input{SessionID: "s", InitialCapital: 100_000, At: t0}, 0)
	s := snap.Stats
	if s.WinRate != 0 || s.ProfitFactor != 0 || s.SharpeRatio != 0 || s.SortinoRatio != 0 {
		t.Fatalf("stats = %+v, want zeros", s)
	}
	if s.MaxDrawdown != 0 || s.CurrentDrawdown != 0 {
		t.Fatalf("drawdown = %v/%v, want 0", s.MaxDrawdown, s.CurrentDrawdown)
	}
	if snap.EndingCapital != 100_000 || snap.TotalReturnPct != 0 {
		t.Fatalf("ending = %v pct %v", snap.EndingCapital, snap.TotalReturnPct)
	}
}

func TestSingleWinningClose(t *testing.T) {
	trades := []domain.Trade{
		{Fill: domain.Fill{Strategy: domain.StrategyMomentum, Commission: 1.5, SlippageAmount: 2, Latency: 20 * time.Millisecond}},
		{Fill: domain.Fill{Strategy: domain.StrategyMomentum, Commission: 1.5, SlippageAmount: 0, Latency: 10 * time.Millisecond}},
	}
	positions := []domain.Position{closedPos(domain.StrategyMomentum, 10_000, 500, time.Hour)}

	snap := ComputeSnapshot(Input{Trades: trades, Positions: positions, InitialCapital: 100_000, RiskFreeRate: 0.065, At: t0}, 252)
	s := snap.Stats
	if s.WinRate != 100 {
		t.Errorf("win rate = %v, want 100", s.WinRate)
	}
	if !math.IsInf(float64(s.ProfitFactor), 1) {
		t.Errorf("profit factor = %v, want +Inf", s.ProfitFactor)
	}
	if !math.IsInf(float64(s.SortinoRatio), 1) {
		t.Errorf("sortino = %v, want +Inf", s.SortinoRatio)
	}
	if s.SharpeRatio != 0 {
		t.Errorf("sharpe = %v, want 0 with one return", s.SharpeRatio)
	}
	if !near(s.AverageSlippage, 1) || !near(s.AverageCommission, 1.5) || !near(s.AverageLatencyMs, 15) {
		t.Errorf("averages = %v/%v/%v", s.AverageSlippage, s.AverageCommission, s.AverageLatencyMs)
	}
	if !near(snap.EndingCapital, 100_497) {
		t.Errorf("ending capital = %v, want 100497", snap.EndingCapital)
	}
	if got := snap.ByStrategy[domain.StrategyMomentum].WinRate; got != 100 {
		t.Errorf("momentum win rate = %v", got)
	}
}

func TestProfitFactor(t *testing.T) {
	tests := []struct {
		name       string
		gp, gl     float64
		want       float64
		wantPosInf bool
	}{
		{"ratio", 300, 150, 2, false},
		{"only losses", 0, 100, 0, false},
		{"only wins", 10, 0, 0, true},
		{"nothing", 0, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := float64(ProfitFactor(tt.gp, tt.gl))
			if tt.wantPosInf {
				if !math.IsInf(got, 1) {
					t.Fatalf("got %v, want +Inf", got)
				}
				return
			}
			if !near(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDrawdownFollowsCloseOrder(t *testing.T) {
	// Supplied out of order on purpose.
	positions := []domain.Position{
		closedPos(domain.StrategySwing, 1000, -1000, 4*time.Hour),
		closedPos(domain.StrategySwing, 1000, 1000, 1*time.Hour),
		closedPos(domain.StrategySwing, 1000, 500, 3*time.Hour),
		closedPos(domain.StrategySwing, 1000, -2000, 2*time.Hour),
	}
	maxDD, cur := Drawdown(10_000, ClosedByTime(positions))
	want := (11_000.0 - 8_500.0) / 11_000.0 * 100
	if !near(maxDD, want) || !near(cur, want) {
		t.Fatalf("drawdown = %v/%v, want %v", maxDD, cur, want)
	}

	positions = append(positions, closedPos(domain.StrategySwing, 1000, 3000, 5*time.Hour))
	maxDD, cur = Drawdown(10_000, ClosedByTime(positions))
	if !near(maxDD, want) || cur != 0 {
		t.Fatalf("after recovery drawdown = %v/%v, want %v/0", maxDD, cur, want)
	}
}

func TestSharpeAndSortino(t *testing.T) {
	returns := []float64{0.1, -0.05, 0.02}
	if got := float64(Sharpe(returns, 0.05, 252)); math.Abs(got-4.893116538753214) > 1e-9 {
		t.Errorf("sharpe = %v", got)
	}
	if got := float64(Sortino(returns, 0.05, 252)); math.Abs(got-12.722103000758354) > 1e-9 {
		t.Errorf("sortino = %v", got)
	}
	if got := Sharpe([]float64{0.01, 0.01, 0.01}, 0, 252); got != 0 {
		t.Errorf("zero variance sharpe = %v, want 0", got)
	}
	if got := Sortino(nil, 0, 252); got != 0 {
		t.Errorf("empty sortino = %v, want 0", got)
	}
}

func TestMixedSessionStats(t *testing.T) {
	positions := []domain.Position{
		closedPos(domain.StrategyScalping, 10_000, 300, time.Hour),
		closedPos(domain.StrategyScalping, 10_000, -100, 2*time.Hour),
		closedPos(domain.StrategyBreakout, 5_000, -50, 3*time.Hour),
		{Symbol: "TCS", Strategy: domain.StrategyBreakout, Status: domain.PositionStatusOpen, UnrealizedPnL: 40, EntryValue: 3800},
	}
	snap := ComputeSnapshot(Input{Positions: positions, InitialCapital: 100_000, At: t0}, 252)
	s := snap.Stats
	if s.ClosedPositions != 3 || s.WinningTrades != 1 || s.LosingTrades != 2 {
		t.Fatalf("counts = %+v", s)
	}
	if !near(s.WinRate, 100.0/3) {
		t.Errorf("win rate = %v", s.WinRate)
	}
	if !near(float64(s.ProfitFactor), 2) {
		t.Errorf("profit factor = %v, want 2", s.ProfitFactor)
	}
	if !near(s.AverageWin, 300) || !near(s.AverageLoss, 75) {
		t.Errorf("avg win/loss = %v/%v", s.AverageWin, s.AverageLoss)
	}
	if !near(snap.UnrealizedPnL, 40) || !near(snap.EndingCapital, 100_190) {
		t.Errorf("unrealized %v ending %v", snap.UnrealizedPnL, snap.EndingCapital)
	}
	br := snap.ByStrategy[domain.StrategyBreakout]
	if br.ClosedPositions != 1 || br.LosingTrades != 1 || br.ProfitFactor != 0 {
		t.Errorf("breakout stats = %+v", br)
	}
	if len(snap.ByStrategy) != 2 {
		t.Errorf("strategies = %d, want 2", len(snap.ByStrategy))
	}
}

func TestAnalyzerKeepsBoundedHistory(t *testing.T) {
	a := NewAnalyzer(252, 3)
	if _, ok := a.Latest(); ok {
		t.Fatal("latest on empty analyzer")
	}
	for i := range 5 {
		snap := a.Compute(Input{SessionID: "s", InitialCapital: 1000, At: t0.Add(time.Duration(i) * time.Minute)})
		a.Record(snap)
	}
	h := a.History()
	if len(h) != 3 {
		t.Fatalf("history = %d, want 3", len(h))
	}
	if !h[0].WindowEnd.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("oldest = %v", h[0].WindowEnd)
	}
	latest, _ := a.Latest()
	if !latest.WindowEnd.Equal(t0.Add(4 * time.Minute)) {
		t.Errorf("latest = %v", latest.WindowEnd)
	}
}

func TestPeriodWindow(t *testing.T) {
	positions := []domain.Position{
		closedPos(domain.StrategyScalping, 10_000, 300, time.Hour),
		closedPos(domain.StrategyScalping, 10_000, -100, 2*time.Hour),
		closedPos(domain.StrategyBreakout, 5_000, -50, 3*time.Hour),
		{Symbol: "TCS", Strategy: domain.StrategyBreakout, Status: domain.PositionStatusOpen, UnrealizedPnL: 40, EntryValue: 3800},
	}
	closeTrade := func(st domain.Strategy, pnl float64, after time.Duration) domain.Trade {
		return domain.Trade{RealizedPnL: pnl, Fill: domain.Fill{Strategy: st, Commission: 2, ExecutedAt: t0.Add(after)}}
	}
	trades := []domain.Trade{
		closeTrade(domain.StrategyScalping, 300, time.Hour),
		closeTrade(domain.StrategyScalping, -100, 2*time.Hour),
		closeTrade(domain.StrategyBreakout, -50, 3*time.Hour),
	}
	in := Input{Trades: trades, Positions: positions, InitialCapital: 100_000, At: t0.Add(4 * time.Hour)}

	whole := ComputeSnapshot(in, 252)
	if whole.Stats.ClosedPositions != 3 || whole.Stats.TotalTrades != 3 || whole.StartingCapital != 100_000 {
		t.Fatalf("session-to-date = %+v, starting %v", whole.Stats, whole.StartingCapital)
	}

	in.WindowStart = t0.Add(90 * time.Minute)
	snap := ComputeSnapshot(in, 252)
	s := snap.Stats
	if s.ClosedPositions != 2 || s.WinningTrades != 0 || s.LosingTrades != 2 || s.TotalTrades != 2 {
		t.Fatalf("window counts = %+v", s)
	}
	if s.WinRate != 0 || !near(s.GrossLoss, 150) || !near(s.TotalCommissions, 4) {
		t.Errorf("window stats = %+v", s)
	}
	if !near(snap.StartingCapital, 100_298) {
		t.Errorf("starting capital = %v, want 100298", snap.StartingCapital)
	}
	if !near(snap.EndingCapital, 100_184) || !near(snap.TotalReturn, -114) {
		t.Errorf("ending %v return %v, want 100184 and -114", snap.EndingCapital, snap.TotalReturn)
	}
	if !near(s.MaxDrawdown, 150/100_298.0*100) {
		t.Errorf("max drawdown = %v", s.MaxDrawdown)
	}
	if _, ok := snap.ByStrategy[domain.StrategyScalping]; !ok || snap.ByStrategy[domain.StrategyScalping].ClosedPositions != 1 {
		t.Errorf("scalping = %+v", snap.ByStrategy[domain.StrategyScalping])
	}
}
