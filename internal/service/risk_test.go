package service

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/ledger"
)

func TestDayStartUsesLocation(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}
	r := NewRiskChecker(ist)

	// 20:00 UTC is 01:30 the next day in IST.
	at := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	got := r.DayStart(at)
	want := time.Date(2026, 3, 3, 0, 0, 0, 0, ist)
	if !got.Equal(want) {
		t.Errorf("DayStart = %s, want %s", got, want)
	}
}

func fixedPrice(p float64) func() (float64, error) {
	return func() (float64, error) { return p, nil }
}

func TestPreTradeCheckOrder(t *testing.T) {
	r := NewRiskChecker(time.UTC)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	sess := domain.Session{
		InitialCapital: 100_000,
		Strategies:     []domain.Strategy{domain.StrategyMomentum},
		Limits: domain.RiskLimits{
			MaxPositionSizeFraction: 0.1,
			MaxDailyLossFraction:    0.05,
			MinConfidence:           0.6,
		},
	}
	l := ledger.New("s1", 100_000)
	noQuote := func() (float64, error) { return 0, domain.ErrPriceUnavailable }

	tests := []struct {
		name  string
		sig   domain.Signal
		price func() (float64, error)
		want  error
	}{
		{"ok", domain.Signal{Strategy: domain.StrategyMomentum, Confidence: 0.6, RequestedDollarAmount: 10_000}, noQuote, nil},
		{"strategy first", domain.Signal{Strategy: domain.StrategySwing, Confidence: 0.1, RequestedDollarAmount: 50_000}, noQuote, domain.ErrStrategyNotEnabled},
		{"confidence before size", domain.Signal{Strategy: domain.StrategyMomentum, Confidence: 0.1, RequestedDollarAmount: 50_000}, noQuote, domain.ErrConfidenceBelowThreshold},
		{"size", domain.Signal{Strategy: domain.StrategyMomentum, Confidence: 0.9, RequestedDollarAmount: 10_001}, noQuote, domain.ErrPositionTooLarge},
		{"quantity order valued at quote", domain.Signal{Strategy: domain.StrategyMomentum, Confidence: 0.9, RequestedDollarAmount: 100, RequestedQuantity: 80}, fixedPrice(1_000), domain.ErrPositionTooLarge},
		{"small quantity order", domain.Signal{Strategy: domain.StrategyMomentum, Confidence: 0.9, RequestedDollarAmount: 100, RequestedQuantity: 5}, fixedPrice(1_000), nil},
		{"quote failure", domain.Signal{Strategy: domain.StrategyMomentum, Confidence: 0.9, RequestedQuantity: 5}, noQuote, domain.ErrPriceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.PreTradeCheck(sess, l, tt.sig, tt.price, now)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAddedExposure(t *testing.T) {
	l := ledger.New("s1", 100_000)
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if _, err := l.ApplyFill(domain.Fill{
		Strategy:     domain.StrategySwing,
		Symbol:       "TCS",
		AssetClass:   domain.AssetClassEquity,
		Direction:    domain.DirectionBuy,
		FillPrice:    1_000,
		Quantity:     10,
		DollarAmount: 10_000,
		Commission:   10,
		ExecutedAt:   at,
	}); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}

	tests := []struct {
		name string
		sig  domain.Signal
		want float64
	}{
		{"increase by dollars", domain.Signal{Symbol: "TCS", Strategy: domain.StrategySwing, Direction: domain.DirectionBuy, RequestedDollarAmount: 5_000}, 5_000},
		{"increase by quantity", domain.Signal{Symbol: "TCS", Strategy: domain.StrategySwing, Direction: domain.DirectionBuy, RequestedQuantity: 3}, 3_300},
		{"close by dollars", domain.Signal{Symbol: "TCS", Strategy: domain.StrategySwing, Direction: domain.DirectionSell, RequestedDollarAmount: 11_000}, 0},
		{"close by quantity", domain.Signal{Symbol: "TCS", Strategy: domain.StrategySwing, Direction: domain.DirectionSell, RequestedQuantity: 10}, 0},
		{"flip keeps the remainder", domain.Signal{Symbol: "TCS", Strategy: domain.StrategySwing, Direction: domain.DirectionSell, RequestedQuantity: 14}, 4_400},
		{"other strategy is new exposure", domain.Signal{Symbol: "TCS", Strategy: domain.StrategyMomentum, Direction: domain.DirectionSell, RequestedDollarAmount: 2_000}, 2_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddedExposure(l, tt.sig, fixedPrice(1_100))
			if err != nil {
				t.Fatalf("AddedExposure: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("AddedExposure = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKillSwitchDisabledAtZero(t *testing.T) {
	r := NewRiskChecker(time.UTC)
	l := ledger.New("s1", 1000)
	sess := domain.Session{InitialCapital: 1000}
	if _, tripped := r.KillSwitchTripped(sess, l, time.Now()); tripped {
		t.Error("kill switch tripped with zero fraction")
	}
}
