// Package execution turns trade signals into simulated fills: it prices
// slippage by asset class, order size and strategy, sizes the order, charges
// commission and attaches protective exit levels.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// RandomSource supplies uniform draws in [0, 1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// Simulator is the paper-trading execution venue.
type Simulator struct {
	cfg    Config
	prices domain.PriceSource
	crypto map[string]bool
	logger *slog.Logger

	mu  sync.Mutex // guards rng
	rng RandomSource

	now func() time.Time
}

// NewSimulator creates a Simulator. rng is the only source of randomness;
// pass a seeded generator for reproducible fills.
func NewSimulator(cfg Config, prices domain.PriceSource, rng RandomSource, logger *slog.Logger) *Simulator {
	crypto := make(map[string]bool, len(cfg.CryptoSymbols))
	for _, s := range cfg.CryptoSymbols {
		crypto[strings.ToUpper(s)] = true
	}
	return &Simulator{
		cfg:    cfg,
		prices: prices,
		crypto: crypto,
		logger: logger,
		rng:    rng,
		now:    time.Now,
	}
}

// Config returns the simulator's tables.
func (s *Simulator) Config() Config { return s.cfg }

// Classify maps a symbol to its asset class: listed crypto symbols and
// symbols quoted in a stablecoin are crypto, everything else is equity.
func (s *Simulator) Classify(symbol string) domain.AssetClass {
	sym := strings.ToUpper(symbol)
	if s.crypto[sym] {
		return domain.AssetClassCrypto
	}
	for _, suffix := range s.cfg.CryptoQuoteSuffixes {
		if len(sym) > len(suffix) && strings.HasSuffix(sym, strings.ToUpper(suffix)) {
			return domain.AssetClassCrypto
		}
	}
	return domain.AssetClassEquity
}

func (s *Simulator) params(class domain.AssetClass) ClassParams {
	switch class {
	case domain.AssetClassCrypto:
		return s.cfg.Crypto
	case domain.AssetClassEquity:
		return s.cfg.Equity
	default:
		panic(fmt.Sprintf("execution: unknown asset class %q", string(class)))
	}
}

func (s *Simulator) multiplier(st domain.Strategy) float64 {
	m, ok := s.cfg.Multipliers[st]
	if !ok {
		panic(fmt.Sprintf("execution: unknown strategy %q", string(st)))
	}
	return m
}

// BaseSlippage is the deterministic slippage fraction for an order before
// noise: the size-bucket rate of the asset class scaled by the strategy.
func (s *Simulator) BaseSlippage(class domain.AssetClass, st domain.Strategy, dollarAmount float64) float64 {
	tier := s.params(class).SlippageBps
	bps := tier.Large
	switch {
	case dollarAmount < s.cfg.SmallOrderMax:
		bps = tier.Small
	case dollarAmount < s.cfg.MediumOrderMax:
		bps = tier.Medium
	}
	return bps / 10_000 * s.multiplier(st)
}

// noise returns a factor uniform in [1-n, 1+n).
func (s *Simulator) noise() float64 {
	if s.cfg.NoiseFraction == 0 || s.rng == nil {
		return 1
	}
	s.mu.Lock()
	u := s.rng.Float64()
	s.mu.Unlock()
	return 1 + s.cfg.NoiseFraction*(2*u-1)
}

// Commission is max(minimum, notional × rate) for the asset class.
func (s *Simulator) Commission(class domain.AssetClass, dollarAmount float64) float64 {
	p := s.params(class)
	return math.Max(p.MinCommission, dollarAmount*p.CommissionRate)
}

// Exits returns the stop-loss and take-profit prices for a new fill. The
// take-profit distance is the larger of the strategy floor and the expected
// return scaled by the configured multiple.
func (s *Simulator) Exits(st domain.Strategy, dir domain.Direction, fillPrice, expectedReturn float64) (stopLoss, takeProfit float64) {
	x, ok := s.cfg.Exits[st]
	if !ok {
		panic(fmt.Sprintf("execution: no exit table for strategy %q", string(st)))
	}
	tp := x.TakeProfit
	if expectedReturn > 0 {
		tp = math.Max(tp, expectedReturn*s.cfg.ExpectedReturnMultiple)
	}
	sign := dir.Sign()
	stopLoss = fillPrice * (1 - sign*x.StopLoss)
	takeProfit = math.Max(0, fillPrice*(1+sign*tp))
	return stopLoss, takeProfit
}

// Quote fetches the current price with the configured timeout. Every
// failure, including a timeout, is reported as domain.ErrPriceUnavailable
// with the cause attached.
func (s *Simulator) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	if s.cfg.PriceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PriceTimeout)
		defer cancel()
	}
	q, err := s.prices.GetPrice(ctx, symbol)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("execution: quote %q: %w: %w", symbol, domain.ErrPriceUnavailable, err)
	}
	if !(q.Price > 0) || math.IsInf(q.Price, 0) {
		return domain.Quote{}, fmt.Errorf("execution: quote %q: %w: non-positive price %v", symbol, domain.ErrPriceUnavailable, q.Price)
	}
	return q, nil
}

// OrderNotional is the dollar size of sig at price: the requested quantity
// times price for quantity orders, the requested dollar amount otherwise.
func OrderNotional(sig domain.Signal, price float64) float64 {
	if sig.RequestedQuantity > 0 {
		return sig.RequestedQuantity * price
	}
	return sig.RequestedDollarAmount
}

// Execute prices sig against the current quote and returns the resulting
// fill. It has no side effects; capital is the ledger's concern.
func (s *Simulator) Execute(ctx context.Context, sig domain.Signal) (domain.Fill, error) {
	if err := sig.Validate(); err != nil {
		return domain.Fill{}, err
	}

	q, err := s.Quote(ctx, sig.Symbol)
	if err != nil {
		return domain.Fill{}, err
	}
	return s.ExecuteAt(ctx, sig, q)
}

// ExecuteAt is Execute against a quote the caller already holds.
func (s *Simulator) ExecuteAt(ctx context.Context, sig domain.Signal, q domain.Quote) (domain.Fill, error) {
	if err := sig.Validate(); err != nil {
		return domain.Fill{}, err
	}

	class := s.Classify(sig.Symbol)
	slip := s.BaseSlippage(class, sig.Strategy, OrderNotional(sig, q.Price)) * s.noise()
	sign := sig.Direction.Sign()
	fillPrice := q.Price * (1 + sign*slip)

	step := s.params(class).LotStep
	var qty float64
	if sig.RequestedQuantity > 0 {
		qty = FloorToStep(sig.RequestedQuantity, step)
	} else {
		qty = FloorToStep(sig.RequestedDollarAmount/fillPrice, step)
	}
	if qty <= 0 {
		return domain.Fill{}, fmt.Errorf("execution: %s %s $%.2f at %.4f: %w",
			sig.Direction, sig.Symbol, sig.RequestedDollarAmount, fillPrice, domain.ErrZeroQuantity)
	}

	dollars := qty * fillPrice
	sl, tp := s.Exits(sig.Strategy, sig.Direction, fillPrice, sig.ExpectedReturn)

	executedAt := s.now()
	var latency time.Duration
	if !sig.CreatedAt.IsZero() {
		latency = executedAt.Sub(sig.CreatedAt)
	}

	fill := domain.Fill{
		Strategy:              sig.Strategy,
		Symbol:                sig.Symbol,
		AssetClass:            class,
		Direction:             sig.Direction,
		RequestedQuantity:     sig.RequestedQuantity,
		RequestedDollarAmount: sig.RequestedDollarAmount,
		QuotedPrice:           q.Price,
		FillPrice:             fillPrice,
		Quantity:              qty,
		DollarAmount:          dollars,
		SlippagePct:           slip,
		SlippageAmount:        math.Abs(fillPrice-q.Price) * qty,
		Commission:            s.Commission(class, dollars),
		StopLoss:              sl,
		TakeProfit:            tp,
		Confidence:            sig.Confidence,
		ExpectedReturn:        sig.ExpectedReturn,
		SignalTime:            sig.CreatedAt,
		ExecutedAt:            executedAt,
		Latency:               latency,
	}

	s.logger.DebugContext(ctx, "execution: filled",
		slog.String("symbol", fill.Symbol),
		slog.String("strategy", string(fill.Strategy)),
		slog.String("direction", string(fill.Direction)),
		slog.Float64("quoted", fill.QuotedPrice),
		slog.Float64("fill_price", fill.FillPrice),
		slog.Float64("quantity", fill.Quantity),
		slog.Float64("slippage_pct", fill.SlippagePct),
		slog.Float64("commission", fill.Commission),
	)
	return fill, nil
}

// CloseFill builds the fill that flattens pos at price with no slippage.
// Commission still applies. It is used when a session is stopped.
func (s *Simulator) CloseFill(pos domain.Position, price float64) domain.Fill {
	if pos.Quantity == 0 {
		panic(fmt.Sprintf("execution: close fill for flat position %s", pos.ID))
	}
	dir := domain.DirectionSell
	if pos.Quantity < 0 {
		dir = domain.DirectionBuy
	}
	qty := math.Abs(pos.Quantity)
	dollars := qty * price
	now := s.now()
	return domain.Fill{
		Strategy:              pos.Strategy,
		Symbol:                pos.Symbol,
		AssetClass:            pos.AssetClass,
		Direction:             dir,
		RequestedQuantity:     qty,
		RequestedDollarAmount: dollars,
		QuotedPrice:           price,
		FillPrice:             price,
		Quantity:              qty,
		DollarAmount:          dollars,
		Commission:            s.Commission(pos.AssetClass, dollars),
		SignalTime:            now,
		ExecutedAt:            now,
		Forced:                true,
	}
}

// FloorToStep rounds x down to a whole number of lot steps. A tiny epsilon
// absorbs binary representation error so 0.3/0.1 floors to 3, not 2.
func FloorToStep(x, step float64) float64 {
	if step <= 0 {
		panic("execution: lot step must be positive")
	}
	if !(x > 0) {
		return 0
	}
	n := math.Floor(x/step + 1e-9)
	return roundTo(n*step, step)
}

// roundTo strips float noise well below the precision of step.
func roundTo(x, step float64) float64 {
	decimals := math.Max(0, math.Ceil(-math.Log10(step))) + 4
	p := math.Pow(10, decimals)
	return math.Round(x*p) / p
}
