// Package feed provides the price sources the session service marks and
// fills against, and the publisher that pushes upstream quotes into the
// shared price cache.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

const yearSeconds = 365 * 24 * 60 * 60

// SimulatedConfig parameterizes the random walk.
type SimulatedConfig struct {
	Seed       int64 // 0 seeds from the clock
	Volatility float64
	Drift      float64
	Tick       time.Duration
	BasePrices map[string]float64
}

// Simulated is a geometric Brownian motion price source. Each symbol
// starts at its base price and moves once per Step.
type Simulated struct {
	cfg    SimulatedConfig
	logger *slog.Logger

	mu     sync.RWMutex
	rng    *rand.Rand
	prices map[string]float64
	at     time.Time
	now    func() time.Time
}

var _ domain.PriceSource = (*Simulated)(nil)

// NewSimulated creates a Simulated source at the configured base prices.
func NewSimulated(cfg SimulatedConfig, logger *slog.Logger) *Simulated {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	prices := make(map[string]float64, len(cfg.BasePrices))
	for sym, p := range cfg.BasePrices {
		prices[strings.ToUpper(sym)] = p
	}
	return &Simulated{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "simulated_feed")),
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
		at:     time.Now(),
		now:    time.Now,
	}
}

// GetPrice returns the current simulated price of symbol.
func (s *Simulated) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, fmt.Errorf("feed: simulated %q: %w: %w", symbol, domain.ErrPriceUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToUpper(symbol)]
	if !ok {
		return domain.Quote{}, fmt.Errorf("feed: simulated %q: %w", symbol, domain.ErrPriceUnavailable)
	}
	return domain.Quote{Symbol: symbol, Price: p, Timestamp: s.at, Source: "simulated"}, nil
}

// Step advances every symbol by one tick.
func (s *Simulated) Step() {
	dt := s.cfg.Tick.Seconds() / yearSeconds
	drift := (s.cfg.Drift - s.cfg.Volatility*s.cfg.Volatility/2) * dt
	diffusion := s.cfg.Volatility * math.Sqrt(dt)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Sorted so a fixed seed yields the same path for every symbol.
	for _, sym := range slices.Sorted(maps.Keys(s.prices)) {
		s.prices[sym] *= math.Exp(drift + diffusion*s.rng.NormFloat64())
	}
	s.at = s.now()
}

// Poll returns the current quote of every symbol.
func (s *Simulated) Poll(_ context.Context) ([]domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Quote, 0, len(s.prices))
	for _, sym := range slices.Sorted(maps.Keys(s.prices)) {
		out = append(out, domain.Quote{Symbol: sym, Price: s.prices[sym], Timestamp: s.at, Source: "simulated"})
	}
	return out, nil
}

// Run steps the walk every tick until ctx is cancelled.
func (s *Simulated) Run(ctx context.Context) error {
	if s.cfg.Tick <= 0 {
		return fmt.Errorf("feed: simulated tick must be positive")
	}
	s.logger.InfoContext(ctx, "simulated feed: started",
		slog.Int("symbols", len(s.cfg.BasePrices)),
		slog.Duration("tick", s.cfg.Tick),
	)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step()
		}
	}
}
