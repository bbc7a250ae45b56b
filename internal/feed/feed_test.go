package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/cache/memory"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func simCfg(seed int64) SimulatedConfig {
	return SimulatedConfig{
		Seed:       seed,
		Volatility: 0.4,
		Tick:       time.Second,
		BasePrices: map[string]float64{"BTCUSDT": 45000, "TCS": 3800},
	}
}

func TestSimulatedStartsAtBaseAndIsReproducible(t *testing.T) {
	ctx := context.Background()
	a := NewSimulated(simCfg(7), discardLogger())
	b := NewSimulated(simCfg(7), discardLogger())

	q, err := a.GetPrice(ctx, "btcusdt")
	if err != nil || q.Price != 45000 {
		t.Fatalf("initial quote = %+v, %v", q, err)
	}
	for range 50 {
		a.Step()
		b.Step()
	}
	qa, _ := a.GetPrice(ctx, "BTCUSDT")
	qb, _ := b.GetPrice(ctx, "BTCUSDT")
	if qa.Price != qb.Price {
		t.Fatalf("same seed diverged: %v vs %v", qa.Price, qb.Price)
	}
	if qa.Price == 45000 || qa.Price <= 0 {
		t.Fatalf("price did not move or went non-positive: %v", qa.Price)
	}

	if _, err := a.GetPrice(ctx, "DOGE"); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("unknown symbol err = %v", err)
	}
	quotes, _ := a.Poll(ctx)
	if len(quotes) != 2 || quotes[0].Symbol != "BTCUSDT" {
		t.Fatalf("poll = %+v", quotes)
	}
}

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	cache := memory.NewPriceCache()
	src := NewCachedSource(cache, 30*time.Second)
	src.now = func() time.Time { return now }

	if _, err := src.GetPrice(ctx, "TCS"); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("missing err = %v", err)
	}

	_ = cache.SetPrice(ctx, "TCS", 3800, now.Add(-10*time.Second))
	q, err := src.GetPrice(ctx, "TCS")
	if err != nil || q.Price != 3800 {
		t.Fatalf("fresh quote = %+v, %v", q, err)
	}

	_ = cache.SetPrice(ctx, "TCS", 3800, now.Add(-time.Minute))
	if _, err := src.GetPrice(ctx, "TCS"); !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("stale err = %v", err)
	}
}

type stubPoller struct {
	quotes []domain.Quote
	err    error
}

func (s stubPoller) Poll(context.Context) ([]domain.Quote, error) { return s.quotes, s.err }

func TestPublisherCachesAndAnnounces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache := memory.NewPriceCache()
	bus := memory.NewBus()
	ch, _ := bus.Subscribe(ctx, domain.ChannelPrices)

	ts := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	pub := NewPublisher(stubPoller{quotes: []domain.Quote{
		{Symbol: "BTCUSDT", Price: 45100, Timestamp: ts},
		{Symbol: "BAD", Price: 0, Timestamp: ts},
	}}, cache, bus, time.Second, discardLogger())

	n, err := pub.PublishOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("PublishOnce = %d, %v", n, err)
	}
	p, at, err := cache.GetPrice(ctx, "BTCUSDT")
	if err != nil || p != 45100 || !at.Equal(ts) {
		t.Fatalf("cached = %v %v %v", p, at, err)
	}
	if _, _, err := cache.GetPrice(ctx, "BAD"); err == nil {
		t.Fatal("non-positive quote was cached")
	}

	select {
	case raw := <-ch:
		var evt domain.Event
		if err := json.Unmarshal(raw, &evt); err != nil || evt.Type != "prices" {
			t.Fatalf("event = %s, %v", raw, err)
		}
	case <-time.After(time.Second):
		t.Fatal("no prices event")
	}

	failing := NewPublisher(stubPoller{err: errors.New("down")}, cache, nil, time.Second, discardLogger())
	if _, err := failing.PublishOnce(ctx); err == nil {
		t.Fatal("expected upstream error")
	}
}

func TestBinanceIsAuthenticated(t *testing.T) {
	tests := []struct {
		name        string
		key, secret string
		wantSigned  bool
	}{
		{name: "public", wantSigned: false},
		{name: "key only", key: "k", wantSigned: false},
		{name: "key and secret", key: "k", secret: "s", wantSigned: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBinance(BinanceConfig{APIKey: tt.key, SecretKey: tt.secret}, discardLogger())
			if got := b.IsAuthenticated(); got != tt.wantSigned {
				t.Errorf("IsAuthenticated() = %v, want %v", got, tt.wantSigned)
			}
		})
	}
}
