package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// Poller returns the latest quote of every symbol an upstream tracks.
type Poller interface {
	Poll(ctx context.Context) ([]domain.Quote, error)
}

// Publisher copies upstream quotes into the price cache on an interval and
// announces each batch on the prices channel.
type Publisher struct {
	upstream Poller
	cache    domain.PriceCache
	bus      domain.EventBus
	interval time.Duration
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. bus may be nil.
func NewPublisher(upstream Poller, cache domain.PriceCache, bus domain.EventBus, interval time.Duration, logger *slog.Logger) *Publisher {
	return &Publisher{
		upstream: upstream,
		cache:    cache,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "price_publisher")),
	}
}

// Run publishes immediately and then every interval until ctx is done.
// Upstream failures are logged and retried on the next tick.
func (p *Publisher) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("feed: publisher interval must be positive")
	}
	p.logger.InfoContext(ctx, "price publisher: started", slog.Duration("interval", p.interval))
	defer p.logger.Info("price publisher: stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if n, err := p.PublishOnce(ctx); err != nil {
			p.logger.WarnContext(ctx, "price publisher: poll failed", slog.String("error", err.Error()))
		} else {
			p.logger.DebugContext(ctx, "price publisher: published", slog.Int("quotes", n))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishOnce polls the upstream once and returns how many quotes were
// cached.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	quotes, err := p.upstream.Poll(ctx)
	if err != nil {
		return 0, err
	}
	stored := make([]domain.Quote, 0, len(quotes))
	for _, q := range quotes {
		if q.Price <= 0 {
			continue
		}
		if err := p.cache.SetPrice(ctx, q.Symbol, q.Price, q.Timestamp); err != nil {
			return len(stored), fmt.Errorf("feed: cache %s: %w", q.Symbol, err)
		}
		stored = append(stored, q)
	}

	if p.bus != nil && len(stored) > 0 {
		evt, _ := json.Marshal(domain.Event{Type: "prices", Data: stored, At: time.Now()})
		if err := p.bus.Publish(ctx, domain.ChannelPrices, evt); err != nil {
			p.logger.WarnContext(ctx, "price publisher: publish prices event failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return len(stored), nil
}
