package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// CachedSource answers GetPrice from the shared price cache that a feed
// process keeps current. Quotes older than maxAge are unavailable.
type CachedSource struct {
	cache  domain.PriceCache
	maxAge time.Duration
	now    func() time.Time
}

var _ domain.PriceSource = (*CachedSource)(nil)

// NewCachedSource creates a CachedSource. A zero maxAge disables the
// staleness check.
func NewCachedSource(cache domain.PriceCache, maxAge time.Duration) *CachedSource {
	return &CachedSource{cache: cache, maxAge: maxAge, now: time.Now}
}

func (c *CachedSource) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	price, ts, err := c.cache.GetPrice(ctx, symbol)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Quote{}, fmt.Errorf("feed: cached %q: %w", symbol, domain.ErrPriceUnavailable)
	}
	if err != nil {
		return domain.Quote{}, fmt.Errorf("feed: cached %q: %w: %w", symbol, domain.ErrPriceUnavailable, err)
	}
	if age := c.now().Sub(ts); c.maxAge > 0 && age > c.maxAge {
		return domain.Quote{}, fmt.Errorf("feed: cached %q: quote is %s old: %w", symbol, age.Truncate(time.Millisecond), domain.ErrPriceUnavailable)
	}
	return domain.Quote{Symbol: symbol, Price: price, Timestamp: ts, Source: "cache"}, nil
}
