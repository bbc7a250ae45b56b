package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol
// lives at "price:{symbol}" with fields "price" and "ts" (Unix nanoseconds).
// Entries expire after ttl so a dead feed cannot serve prices forever.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client. A zero ttl
// keeps entries until overwritten.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetPrice stores the latest price and timestamp for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := priceKey(symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the cached price and its timestamp, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	price, ts, ok, err := parsePrice(vals)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	if !ok {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, domain.ErrNotFound)
	}
	return price, ts, nil
}

// GetPrices fetches several symbols in one pipeline. Missing or malformed
// entries are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, sym := range symbols {
		cmds[sym] = pipe.HGetAll(ctx, priceKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	out := make(map[string]float64, len(symbols))
	for sym, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		if price, _, ok, err := parsePrice(vals); err == nil && ok {
			out[sym] = price
		}
	}
	return out, nil
}

func parsePrice(vals map[string]string) (float64, time.Time, bool, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, false, nil
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, false, nil
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	ns, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return price, time.Unix(0, ns), true, nil
}
