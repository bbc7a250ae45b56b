package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

type priceEntry struct {
	price float64
	ts    time.Time
}

// PriceCache implements domain.PriceCache in a map.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]priceEntry
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache returns an empty PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]priceEntry)}
}

func (c *PriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = priceEntry{price: price, ts: ts}
	return nil
}

func (c *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[symbol]
	if !ok {
		return 0, time.Time{}, fmt.Errorf("memory: get price %s: %w", symbol, domain.ErrNotFound)
	}
	return e.price, e.ts, nil
}

func (c *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		if e, ok := c.prices[sym]; ok {
			out[sym] = e.price
		}
	}
	return out, nil
}

// LockManager implements domain.LockManager for a single process. Locks
// expire after their ttl like the Redis implementation; a ttl <= 0 never
// expires.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	now   func() time.Time
	token uint64
}

type lease struct {
	token   uint64
	expires time.Time
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager returns a LockManager with no locks held.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), now: time.Now}
}

func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if l, ok := m.held[key]; ok && (l.expires.IsZero() || now.Before(l.expires)) {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	m.token++
	token := m.token
	l := lease{token: token}
	if ttl > 0 {
		l.expires = now.Add(ttl)
	}
	m.held[key] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.held[key].token == token {
				delete(m.held, key)
			}
		})
	}, nil
}

// RateLimiter implements domain.RateLimiter with one token bucket per key.
// The bucket refills limit tokens per window and holds at most limit.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter returns a RateLimiter with no buckets.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	r.mu.Lock()
	lim, ok := r.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		r.limiters[key] = lim
	}
	r.mu.Unlock()
	return lim.Allow(), nil
}
