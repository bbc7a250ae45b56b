package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides fire-and-forget pub/sub and durable streams. Stream
// entries read through a consumer group stay pending until acknowledged,
// which gives at-least-once delivery.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) (string, error)
	EnsureGroup(ctx context.Context, stream, group string) error
	StreamReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]StreamMessage, error)
	StreamAck(ctx context.Context, stream, group string, ids ...string) error
}
