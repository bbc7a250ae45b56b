package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
)

// streamMaxLen bounds every stream via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// EventBus implements domain.EventBus using Redis Pub/Sub for portfolio
// and price fan-out and Redis Streams with consumer groups for triggers.
type EventBus struct {
	rdb *redis.Client
}

var _ domain.EventBus = (*EventBus)(nil)

// NewEventBus creates an EventBus backed by the given Client.
func NewEventBus(c *Client) *EventBus {
	return &EventBus{rdb: c.Underlying()}
}

// Publish sends a payload to a Pub/Sub channel.
func (b *EventBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. Glob
// patterns use PSUBSCRIBE. The channel closes when ctx is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		pubsub = b.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = b.rdb.Subscribe(ctx, channel)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend adds a payload to a stream and returns the entry id.
func (b *EventBus) StreamAppend(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the consumer group (and the stream) if missing.
func (b *EventBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis: create group %s/%s: %w", stream, group, err)
	}
	return nil
}

// StreamReadGroup first redelivers entries this consumer left pending,
// then reads new ones, blocking up to block. An empty result is not an
// error.
func (b *EventBus) StreamReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	pending, err := b.readGroup(ctx, stream, group, consumer, "0", count, -1)
	if err != nil || len(pending) > 0 {
		return pending, err
	}
	return b.readGroup(ctx, stream, group, consumer, ">", count, block)
}

func (b *EventBus) readGroup(ctx context.Context, stream, group, consumer, start string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, start},
		Count:    int64(count),
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: read group %s/%s: %w", stream, group, err)
	}

	var out []domain.StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return out, nil
}

// StreamAck acknowledges processed entries.
func (b *EventBus) StreamAck(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.rdb.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("redis: ack %s/%s: %w", stream, group, err)
	}
	return nil
}
