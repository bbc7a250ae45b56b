package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/domain"
	"github.com/hrninfomeet-wq/Perplexity-dashboard-sub003/internal/notify"
)

// TriggerConsumer reads stop-loss and take-profit triggers from the durable
// stream through a consumer group and notifies operators. An entry is
// acknowledged only after delivery succeeds, so a failed delivery is
// retried on the next read.
type TriggerConsumer struct {
	bus      domain.EventBus
	notifier Notifier
	stream   string
	group    string
	consumer string
	block    time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

// NewTriggerConsumer creates a TriggerConsumer reading stream as consumer
// within group.
func NewTriggerConsumer(bus domain.EventBus, notifier Notifier, stream, group, consumer string, logger *slog.Logger) *TriggerConsumer {
	return &TriggerConsumer{
		bus:      bus,
		notifier: notifier,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    2 * time.Second,
		backoff:  5 * time.Second,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled.
func (c *TriggerConsumer) Run(ctx context.Context) error {
	if err := c.bus.EnsureGroup(ctx, c.stream, c.group); err != nil {
		return fmt.Errorf("trigger_consumer: ensure group: %w", err)
	}
	c.logger.InfoContext(ctx, "trigger_consumer: started",
		slog.String("stream", c.stream),
		slog.String("group", c.group),
		slog.String("consumer", c.consumer),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, failed, err := c.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.WarnContext(ctx, "trigger_consumer: read failed", slog.String("error", err.Error()))
		}
		if err != nil || failed > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}
	}
}

// Poll reads one batch, delivers it and acknowledges what was delivered. It
// returns the number of entries acknowledged and left pending.
func (c *TriggerConsumer) Poll(ctx context.Context) (acked, failed int, err error) {
	msgs, err := c.bus.StreamReadGroup(ctx, c.stream, c.group, c.consumer, 16, c.block)
	if err != nil {
		return 0, 0, fmt.Errorf("trigger_consumer: read: %w", err)
	}

	var done []string
	for _, m := range msgs {
		var t domain.Trigger
		if err := json.Unmarshal(m.Payload, &t); err != nil {
			c.logger.ErrorContext(ctx, "trigger_consumer: dropping malformed entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			done = append(done, m.ID)
			continue
		}
		if err := c.notifier.Notify(ctx, notify.TriggerMessage(t)); err != nil {
			c.logger.WarnContext(ctx, "trigger_consumer: delivery failed, will retry",
				slog.String("id", m.ID),
				slog.String("trigger_id", t.ID),
				slog.String("error", err.Error()),
			)
			failed++
			continue
		}
		done = append(done, m.ID)
	}

	if len(done) > 0 {
		if err := c.bus.StreamAck(ctx, c.stream, c.group, done...); err != nil {
			return 0, failed, fmt.Errorf("trigger_consumer: ack: %w", err)
		}
	}
	return len(done), failed, nil
}
