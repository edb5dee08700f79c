package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

// DefaultChannel is the pub/sub channel for quote.calculated.
const DefaultChannel = "pricing.events." + pricing.EventQuoteCalculated

// RedisPublisher broadcasts events over Redis pub/sub. Delivery is best effort:
// subscribers that are offline miss the event.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher constructs the publisher. An empty channel uses DefaultChannel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

var _ pricing.Notifier = (*RedisPublisher)(nil)

// Publish implements pricing.Notifier.
func (p *RedisPublisher) Publish(ctx context.Context, evt pricing.QuoteCalculatedEvent) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", p.channel, err)
	}
	return nil
}

// Subscribe delivers events from channel to fn until ctx is cancelled. It
// returns once the subscription is confirmed.
func Subscribe(ctx context.Context, client *redis.Client, channel string, logger *slog.Logger, fn func(context.Context, pricing.QuoteCalculatedEvent) error) error {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("notify: subscribe %s: %w", channel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt pricing.QuoteCalculatedEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					logger.Warn("drop malformed quote event", slog.String("channel", channel), slog.Any("error", err))
					continue
				}
				if err := fn(ctx, evt); err != nil {
					logger.Error("handle quote event", slog.String("quote_id", evt.QuoteID.String()), slog.Any("error", err))
				}
			}
		}
	}()
	return nil
}
