package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/foxseedlab/botledger/internal/events"
)

// RedisPublisher sends events with PUBLISH. Subscribers that are offline
// miss them; the database stays the source of truth.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishStatusChanged(ctx context.Context, event events.StatusChangedEvent) error {
	return p.publish(ctx, events.ChannelBotStatusChanged, event)
}

func (p *RedisPublisher) PublishUsageFinalized(ctx context.Context, event events.UsageFinalizedEvent) error {
	return p.publish(ctx, events.ChannelUsageFinalized, event)
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	slog.Debug("event published", "channel", channel, "payload_size", len(data))
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
