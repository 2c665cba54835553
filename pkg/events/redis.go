package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// BrokerChannel is the Redis pub/sub channel events are mirrored to.
const BrokerChannel = "scribed:events"

const forwardTimeout = 2 * time.Second

// RedisBridge mirrors bus events to a Redis pub/sub channel so out-of-process
// observers (or a future worker fleet) can follow progress. Forwarding is
// best-effort: broker failures are logged and never fail the publisher.
type RedisBridge struct {
	client *redis.Client
}

// NewRedisBridge connects to the broker at the given URL.
func NewRedisBridge(ctx context.Context, url string) (*RedisBridge, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid event broker URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping event broker: %w", err)
	}
	return &RedisBridge{client: client}, nil
}

// Forward publishes one event to the broker channel.
func (b *RedisBridge) Forward(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("Failed to marshal event for broker", "type", event.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, BrokerChannel, data).Err(); err != nil {
		slog.Warn("Failed to forward event to broker", "type", event.Type, "error", err)
	}
}

// Close releases the broker connection.
func (b *RedisBridge) Close() error {
	return b.client.Close()
}
