package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/focus-sync/internal/document"
	"github.com/redis/go-redis/v9"
)

// ChannelPrefix prefixes the Redis channel of each identity key.
const ChannelPrefix = "focus-sync:doc:"

// RedisFanout publishes records to Redis so every server instance can
// relay them to its local Hub.
type RedisFanout struct {
	client *redis.Client
	hub    *Hub
	logger *slog.Logger
}

// NewRedisFanout returns a fanout relaying into hub.
func NewRedisFanout(client *redis.Client, hub *Hub, logger *slog.Logger) *RedisFanout {
	return &RedisFanout{client: client, hub: hub, logger: logger}
}

// Publish sends rec to the identity's channel. Local subscribers receive
// it through Run like every other instance.
func (f *RedisFanout) Publish(ctx context.Context, key string, rec document.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshalling record: %w", err)
	}

	if err := f.client.Publish(ctx, ChannelPrefix+key, data).Err(); err != nil {
		return fmt.Errorf("publishing to redis: %w", err)
	}

	return nil
}

// Run relays channel messages into the hub until ctx is cancelled. ready,
// when non-nil, is closed once the subscription is active.
func (f *RedisFanout) Run(ctx context.Context, ready chan<- struct{}) error {
	pubsub := f.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to redis: %w", err)
	}

	if ready != nil {
		close(ready)
	}

	f.logger.Info("realtime redis fanout started")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}

			var rec document.Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				f.logger.Warn("dropping malformed fanout message",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()),
				)

				continue
			}

			_ = f.hub.Publish(ctx, strings.TrimPrefix(msg.Channel, ChannelPrefix), rec)
		}
	}
}
