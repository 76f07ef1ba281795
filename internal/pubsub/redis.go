package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ayush/library-catalog/backend/internal/models"
)

// RedisRelay shares book-added events between service instances. Publish
// sends the book to a Redis channel and Run feeds every message received on
// that channel, including this instance's own, into the local Bus.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	bus     *Bus
	logger  *zap.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string, bus *Bus, logger *zap.Logger) *RedisRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{rdb: rdb, channel: channel, bus: bus, logger: logger}
}

// Publish encodes payload as JSON and sends it to the relay channel. Only
// TopicBookAdded is relayed.
func (r *RedisRelay) Publish(ctx context.Context, topic string, payload any) error {
	if topic != TopicBookAdded {
		return fmt.Errorf("relay: unsupported topic %q", topic)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay encode: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Run blocks until ctx is done, republishing relayed books on the local Bus.
// ready, if non-nil, is closed once the Redis subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	ps := r.rdb.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("relay subscribed", zap.String("channel", r.channel))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var book models.Book
			if err := json.Unmarshal([]byte(msg.Payload), &book); err != nil {
				r.logger.Warn("relay: dropping undecodable message", zap.Error(err))
				continue
			}
			r.bus.Publish(TopicBookAdded, &book)
		}
	}
}
