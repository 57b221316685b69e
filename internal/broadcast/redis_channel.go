package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisChannel is the low-latency cross-context transport: one pub/sub
// channel per room. Pub/sub is fire-and-forget, so a peer that was
// disconnected while a message went by never sees it. The key slot
// transport exists alongside it to cover that gap.
type RedisChannel struct {
	client *redis.Client
	prefix string
	log    *zap.Logger
}

func NewRedisChannel(client *redis.Client, log *zap.Logger) *RedisChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisChannel{client: client, prefix: "perm:ch:", log: log}
}

func (t *RedisChannel) key(roomID string) string {
	return t.prefix + roomID
}

func (t *RedisChannel) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.client.Publish(ctx, t.key(msg.RoomID), payload).Err(); err != nil {
		return fmt.Errorf("publish channel: %w", err)
	}
	return nil
}

func (t *RedisChannel) Subscribe(roomID string, fn Handler) (cancel func()) {
	pubsub := t.client.Subscribe(context.Background(), t.key(roomID))

	go func() {
		for raw := range pubsub.Channel() {
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				t.log.Warn("malformed channel message",
					zap.String("room", roomID), zap.Error(err))
				continue
			}
			fn(msg)
		}
	}()

	return func() {
		_ = pubsub.Close()
	}
}
