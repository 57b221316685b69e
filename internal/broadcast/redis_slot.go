package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const slotTTL = 24 * time.Hour

// RedisSlot is the persistent cross-context transport: a key-value
// slot per room that peers poll for changes. Slower than pub/sub but
// the last message survives in the slot, so a peer that was away when
// a change happened still picks it up on its next poll.
type RedisSlot struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
	log      *zap.Logger
}

func NewRedisSlot(client *redis.Client, interval time.Duration, log *zap.Logger) *RedisSlot {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisSlot{client: client, prefix: "perm:slot:", interval: interval, log: log}
}

func (t *RedisSlot) key(roomID string) string {
	return t.prefix + roomID
}

func (t *RedisSlot) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.client.Set(ctx, t.key(msg.RoomID), payload, slotTTL).Err(); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	return nil
}

func (t *RedisSlot) Subscribe(roomID string, fn Handler) (cancel func()) {
	stop := make(chan struct{})

	go func() {
		// Seed with the current slot so only subsequent changes fire;
		// the subscriber's initial state comes from the record store,
		// not from a possibly ancient slot value.
		lastSeen, _ := t.read(roomID)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			raw, err := t.read(roomID)
			if err != nil || raw == "" || raw == lastSeen {
				continue
			}
			lastSeen = raw

			var msg Message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				t.log.Warn("malformed slot payload",
					zap.String("room", roomID), zap.Error(err))
				continue
			}
			fn(msg)
		}
	}()

	return func() { close(stop) }
}

func (t *RedisSlot) read(roomID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := t.client.Get(ctx, t.key(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return raw, err
}
