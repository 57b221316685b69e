// Package room provides the remote room metadata backends the
// permission store persists through: Redis, Postgres, and an in-memory
// fake for tests. Each stores the full permission record keyed by
// room.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"slateboard/core/internal/permission"
)

// RedisStore keeps room records in Redis as JSON blobs.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "room:"}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "room:"}
}

func (s *RedisStore) key(roomID string) string {
	return s.prefix + roomID
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (permission.Record, error) {
	raw, err := s.client.Get(ctx, s.key(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return permission.Record{}, permission.ErrNotFound
	}
	if err != nil {
		return permission.Record{}, fmt.Errorf("get room: %w", err)
	}

	var rec permission.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return permission.Record{}, fmt.Errorf("unmarshal room record: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) PutRoom(ctx context.Context, roomID string, rec permission.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal room record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(roomID), payload, 0).Err(); err != nil {
		return fmt.Errorf("put room: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
