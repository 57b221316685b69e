package room

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"slateboard/core/internal/permission"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisRoundTrip(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	boundary := time.Now().UTC().Truncate(time.Millisecond)
	rec := permission.Record{
		RoomID:               "room-1",
		Level:                permission.LevelAssist,
		Shared:               true,
		HistoryLocked:        true,
		HistoryLockTimestamp: &boundary,
		LockedBy:             "usr_owner",
		LockedByName:         "Owner",
		OwnerID:              "usr_owner",
		UpdatedAt:            boundary,
	}
	if err := store.PutRoom(ctx, "room-1", rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Level != permission.LevelAssist || !got.HistoryLocked || !got.Shared {
		t.Fatalf("record mangled: %+v", got)
	}
	if got.HistoryLockTimestamp == nil || !got.HistoryLockTimestamp.Equal(boundary) {
		t.Fatalf("timestamp mangled: %v", got.HistoryLockTimestamp)
	}
	if got.LockedBy != "usr_owner" || got.OwnerID != "usr_owner" {
		t.Fatalf("identities mangled: %+v", got)
	}
}

func TestRedisMissingRoomIsNotFound(t *testing.T) {
	store := setupTestRedis(t)
	_, err := store.GetRoom(context.Background(), "nope")
	if !errors.Is(err, permission.ErrNotFound) {
		t.Fatalf("err = %v, want permission.ErrNotFound", err)
	}
}

func TestRedisPutOverwrites(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	first := permission.Record{RoomID: "room-1", Level: permission.LevelEditor, OwnerID: "usr_a"}
	if err := store.PutRoom(ctx, "room-1", first); err != nil {
		t.Fatalf("put: %v", err)
	}
	second := first
	second.Level = permission.LevelViewer
	if err := store.PutRoom(ctx, "room-1", second); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := store.GetRoom(ctx, "room-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Level != permission.LevelViewer {
		t.Fatalf("level = %q, want viewer", got.Level)
	}
}
