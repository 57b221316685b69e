package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"slateboard/core/internal/broadcast"
	"slateboard/core/internal/config"
	"slateboard/core/internal/gate"
	"slateboard/core/internal/identity"
	"slateboard/core/internal/permission"
	"slateboard/core/internal/room"
	"slateboard/core/internal/shape"
	"slateboard/core/internal/snapshot"
)

var (
	owner  = identity.Actor{ID: "usr_owner", Name: "Owner"}
	member = identity.Actor{ID: "usr_member", Name: "Member"}
)

func testConfig() config.Config {
	return config.Config{
		CacheTTL:          time.Minute,
		ReconcileInterval: 15 * time.Millisecond,
		RemoteTimeout:     time.Second,
	}
}

func newTestService(t *testing.T) (*Service, *room.MemoryStore, *shape.MemoryStore, *snapshot.MemoryPublisher) {
	t.Helper()
	remote := room.NewMemoryStore()
	content := shape.NewMemoryStore()
	snaps := snapshot.NewMemoryPublisher()
	bus := broadcast.New(nil, broadcast.NewBus())
	t.Cleanup(bus.Close)
	svc := New(testConfig(), nil, remote, content, bus, snaps)
	return svc, remote, content, snaps
}

// changeLog collects subscriber deliveries for assertions.
type changeLog struct {
	mu      sync.Mutex
	changes []PermissionChange
}

func (l *changeLog) record(ch PermissionChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.changes = append(l.changes, ch)
}

func (l *changeLog) snapshot() []PermissionChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PermissionChange, len(l.changes))
	copy(out, l.changes)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func boolPtr(b bool) *bool { return &b }

func TestChangePermissionPersistsAndNotifiesOnce(t *testing.T) {
	svc, remote, _, _ := newTestService(t)
	ctx := context.Background()

	var log changeLog
	cancel := svc.Subscribe("room_a", log.record)
	defer cancel()

	rec, err := svc.ChangePermission(ctx, "room_a", owner, permission.Change{Level: permission.LevelEditor})
	if err != nil {
		t.Fatalf("change permission: %v", err)
	}
	if rec.Level != permission.LevelEditor {
		t.Fatalf("level = %q, want editor", rec.Level)
	}

	stored, err := remote.GetRoom(ctx, "room_a")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if stored.Level != permission.LevelEditor || stored.OwnerID != owner.ID {
		t.Fatalf("stored = %+v, want persisted editor record owned by %s", stored, owner.ID)
	}

	// The change reaches the subscriber once, whether it arrives via the
	// direct notify or the bus loopback.
	changes := log.snapshot()
	if len(changes) != 1 {
		t.Fatalf("got %d deliveries, want 1: %+v", len(changes), changes)
	}
	if changes[0].Level != permission.LevelEditor || changes[0].RoomID != "room_a" {
		t.Fatalf("change = %+v", changes[0])
	}
}

func TestChangePermissionDedupesRepeatApplication(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	var log changeLog
	cancel := svc.Subscribe("room_a", log.record)
	defer cancel()

	if _, err := svc.ChangePermission(ctx, "room_a", owner, permission.Change{Level: permission.LevelEditor}); err != nil {
		t.Fatalf("first change: %v", err)
	}
	if _, err := svc.ChangePermission(ctx, "room_a", owner, permission.Change{Level: permission.LevelEditor}); err != nil {
		t.Fatalf("second change: %v", err)
	}

	if changes := log.snapshot(); len(changes) != 1 {
		t.Fatalf("got %d deliveries, want 1 for identical state: %+v", len(changes), changes)
	}
}

func TestChangePermissionRequiresOwner(t *testing.T) {
	svc, remote, _, _ := newTestService(t)
	ctx := context.Background()

	seed := permission.Record{RoomID: "room_a", Level: permission.LevelViewer, OwnerID: owner.ID}
	if err := remote.PutRoom(ctx, "room_a", seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.ChangePermission(ctx, "room_a", member, permission.Change{Level: permission.LevelEditor}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("member err = %v, want ErrNotOwner", err)
	}
	if _, err := svc.ChangePermission(ctx, "room_a", identity.Actor{}, permission.Change{Level: permission.LevelEditor}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("anonymous err = %v, want ErrNotOwner", err)
	}

	stored, err := remote.GetRoom(ctx, "room_a")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if stored.Level != permission.LevelViewer {
		t.Fatalf("level = %q, denied change must not persist", stored.Level)
	}
}

func TestChangePermissionRemoteWriteFailure(t *testing.T) {
	svc, remote, _, _ := newTestService(t)
	ctx := context.Background()

	var log changeLog
	cancel := svc.Subscribe("room_a", log.record)
	defer cancel()

	if _, err := svc.ChangePermission(ctx, "room_a", owner, permission.Change{Level: permission.LevelEditor}); err != nil {
		t.Fatalf("seed change: %v", err)
	}
	before := len(log.snapshot())

	remote.FailWrites = errors.New("room service down")
	if _, err := svc.ChangePermission(ctx, "room_a", owner, permission.Change{Level: permission.LevelAssist}); !errors.Is(err, permission.ErrRemoteWrite) {
		t.Fatalf("err = %v, want ErrRemoteWrite", err)
	}

	// Nothing advanced locally: the cached record still says editor and
	// no delivery went out.
	eff := svc.GetEffectivePermission(ctx, "room_a", owner)
	if eff.Level != permission.LevelEditor {
		t.Fatalf("effective level = %q, want editor after failed write", eff.Level)
	}
	if got := len(log.snapshot()); got != before {
		t.Fatalf("deliveries = %d, want %d (no notify on failure)", got, before)
	}
}

func TestPublishedFlagDrivesSnapshot(t *testing.T) {
	svc, _, content, snaps := newTestService(t)
	ctx := context.Background()

	content.SetMeta(shape.Meta{ItemID: "shape_1", RoomID: "room_a", Kind: shape.KindShape, CreatedBy: owner.ID})

	if _, err := svc.ChangePermission(ctx, "room_a", owner, permission.Change{Level: permission.LevelEditor, Published: boolPtr(true)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	snap, ok := snaps.Published("room_a")
	if !ok {
		t.Fatalf("snapshot missing after published flipped on")
	}
	if len(snap.Items) != 1 || snap.Items[0].ItemID != "shape_1" {
		t.Fatalf("snapshot items = %+v", snap.Items)
	}
	if !snap.Record.Published {
		t.Fatalf("snapshot record not marked published")
	}

	if _, err := svc.ChangePermission(ctx, "room_a", owner, permission.Change{Level: permission.LevelEditor, Published: boolPtr(false)}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, ok := snaps.Published("room_a"); ok {
		t.Fatalf("snapshot still published after flag flipped off")
	}
}

func TestReconcilerRepairsOutOfBandDrift(t *testing.T) {
	svc, remote, _, _ := newTestService(t)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var log changeLog
	cancel := svc.Subscribe("room_a", log.record)
	defer cancel()

	go svc.StartReconciler(ctx)

	// Another deployment changes the room directly in the remote store;
	// no broadcast reaches this process.
	now := time.Now().UTC()
	drifted := permission.Record{
		RoomID:               "room_a",
		Level:                permission.LevelAssist,
		HistoryLocked:        true,
		HistoryLockTimestamp: &now,
		LockedBy:             owner.ID,
		OwnerID:              owner.ID,
		UpdatedAt:            now,
	}
	if err := remote.PutRoom(context.Background(), "room_a", drifted); err != nil {
		t.Fatalf("out-of-band put: %v", err)
	}

	waitFor(t, func() bool {
		for _, ch := range log.snapshot() {
			if ch.Level == permission.LevelAssist && ch.HistoryLocked {
				return true
			}
		}
		return false
	})
}

func TestUpdateItemsStampsAppliedItems(t *testing.T) {
	svc, remote, content, _ := newTestService(t)
	ctx := context.Background()

	seed := permission.Record{RoomID: "room_a", Level: permission.LevelEditor, OwnerID: owner.ID}
	if err := remote.PutRoom(ctx, "room_a", seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	content.SetMeta(shape.Meta{ItemID: "shape_1", RoomID: "room_a", Kind: shape.KindShape})

	result, err := svc.UpdateItems(ctx, "room_a", member, []shape.ItemPatch{
		{ItemID: "shape_1", Props: map[string]any{"fill": "red"}},
	})
	if err != nil {
		t.Fatalf("update items: %v", err)
	}
	if len(result.Applied) != 1 || result.Applied[0] != "shape_1" {
		t.Fatalf("applied = %+v", result.Applied)
	}

	meta, ok := content.Meta("room_a", "shape_1")
	if !ok {
		t.Fatalf("meta missing")
	}
	if meta.CreatedBy != member.ID || meta.CreatedAt == nil {
		t.Fatalf("meta = %+v, want first-touch stamp by %s", meta, member.ID)
	}
}

func TestCanMutatePreFlight(t *testing.T) {
	svc, remote, content, _ := newTestService(t)
	ctx := context.Background()

	seed := permission.Record{RoomID: "room_a", Level: permission.LevelViewer, OwnerID: owner.ID}
	if err := remote.PutRoom(ctx, "room_a", seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	content.SetMeta(shape.Meta{ItemID: "shape_1", RoomID: "room_a", Kind: shape.KindShape})

	if d := svc.CanMutate(ctx, "room_a", member, "shape_1"); d.Allowed {
		t.Fatalf("viewer allowed, want deny")
	} else if d.Reason != gate.ReasonReadOnly {
		t.Fatalf("reason = %q, want %q", d.Reason, gate.ReasonReadOnly)
	}
	if d := svc.CanMutate(ctx, "room_a", owner, "shape_1"); !d.Allowed {
		t.Fatalf("owner denied: %q", d.Reason)
	}
}

func TestBroadcastTimestampsStrictlyIncrease(t *testing.T) {
	remote := room.NewMemoryStore()
	bus := broadcast.New(nil, broadcast.NewBus())
	defer bus.Close()
	svc := New(testConfig(), nil, remote, shape.NewMemoryStore(), bus, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var stamps []int64
	cancel := bus.Subscribe("room_a", func(msg broadcast.Message) {
		mu.Lock()
		defer mu.Unlock()
		stamps = append(stamps, msg.Timestamp)
	})
	defer cancel()

	// Back-to-back transitions land within the same millisecond; every
	// one of them must still reach peers.
	levels := []permission.Level{permission.LevelEditor, permission.LevelAssist, permission.LevelEditor}
	for _, level := range levels {
		if _, err := svc.ChangePermission(ctx, "room_a", owner, permission.Change{Level: level}); err != nil {
			t.Fatalf("change to %s: %v", level, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(stamps) != len(levels) {
		t.Fatalf("deliveries = %d, want %d", len(stamps), len(levels))
	}
	for i := 1; i < len(stamps); i++ {
		if stamps[i] <= stamps[i-1] {
			t.Fatalf("timestamps not strictly increasing: %v", stamps)
		}
	}
}

func TestTagItemSkipsEphemeralKinds(t *testing.T) {
	svc, remote, content, _ := newTestService(t)
	ctx := context.Background()

	seed := permission.Record{RoomID: "room_a", Level: permission.LevelEditor, OwnerID: owner.ID}
	if err := remote.PutRoom(ctx, "room_a", seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if !svc.TagItem(ctx, "room_a", member, "shape_1", shape.KindShape) {
		t.Fatalf("shape not tagged")
	}
	if svc.TagItem(ctx, "room_a", member, "laser_1", shape.KindLaser) {
		t.Fatalf("ephemeral laser tagged")
	}
	if _, ok := content.Meta("room_a", "laser_1"); ok {
		t.Fatalf("laser meta stored")
	}
}
