package shape

import (
	"testing"
	"time"
)

func seedMeta(store *MemoryStore, roomID, itemID string, kind Kind) {
	store.SetMeta(Meta{ItemID: itemID, RoomID: roomID, Kind: kind})
}

func TestLockAllSkipsEphemeralAndUserLocked(t *testing.T) {
	store := NewMemoryStore()
	pass := NewLockPass(store)

	seedMeta(store, "room-1", "shape-1", KindShape)
	seedMeta(store, "room-1", "laser-1", KindLaser)

	userLockedAt := time.Now()
	store.SetMeta(Meta{
		ItemID: "shape-2", RoomID: "room-1", Kind: KindShape,
		Locked: true, LockSource: LockSourceUser, LockedBy: "usr_b", LockedAt: &userLockedAt,
	})

	boundary := time.Now()
	pass.LockAll("room-1", "usr_owner", boundary)

	locked, _ := store.Meta("room-1", "shape-1")
	if !locked.Locked || locked.LockSource != LockSourceHistory || locked.LockedBy != "usr_owner" {
		t.Fatalf("shape-1 not history-locked: %+v", locked)
	}
	if !locked.LockedAt.Equal(boundary) {
		t.Fatalf("lock time = %v, want boundary %v", locked.LockedAt, boundary)
	}

	laser, _ := store.Meta("room-1", "laser-1")
	if laser.Locked {
		t.Fatal("ephemeral overlay was locked")
	}

	user, _ := store.Meta("room-1", "shape-2")
	if user.LockSource != LockSourceUser || user.LockedBy != "usr_b" {
		t.Fatalf("user lock overwritten: %+v", user)
	}
}

func TestClearHistoryLocksKeepsUserLocks(t *testing.T) {
	store := NewMemoryStore()
	pass := NewLockPass(store)

	seedMeta(store, "room-1", "shape-1", KindShape)
	userLockedAt := time.Now()
	store.SetMeta(Meta{
		ItemID: "shape-2", RoomID: "room-1", Kind: KindShape,
		Locked: true, LockSource: LockSourceUser, LockedBy: "usr_b", LockedAt: &userLockedAt,
	})

	pass.LockAll("room-1", "usr_owner", time.Now())
	pass.ClearHistoryLocks("room-1")

	cleared, _ := store.Meta("room-1", "shape-1")
	if cleared.Locked || cleared.LockedBy != "" || cleared.LockedAt != nil {
		t.Fatalf("history lock not fully cleared: %+v", cleared)
	}

	kept, _ := store.Meta("room-1", "shape-2")
	if !kept.Locked || kept.LockSource != LockSourceUser {
		t.Fatalf("user lock lost: %+v", kept)
	}
}
