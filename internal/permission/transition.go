package permission

import (
	"context"
	"sync"
	"time"

	"slateboard/core/internal/identity"
)

// ItemLocks is what the transition state machine needs from the item
// metadata layer: the lock pass that runs when a room drops to assist,
// and its undo when the room returns to editor. Implemented by
// shape.LockPass.
type ItemLocks interface {
	LockAll(roomID, actorID string, at time.Time)
	ClearHistoryLocks(roomID string)
}

// Change is an owner-supplied transition target: a new level plus
// optional shared/published flags.
type Change struct {
	Level     Level
	Shared    *bool
	Published *bool
}

// Transitions maps a permission-level change onto its derived state and
// side effects. At most one transition is in flight per room; a
// transition is atomic for the client that runs it (store first, so its
// own gate sees the new record immediately) but not across clients.
type Transitions struct {
	store *Store
	items ItemLocks

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

func NewTransitions(store *Store, items ItemLocks) *Transitions {
	return &Transitions{
		store:    store,
		items:    items,
		inflight: make(map[string]*sync.Mutex),
	}
}

// Apply runs one transition and returns the persisted record.
//
//   - to editor: the history lock is cleared, along with its timestamp
//     and attribution, and item locks left behind by a prior lock pass.
//   - to assist: the history lock is forced on. If the room was not
//     already locked, the boundary becomes "now", the acting identity
//     is recorded as the locker, and every item existing at this
//     instant is marked locked.
//   - to viewer: lock state stays exactly as it was; viewer gates
//     ordinary mutation on its own.
func (t *Transitions) Apply(ctx context.Context, roomID string, actor identity.Actor, ch Change) (Record, error) {
	unlock := t.lockRoom(roomID)
	defer unlock()

	level := Normalize(string(ch.Level))

	up := Update{Level: &level, Shared: ch.Shared, Published: ch.Published}
	switch level {
	case LevelEditor:
		unlocked := false
		up.HistoryLocked = &unlocked
	case LevelAssist:
		locked := true
		up.HistoryLocked = &locked
		up.LockedBy = &actor.ID
		up.LockedByName = &actor.Name
	}

	before, rec, err := t.store.Set(ctx, roomID, actor, up)
	if err != nil {
		return Record{}, err
	}

	switch level {
	case LevelEditor:
		t.items.ClearHistoryLocks(roomID)
	case LevelAssist:
		// The lock pass only runs when the lock was newly established.
		// Gating on the record the remote held just before the write,
		// rather than this process's cache, keeps a relock against a
		// room another client already locked from re-marking items that
		// were created after the existing boundary.
		if !before.HistoryLocked && rec.HistoryLockTimestamp != nil {
			t.items.LockAll(roomID, actor.ID, *rec.HistoryLockTimestamp)
		}
	}
	return rec, nil
}

func (t *Transitions) lockRoom(roomID string) func() {
	t.mu.Lock()
	m, ok := t.inflight[roomID]
	if !ok {
		m = &sync.Mutex{}
		t.inflight[roomID] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}
