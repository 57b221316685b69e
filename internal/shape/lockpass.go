package shape

import "time"

// LockPass applies and reverts the per-item lock flags that accompany a
// history lock. Marking items locked lets viewer/assist clients render
// them as non-draggable without consulting the timestamp boundary.
type LockPass struct {
	store ContentStore
}

func NewLockPass(store ContentStore) *LockPass {
	return &LockPass{store: store}
}

// LockAll marks every item existing right now as history-locked.
// Ephemeral overlays and items already locked by a user are skipped.
func (p *LockPass) LockAll(roomID, actorID string, at time.Time) {
	for _, meta := range p.store.ListMetas(roomID) {
		if meta.Kind.Ephemeral() || meta.Locked {
			continue
		}
		lockedAt := at
		meta.Locked = true
		meta.LockSource = LockSourceHistory
		meta.LockedBy = actorID
		meta.LockedAt = &lockedAt
		p.store.SetMeta(meta)
	}
}

// ClearHistoryLocks removes the flags a prior LockAll set. Locks users
// placed explicitly are kept.
func (p *LockPass) ClearHistoryLocks(roomID string) {
	for _, meta := range p.store.ListMetas(roomID) {
		if !meta.Locked || meta.LockSource != LockSourceHistory {
			continue
		}
		meta.Locked = false
		meta.LockSource = ""
		meta.LockedBy = ""
		meta.LockedAt = nil
		p.store.SetMeta(meta)
	}
}
