// Package permission holds a room's access configuration: the record
// itself, the cached remote-backed store, and the level transition
// state machine.
package permission

import "time"

// Record is the access configuration of one room.
//
// Invariant: HistoryLockTimestamp is non-nil iff HistoryLocked is true,
// and while the room stays locked the timestamp never decreases.
type Record struct {
	RoomID               string     `json:"roomId"`
	Level                Level      `json:"level"`
	Shared               bool       `json:"shared"`
	Published            bool       `json:"published"`
	HistoryLocked        bool       `json:"historyLocked"`
	HistoryLockTimestamp *time.Time `json:"historyLockTimestamp,omitempty"`
	LockedBy             string     `json:"lockedBy,omitempty"`
	LockedByName         string     `json:"lockedByName,omitempty"`
	OwnerID              string     `json:"ownerId"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// Update is a partial change to a Record. Nil fields are left as-is.
type Update struct {
	Level         *Level
	Shared        *bool
	Published     *bool
	HistoryLocked *bool
	LockedBy      *string
	LockedByName  *string
}

// merge applies an update while enforcing the lock-timestamp invariant:
// unlocking clears the timestamp and attribution, locking an unlocked
// room stamps "now", and re-locking an already locked room keeps the
// existing (older) boundary so it never moves backward.
func merge(cur Record, up Update, now time.Time) Record {
	next := cur
	if up.Level != nil {
		next.Level = *up.Level
	}
	if up.Shared != nil {
		next.Shared = *up.Shared
	}
	if up.Published != nil {
		next.Published = *up.Published
	}
	if up.HistoryLocked != nil {
		if *up.HistoryLocked {
			if !cur.HistoryLocked || cur.HistoryLockTimestamp == nil {
				ts := now
				next.HistoryLockTimestamp = &ts
				if up.LockedBy != nil {
					next.LockedBy = *up.LockedBy
				}
				if up.LockedByName != nil {
					next.LockedByName = *up.LockedByName
				}
			}
			next.HistoryLocked = true
		} else {
			next.HistoryLocked = false
			next.HistoryLockTimestamp = nil
			next.LockedBy = ""
			next.LockedByName = ""
		}
	}
	next.UpdatedAt = now
	return next
}
