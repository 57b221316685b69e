package gate

import (
	"fmt"
	"time"

	"slateboard/core/internal/identity"
	"slateboard/core/internal/permission"
	"slateboard/core/internal/shape"
)

// LockItem marks an item non-editable by explicit user action,
// independent of any history lock, and stamps who locked it and when
// for audit and display.
func (g *Gate) LockItem(rec permission.Record, actor identity.Actor, roomID, itemID string) error {
	decision := g.canLock(rec, actor)
	if !decision.Allowed {
		return fmt.Errorf("lock item %s: %w", itemID, ErrNotAllowed)
	}

	meta, ok := g.content.Meta(roomID, itemID)
	if !ok {
		meta = shape.Meta{ItemID: itemID, RoomID: roomID, Kind: shape.KindShape}
	}
	if meta.Locked {
		return nil
	}
	lockedAt := time.Now()
	meta.Locked = true
	meta.LockSource = shape.LockSourceUser
	meta.LockedBy = actor.ID
	meta.LockedAt = &lockedAt
	g.content.SetMeta(meta)
	return nil
}

// UnlockItem removes an explicit lock. Non-owners may only unlock
// items they locked themselves; the room owner may unlock anything.
func (g *Gate) UnlockItem(rec permission.Record, actor identity.Actor, roomID, itemID string) error {
	meta, ok := g.content.Meta(roomID, itemID)
	if !ok || !meta.Locked {
		return nil
	}

	isOwner := !actor.IsZero() && actor.ID == rec.OwnerID
	if !isOwner && meta.LockedBy != actor.ID {
		return fmt.Errorf("unlock item %s: %w", itemID, ErrLockHeld)
	}

	meta.Locked = false
	meta.LockSource = ""
	meta.LockedBy = ""
	meta.LockedAt = nil
	g.content.SetMeta(meta)
	return nil
}

// canLock mirrors Decide's level rules for the lock action itself:
// owners always, editors always, assist while usable, viewers never.
func (g *Gate) canLock(rec permission.Record, actor identity.Actor) Decision {
	if !actor.IsZero() && actor.ID == rec.OwnerID {
		return Allow()
	}
	switch rec.Level {
	case permission.LevelEditor, permission.LevelAssist:
		return Allow()
	default:
		return Deny(ReasonReadOnly)
	}
}
