// Package gate decides, per mutation and per item, whether a
// participant may alter content. It wraps the content store's removal
// and update primitives so there is exactly one place the rules (and
// the owner exemption) live.
package gate

import (
	"context"
	"errors"
	"fmt"

	"slateboard/core/internal/identity"
	"slateboard/core/internal/permission"
	"slateboard/core/internal/shape"
)

// Denial reasons surfaced to callers and UI.
const (
	ReasonHistoryLock = "item predates history lock"
	ReasonItemLocked  = "item is locked"
	ReasonReadOnly    = "read-only permission level"
)

var (
	// ErrAllDenied means every item in a batch was denied, so nothing
	// was changed.
	ErrAllDenied = errors.New("all items denied")

	// ErrLockHeld means another participant's explicit lock is on the
	// item and the actor may not remove it.
	ErrLockHeld = errors.New("item locked by another participant")

	// ErrNotAllowed means the actor's permission level does not permit
	// the attempted action.
	ErrNotAllowed = errors.New("not allowed at this permission level")
)

// Decision is the outcome for one item. Denials are values, not
// errors; they are resolved locally and never thrown.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() Decision             { return Decision{Allowed: true} }
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Denied pairs a dropped item with why it was dropped.
type Denied struct {
	ItemID string `json:"itemId"`
	Reason string `json:"reason"`
}

// BatchResult reports what a filtered batch actually did: the items
// that went through and the ones that were skipped. A strict subset
// proceeding is normal, not an error; one old item should never block
// deletion of ten new ones.
type BatchResult struct {
	Applied []string `json:"applied"`
	Skipped []Denied `json:"skipped"`
}

// Gate filters mutations against the current permission record and each
// item's stamped metadata. It holds the content store it decorates.
type Gate struct {
	content shape.ContentStore
}

func New(content shape.ContentStore) *Gate {
	return &Gate{content: content}
}

// Decide evaluates one item for one actor. Rule order:
//
//  1. The room owner is exempt from everything.
//  2. Ephemeral overlays carry no persisted content and are always
//     fair game.
//  3. Editor level allows all.
//  4. Assist level allows unless the item is explicitly locked or
//     predates the history-lock boundary. Unstamped legacy items count
//     as predating the lock.
//  5. Viewer level denies.
func (g *Gate) Decide(rec permission.Record, actor identity.Actor, meta shape.Meta) Decision {
	if !actor.IsZero() && actor.ID == rec.OwnerID {
		return Allow()
	}
	if meta.Kind.Ephemeral() {
		return Allow()
	}

	switch rec.Level {
	case permission.LevelEditor:
		return Allow()
	case permission.LevelAssist:
		if meta.Locked {
			return Deny(ReasonItemLocked)
		}
		if !rec.HistoryLocked {
			return Allow()
		}
		if meta.CreatedAt != nil && rec.HistoryLockTimestamp != nil && meta.CreatedAt.After(*rec.HistoryLockTimestamp) {
			return Allow()
		}
		return Deny(ReasonHistoryLock)
	default:
		return Deny(ReasonReadOnly)
	}
}

// RemoveItems filters a removal batch item by item and forwards the
// allowed subset to the content store. When everything is denied the
// operation fails with ErrAllDenied and nothing is removed.
func (g *Gate) RemoveItems(ctx context.Context, rec permission.Record, actor identity.Actor, roomID string, itemIDs []string) (BatchResult, error) {
	result := g.filter(rec, actor, roomID, itemIDs)
	if len(result.Applied) == 0 && len(itemIDs) > 0 {
		return result, fmt.Errorf("remove items: %d denied: %w", len(result.Skipped), ErrAllDenied)
	}
	if len(result.Applied) > 0 {
		if err := g.content.RemoveItems(ctx, roomID, result.Applied); err != nil {
			return BatchResult{}, fmt.Errorf("remove items: %w", err)
		}
	}
	return result, nil
}

// UpdateItems filters an update batch and forwards the allowed patches.
func (g *Gate) UpdateItems(ctx context.Context, rec permission.Record, actor identity.Actor, roomID string, patches []shape.ItemPatch) (BatchResult, error) {
	itemIDs := make([]string, len(patches))
	for i, patch := range patches {
		itemIDs[i] = patch.ItemID
	}
	result := g.filter(rec, actor, roomID, itemIDs)
	if len(result.Applied) == 0 && len(patches) > 0 {
		return result, fmt.Errorf("update items: %d denied: %w", len(result.Skipped), ErrAllDenied)
	}

	allowed := make(map[string]bool, len(result.Applied))
	for _, id := range result.Applied {
		allowed[id] = true
	}
	kept := make([]shape.ItemPatch, 0, len(result.Applied))
	for _, patch := range patches {
		if allowed[patch.ItemID] {
			kept = append(kept, patch)
		}
	}
	if len(kept) > 0 {
		if err := g.content.UpdateItems(ctx, roomID, kept); err != nil {
			return BatchResult{}, fmt.Errorf("update items: %w", err)
		}
	}
	return result, nil
}

func (g *Gate) filter(rec permission.Record, actor identity.Actor, roomID string, itemIDs []string) BatchResult {
	var result BatchResult
	for _, id := range itemIDs {
		meta, _ := g.content.Meta(roomID, id)
		if meta.ItemID == "" {
			meta = shape.Meta{ItemID: id, RoomID: roomID, Kind: shape.KindShape}
		}
		decision := g.Decide(rec, actor, meta)
		if decision.Allowed {
			result.Applied = append(result.Applied, id)
		} else {
			result.Skipped = append(result.Skipped, Denied{ItemID: id, Reason: decision.Reason})
		}
	}
	return result
}
