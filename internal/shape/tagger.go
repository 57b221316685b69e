package shape

import (
	"time"

	"slateboard/core/internal/identity"
	"slateboard/core/internal/permission"
)

// Tagger stamps content with its creator identity and creation time at
// first mutation. The stamp is the sole input the gate later uses to
// decide whether an item predates a history lock.
type Tagger struct {
	store ContentStore
	now   func() time.Time
}

func NewTagger(store ContentStore) *Tagger {
	return &Tagger{store: store, now: time.Now}
}

// Stamp marks an unstamped item with the acting identity and "now".
// It is idempotent: an already-stamped item is left untouched. Viewers
// never create content, so stamping only runs at assist or editor
// level. Presentational overlays carry no persisted content and are
// never stamped. Returns true when a stamp was written.
func (t *Tagger) Stamp(roomID string, actor identity.Actor, level permission.Level, itemID string, kind Kind) bool {
	if !level.CanCreate() || actor.IsZero() || kind.Ephemeral() {
		return false
	}

	meta, ok := t.store.Meta(roomID, itemID)
	if ok && meta.CreatedAt != nil {
		return false
	}
	if !ok {
		meta = Meta{ItemID: itemID, RoomID: roomID, Kind: kind}
	}

	createdAt := t.now()
	meta.CreatedBy = actor.ID
	meta.CreatedAt = &createdAt
	t.store.SetMeta(meta)
	return true
}
