// Package shape tracks per-item metadata for the content the canvas
// engine owns: who created an item and when, plus explicit lock flags.
// The authorization gate compares this metadata against a room's
// history-lock boundary; the content itself never passes through here.
package shape

import (
	"context"
	"time"
)

// Kind classifies an item. Ephemeral kinds are presentational overlays
// that carry no persisted content.
type Kind string

const (
	KindShape   Kind = "shape"
	KindLaser   Kind = "laser"
	KindPointer Kind = "pointer"
)

func (k Kind) Ephemeral() bool {
	return k == KindLaser || k == KindPointer
}

// LockSource records why an item is locked: an explicit user action, or
// the lock pass that runs when a room drops to assist level. Only
// history-sourced locks are cleared when the room returns to editor.
type LockSource string

const (
	LockSourceUser    LockSource = "user"
	LockSourceHistory LockSource = "history"
)

// Meta is the stamped metadata of one content item. CreatedBy/CreatedAt
// are set exactly once, at first mutation of an unstamped item, and
// never overwritten.
type Meta struct {
	ItemID     string     `json:"itemId"`
	RoomID     string     `json:"roomId"`
	Kind       Kind       `json:"kind"`
	CreatedBy  string     `json:"createdBy,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	Locked     bool       `json:"locked"`
	LockSource LockSource `json:"lockSource,omitempty"`
	LockedBy   string     `json:"lockedBy,omitempty"`
	LockedAt   *time.Time `json:"lockedAt,omitempty"`
}

// ItemPatch is a partial property update destined for the content
// store. The props are opaque to this core.
type ItemPatch struct {
	ItemID string         `json:"itemId"`
	Props  map[string]any `json:"props"`
}

// ContentStore is the contract this core needs from the canvas
// engine's document store. The store itself knows nothing about
// permissions; RemoveItems and UpdateItems are the raw primitives the
// gate wraps.
type ContentStore interface {
	Meta(roomID, itemID string) (Meta, bool)
	SetMeta(meta Meta)
	ListMetas(roomID string) []Meta
	RemoveItems(ctx context.Context, roomID string, itemIDs []string) error
	UpdateItems(ctx context.Context, roomID string, patches []ItemPatch) error
}
