// Package snapshot exposes a room as a static, externally reachable
// artifact while its published flag is on. Publishing is advisory: a
// failed upload never fails the permission transition that triggered
// it.
package snapshot

import (
	"context"
	"sync"
	"time"

	"slateboard/core/internal/permission"
	"slateboard/core/internal/shape"
)

// Snapshot is the static view written out when a room is published:
// the permission state plus the item metadata known to this core. The
// canvas engine exports the drawing itself separately.
type Snapshot struct {
	RoomID  string            `json:"roomId"`
	Record  permission.Record `json:"record"`
	Items   []shape.Meta      `json:"items"`
	TakenAt time.Time         `json:"takenAt"`
}

type Publisher interface {
	Publish(ctx context.Context, snap Snapshot) error
	Withdraw(ctx context.Context, roomID string) error
}

// MemoryPublisher records publishes and withdrawals for tests.
type MemoryPublisher struct {
	mu        sync.Mutex
	published map[string]Snapshot
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{published: make(map[string]Snapshot)}
}

func (p *MemoryPublisher) Publish(_ context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[snap.RoomID] = snap
	return nil
}

func (p *MemoryPublisher) Withdraw(_ context.Context, roomID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.published, roomID)
	return nil
}

// Published returns the currently published snapshot for a room.
func (p *MemoryPublisher) Published(roomID string) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.published[roomID]
	return snap, ok
}
