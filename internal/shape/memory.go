package shape

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process ContentStore. The sidecar uses it to
// mirror item metadata for rooms it gates; tests use it directly.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]map[string]Meta
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string]Meta)}
}

func (s *MemoryStore) Meta(roomID, itemID string) (Meta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.rooms[roomID][itemID]
	return meta, ok
}

func (s *MemoryStore) SetMeta(meta Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.rooms[meta.RoomID]
	if !ok {
		items = make(map[string]Meta)
		s.rooms[meta.RoomID] = items
	}
	items[meta.ItemID] = meta
}

func (s *MemoryStore) ListMetas(roomID string) []Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.rooms[roomID]
	metas := make([]Meta, 0, len(items))
	for _, meta := range items {
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ItemID < metas[j].ItemID })
	return metas
}

func (s *MemoryStore) RemoveItems(_ context.Context, roomID string, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.rooms[roomID]
	for _, id := range itemIDs {
		delete(items, id)
	}
	return nil
}

func (s *MemoryStore) UpdateItems(_ context.Context, _ string, _ []ItemPatch) error {
	// Property payloads are opaque here; the canvas engine owns them.
	return nil
}
