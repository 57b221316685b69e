package broadcast

import (
	"context"
	"sync"
)

// Bus is the in-process transport. Storage-backed signaling does not
// deliver to the context that wrote it, so the bus is what lets the
// publishing peer's own listeners hear the change.
type Bus struct {
	mu      sync.Mutex
	rooms   map[string]map[int]Handler
	nextSub int
}

func NewBus() *Bus {
	return &Bus{rooms: make(map[string]map[int]Handler)}
}

func (b *Bus) Publish(_ context.Context, msg Message) error {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.rooms[msg.RoomID]))
	for _, fn := range b.rooms[msg.RoomID] {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
	return nil
}

func (b *Bus) Subscribe(roomID string, fn Handler) (cancel func()) {
	b.mu.Lock()
	subs, ok := b.rooms[roomID]
	if !ok {
		subs = make(map[int]Handler)
		b.rooms[roomID] = subs
	}
	id := b.nextSub
	b.nextSub++
	subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.rooms[roomID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.rooms, roomID)
			}
		}
	}
}
