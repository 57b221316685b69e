// Package broadcast propagates permission changes to other browsing
// context peers. No single transport is assumed reliable; fan-out goes
// over every configured transport and duplicate or stale deliveries
// are discarded by timestamp on receipt.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"slateboard/core/internal/permission"
)

// Message is the transient permission-change notification. It is never
// persisted beyond the key slot; recipients discard superseded messages
// for the same room by Timestamp ordering.
type Message struct {
	RoomID    string           `json:"roomId"`
	Level     permission.Level `json:"level"`
	Shared    *bool            `json:"shared,omitempty"`
	Published *bool            `json:"published,omitempty"`
	Timestamp int64            `json:"timestamp"` // unix milliseconds
	Source    string           `json:"source"`    // origin tag, diagnostics only
}

// Handler receives messages for a subscribed room.
type Handler func(Message)

// Transport is one delivery channel. Implementations: the in-process
// Bus, the polled Redis key slot, and the Redis pub/sub channel.
type Transport interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(roomID string, fn Handler) (cancel func())
}

type roomState struct {
	cancels  []func()
	handlers map[int]Handler
}

// Broadcaster fans messages out over all transports and reconciles
// receipts: per room, only strictly newer timestamps reach
// subscribers. Duplicates across transports collapse into one
// delivery.
type Broadcaster struct {
	transports []Transport
	log        *zap.Logger

	mu      sync.Mutex
	rooms   map[string]*roomState
	marks   map[string]int64 // per-room applied high-water mark
	nextSub int
}

func New(log *zap.Logger, transports ...Transport) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broadcaster{
		transports: transports,
		log:        log,
		rooms:      make(map[string]*roomState),
		marks:      make(map[string]int64),
	}
}

// Publish sends a message over every transport. Loss on one transport
// is masked by the others, so publishing succeeds as long as at least
// one transport accepted the message.
func (b *Broadcaster) Publish(ctx context.Context, msg Message) error {
	var lastErr error
	delivered := 0
	for _, transport := range b.transports {
		if err := transport.Publish(ctx, msg); err != nil {
			lastErr = err
			b.log.Warn("broadcast transport publish failed",
				zap.String("room", msg.RoomID), zap.Error(err))
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("publish room %s: %w", msg.RoomID, lastErr)
	}
	return nil
}

// Subscribe registers a handler for a room's permission changes and
// returns a cancel func. The first subscriber for a room wires the
// room up on every transport.
func (b *Broadcaster) Subscribe(roomID string, fn Handler) (cancel func()) {
	b.mu.Lock()
	state, ok := b.rooms[roomID]
	if !ok {
		state = &roomState{handlers: make(map[int]Handler)}
		b.rooms[roomID] = state
		for _, transport := range b.transports {
			state.cancels = append(state.cancels, transport.Subscribe(roomID, func(msg Message) {
				b.receive(msg)
			}))
		}
	}
	id := b.nextSub
	b.nextSub++
	state.handlers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		state, ok := b.rooms[roomID]
		if !ok {
			return
		}
		delete(state.handlers, id)
		if len(state.handlers) == 0 {
			for _, cancelTransport := range state.cancels {
				cancelTransport()
			}
			delete(b.rooms, roomID)
		}
	}
}

// receive applies the idempotent timestamp check: strictly newer wins,
// equal or older is a duplicate or stale and is dropped. The high-water
// mark outlives the room's subscriptions so an old in-flight message
// cannot slip in as new after an unsubscribe/resubscribe cycle.
func (b *Broadcaster) receive(msg Message) {
	b.mu.Lock()
	state, ok := b.rooms[msg.RoomID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if msg.Timestamp <= b.marks[msg.RoomID] {
		b.mu.Unlock()
		b.log.Debug("stale broadcast ignored",
			zap.String("room", msg.RoomID),
			zap.Int64("timestamp", msg.Timestamp),
			zap.String("source", msg.Source))
		return
	}
	b.marks[msg.RoomID] = msg.Timestamp
	handlers := make([]Handler, 0, len(state.handlers))
	for _, fn := range state.handlers {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// Close cancels every transport subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for roomID, state := range b.rooms {
		for _, cancelTransport := range state.cancels {
			cancelTransport()
		}
		delete(b.rooms, roomID)
	}
}
