package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"slateboard/core/internal/identity"
)

var (
	// ErrNotFound means the room has no permission record yet. Callers
	// treat it as an implicit viewer default, never as a failure.
	ErrNotFound = errors.New("permission record not found")

	// ErrRemoteWrite means a change did not reach the remote store. The
	// local cache is not advanced when this is returned.
	ErrRemoteWrite = errors.New("remote write failed")
)

// Remote is the room metadata service this store persists through. It
// is a plain get/put keyed by room; implementations live in
// internal/room.
type Remote interface {
	GetRoom(ctx context.Context, roomID string) (Record, error)
	PutRoom(ctx context.Context, roomID string, rec Record) error
}

type cacheEntry struct {
	rec       Record
	fetchedAt time.Time
}

// Store is the authoritative, remote-backed record of each room's
// access configuration with a short-lived process-wide cache. Reads
// degrade to a conservative default when the remote is unreachable, so
// a degraded client stays deterministic and restrictive instead of
// failing.
type Store struct {
	remote Remote
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func NewStore(remote Remote, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Store{
		remote: remote,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// Defaulted is the conservative record used when the remote cannot be
// consulted or the room has no record yet: read-only, unlocked, owned
// by the acting identity (first access creates the room, so the first
// actor is its owner).
func Defaulted(roomID string, actor identity.Actor) Record {
	return Record{
		RoomID:  roomID,
		Level:   LevelViewer,
		OwnerID: actor.ID,
	}
}

// Get returns the room's permission record, consulting the cache first.
// It never fails: remote errors and missing records both yield the
// conservative default.
func (s *Store) Get(ctx context.Context, roomID string, actor identity.Actor) Record {
	s.mu.Lock()
	if entry, ok := s.cache[roomID]; ok && s.now().Sub(entry.fetchedAt) < s.ttl {
		rec := entry.rec
		s.mu.Unlock()
		return rec
	}
	s.mu.Unlock()

	rec, err := s.remote.GetRoom(ctx, roomID)
	if err != nil {
		return Defaulted(roomID, actor)
	}

	s.mu.Lock()
	s.cache[roomID] = cacheEntry{rec: rec, fetchedAt: s.now()}
	s.mu.Unlock()
	return rec
}

// Set applies a partial update, writes it through to the remote store,
// and returns the record as it was just before the write alongside the
// result. The before record comes from a fresh remote read, not the
// cache, so callers gating side effects on prior state see what the
// remote actually held. The cache is only updated after the remote
// write succeeds; there is no optimistic local-only success.
func (s *Store) Set(ctx context.Context, roomID string, actor identity.Actor, up Update) (before, after Record, err error) {
	cur, err := s.remote.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			cur = Defaulted(roomID, actor)
		} else {
			return Record{}, Record{}, fmt.Errorf("read before write: %w", ErrRemoteWrite)
		}
	}

	next := merge(cur, up, s.now())
	if err := s.remote.PutRoom(ctx, roomID, next); err != nil {
		return Record{}, Record{}, fmt.Errorf("put room %s: %w", roomID, ErrRemoteWrite)
	}

	s.mu.Lock()
	s.cache[roomID] = cacheEntry{rec: next, fetchedAt: s.now()}
	s.mu.Unlock()
	return cur, next, nil
}

// Remote exposes the backing room store, for health checks.
func (s *Store) Remote() Remote {
	return s.remote
}

// Invalidate drops the cached record so the next Get re-reads the
// remote. Broadcast receipt and the periodic reconcile pass use this.
func (s *Store) Invalidate(roomID string) {
	s.mu.Lock()
	delete(s.cache, roomID)
	s.mu.Unlock()
}

// Refresh forces an authoritative re-read, bypassing the cache.
func (s *Store) Refresh(ctx context.Context, roomID string, actor identity.Actor) Record {
	s.Invalidate(roomID)
	return s.Get(ctx, roomID, actor)
}
