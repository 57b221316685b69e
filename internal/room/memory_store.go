package room

import (
	"context"
	"sync"

	"slateboard/core/internal/permission"
)

// MemoryStore is an in-process Remote for tests. FailReads/FailWrites
// simulate an unreachable remote so degraded-mode behavior can be
// exercised deterministically.
type MemoryStore struct {
	mu         sync.Mutex
	records    map[string]permission.Record
	FailReads  error
	FailWrites error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]permission.Record)}
}

func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (permission.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return permission.Record{}, s.FailReads
	}
	rec, ok := s.records[roomID]
	if !ok {
		return permission.Record{}, permission.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) PutRoom(_ context.Context, roomID string, rec permission.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	s.records[roomID] = rec
	return nil
}
