package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process Store for tests and local development.
type MemoryStore struct {
	mu    sync.Mutex
	held  map[string]time.Time
	lease time.Duration
	now   func() time.Time
}

func NewMemoryStore(lease time.Duration) *MemoryStore {
	return &MemoryStore{held: make(map[string]time.Time), lease: lease, now: time.Now}
}

func (s *MemoryStore) Acquire(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heldLocked(id) {
		return false, nil
	}
	s.held[id] = s.now()
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.held, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Held(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heldLocked(id), nil
}

func (s *MemoryStore) heldLocked(id string) bool {
	at, ok := s.held[id]
	if !ok {
		return false
	}
	if s.lease > 0 && s.now().Sub(at) >= s.lease {
		delete(s.held, id)
		return false
	}
	return true
}
