package repository

import (
	"context"
	"sync"
	"time"
)

// DenylistStore is the fast-path revocation check. Entries live for the
// remaining lifetime of the revoked token and then disappear on their own.
type DenylistStore interface {
	Add(ctx context.Context, tokenUID string, ttl time.Duration) error
	Contains(ctx context.Context, tokenUID string) (bool, error)
}

// InMemoryDenylistStore is a single-process DenylistStore for local runs and
// tests.
type InMemoryDenylistStore struct {
	mu    sync.RWMutex
	store map[string]time.Time
	now   func() time.Time
}

func NewInMemoryDenylistStore() *InMemoryDenylistStore {
	return &InMemoryDenylistStore{
		store: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (s *InMemoryDenylistStore) WithClock(now func() time.Time) *InMemoryDenylistStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *InMemoryDenylistStore) Add(_ context.Context, tokenUID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[tokenUID] = s.now().Add(ttl)
	return nil
}

func (s *InMemoryDenylistStore) Contains(_ context.Context, tokenUID string) (bool, error) {
	now := s.now()
	s.mu.RLock()
	expiresAt, ok := s.store[tokenUID]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if !now.Before(expiresAt) {
		s.mu.Lock()
		if current, ok2 := s.store[tokenUID]; ok2 && !now.Before(current) {
			delete(s.store, tokenUID)
		}
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Len counts entries including ones that expired but were not read since.
func (s *InMemoryDenylistStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.store)
}
