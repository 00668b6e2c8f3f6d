package memstore

import (
	"context"
	"sync"
	"time"
)

// ProcessedEventStore keeps processed event keys in memory. It does not
// survive restarts and is only allowed outside production.
type ProcessedEventStore struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

// NewProcessedEventStore creates an empty store
func NewProcessedEventStore() *ProcessedEventStore {
	return &ProcessedEventStore{
		keys: make(map[string]time.Time),
		now:  time.Now,
	}
}

// SetClock overrides the time source used for expiry
func (s *ProcessedEventStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Exists reports whether key was marked and has not expired
func (s *ProcessedEventStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.keys[key]
	if !ok {
		return false, nil
	}
	if !expiresAt.After(s.now()) {
		delete(s.keys, key)
		return false, nil
	}
	return true, nil
}

// Mark records key until ttl elapses
func (s *ProcessedEventStore) Mark(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = s.now().Add(ttl)
	return nil
}

// Purge deletes keys that expire before the cutoff and returns how many were removed
func (s *ProcessedEventStore) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, expiresAt := range s.keys {
		if expiresAt.Before(before) {
			delete(s.keys, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored keys, expired ones included
func (s *ProcessedEventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
