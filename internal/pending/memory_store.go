package pending

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and local development.
type MemoryStore struct {
	mu     sync.Mutex
	recs   map[string]Record
	maxAge time.Duration
	clock  func() time.Time
}

// NewMemoryStore builds an empty MemoryStore with the default window.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs:   map[string]Record{},
		maxAge: DefaultMaxAge,
		clock:  time.Now,
	}
}

// SetClock overrides the staleness clock, used by tests.
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	s.clock = clock
	s.mu.Unlock()
}

func (s *MemoryStore) Get(ctx context.Context, visitID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[visitID]
	if !ok {
		return nil, nil
	}
	if rec.Age(s.clock()) > s.maxAge {
		delete(s.recs, visitID)
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (s *MemoryStore) Put(ctx context.Context, visitID string, rec Record) error {
	s.mu.Lock()
	s.recs[visitID] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, visitID string) error {
	s.mu.Lock()
	delete(s.recs, visitID)
	s.mu.Unlock()
	return nil
}
