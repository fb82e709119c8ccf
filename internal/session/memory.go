package session

import (
	"context"
	"sync"
	"time"

	"github.com/coursequery/coursequery/internal/metrics"
)

// MemoryStore is the in-process store for single-node deployments.
type MemoryStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	state  *State
	expiry time.Time
}

// NewMemoryStore creates a store that expires sessions after ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(e.expiry) {
		delete(s.entries, id)
		metrics.SessionsExpired.Inc()
		return nil, ErrNotFound
	}
	cp := *e.state
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, existed := s.entries[state.ID]; !existed {
		metrics.SessionsCreated.Inc()
	}
	state.UpdatedAt = time.Now()
	cp := *state
	s.entries[state.ID] = memoryEntry{state: &cp, expiry: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.expiry = time.Now().Add(s.ttl)
	s.entries[id] = e
	return nil
}

// Sweep drops expired entries; callers run it periodically.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	dropped := 0
	for id, e := range s.entries {
		if now.After(e.expiry) {
			delete(s.entries, id)
			dropped++
		}
	}
	if dropped > 0 {
		metrics.SessionsExpired.Add(float64(dropped))
	}
	return dropped
}
