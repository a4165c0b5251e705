package store

import (
	"context"
	"sync"

	"margin_sim/internal/core"
)

// MemoryStore implements core.IProfileStore in memory.
type MemoryStore struct {
	profiles map[string]*core.ProfileState
	mu       sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*core.ProfileState),
	}
}

func (s *MemoryStore) SaveProfile(ctx context.Context, id string, state *core.ProfileState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[id] = state
	return nil
}

func (s *MemoryStore) LoadProfile(ctx context.Context, id string) (*core.ProfileState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[id], nil
}

func (s *MemoryStore) Close() error {
	return nil
}
