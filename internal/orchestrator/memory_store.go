package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory intent store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*Intent
}

// NewMemoryStore creates a new in-memory intent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*Intent)}
}

func (s *MemoryStore) Create(ctx context.Context, it *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[it.ID]; ok {
		return fmt.Errorf("orchestrator: intent %s already exists", it.ID)
	}
	cp := *it
	s.intents[it.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, it *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[it.ID]; !ok {
		return ErrIntentNotFound
	}
	cp := *it
	s.intents[it.ID] = &cp
	return nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Intent, 0, len(s.intents))
	for _, it := range s.intents {
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
