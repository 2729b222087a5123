package escrow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory agreement store for demo/development mode.
type MemoryStore struct {
	mu         sync.RWMutex
	agreements map[string]*Agreement
}

// NewMemoryStore creates a new in-memory agreement store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agreements: make(map[string]*Agreement)}
}

func (s *MemoryStore) Create(ctx context.Context, a *Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agreements[a.ID]; ok {
		return fmt.Errorf("escrow: agreement %s already exists", a.ID)
	}
	cp := *a
	s.agreements[a.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agreements[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) Update(ctx context.Context, a *Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agreements[a.ID]; !ok {
		return ErrNotFound
	}
	cp := *a
	s.agreements[a.ID] = &cp
	return nil
}

func (s *MemoryStore) ListByParty(ctx context.Context, publicKey string, limit int) ([]*Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Agreement
	for _, a := range s.agreements {
		if a.Buyer == publicKey || a.Seller == publicKey {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListRefundEligible(ctx context.Context, before time.Time, limit int) ([]*Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Agreement
	for _, a := range s.agreements {
		if a.Status == StatusFunded && a.Deadline.Before(before) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
