package account

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory account store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates a new in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(ctx context.Context, publicKey string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[publicKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.PublicKey]; ok {
		return fmt.Errorf("account: already exists")
	}
	cp := *rec
	s.records[rec.PublicKey] = &cp
	return nil
}

func (s *MemoryStore) CompareAndUpdate(ctx context.Context, rec *Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.PublicKey]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		cp := *cur
		return &ConflictError{Current: &cp}
	}
	cp := *rec
	s.records[rec.PublicKey] = &cp
	return nil
}
