package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory auth store for demo/development mode.
type MemoryStore struct {
	mu      sync.Mutex
	nonces  map[string]time.Time // publicKey:nonce -> expiry
	active  map[string]string    // publicKey -> active token ID
	expires map[string]time.Time // publicKey -> active session expiry
}

// NewMemoryStore creates a new in-memory auth store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nonces:  make(map[string]time.Time),
		active:  make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (s *MemoryStore) PutNonce(ctx context.Context, publicKey, nonce string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonceKey(publicKey, nonce)] = expiresAt
	return nil
}

func (s *MemoryStore) ConsumeNonce(ctx context.Context, publicKey, nonce string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nonceKey(publicKey, nonce)
	expiresAt, ok := s.nonces[key]
	if !ok {
		return time.Time{}, false, nil
	}
	delete(s.nonces, key)
	return expiresAt, true, nil
}

func (s *MemoryStore) SetActive(ctx context.Context, publicKey, tokenID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[publicKey] = tokenID
	s.expires[publicKey] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) ActiveTokenID(ctx context.Context, publicKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exp, ok := s.expires[publicKey]; ok && time.Now().After(exp) {
		delete(s.active, publicKey)
		delete(s.expires, publicKey)
		return "", nil
	}
	return s.active[publicKey], nil
}

func (s *MemoryStore) Revoke(ctx context.Context, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, publicKey)
	delete(s.expires, publicKey)
	return nil
}
