// Package account persists account records keyed by wallet public key.
//
// Records use optimistic versioning rather than locks: multiple browser
// tabs may hold independent processes against the same persistent store,
// so writers present the version they read and are rejected on mismatch.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenlock/lumenlock/internal/retry"
	"github.com/lumenlock/lumenlock/internal/strkey"
)

var (
	ErrNotFound    = errors.New("account: not found")
	ErrUnavailable = errors.New("account: store unavailable")
	ErrConflict    = errors.New("account: version conflict")
)

// ConflictError reports a version mismatch and carries the committed
// record so the caller can retry with the fresh version.
type ConflictError struct {
	Current *Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("account: version conflict, current version is %d", e.Current.Version)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Record is an account keyed by its wallet public key. Version increments
// by exactly 1 on every successful write.
type Record struct {
	PublicKey   string    `json:"public_key"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

// Store persists account records. Reads see the last-committed version
// and never block on writers.
type Store interface {
	Get(ctx context.Context, publicKey string) (*Record, error)
	Create(ctx context.Context, rec *Record) error
	// CompareAndUpdate persists rec only when the stored version equals
	// expectedVersion. rec.Version must already be expectedVersion+1.
	// On mismatch it fails with a *ConflictError carrying the committed
	// record.
	CompareAndUpdate(ctx context.Context, rec *Record, expectedVersion int64) error
}

// Mutator applies an in-place change to a record copy before commit.
type Mutator func(*Record) error

// Service wraps a Store with the platform's account semantics.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates an account service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// LoadOrCreate returns the existing record for a public key or creates a
// fresh one at version 0.
func (s *Service) LoadOrCreate(ctx context.Context, publicKey string) (*Record, error) {
	if !strkey.IsValid(publicKey) {
		return nil, fmt.Errorf("%w: malformed public key", ErrNotFound)
	}

	rec, err := s.store.Get(ctx, publicKey)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	rec = &Record{
		PublicKey:   publicKey,
		DisplayName: defaultDisplayName(publicKey),
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     0,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		// Another tab may have created it between Get and Create.
		if existing, getErr := s.store.Get(ctx, publicKey); getErr == nil {
			return existing, nil
		}
		return nil, err
	}

	s.logger.Info("account created", "public_key", publicKey)
	return rec, nil
}

// Update applies mutate to the record only when the stored version equals
// expectedVersion. On mismatch it fails with a ConflictError carrying the
// committed record; the caller decides whether to retry with the fresh
// version.
func (s *Service) Update(ctx context.Context, publicKey string, mutate Mutator, expectedVersion int64) (*Record, error) {
	cur, err := s.store.Get(ctx, publicKey)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, &ConflictError{Current: cur}
	}

	next := *cur
	if err := mutate(&next); err != nil {
		return nil, err
	}
	next.PublicKey = cur.PublicKey // key is immutable
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now()

	if err := s.store.CompareAndUpdate(ctx, &next, expectedVersion); err != nil {
		return nil, err
	}
	return &next, nil
}

// UpdateWithRetry is Update plus one local retry with a refreshed version
// on conflict, per the platform's store-conflict policy.
func (s *Service) UpdateWithRetry(ctx context.Context, publicKey string, mutate Mutator, expectedVersion int64) (*Record, error) {
	version := expectedVersion
	var updated *Record

	err := retry.Conflict.Do(ctx, func() error {
		rec, err := s.Update(ctx, publicKey, mutate, version)
		if err != nil {
			var ce *ConflictError
			if errors.As(err, &ce) {
				version = ce.Current.Version
				return err
			}
			return retry.Permanent(err)
		}
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func defaultDisplayName(publicKey string) string {
	if len(publicKey) < 8 {
		return publicKey
	}
	return publicKey[:4] + "…" + publicKey[len(publicKey)-4:]
}
