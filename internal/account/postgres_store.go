package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists accounts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, publicKey string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_key, display_name, created_at, updated_at, version
		FROM accounts WHERE public_key = $1`, publicKey)

	var rec Record
	err := row.Scan(&rec.PublicKey, &rec.DisplayName, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (public_key, display_name, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.PublicKey, rec.DisplayName, rec.CreatedAt, rec.UpdatedAt, rec.Version)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) CompareAndUpdate(ctx context.Context, rec *Record, expectedVersion int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET display_name = $1, updated_at = $2, version = $3
		WHERE public_key = $4 AND version = $5`,
		rec.DisplayName, rec.UpdatedAt, rec.Version, rec.PublicKey, expectedVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if affected == 1 {
		return nil
	}

	// Conditional write matched nothing: either the record is gone or
	// another writer advanced the version first.
	cur, getErr := s.Get(ctx, rec.PublicKey)
	if getErr != nil {
		return getErr
	}
	return &ConflictError{Current: cur}
}
