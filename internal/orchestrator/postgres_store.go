package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists intents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed intent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, it *Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_intents
			(id, kind, escrow_id, payload, status, hash, retry_count, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		it.ID, it.Kind, it.EscrowID, []byte(it.Payload), it.Status, it.Hash,
		it.RetryCount, it.LastError, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, escrow_id, payload, status, hash, retry_count, last_error, created_at, updated_at
		FROM transaction_intents WHERE id = $1`, id)

	var it Intent
	var payload []byte
	err := row.Scan(&it.ID, &it.Kind, &it.EscrowID, &payload, &it.Status,
		&it.Hash, &it.RetryCount, &it.LastError, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan intent: %w", err)
	}
	it.Payload = payload
	return &it, nil
}

func (s *PostgresStore) Update(ctx context.Context, it *Intent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transaction_intents
		SET escrow_id = $1, status = $2, hash = $3, retry_count = $4, last_error = $5, updated_at = $6
		WHERE id = $7`,
		it.EscrowID, it.Status, it.Hash, it.RetryCount, it.LastError, it.UpdatedAt, it.ID)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	if affected == 0 {
		return ErrIntentNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]*Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, escrow_id, payload, status, hash, retry_count, last_error, created_at, updated_at
		FROM transaction_intents
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	defer rows.Close()

	var out []*Intent
	for rows.Next() {
		var it Intent
		var payload []byte
		if err := rows.Scan(&it.ID, &it.Kind, &it.EscrowID, &payload, &it.Status,
			&it.Hash, &it.RetryCount, &it.LastError, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		it.Payload = payload
		out = append(out, &it)
	}
	return out, rows.Err()
}
