package escrow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PostgresStore persists agreements in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed agreement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, a *Agreement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrow_agreements
			(id, buyer, seller, amount, asset, deadline, status, resolution, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Buyer, a.Seller, a.Amount.String(), a.Asset, a.Deadline,
		a.Status, a.Resolution, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agreement: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Agreement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, buyer, seller, amount, asset, deadline, status, resolution, created_at, updated_at
		FROM escrow_agreements WHERE id = $1`, id)
	return scanAgreement(row)
}

func (s *PostgresStore) Update(ctx context.Context, a *Agreement) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escrow_agreements
		SET status = $1, resolution = $2, updated_at = $3
		WHERE id = $4`,
		a.Status, a.Resolution, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update agreement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update agreement: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByParty(ctx context.Context, publicKey string, limit int) ([]*Agreement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer, seller, amount, asset, deadline, status, resolution, created_at, updated_at
		FROM escrow_agreements
		WHERE buyer = $1 OR seller = $1
		ORDER BY created_at DESC
		LIMIT $2`, publicKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list agreements: %w", err)
	}
	defer rows.Close()
	return collectAgreements(rows)
}

func (s *PostgresStore) ListRefundEligible(ctx context.Context, before time.Time, limit int) ([]*Agreement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer, seller, amount, asset, deadline, status, resolution, created_at, updated_at
		FROM escrow_agreements
		WHERE status = $1 AND deadline < $2
		ORDER BY deadline ASC
		LIMIT $3`, StatusFunded, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list refund eligible: %w", err)
	}
	defer rows.Close()
	return collectAgreements(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (*Agreement, error) {
	var a Agreement
	var amount string
	var resolution sql.NullString
	err := row.Scan(&a.ID, &a.Buyer, &a.Seller, &amount, &a.Asset,
		&a.Deadline, &a.Status, &resolution, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agreement: %w", err)
	}
	a.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if resolution.Valid {
		a.Resolution = Outcome(resolution.String)
	}
	return &a, nil
}

func collectAgreements(rows *sql.Rows) ([]*Agreement, error) {
	var out []*Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
