// Package testutil provides shared helpers for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/lumenlock/lumenlock/internal/db"
)

// tables cleaned between Postgres-backed tests.
var tables = []string{"accounts", "escrow_agreements", "transaction_intents"}

// PostgresDB returns a migrated database handle, or skips the test when
// POSTGRES_URL is not set. Tables are truncated before the test runs.
func PostgresDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("POSTGRES_URL not set, skipping Postgres-backed test")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, table := range tables {
		if _, err := pool.ExecContext(ctx, "TRUNCATE TABLE "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return pool
}
