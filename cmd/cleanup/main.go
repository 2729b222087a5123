// Command cleanup wipes demo data from the database so a fresh walkthrough
// starts from a clean slate.
//
// It always targets the same three collections: accounts,
// escrow_agreements, and transaction_intents. Deletes run in batches so a
// large demo table never holds a long lock. A collection that fails to
// clean is logged and skipped; the command still visits the rest and exits
// non-zero only when nothing could be done at all.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/lumenlock/lumenlock/internal/config"
	"github.com/lumenlock/lumenlock/internal/db"
	"github.com/lumenlock/lumenlock/internal/logging"
)

const batchSize = 500

var collections = []string{"transaction_intents", "escrow_agreements", "accounts"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "cleanup:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	start := time.Now()
	total := int64(0)
	failures := 0
	for _, table := range collections {
		deleted, err := cleanTable(ctx, pool, table)
		if err != nil {
			failures++
			logger.Error("collection cleanup failed", "collection", table, "deleted", deleted, "error", err)
			continue
		}
		total += deleted
		logger.Info("collection cleaned", "collection", table, "deleted", deleted)
	}

	logger.Info("cleanup finished",
		"total_deleted", total,
		"collections", len(collections),
		"failures", failures,
		"duration", time.Since(start),
	)

	if failures == len(collections) {
		return fmt.Errorf("all %d collections failed to clean", failures)
	}
	return nil
}

// cleanTable deletes all rows in batches and returns how many went.
func cleanTable(ctx context.Context, pool *sql.DB, table string) (int64, error) {
	var total int64
	for {
		// ctid batching keeps each delete short-lived.
		res, err := pool.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE ctid IN (SELECT ctid FROM %s LIMIT %d)`,
			table, table, batchSize))
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < batchSize {
			return total, nil
		}
	}
}
