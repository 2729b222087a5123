// Command migrate applies or rolls back database migrations.
//
//	migrate up    apply all pending migrations (default)
//	migrate down  roll back the most recent migration
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lumenlock/lumenlock/internal/config"
	"github.com/lumenlock/lumenlock/internal/db"
	"github.com/lumenlock/lumenlock/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
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

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	switch direction {
	case "up":
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	case "down":
		if err := db.MigrateDown(ctx, pool); err != nil {
			return err
		}
		logger.Info("migration rolled back")
	default:
		return fmt.Errorf("unknown direction %q, want up or down", direction)
	}
	return nil
}
