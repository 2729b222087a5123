// Command server runs the LumenLock escrow platform: wallet session
// control, challenge-response auth, the transaction intent pipeline, and
// the websocket event feed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/lumenlock/lumenlock/internal/account"
	"github.com/lumenlock/lumenlock/internal/auth"
	"github.com/lumenlock/lumenlock/internal/config"
	"github.com/lumenlock/lumenlock/internal/db"
	"github.com/lumenlock/lumenlock/internal/escrow"
	"github.com/lumenlock/lumenlock/internal/events"
	"github.com/lumenlock/lumenlock/internal/ledger"
	"github.com/lumenlock/lumenlock/internal/logging"
	"github.com/lumenlock/lumenlock/internal/orchestrator"
	"github.com/lumenlock/lumenlock/internal/realtime"
	"github.com/lumenlock/lumenlock/internal/server"
	"github.com/lumenlock/lumenlock/internal/wallet"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(logger)
	defer bus.Close()

	// Stores: Postgres when configured, in-memory for the demo.
	var (
		accountStore account.Store
		escrowStore  escrow.Store
		intentStore  orchestrator.Store
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		accountStore = account.NewPostgresStore(pool)
		escrowStore = escrow.NewPostgresStore(pool)
		intentStore = orchestrator.NewPostgresStore(pool)
		logger.Info("using postgres stores")
	} else {
		accountStore = account.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		intentStore = orchestrator.NewMemoryStore()
		logger.Info("using in-memory stores")
	}

	var authStore auth.Store
	if cfg.RedisURL != "" {
		rs, err := auth.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		authStore = rs
		logger.Info("using redis auth store")
	} else {
		authStore = auth.NewMemoryStore()
	}

	binder := auth.NewBinder(authStore, cfg.TokenSecret, logger,
		auth.WithChallengeTTL(cfg.ChallengeTTL),
		auth.WithSessionTTL(cfg.SessionTTL),
	)

	hub := realtime.NewHub(logger)

	local, err := wallet.NewLocalAdapter(cfg.NetworkPassphrase)
	if err != nil {
		return err
	}
	adapters := []wallet.Adapter{
		local,
		wallet.NewBridgeAdapter(wallet.KindFreighter, hub),
		wallet.NewBridgeAdapter(wallet.KindAlbedo, hub),
		wallet.NewBridgeAdapter(wallet.KindXBull, hub),
	}

	manager := wallet.NewManager(adapters, cfg.NetworkPassphrase, bus, logger,
		wallet.WithSignTimeout(cfg.SignTimeout),
		wallet.OnDisconnect(func(publicKey string) {
			if err := binder.Invalidate(context.Background(), publicKey); err != nil {
				logger.Warn("session invalidation failed", "public_key", publicKey, "error", err)
			}
		}),
	)

	escrows := escrow.NewService(escrowStore, bus, logger)
	client := ledger.NewHTTPClient(cfg.HorizonURL)
	orch := orchestrator.New(intentStore, manager, client, escrows, bus, logger)
	monitor := escrow.NewMonitor(escrowStore, bus, logger, cfg.RefundScanInterval)

	accounts := account.NewService(accountStore, logger)
	srv := server.New(cfg, logger, binder, manager, accounts, escrows, orch, hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx, bus) })
	g.Go(func() error { monitor.Run(gctx); return nil })

	logger.Info("lumenlock started", "env", cfg.Env, "network", cfg.NetworkPassphrase)
	return g.Wait()
}
