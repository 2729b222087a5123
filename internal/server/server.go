// Package server exposes the platform over HTTP: wallet session control,
// challenge-response auth, account records, escrow agreements, and the
// transaction intent pipeline.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lumenlock/lumenlock/internal/account"
	"github.com/lumenlock/lumenlock/internal/auth"
	"github.com/lumenlock/lumenlock/internal/config"
	"github.com/lumenlock/lumenlock/internal/escrow"
	"github.com/lumenlock/lumenlock/internal/metrics"
	"github.com/lumenlock/lumenlock/internal/orchestrator"
	"github.com/lumenlock/lumenlock/internal/realtime"
	"github.com/lumenlock/lumenlock/internal/wallet"
)

// Server wires the HTTP surface to the core services.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	binder   *auth.Binder
	wallet   *wallet.Manager
	accounts *account.Service
	escrows  *escrow.Service
	orch     *orchestrator.Orchestrator
	hub      *realtime.Hub

	engine *gin.Engine
	http   *http.Server
}

// New creates a server with all routes registered.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	binder *auth.Binder,
	w *wallet.Manager,
	accounts *account.Service,
	escrows *escrow.Service,
	orch *orchestrator.Orchestrator,
	hub *realtime.Hub,
) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		binder:   binder,
		wallet:   w,
		accounts: accounts,
		escrows:  escrows,
		orch:     orch,
		hub:      hub,
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.Use(metrics.GinMiddleware())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", s.hub.HandleWS)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/challenge", s.handleChallenge)
		authGroup.POST("/verify", s.handleVerify)
	}

	walletGroup := r.Group("/wallet")
	{
		walletGroup.POST("/connect", s.handleConnect)
		walletGroup.POST("/disconnect", s.handleDisconnect)
		walletGroup.GET("/session", s.handleSession)
	}

	api := r.Group("/api", s.requireSession())
	{
		api.GET("/account", s.handleGetAccount)
		api.PUT("/account", s.handleUpdateAccount)
		api.GET("/escrows", s.handleListEscrows)
		api.GET("/escrows/:id", s.handleGetEscrow)
		api.POST("/intents", s.handleCreateIntent)
		api.GET("/intents", s.handleListIntents)
		api.GET("/intents/:id", s.handleGetIntent)
		api.POST("/intents/:id/submit", s.handleSubmitIntent)
	}

	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("http server draining")
	return s.http.Shutdown(shutdownCtx)
}
