package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lumenlock/lumenlock/internal/account"
	"github.com/lumenlock/lumenlock/internal/auth"
	"github.com/lumenlock/lumenlock/internal/escrow"
	"github.com/lumenlock/lumenlock/internal/ledger"
	"github.com/lumenlock/lumenlock/internal/metrics"
	"github.com/lumenlock/lumenlock/internal/orchestrator"
	"github.com/lumenlock/lumenlock/internal/wallet"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "wallet": s.wallet.State()})
}

type challengeRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
}

func (s *Server) handleChallenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch, err := s.binder.Challenge(c.Request.Context(), req.PublicKey)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, ch)
}

type verifyRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"` // base64
}

func (s *Server) handleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature must be base64"})
		return
	}

	sess, err := s.binder.Verify(c.Request.Context(), req.PublicKey, req.Nonce, sig)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type connectRequest struct {
	Provider string `json:"provider" binding:"required"`
}

func (s *Server) handleConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := wallet.ParseKind(req.Provider)
	if kind == wallet.KindUnknown {
		metrics.WalletConnects.WithLabelValues("unknown_provider").Inc()
		s.renderError(c, wallet.ErrUnknownProvider)
		return
	}

	sess, err := s.wallet.Connect(c.Request.Context(), kind)
	if err != nil {
		metrics.WalletConnects.WithLabelValues(connectOutcome(err)).Inc()
		s.renderError(c, err)
		return
	}

	metrics.WalletConnects.WithLabelValues("connected").Inc()
	metrics.ActiveSessions.Set(1)

	// Surface the account record alongside the session so the browser can
	// render a profile immediately after connecting.
	rec, err := s.accounts.LoadOrCreate(c.Request.Context(), sess.PublicKey)
	if err != nil {
		s.logger.Warn("account load after connect failed", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "account": rec})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	s.wallet.Disconnect()
	metrics.ActiveSessions.Set(0)
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (s *Server) handleSession(c *gin.Context) {
	sess := s.wallet.Session()
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"state": s.wallet.State()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.wallet.State(), "session": sess})
}

func (s *Server) handleGetAccount(c *gin.Context) {
	rec, err := s.accounts.LoadOrCreate(c.Request.Context(), callerKey(c))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type updateAccountRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
	Version     int64  `json:"version"`
}

func (s *Server) handleUpdateAccount(c *gin.Context) {
	var req updateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := s.accounts.Update(c.Request.Context(), callerKey(c), func(r *account.Record) error {
		r.DisplayName = req.DisplayName
		return nil
	}, req.Version)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListEscrows(c *gin.Context) {
	list, err := s.escrows.ListByParty(c.Request.Context(), callerKey(c), 50)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"escrows": list})
}

func (s *Server) handleGetEscrow(c *gin.Context) {
	a, err := s.escrows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type createIntentRequest struct {
	Kind     string          `json:"kind" binding:"required"`
	EscrowID string          `json:"escrow_id"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) handleCreateIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind, err := orchestrator.ParseKind(req.Kind)
	if err != nil {
		s.renderError(c, err)
		return
	}

	it, err := s.orch.CreateIntent(c.Request.Context(), kind, req.EscrowID, req.Payload)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (s *Server) handleListIntents(c *gin.Context) {
	list, err := s.orch.List(c.Request.Context(), 50)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intents": list})
}

func (s *Server) handleGetIntent(c *gin.Context) {
	it, err := s.orch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (s *Server) handleSubmitIntent(c *gin.Context) {
	it, err := s.orch.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

// renderError maps the error taxonomies onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	var conflict *account.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "current": conflict.Current})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wallet.ErrUnknownProvider),
		errors.Is(err, orchestrator.ErrUnknownKind):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrSessionRevoked):
		status = http.StatusUnauthorized
	case errors.Is(err, wallet.ErrUserRejected):
		status = http.StatusForbidden
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, orchestrator.ErrIntentNotFound),
		errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, wallet.ErrTimeout):
		status = http.StatusRequestTimeout
	case errors.Is(err, wallet.ErrAlreadyConnected),
		errors.Is(err, wallet.ErrNotConnected),
		errors.Is(err, wallet.ErrNetworkMismatch),
		errors.Is(err, auth.ErrReplayedNonce),
		errors.Is(err, escrow.ErrInvalidTransition),
		errors.Is(err, escrow.ErrAlreadyResolved),
		errors.Is(err, ledger.ErrSequenceConflict):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrExpiredChallenge):
		status = http.StatusGone
	case errors.Is(err, wallet.ErrNotInstalled),
		errors.Is(err, escrow.ErrDeadlineNotPassed),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrNetworkUnavailable),
		errors.Is(err, account.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrTimeout):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// connectOutcome names a connect failure for the metrics counter.
func connectOutcome(err error) string {
	switch {
	case errors.Is(err, wallet.ErrNotInstalled):
		return "not_installed"
	case errors.Is(err, wallet.ErrUserRejected):
		return "user_rejected"
	case errors.Is(err, wallet.ErrNetworkMismatch):
		return "network_mismatch"
	case errors.Is(err, wallet.ErrTimeout):
		return "timeout"
	case errors.Is(err, wallet.ErrAlreadyConnected):
		return "already_connected"
	default:
		return "error"
	}
}
