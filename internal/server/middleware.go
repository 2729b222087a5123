package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lumenlock/lumenlock/internal/logging"
)

const ctxPublicKey = "publicKey"

// requestLogger attaches a request ID and logs each request's outcome.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)
		c.Request = c.Request.WithContext(
			logging.WithRequestID(c.Request.Context(), reqID))

		start := time.Now()
		c.Next()

		logger.Info("request",
			"request_id", reqID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// requireSession validates the bearer token and stashes the caller's
// public key in the request context.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		publicKey, err := s.binder.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		c.Set(ctxPublicKey, publicKey)
		c.Next()
	}
}

// callerKey returns the authenticated public key set by requireSession.
func callerKey(c *gin.Context) string {
	return c.GetString(ctxPublicKey)
}
