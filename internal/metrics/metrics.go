// Package metrics exposes Prometheus instrumentation for the platform.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lumenlock"

var (
	// WalletConnects counts connect attempts by outcome
	// (connected, not_installed, user_rejected, network_mismatch, timeout).
	WalletConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "wallet_connects_total",
		Help:      "Wallet connect attempts by outcome.",
	}, []string{"status"})

	// Transactions counts orchestrated submissions by final status.
	Transactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Transaction submissions by final status.",
	}, []string{"status"})

	// Escrows counts escrow state transitions by resulting status.
	Escrows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrows_total",
		Help:      "Escrow agreement transitions by resulting status.",
	}, []string{"status"})

	// ActiveSessions tracks live wallet sessions (0 or 1 per process).
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_wallet_sessions",
		Help:      "Number of live wallet sessions.",
	})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinMiddleware records request latency per route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
