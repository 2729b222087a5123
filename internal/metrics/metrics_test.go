package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, status string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, Transactions.WithLabelValues(status).Write(&m))
	return m.GetCounter().GetValue()
}

func TestTransactionsCounter(t *testing.T) {
	before := counterValue(t, "confirmed")
	Transactions.WithLabelValues("confirmed").Inc()
	assert.Equal(t, before+1, counterValue(t, "confirmed"))
}

func TestGinMiddleware_RecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	scrape := httptest.NewRecorder()
	Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `lumenlock_http_request_duration_seconds_count{code="200",method="GET",route="/healthz"}`)
}

func TestHandler_Scrapes(t *testing.T) {
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lumenlock_transactions_total")
}
