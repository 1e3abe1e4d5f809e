package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.AuthEvent("login", OutcomeSuccess)
		m.TokenCheck("ok")
		m.ObserveRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
		m.RevocationsPurged(3)
	})
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()

	m.AuthEvent("login", OutcomeSuccess)
	m.AuthEvent("login", OutcomeSuccess)
	m.AuthEvent("login", OutcomeFailure)
	m.TokenCheck("revoked")
	m.RevocationsPurged(4)
	m.RevocationsPurged(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authEvents.WithLabelValues("login", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authEvents.WithLabelValues("login", OutcomeFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenCheck.WithLabelValues("revoked")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.purged))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodPost, "/auth/login", http.StatusUnauthorized, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `admissions_http_requests_total{method="POST",route="/auth/login",status="401"} 1`)
}
