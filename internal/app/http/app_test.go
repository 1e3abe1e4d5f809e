package httpapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"admissions/internal/http/middleware/authgate"
	"admissions/internal/lib/logger/handlers/slogdiscard"
	"admissions/internal/lib/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newRouter(t *testing.T, health Pinger) http.Handler {
	t.Helper()
	log := slogdiscard.NewDiscardLogger()
	return NewRouter(log, RouterConfig{
		Gate:    authgate.New(log, nil, authgate.Options{}, nil),
		Health:  health,
		Metrics: metrics.New(),
	})
}

func TestHealth(t *testing.T) {
	ok := newRouter(t, pingFunc(func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := newRouter(t, pingFunc(func(context.Context) error { return errors.New("database is closed") }))
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndGate(t *testing.T) {
	r := newRouter(t, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/protected", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `admissions_token_checks_total{result="missing_token"} 1`)
}
