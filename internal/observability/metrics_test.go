package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/ledger/testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesComponentCollectors(t *testing.T) {
	metrics := NewMetrics()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_test_events_total", Help: "test"})
	require.NoError(t, metrics.Registerer().Register(counter))
	counter.Inc()

	body := scrape(t, metrics)
	assert.Contains(t, body, "ledger_test_events_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `ledger_ops_http_requests_total{code="418",method="GET",route="/test"} 1`)
	assert.Contains(t, body, `ledger_ops_http_request_duration_seconds_bucket{route="/test"`)
	assert.Contains(t, body, "ledger_ops_http_in_flight_requests 0")
}

func TestMetricsMiddlewareDefaultsStatusAndRoute(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/tenants/7/trial-balance", nil))

	body := scrape(t, metrics)
	assert.Contains(t, body, `ledger_ops_http_requests_total{code="200",method="POST",route="unmatched"} 1`)
	assert.NotContains(t, body, "/tenants/7")
}

func TestObserveDependency(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveDependency("postgres", true)
	metrics.ObserveDependency("redis", false)

	body := scrape(t, metrics)
	assert.Contains(t, body, `ledger_dependency_up{dependency="postgres"} 1`)
	assert.Contains(t, body, `ledger_dependency_up{dependency="redis"} 0`)

	var none *Metrics
	none.ObserveDependency("postgres", true)
}

func TestNilMetricsIsUnavailable(t *testing.T) {
	var metrics *Metrics
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, prometheus.DefaultRegisterer, metrics.Registerer())
}
