package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/api/receipts/{receiptID}")
	req := httptest.NewRequest(http.MethodGet, "/api/receipts/r1", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `groupspend_http_requests_total{code="418",route="/api/receipts/{receiptID}"} 1`)
	require.Contains(t, body, `groupspend_http_request_duration_seconds_bucket{route="/api/receipts/{receiptID}"`)
}

func TestDomainRecorders(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveReceiptCreated("manual")
	metrics.ObserveReceiptCreated("extraction")
	metrics.ObserveReceiptCreated("extraction")
	metrics.ObserveExtraction("failed")
	metrics.ObserveSplitReplace("ok", 3, 20*time.Millisecond)
	metrics.ObserveSplitReplace("rejected", 1, time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.receipts.WithLabelValues("extraction")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.extractions.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.splits.WithLabelValues("rejected")))
	require.Contains(t, scrape(t, metrics), "groupspend_split_expenses_count 2")
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveReceiptCreated("manual")
	metrics.ObserveExtraction("ok")
	metrics.ObserveSplitReplace("ok", 1, time.Second)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsMiddlewareDefaultsStatusAndRoute(t *testing.T) {
	metrics := NewMetrics()
	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.requests.WithLabelValues("unknown", "200")))
	require.Equal(t, 0.0, testutil.ToFloat64(metrics.inFlight))
	require.Contains(t, scrape(t, metrics), "go_goroutines")
}

func TestJobCollectorsShareRegistry(t *testing.T) {
	metrics := NewMetrics()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "groupspend_test_total", Help: "test"})
	metrics.Registerer().MustRegister(counter)
	counter.Inc()
	require.Contains(t, scrape(t, metrics), "groupspend_test_total 1")
}
