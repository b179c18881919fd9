// Package observability wires Prometheus collectors for the HTTP surface and
// the domain services.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "groupspend"

// Metrics owns a private registry. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	inFlight    prometheus.Gauge
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	receipts    *prometheus.CounterVec
	extractions *prometheus.CounterVec

	splits        *prometheus.CounterVec
	splitExpenses prometheus.Histogram
	splitDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_in_flight",
			Help: "Requests currently being served.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request duration per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "receipts_created_total",
			Help: "Receipts stored, by how they were entered.",
		}, []string{"source"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "extractions_total",
			Help: "Receipt image extractions by outcome.",
		}, []string{"outcome"}),
		splits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "split_replacements_total",
			Help: "Expense set replacements by outcome.",
		}, []string{"outcome"}),
		splitExpenses: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "split_expenses",
			Help:    "Number of expenses submitted per replacement.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
		splitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "split_replace_duration_seconds",
			Help:    "Duration of expense set replacement.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inFlight, m.requests, m.latency,
		m.receipts, m.extractions,
		m.splits, m.splitExpenses, m.splitDuration,
	)
	return m
}

// Registerer lets other packages add collectors to the same registry.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// Handler serves the registry, or 503 on a nil receiver.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware labels requests by chi route pattern so path parameters do not
// explode cardinality. The pattern is read after the handler returns because
// chi fills it while routing.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		began := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unknown"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(began).Seconds())
	})
}

func (m *Metrics) ObserveReceiptCreated(source string) {
	if m != nil {
		m.receipts.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) ObserveExtraction(outcome string) {
	if m != nil {
		m.extractions.WithLabelValues(outcome).Inc()
	}
}

// ObserveSplitReplace records outcome, request size and latency of one
// expense set replacement.
func (m *Metrics) ObserveSplitReplace(outcome string, expenses int, d time.Duration) {
	if m == nil {
		return
	}
	m.splits.WithLabelValues(outcome).Inc()
	m.splitExpenses.Observe(float64(expenses))
	m.splitDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
