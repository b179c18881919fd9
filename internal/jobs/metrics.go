// Package jobmetrics instruments background task handlers.
package jobmetrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
)

// Job names used as the "job" label.
const (
	JobReceiptsExtract = "receipts_extract"
	JobBalancesWarmup  = "balances_warmup"
)

// Scan outcomes.
const (
	ScanStored   = "stored"
	ScanRejected = "rejected"
	ScanFailed   = "failed"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	scans    *prometheus.CounterVec
	warmed   prometheus.Counter
}

var defaultMetrics = sync.OnceValue(func() *Metrics {
	return register(prometheus.DefaultRegisterer)
})

// NewMetrics registers the collectors with reg. A nil reg shares one set of
// collectors on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return defaultMetrics()
	}
	return register(reg)
}

func register(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupspend_jobs_total",
			Help: "Job runs by job and status (success, failure, skipped).",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupspend_jobs_failures_total",
			Help: "Job runs that failed and will be retried.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "groupspend_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"job"}),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "groupspend_receipt_scans_total",
			Help: "Background receipt scans by outcome and divergence flag.",
		}, []string{"outcome", "divergence_flagged"}),
		warmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "groupspend_balances_warmed_groups_total",
			Help: "Groups whose balance summary was precomputed by the warmup job.",
		}),
	}
	reg.MustRegister(m.runs, m.failures, m.duration, m.scans, m.warmed)
	return m
}

// Tracker times one job run.
type Tracker struct {
	m     *Metrics
	job   string
	start time.Time
}

// Track starts timing a run of job.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{m: m, job: job, start: time.Now()}
}

// End records the run and returns err unchanged. Errors wrapping
// asynq.SkipRetry count as skipped rather than failed.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil {
		return err
	}
	status := "success"
	switch {
	case errors.Is(err, asynq.SkipRetry):
		status = "skipped"
	case err != nil:
		status = "failure"
		t.m.failures.WithLabelValues(t.job).Inc()
	}
	t.m.runs.WithLabelValues(t.job, status).Inc()
	t.m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddScan counts a finished background scan.
func (m *Metrics) AddScan(outcome string, flagged bool) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(outcome, strconv.FormatBool(flagged)).Inc()
}

// AddWarmed counts groups warmed by one run.
func (m *Metrics) AddWarmed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.warmed.Add(float64(n))
}
