package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerStatuses(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track(JobBalancesWarmup).End(nil))
	boom := errors.New("db down")
	require.ErrorIs(t, m.Track(JobReceiptsExtract).End(boom), boom)
	skipped := fmt.Errorf("bad payload: %w", asynq.SkipRetry)
	require.ErrorIs(t, m.Track(JobReceiptsExtract).End(skipped), asynq.SkipRetry)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(JobBalancesWarmup, "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(JobReceiptsExtract, "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(JobReceiptsExtract, "skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(JobReceiptsExtract)))
}

func TestScanAndWarmCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddScan(ScanStored, true)
	m.AddScan(ScanStored, false)
	m.AddScan(ScanRejected, false)
	m.AddWarmed(3)
	m.AddWarmed(0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues(ScanStored, "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.scans.WithLabelValues(ScanRejected, "false")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.warmed))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	err := errors.New("x")
	require.Equal(t, err, m.Track(JobReceiptsExtract).End(err))
	m.AddScan(ScanFailed, false)
	m.AddWarmed(2)
}
