package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	require.NoError(t, metrics.Track("inventory_reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("inventory_reconcile").End(boom), boom)
	metrics.AddFindings("inventory_reconcile", 2)
	metrics.AddFindings("inventory_reconcile", 0)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("inventory_reconcile", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues("inventory_reconcile", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.failures.WithLabelValues("inventory_reconcile")))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.findings.WithLabelValues("inventory_reconcile")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, metrics.Track("x").End(boom), boom)
	metrics.AddFindings("x", 3)
}
