package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	journals        *prometheus.CounterVec
	movements       *prometheus.CounterVec
	conflicts       prometheus.Counter
	mismatches      prometheus.Gauge
	unbalanced      prometheus.Gauge
}

// NewMetrics menginisialisasi registry, metrik HTTP dan metrik ledger.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	journals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_journal_mutations_total",
		Help: "Committed journal entry mutations by action.",
	}, []string{"action"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_inventory_stock_movements_total",
		Help: "Committed stock movements by type and direction.",
	}, []string{"type", "direction"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_tx_conflicts_total",
		Help: "Units of work retried after a serialization or lock conflict.",
	})
	mismatches := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_inventory_reconcile_mismatches",
		Help: "Stock pairs whose cached quantity differs from the movement log at the last reconciliation.",
	})
	unbalanced := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "odyssey_ledger_unbalanced_entries",
		Help: "Journal entries whose lines did not balance at the last integrity check.",
	})
	registry.MustRegister(requests, duration, journals, movements, conflicts, mismatches, unbalanced)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		journals:        journals,
		movements:       movements,
		conflicts:       conflicts,
		mismatches:      mismatches,
		unbalanced:      unbalanced,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// JournalPosted counts a committed post, update or delete.
func (m *Metrics) JournalPosted(action string) {
	if m == nil {
		return
	}
	m.journals.WithLabelValues(action).Inc()
}

// StockMoved counts a committed movement.
func (m *Metrics) StockMoved(kind, direction string) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(kind, direction).Inc()
}

// TxConflict matches db.ConflictObserver.
func (m *Metrics) TxConflict(error) {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// SetReconcileMismatches publishes the result of the last stock reconciliation.
func (m *Metrics) SetReconcileMismatches(n int) {
	if m == nil {
		return
	}
	m.mismatches.Set(float64(n))
}

// SetUnbalancedEntries publishes the result of the last ledger integrity check.
func (m *Metrics) SetUnbalancedEntries(n int) {
	if m == nil {
		return
	}
	m.unbalanced.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
