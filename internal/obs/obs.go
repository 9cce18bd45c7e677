// Package obs exposes the process's own Prometheus metrics on /metrics,
// alongside the JSON /health endpoint. Grounded on pkg/metrics's HTTP
// middleware shape (request counter, duration histogram, wrapped
// response writer) and internal/storage/metrics.go's counter/histogram
// naming, generalized from one HTTP surface into the tick/collector/store
// metrics this agent tracks end to end.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every process-internal Prometheus series this agent
// exports. Unlike the store's package-level vars, Metrics is built once by
// main and threaded through the components that need it, so tests can
// construct an isolated registry instead of sharing the global default one.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	tickDuration         prometheus.Histogram
	collectorErrorsTotal *prometheus.CounterVec
	storeDropsTotal      prometheus.Counter
	storeDropsCurrent    int64
	anomaliesTotal       *prometheus.CounterVec
}

// New builds a fresh registry and registers every series on it.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sysmond",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests served, by route and status code",
			},
			[]string{"route", "status_code"},
		),
		httpRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sysmond",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds, by route",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"route"},
		),
		tickDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sysmond",
				Subsystem: "pipeline",
				Name:      "tick_duration_seconds",
				Help:      "Wall-clock duration of one collection tick",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),
		collectorErrorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sysmond",
				Subsystem: "pipeline",
				Name:      "collector_errors_total",
				Help:      "Collector sample failures, by collector name and reason",
			},
			[]string{"collector", "reason"},
		),
		storeDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "sysmond",
				Subsystem: "pipeline",
				Name:      "store_drops_total",
				Help:      "Snapshots dropped because the store write queue was saturated",
			},
		),
		anomaliesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sysmond",
				Subsystem: "pattern",
				Name:      "anomalies_total",
				Help:      "Anomalies emitted, by metric and severity",
			},
			[]string{"metric", "severity"},
		),
	}
	return m
}

// ObserveTick records one tick's wall-clock duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// RecordCollectorError increments the per-collector failure counter.
func (m *Metrics) RecordCollectorError(collector, reason string) {
	m.collectorErrorsTotal.WithLabelValues(collector, reason).Inc()
}

// SetStoreDrops sets the store-drops counter to the pipeline's running
// total; called periodically rather than incremented inline since the
// pipeline already tracks its own atomic counter (spec §4.4).
func (m *Metrics) SetStoreDrops(total int64) {
	// CounterFunc would fit better, but the pipeline value is polled on a
	// schedule rather than wired at registration time, so add the delta.
	current := m.storeDropsCurrent
	if total > current {
		m.storeDropsTotal.Add(float64(total - current))
	}
	m.storeDropsCurrent = total
}

// RecordAnomaly increments the anomaly counter for one metric/severity pair.
func (m *Metrics) RecordAnomaly(metric, severity string) {
	m.anomaliesTotal.WithLabelValues(metric, severity).Inc()
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request count and latency per route template
// (the mux route, not the raw path, to keep cardinality bounded).
func (m *Metrics) HTTPMiddleware(routeName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			m.httpRequestsTotal.WithLabelValues(routeName, strconv.Itoa(rw.statusCode)).Inc()
			m.httpRequestDuration.WithLabelValues(routeName).Observe(time.Since(start).Seconds())
		})
	}
}
