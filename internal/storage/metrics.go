package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the store, grounded on the teacher's
// operations/duration/errors/health metric shape, renamed to this agent's
// namespace and relabeled for the snapshot/anomaly write path instead of
// alert CRUD.
var (
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sysmond",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total store operations by type and status",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sysmond",
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	FileSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sysmond",
			Subsystem: "store",
			Name:      "file_size_bytes",
			Help:      "Store database file size in bytes",
		},
	)

	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sysmond",
			Subsystem: "store",
			Name:      "health_status",
			Help:      "Store health status (0=unhealthy, 1=healthy)",
		},
	)

	StoreDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sysmond",
			Subsystem: "pipeline",
			Name:      "store_drops_total",
			Help:      "Snapshots dropped because the store write queue was saturated",
		},
	)
)

func RecordOperation(operation, status string) {
	OperationsTotal.WithLabelValues(operation, status).Inc()
}

func RecordOperationDuration(operation string, seconds float64) {
	OperationDuration.WithLabelValues(operation).Observe(seconds)
}

func SetHealthStatus(healthy bool) {
	if healthy {
		HealthStatus.Set(1)
		return
	}
	HealthStatus.Set(0)
}
