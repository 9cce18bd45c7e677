// Package api wires the gorilla/mux router spec §4.9 describes: seven
// read-only routes under /api and /health, request-ID and logging
// middleware applied globally, no auth/rate-limit/CORS/compression (the
// surface binds loopback-only and has no browser client to protect
// against). Grounded on the teacher's internal/api/router.go route-grouping
// shape, trimmed to this agent's narrower, unauthenticated surface.
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nullhaus/sysmond/internal/api/handlers"
	apimw "github.com/nullhaus/sysmond/internal/api/middleware"
	"github.com/nullhaus/sysmond/internal/obs"
)

// NewRouter builds the full HTTP surface. metrics is optional; pass nil to
// skip the metrics route and request-metrics middleware entirely. metricsPath
// defaults to "/metrics" when empty (spec's metrics.path config key).
func NewRouter(deps *handlers.Deps, logger *slog.Logger, metrics *obs.Metrics, metricsPath string) *mux.Router {
	router := mux.NewRouter()
	router.Use(apimw.RequestID)
	router.Use(apimw.Logging(logger))
	if metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		router.Use(routeMetricsMiddleware(metrics))
		router.Handle(metricsPath, metrics.Handler()).Methods("GET")
	}

	router.HandleFunc("/api/metrics/current", deps.CurrentMetrics).Methods("GET").Name("metrics_current")
	router.HandleFunc("/api/metrics/history", deps.History).Methods("GET").Name("metrics_history")
	router.HandleFunc("/api/metrics/processes", deps.Processes).Methods("GET").Name("metrics_processes")
	router.HandleFunc("/api/metrics/summary", deps.Summary).Methods("GET").Name("metrics_summary")
	router.HandleFunc("/api/patterns/anomalies", deps.Anomalies).Methods("GET").Name("patterns_anomalies")
	router.HandleFunc("/api/status/training", deps.TrainingStatus).Methods("GET").Name("status_training")
	router.HandleFunc("/health", deps.Health).Methods("GET").Name("health")

	return router
}

// routeMetricsMiddleware labels requests by the matched route's name rather
// than the raw path, keeping the requests_total cardinality bounded to the
// fixed route set instead of one series per distinct query string.
func routeMetricsMiddleware(metrics *obs.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := "unmatched"
			if route := mux.CurrentRoute(r); route != nil {
				if routeName := route.GetName(); routeName != "" {
					name = routeName
				}
			}
			metrics.HTTPMiddleware(name)(next).ServeHTTP(w, r)
		})
	}
}
