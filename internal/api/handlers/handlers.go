// Package handlers implements the seven read-only endpoints spec §4.9
// describes, each backed by the ring buffer (current) or the store
// (history/processes/summary/anomalies/training). Grounded on the teacher's
// cmd/server/handlers package shape (one handler per route, a shared deps
// struct, JSON responses through the uniform error envelope).
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nullhaus/sysmond/internal/api/apierrors"
	"github.com/nullhaus/sysmond/internal/config"
	"github.com/nullhaus/sysmond/internal/core"
	"github.com/nullhaus/sysmond/internal/pipeline"
	"github.com/nullhaus/sysmond/internal/storage"
)

// RingReader is the live-read side of the ring buffer.
type RingReader interface {
	Latest() *core.Snapshot
	Window(n int) []*core.Snapshot
}

// SchedulerHealth is the scheduler surface /health reads.
type SchedulerHealth interface {
	Throttled() bool
}

// Deps bundles everything the handlers read from; every field is read-only
// from the handler's point of view (spec §4.9: "all endpoints are
// idempotent and side-effect-free").
type Deps struct {
	Ring      RingReader
	Store     storage.Store
	Pipeline  *pipeline.Pipeline
	Scheduler SchedulerHealth
	Config    *config.Config
	Logger    *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func (d *Deps) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := d.Config.HTTP.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

// CurrentMetrics handles GET /api/metrics/current.
func (d *Deps) CurrentMetrics(w http.ResponseWriter, r *http.Request) {
	snap := d.Ring.Latest()
	if snap == nil {
		apierrors.Write(w, apierrors.CodeNoData, "no snapshot has been collected yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// History handles GET /api/metrics/history?metric=X&hours=H&max_points=P.
func (d *Deps) History(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		apierrors.Write(w, apierrors.CodeInvalidRequest, "metric is required")
		return
	}
	hours := queryFloat(r, "hours", 1)
	maxPoints := queryInt(r, "max_points", 360)

	ctx, cancel := d.requestContext(r)
	defer cancel()

	to := time.Now()
	from := to.Add(-time.Duration(hours * float64(time.Hour)))
	points, err := d.Store.History(ctx, metric, from, to, maxPoints)
	if err != nil {
		apierrors.Write(w, apierrors.CodeInvalidRequest, err.Error())
		return
	}
	if points == nil {
		points = []storage.Point{}
	}
	writeJSON(w, http.StatusOK, points)
}

// Processes handles GET /api/metrics/processes?limit=N.
func (d *Deps) Processes(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", d.Config.Collection.TopProcesses)

	ctx, cancel := d.requestContext(r)
	defer cancel()

	procs, err := d.Store.Processes(ctx, limit)
	if err != nil {
		apierrors.Write(w, apierrors.CodeInternal, "failed to read processes")
		return
	}
	if procs == nil {
		procs = []core.ProcessInfo{}
	}
	writeJSON(w, http.StatusOK, procs)
}

// Summary handles GET /api/metrics/summary?window=H, reporting
// avg/min/max/p95 over the trailing window for every primary metric at
// once (spec §4.6, §6.2: a map keyed by metric name, not a single-metric
// query).
func (d *Deps) Summary(w http.ResponseWriter, r *http.Request) {
	windowHours := queryFloat(r, "window", 1)
	window := time.Duration(windowHours * float64(time.Hour))

	ctx, cancel := d.requestContext(r)
	defer cancel()

	out := make(map[string]storage.Summary, len(storage.PrimaryMetrics))
	for _, metric := range storage.PrimaryMetrics {
		summary, err := d.Store.Summary(ctx, metric, window)
		if err != nil {
			apierrors.Write(w, apierrors.CodeInternal, "failed to summarize "+metric)
			return
		}
		out[metric] = summary
	}
	writeJSON(w, http.StatusOK, out)
}

// Anomalies handles GET /api/patterns/anomalies?hours=H.
func (d *Deps) Anomalies(w http.ResponseWriter, r *http.Request) {
	hours := queryFloat(r, "hours", 24)

	ctx, cancel := d.requestContext(r)
	defer cancel()

	to := time.Now()
	from := to.Add(-time.Duration(hours * float64(time.Hour)))
	anomalies, err := d.Store.Anomalies(ctx, from, to)
	if err != nil {
		apierrors.Write(w, apierrors.CodeInternal, "failed to read anomalies")
		return
	}
	if anomalies == nil {
		anomalies = []core.Anomaly{}
	}
	writeJSON(w, http.StatusOK, anomalies)
}

type collectorHealthView struct {
	LastSuccessTS int64  `json:"last_success_ts,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// Health handles GET /health. It always returns 200 (spec §4.9, §7: the
// surface keeps serving ring-buffer reads even when the store is degraded).
func (d *Deps) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := d.requestContext(r)
	defer cancel()

	storeStatus := "ok"
	if _, err := d.Store.SampleStats(ctx); err != nil {
		storeStatus = "degraded"
	}

	schedulerStatus := "ok"
	if d.Scheduler != nil && d.Scheduler.Throttled() {
		schedulerStatus = "throttled"
	}

	collectors := map[string]collectorHealthView{}
	if d.Pipeline != nil {
		for name, h := range d.Pipeline.Health() {
			view := collectorHealthView{LastError: h.LastError}
			if !h.LastSuccess.IsZero() {
				view.LastSuccessTS = h.LastSuccess.UnixMilli()
			}
			collectors[name] = view
		}
	}

	writeJSON(w, http.StatusOK, struct {
		Scheduler  string                          `json:"scheduler"`
		Store      string                          `json:"store"`
		RingBuffer string                          `json:"ring_buffer"`
		Collectors map[string]collectorHealthView `json:"collectors"`
	}{
		Scheduler:  schedulerStatus,
		Store:      storeStatus,
		RingBuffer: "ok",
		Collectors: collectors,
	})
}

// TrainingStatus handles GET /api/status/training (spec §6.2, §8 formula
// 10: ready = samples ≥ minimum_required ∧ hours_collected ≥ minimum_hours;
// progress_ratio = min(samples/minimum_required, hours_collected/minimum_hours)).
func (d *Deps) TrainingStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := d.requestContext(r)
	defer cancel()

	stats, err := d.Store.SampleStats(ctx)
	if err != nil {
		apierrors.Write(w, apierrors.CodeInternal, "failed to read sample stats")
		return
	}

	hoursCollected := stats.OldestAge.Hours()
	minRequired := d.Config.Training.MinimumRequired
	minHours := d.Config.Training.MinimumHours

	sampleRatio := ratio(float64(stats.Count), float64(minRequired))
	hoursRatio := ratio(hoursCollected, minHours)
	progress := sampleRatio
	if hoursRatio < progress {
		progress = hoursRatio
	}
	ready := stats.Count >= int64(minRequired) && hoursCollected >= minHours

	var nextSteps []string
	if !ready {
		if stats.Count < int64(minRequired) {
			nextSteps = append(nextSteps, "collect more samples")
		}
		if hoursCollected < minHours {
			nextSteps = append(nextSteps, "keep the agent running longer")
		}
	}

	writeJSON(w, http.StatusOK, struct {
		Samples         int64    `json:"samples"`
		MinimumRequired int      `json:"minimum_required"`
		HoursCollected  float64  `json:"hours_collected"`
		MinimumHours    float64  `json:"minimum_hours"`
		Ready           bool     `json:"ready"`
		ProgressRatio   float64  `json:"progress_ratio"`
		NextSteps       []string `json:"next_steps"`
	}{
		Samples:         stats.Count,
		MinimumRequired: minRequired,
		HoursCollected:  hoursCollected,
		MinimumHours:    minHours,
		Ready:           ready,
		ProgressRatio:   progress,
		NextSteps:       nextSteps,
	})
}

func ratio(value, target float64) float64 {
	if target <= 0 {
		return 1
	}
	r := value / target
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
