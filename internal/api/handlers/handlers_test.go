package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaus/sysmond/internal/config"
	"github.com/nullhaus/sysmond/internal/core"
	"github.com/nullhaus/sysmond/internal/storage"
)

type fakeRing struct {
	latest *core.Snapshot
}

func (r *fakeRing) Latest() *core.Snapshot        { return r.latest }
func (r *fakeRing) Window(n int) []*core.Snapshot { return nil }

type fakeStore struct {
	history   []storage.Point
	processes []core.ProcessInfo
	summary   storage.Summary
	anomalies []core.Anomaly
	stats     storage.SampleStats
	statsErr  error
}

func (s *fakeStore) Write(ctx context.Context, snap *core.Snapshot) error        { return nil }
func (s *fakeStore) WriteAnomaly(ctx context.Context, a *core.Anomaly) error     { return nil }
func (s *fakeStore) Recent(ctx context.Context, n int) ([]*core.Snapshot, error) { return nil, nil }
func (s *fakeStore) History(ctx context.Context, metric string, from, to time.Time, maxPoints int) ([]storage.Point, error) {
	return s.history, nil
}
func (s *fakeStore) Processes(ctx context.Context, n int) ([]core.ProcessInfo, error) {
	return s.processes, nil
}
func (s *fakeStore) Summary(ctx context.Context, metric string, window time.Duration) (storage.Summary, error) {
	return s.summary, nil
}
func (s *fakeStore) Anomalies(ctx context.Context, from, to time.Time) ([]core.Anomaly, error) {
	return s.anomalies, nil
}
func (s *fakeStore) RetentionSweep(ctx context.Context, now time.Time, retentionDays, anomalyRetentionDays, sizeCapMB int) error {
	return nil
}
func (s *fakeStore) SampleStats(ctx context.Context) (storage.SampleStats, error) {
	return s.stats, s.statsErr
}
func (s *fakeStore) Close() error { return nil }

type fakeScheduler struct{ throttled bool }

func (f *fakeScheduler) Throttled() bool { return f.throttled }

func testDeps(ring RingReader, store *fakeStore) *Deps {
	cfg := &config.Config{}
	cfg.HTTP.RequestTimeout = 2 * time.Second
	cfg.Collection.TopProcesses = 15
	cfg.Training.MinimumRequired = 1000
	cfg.Training.MinimumHours = 12
	return &Deps{
		Ring:      ring,
		Store:     store,
		Scheduler: &fakeScheduler{},
		Config:    cfg,
		Logger:    slog.Default(),
	}
}

func TestCurrentMetrics_NoData(t *testing.T) {
	deps := testDeps(&fakeRing{}, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/current", nil)
	rec := httptest.NewRecorder()

	deps.CurrentMetrics(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCurrentMetrics_ReturnsLatest(t *testing.T) {
	snap := &core.Snapshot{Timestamp: time.Now(), CPU: &core.CPUFragment{UsagePercent: 42}}
	deps := testDeps(&fakeRing{latest: snap}, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/current", nil)
	rec := httptest.NewRecorder()

	deps.CurrentMetrics(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got core.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 42.0, got.CPU.UsagePercent)
}

func TestHistory_RequiresMetric(t *testing.T) {
	deps := testDeps(&fakeRing{}, &fakeStore{})
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/history", nil)
	rec := httptest.NewRecorder()

	deps.History(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory_ReturnsPoints(t *testing.T) {
	store := &fakeStore{history: []storage.Point{{Timestamp: time.Now(), Value: 10}}}
	deps := testDeps(&fakeRing{}, store)
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/history?metric=cpu_percent&hours=1&max_points=100", nil)
	rec := httptest.NewRecorder()

	deps.History(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var points []storage.Point
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	assert.Len(t, points, 1)
}

func TestSummary_ReturnsMapOverPrimaryMetrics(t *testing.T) {
	store := &fakeStore{summary: storage.Summary{Avg: 1, Min: 0, Max: 2, P95: 1.9}}
	deps := testDeps(&fakeRing{}, store)
	req := httptest.NewRequest(http.MethodGet, "/api/metrics/summary?window=1", nil)
	rec := httptest.NewRecorder()

	deps.Summary(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]storage.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	for _, metric := range storage.PrimaryMetrics {
		require.Contains(t, body, metric)
	}
	assert.Equal(t, 1.9, body["cpu_percent"].P95)
}

func TestHealth_AlwaysReturns200(t *testing.T) {
	store := &fakeStore{statsErr: assert.AnError}
	deps := testDeps(&fakeRing{}, store)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	deps.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Store string `json:"store"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Store)
}

func TestTrainingStatus_ReadyWhenBothThresholdsMet(t *testing.T) {
	store := &fakeStore{stats: storage.SampleStats{Count: 1200, OldestAge: 13 * time.Hour, HasSamples: true}}
	deps := testDeps(&fakeRing{}, store)
	req := httptest.NewRequest(http.MethodGet, "/api/status/training", nil)
	rec := httptest.NewRecorder()

	deps.TrainingStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Ready         bool    `json:"ready"`
		ProgressRatio float64 `json:"progress_ratio"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.Equal(t, 1.0, body.ProgressRatio)
}

func TestTrainingStatus_NotReadyBelowThresholds(t *testing.T) {
	store := &fakeStore{stats: storage.SampleStats{Count: 100, OldestAge: 2 * time.Hour, HasSamples: true}}
	deps := testDeps(&fakeRing{}, store)
	req := httptest.NewRequest(http.MethodGet, "/api/status/training", nil)
	rec := httptest.NewRecorder()

	deps.TrainingStatus(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Ready         bool    `json:"ready"`
		ProgressRatio float64 `json:"progress_ratio"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Ready)
	assert.InDelta(t, 0.1, body.ProgressRatio, 0.001)
}
