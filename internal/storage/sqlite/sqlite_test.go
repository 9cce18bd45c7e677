package sqlite

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaus/sysmond/internal/core"
	"github.com/nullhaus/sysmond/internal/storage"
)

func openTestStore(t *testing.T) *Storage {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "sysmond.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSnapshot(ts time.Time) *core.Snapshot {
	return &core.Snapshot{
		Timestamp:            ts,
		CollectionDurationMS: 42,
		CollectorErrors:      map[string]string{},
		CPU: &core.CPUFragment{
			UsagePercent:  55.5,
			PerCoreUsage:  []float64{10, 20, 30, 40},
			LogicalCount:  4,
			PhysicalCount: 2,
		},
		RAM: &core.RAMFragment{
			TotalGB: 16, UsedGB: 8, AvailableGB: 8, UsagePercent: 50,
		},
		Disk: &core.DiskFragment{
			ReadMbps: 1.5, WriteMbps: 2.5,
			Disks: []core.DiskInfo{
				{Device: "sda1", TotalGB: 500, UsedGB: 250, FreeGB: 250, UsagePercent: 50},
			},
		},
		Network: &core.NetworkFragment{
			DownloadMbps: 10, UploadMbps: 2,
			Interfaces: []core.InterfaceInfo{{Name: "eth0", SpeedMbps: 1000, IsUp: true}},
		},
		Processes: []core.ProcessInfo{
			{Name: "chrome", PID: 100, CPUPercent: 12.5, MemoryMB: 512, ThreadCount: 20, Status: "running"},
		},
		Context: &core.ContextFragment{
			UserActive: true, IdleSeconds: 5, TimeOfDay: core.Afternoon, DayOfWeek: "Wednesday", UserAction: core.ActionCoding,
		},
	}
}

func TestStorage_WriteAndRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Write(ctx, testSnapshot(base)))
	require.NoError(t, s.Write(ctx, testSnapshot(base.Add(time.Second))))

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
	require.NotNil(t, got[1].CPU)
	assert.InDelta(t, 55.5, got[1].CPU.UsagePercent, 0.001)
	assert.Equal(t, []float64{10, 20, 30, 40}, got[1].CPU.PerCoreUsage)
	require.NotNil(t, got[1].RAM)
	assert.InDelta(t, 50, got[1].RAM.UsagePercent, 0.001)
	require.NotNil(t, got[1].Disk)
	require.Len(t, got[1].Disk.Disks, 1)
	assert.Equal(t, "sda1", got[1].Disk.Disks[0].Device)
	require.NotNil(t, got[1].Network)
	require.Len(t, got[1].Network.Interfaces, 1)
	require.Len(t, got[1].Processes, 1)
	assert.Equal(t, "chrome", got[1].Processes[0].Name)
	require.NotNil(t, got[1].Context)
	assert.Equal(t, core.ActionCoding, got[1].Context.UserAction)
}

func TestStorage_WriteRejectsDuplicateTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Now().Truncate(time.Millisecond)

	require.NoError(t, s.Write(ctx, testSnapshot(ts)))
	err := s.Write(ctx, testSnapshot(ts))
	require.Error(t, err)
	assert.IsType(t, &storage.ErrDuplicateTimestamp{}, err)
}

func TestStorage_ProcessesReturnsLatestSnapshotWithProcesses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	withoutProcs := testSnapshot(base)
	withoutProcs.Processes = nil
	require.NoError(t, s.Write(ctx, withoutProcs))

	withProcs := testSnapshot(base.Add(time.Second))
	require.NoError(t, s.Write(ctx, withProcs))

	procs, err := s.Processes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, procs, 1)
	assert.Equal(t, "chrome", procs[0].Name)
}

func TestStorage_HistoryAndSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	values := []float64{10, 20, 30, 40, 50}
	for i, v := range values {
		snap := testSnapshot(base.Add(time.Duration(i) * time.Minute))
		snap.CPU.UsagePercent = v
		require.NoError(t, s.Write(ctx, snap))
	}

	points, err := s.History(ctx, "cpu_percent", base.Add(-time.Minute), base.Add(time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, points, 5)
	assert.Equal(t, 10.0, points[0].Value)
	assert.Equal(t, 50.0, points[4].Value)

	summary, err := s.Summary(ctx, "cpu_percent", 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10.0, summary.Min)
	assert.Equal(t, 50.0, summary.Max)
	assert.InDelta(t, 30.0, summary.Avg, 0.001)
}

func TestStorage_HistoryDecimatesWhenOverMaxPoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	for i := 0; i < 20; i++ {
		snap := testSnapshot(base.Add(time.Duration(i) * time.Second))
		snap.CPU.UsagePercent = float64(i)
		require.NoError(t, s.Write(ctx, snap))
	}

	points, err := s.History(ctx, "cpu_percent", base, base.Add(20*time.Second), 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(points), 5)
}

func TestStorage_AnomaliesOrderedByTimestamp(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Millisecond)

	later := &core.Anomaly{ID: "b", Timestamp: base.Add(time.Minute), MetricName: "cpu_percent", Severity: core.SeverityWarn, ContextJSON: map[string]any{"kind": "spike"}}
	earlier := &core.Anomaly{ID: "a", Timestamp: base, MetricName: "cpu_percent", Severity: core.SeverityCritical, ContextJSON: map[string]any{"kind": "threshold"}}
	require.NoError(t, s.WriteAnomaly(ctx, later))
	require.NoError(t, s.WriteAnomaly(ctx, earlier))

	got, err := s.Anomalies(ctx, base.Add(-time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, "threshold", got[0].ContextJSON["kind"])
}

func TestStorage_SampleStats(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.SampleStats(ctx)
	require.NoError(t, err)
	assert.False(t, empty.HasSamples)
	assert.Equal(t, int64(0), empty.Count)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Write(ctx, testSnapshot(old)))
	require.NoError(t, s.Write(ctx, testSnapshot(old.Add(time.Hour))))

	stats, err := s.SampleStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.HasSamples)
	assert.Equal(t, int64(2), stats.Count)
	assert.GreaterOrEqual(t, stats.OldestAge, 119*time.Minute)
}

func TestStorage_RetentionSweepDeletesOldSnapshots(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-100 * 24 * time.Hour)
	recent := time.Now()
	require.NoError(t, s.Write(ctx, testSnapshot(old)))
	require.NoError(t, s.Write(ctx, testSnapshot(recent)))

	require.NoError(t, s.RetentionSweep(ctx, time.Now(), 90, 365, 1024))

	stats, err := s.SampleStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
}

func TestStorage_RetentionSweepDeletesOldAnomaliesIndependently(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &core.Anomaly{ID: "old", Timestamp: time.Now().Add(-400 * 24 * time.Hour), MetricName: "cpu_percent", Severity: core.SeverityWarn, ContextJSON: map[string]any{}}
	mid := &core.Anomaly{ID: "mid", Timestamp: time.Now().Add(-200 * 24 * time.Hour), MetricName: "cpu_percent", Severity: core.SeverityWarn, ContextJSON: map[string]any{}}
	recent := &core.Anomaly{ID: "recent", Timestamp: time.Now(), MetricName: "cpu_percent", Severity: core.SeverityWarn, ContextJSON: map[string]any{}}
	require.NoError(t, s.WriteAnomaly(ctx, old))
	require.NoError(t, s.WriteAnomaly(ctx, mid))
	require.NoError(t, s.WriteAnomaly(ctx, recent))

	// A retention_days far shorter than anomaly_retention_days must not
	// touch the anomalies table: it is swept on its own, longer-lived cutoff.
	require.NoError(t, s.RetentionSweep(ctx, time.Now(), 90, 365, 1024))

	anomalies, err := s.Anomalies(ctx, time.Now().Add(-500*24*time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	assert.Equal(t, "mid", anomalies[0].ID)
	assert.Equal(t, "recent", anomalies[1].ID)
}
