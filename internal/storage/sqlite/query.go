package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/nullhaus/sysmond/internal/core"
	"github.com/nullhaus/sysmond/internal/storage"
)

// decodeJSONMap unmarshals a stored string-valued JSON object, leaving dst
// nil on any decode failure rather than surfacing a read error for what is
// always our own previously-marshaled data.
func decodeJSONMap(raw string, dst *map[string]string) {
	if raw == "" {
		return
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err == nil {
		*dst = m
	}
}

func decodeJSONMapAny(raw string, dst *map[string]any) {
	if raw == "" {
		return
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err == nil {
		*dst = m
	}
}

// Recent returns the n most recent snapshots, chronological order, each
// with its full set of populated fragments.
func (s *Storage) Recent(ctx context.Context, n int) ([]*core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, collection_duration_ms, collector_errors
		FROM system_snapshots ORDER BY timestamp DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*core.Snapshot
	var ids []int64
	byID := make(map[int64]*core.Snapshot)
	for rows.Next() {
		var id, ts int64
		var durMS int
		var errsJSON string
		if err := rows.Scan(&id, &ts, &durMS, &errsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snap := &core.Snapshot{
			Timestamp:            time.UnixMilli(ts),
			CollectionDurationMS: durMS,
		}
		decodeJSONMap(errsJSON, &snap.CollectorErrors)
		byID[id] = snap
		ids = append(ids, id)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if err := s.hydrateFragments(ctx, id, byID[id]); err != nil {
			return nil, err
		}
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })
	return snaps, nil
}

func (s *Storage) hydrateFragments(ctx context.Context, snapshotID int64, snap *core.Snapshot) error {
	var cpuID sql.NullInt64
	var usage, freq, temp sql.NullFloat64
	var logical, physical sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, usage_percent, frequency_mhz, temperature_celsius, logical_count, physical_count
		FROM cpu_metrics WHERE snapshot_id = ?`, snapshotID,
	).Scan(&cpuID, &usage, &freq, &temp, &logical, &physical)
	if err == nil {
		cpu := &core.CPUFragment{
			UsagePercent:  usage.Float64,
			LogicalCount:  int(logical.Int64),
			PhysicalCount: int(physical.Int64),
		}
		if freq.Valid {
			v := freq.Float64
			cpu.FrequencyMHz = &v
		}
		if temp.Valid {
			v := temp.Float64
			cpu.TemperatureCelsius = &v
		}
		coreRows, err := s.db.QueryContext(ctx, `
			SELECT usage_percent FROM cpu_core_usage WHERE cpu_metric_id = ? ORDER BY core_index`, cpuID.Int64)
		if err == nil {
			defer coreRows.Close()
			for coreRows.Next() {
				var pct float64
				if err := coreRows.Scan(&pct); err == nil {
					cpu.PerCoreUsage = append(cpu.PerCoreUsage, pct)
				}
			}
		}
		snap.CPU = cpu
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("failed to query cpu_metrics: %w", err)
	}

	var ram core.RAMFragment
	err = s.db.QueryRowContext(ctx, `
		SELECT total_gb, used_gb, available_gb, cached_gb, swap_total_gb, swap_used_gb, usage_percent
		FROM ram_metrics WHERE snapshot_id = ?`, snapshotID,
	).Scan(&ram.TotalGB, &ram.UsedGB, &ram.AvailableGB, &ram.CachedGB, &ram.SwapTotalGB, &ram.SwapUsedGB, &ram.UsagePercent)
	if err == nil {
		snap.RAM = &ram
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("failed to query ram_metrics: %w", err)
	}

	gpuRows, err := s.db.QueryContext(ctx, `
		SELECT name, usage_percent, memory_used_gb, memory_total_gb, temperature_celsius, fan_rpm, power_watts, core_clock_mhz, memory_clock_mhz
		FROM gpu_metrics WHERE snapshot_id = ? ORDER BY device_index`, snapshotID)
	if err != nil {
		return fmt.Errorf("failed to query gpu_metrics: %w", err)
	}
	defer gpuRows.Close()
	for gpuRows.Next() {
		var g core.GPUFragment
		var temp, coreClk, memClk sql.NullFloat64
		if err := gpuRows.Scan(&g.Name, &g.UsagePercent, &g.MemoryUsedGB, &g.MemoryTotalGB, &temp, &g.FanRPM, &g.PowerWatts, &coreClk, &memClk); err != nil {
			return fmt.Errorf("failed to scan gpu_metrics: %w", err)
		}
		if temp.Valid {
			v := temp.Float64
			g.TemperatureCelsius = &v
		}
		if coreClk.Valid {
			v := coreClk.Float64
			g.CoreClockMHz = &v
		}
		if memClk.Valid {
			v := memClk.Float64
			g.MemoryClockMHz = &v
		}
		snap.GPU = append(snap.GPU, g)
	}

	var diskID sql.NullInt64
	var disk core.DiskFragment
	err = s.db.QueryRowContext(ctx, `
		SELECT id, read_mbps, write_mbps, queue_length, io_ops_per_sec
		FROM disk_metrics WHERE snapshot_id = ?`, snapshotID,
	).Scan(&diskID, &disk.ReadMbps, &disk.WriteMbps, &disk.QueueLength, &disk.IOOpsPerSec)
	if err == nil {
		devRows, err := s.db.QueryContext(ctx, `
			SELECT device, total_gb, used_gb, free_gb, usage_percent
			FROM disk_devices WHERE disk_metric_id = ? ORDER BY device`, diskID.Int64)
		if err == nil {
			defer devRows.Close()
			for devRows.Next() {
				var d core.DiskInfo
				if err := devRows.Scan(&d.Device, &d.TotalGB, &d.UsedGB, &d.FreeGB, &d.UsagePercent); err == nil {
					disk.Disks = append(disk.Disks, d)
				}
			}
		}
		snap.Disk = &disk
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("failed to query disk_metrics: %w", err)
	}

	var netID sql.NullInt64
	var net core.NetworkFragment
	var warmingUp int
	err = s.db.QueryRowContext(ctx, `
		SELECT id, download_mbps, upload_mbps, connections_active, bytes_sent, bytes_received, packets_sent, packets_received, errors, warming_up
		FROM network_metrics WHERE snapshot_id = ?`, snapshotID,
	).Scan(&netID, &net.DownloadMbps, &net.UploadMbps, &net.ConnectionsActive, &net.BytesSent, &net.BytesReceived, &net.PacketsSent, &net.PacketsReceived, &net.Errors, &warmingUp)
	if err == nil {
		net.WarmingUp = warmingUp != 0
		ifaceRows, err := s.db.QueryContext(ctx, `
			SELECT name, speed_mbps, is_up FROM network_interfaces WHERE network_metric_id = ?`, netID.Int64)
		if err == nil {
			defer ifaceRows.Close()
			for ifaceRows.Next() {
				var iface core.InterfaceInfo
				var isUp int
				if err := ifaceRows.Scan(&iface.Name, &iface.SpeedMbps, &isUp); err == nil {
					iface.IsUp = isUp != 0
					net.Interfaces = append(net.Interfaces, iface)
				}
			}
		}
		snap.Network = &net
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("failed to query network_metrics: %w", err)
	}

	procs, err := s.queryProcessesForSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}
	snap.Processes = procs

	var c core.ContextFragment
	var userActive, screenLocked int
	err = s.db.QueryRowContext(ctx, `
		SELECT user_active, idle_seconds, screen_locked, time_of_day, day_of_week, user_action
		FROM system_context WHERE snapshot_id = ?`, snapshotID,
	).Scan(&userActive, &c.IdleSeconds, &screenLocked, &c.TimeOfDay, &c.DayOfWeek, &c.UserAction)
	if err == nil {
		c.UserActive = userActive != 0
		c.ScreenLocked = screenLocked != 0
		snap.Context = &c
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("failed to query system_context: %w", err)
	}

	return nil
}

func (s *Storage) queryProcessesForSnapshot(ctx context.Context, snapshotID int64) ([]core.ProcessInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, pid, cpu_percent, memory_mb, thread_count, status, started_at
		FROM process_info WHERE snapshot_id = ? ORDER BY cpu_percent DESC, memory_mb DESC, name ASC`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query process_info: %w", err)
	}
	defer rows.Close()

	var procs []core.ProcessInfo
	for rows.Next() {
		var p core.ProcessInfo
		var startedAt sql.NullInt64
		if err := rows.Scan(&p.Name, &p.PID, &p.CPUPercent, &p.MemoryMB, &p.ThreadCount, &p.Status, &startedAt); err != nil {
			return nil, fmt.Errorf("failed to scan process_info: %w", err)
		}
		if startedAt.Valid {
			p.StartedAt = time.UnixMilli(startedAt.Int64)
		}
		procs = append(procs, p)
	}
	return procs, nil
}

// Processes returns the n most recent process entries, from the latest
// snapshot that recorded any (spec §4.6: processes(n) from latest snapshot).
func (s *Storage) Processes(ctx context.Context, n int) ([]core.ProcessInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snapshotID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_id FROM process_info
		JOIN system_snapshots ON system_snapshots.id = process_info.snapshot_id
		ORDER BY system_snapshots.timestamp DESC LIMIT 1`).Scan(&snapshotID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest process snapshot: %w", err)
	}

	procs, err := s.queryProcessesForSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if len(procs) > n {
		procs = procs[:n]
	}
	return procs, nil
}

// metricColumn maps a public metric name to its storage table/column, the
// single join point between the HTTP surface's ?metric= values and the
// schema. Names match the bit-exact enum spec §6.2 defines for
// /api/metrics/history: cpu_percent|ram_percent|gpu_percent|
// disk_read_mbps|disk_write_mbps|net_down_mbps|net_up_mbps.
var metricColumn = map[string]struct{ table, column string }{
	"cpu_percent":     {"cpu_metrics", "usage_percent"},
	"ram_percent":     {"ram_metrics", "usage_percent"},
	"gpu_percent":     {"gpu_metrics", "usage_percent"},
	"disk_read_mbps":  {"disk_metrics", "read_mbps"},
	"disk_write_mbps": {"disk_metrics", "write_mbps"},
	"net_down_mbps":   {"network_metrics", "download_mbps"},
	"net_up_mbps":     {"network_metrics", "upload_mbps"},
}

// History returns a metric's series between from and to, decimated into
// at most maxPoints bucketed averages aligned to `from` (spec §4.6).
func (s *Storage) History(ctx context.Context, metric string, from, to time.Time, maxPoints int) ([]storage.Point, error) {
	col, ok := metricColumn[metric]
	if !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT s.timestamp, m.%s
		FROM %s m JOIN system_snapshots s ON s.id = m.snapshot_id
		WHERE s.timestamp >= ? AND s.timestamp <= ?
		ORDER BY s.timestamp ASC`, col.column, col.table)
	rows, err := s.db.QueryContext(ctx, query, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w", metric, err)
	}
	defer rows.Close()

	var raw []storage.Point
	for rows.Next() {
		var ts int64
		var v float64
		if err := rows.Scan(&ts, &v); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		raw = append(raw, storage.Point{Timestamp: time.UnixMilli(ts), Value: v})
	}

	if maxPoints <= 0 || len(raw) <= maxPoints {
		return raw, nil
	}
	return decimate(raw, from, to, maxPoints), nil
}

// decimate buckets raw into maxPoints equal-width windows aligned to from,
// averaging samples that fall in each bucket.
func decimate(raw []storage.Point, from, to time.Time, maxPoints int) []storage.Point {
	total := to.Sub(from)
	if total <= 0 {
		return raw
	}
	bucketWidth := total / time.Duration(maxPoints)
	sums := make([]float64, maxPoints)
	counts := make([]int, maxPoints)
	for _, p := range raw {
		idx := int(p.Timestamp.Sub(from) / bucketWidth)
		if idx < 0 {
			idx = 0
		}
		if idx >= maxPoints {
			idx = maxPoints - 1
		}
		sums[idx] += p.Value
		counts[idx]++
	}
	out := make([]storage.Point, 0, maxPoints)
	for i := 0; i < maxPoints; i++ {
		if counts[i] == 0 {
			continue
		}
		out = append(out, storage.Point{
			Timestamp: from.Add(bucketWidth * time.Duration(i)),
			Value:     sums[i] / float64(counts[i]),
		})
	}
	return out
}

// Summary computes avg/min/max/p95 for metric over the trailing window.
func (s *Storage) Summary(ctx context.Context, metric string, window time.Duration) (storage.Summary, error) {
	now := time.Now()
	points, err := s.History(ctx, metric, now.Add(-window), now, 0)
	if err != nil {
		return storage.Summary{}, err
	}
	if len(points) == 0 {
		return storage.Summary{}, nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	sort.Float64s(values)

	var sum float64
	for _, v := range values {
		sum += v
	}
	p95idx := int(math.Ceil(0.95*float64(len(values)))) - 1
	if p95idx < 0 {
		p95idx = 0
	}
	if p95idx >= len(values) {
		p95idx = len(values) - 1
	}

	return storage.Summary{
		Avg: sum / float64(len(values)),
		Min: values[0],
		Max: values[len(values)-1],
		P95: values[p95idx],
	}, nil
}

// SampleStats reports the total snapshot count and the oldest snapshot's
// age, the raw inputs to the training-readiness ratio (spec §6.2, §8).
func (s *Storage) SampleStats(ctx context.Context) (storage.SampleStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	var oldestTS sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(timestamp) FROM system_snapshots`).Scan(&count, &oldestTS)
	if err != nil {
		return storage.SampleStats{}, fmt.Errorf("failed to query sample stats: %w", err)
	}
	if count == 0 || !oldestTS.Valid {
		return storage.SampleStats{Count: count}, nil
	}
	oldest := time.UnixMilli(oldestTS.Int64)
	return storage.SampleStats{
		Count:      count,
		OldestAge:  time.Since(oldest),
		HasSamples: true,
	}, nil
}

// Anomalies returns anomaly records in [from, to], oldest first.
func (s *Storage) Anomalies(ctx context.Context, from, to time.Time) ([]core.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, metric_name, current_value, expected_value, deviation_std, severity, context_json
		FROM anomalies WHERE timestamp >= ? AND timestamp <= ? ORDER BY timestamp ASC`,
		from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query anomalies: %w", err)
	}
	defer rows.Close()

	var out []core.Anomaly
	for rows.Next() {
		var a core.Anomaly
		var ts int64
		var severity, ctxJSON string
		if err := rows.Scan(&a.ID, &ts, &a.MetricName, &a.CurrentValue, &a.ExpectedValue, &a.DeviationStd, &severity, &ctxJSON); err != nil {
			return nil, fmt.Errorf("failed to scan anomaly row: %w", err)
		}
		a.Timestamp = time.UnixMilli(ts)
		a.Severity = core.Severity(severity)
		decodeJSONMapAny(ctxJSON, &a.ContextJSON)
		out = append(out, a)
	}
	return out, nil
}

// RetentionSweep deletes snapshots older than retentionDays (cascading to
// child rows) and anomalies older than anomalyRetentionDays, which the
// anomalies table holds independently of system_snapshots; then, if the
// file exceeds sizeCapMB, deletes the oldest remaining snapshots until it
// no longer does (spec §3: anomalies retained longer than raw snapshots,
// default 365 days; §4.6).
func (s *Storage) RetentionSweep(ctx context.Context, now time.Time, retentionDays, anomalyRetentionDays, sizeCapMB int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.AddDate(0, 0, -retentionDays).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM system_snapshots WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to sweep expired snapshots: %w", err)
	}

	anomalyCutoff := now.AddDate(0, 0, -anomalyRetentionDays).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM anomalies WHERE timestamp < ?`, anomalyCutoff); err != nil {
		return fmt.Errorf("failed to sweep expired anomalies: %w", err)
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return nil
	}
	capBytes := int64(sizeCapMB) * 1024 * 1024
	storage.FileSizeBytes.Set(float64(info.Size()))
	if info.Size() <= capBytes {
		return nil
	}

	for info.Size() > capBytes {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM system_snapshots WHERE id IN (
				SELECT id FROM system_snapshots ORDER BY timestamp ASC LIMIT 100
			)`)
		if err != nil {
			return fmt.Errorf("failed to compact over size cap: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			break
		}
		if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("failed to vacuum after compaction: %w", err)
		}
		info, err = os.Stat(s.path)
		if err != nil {
			break
		}
	}
	return nil
}
