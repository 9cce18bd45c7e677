// Package sqlite implements storage.Store on an embedded, CGO-free SQLite
// database (spec §4.6). Grounded on the teacher's SQLite storage adapter:
// WAL mode, foreign keys on, a bounded connection pool, and the same
// path-safety checks before the file is ever opened — generalized from a
// single flat alerts table to the snapshot/fragment schema this agent
// needs, and from an UPSERT-keyed write to an atomic multi-table insert.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nullhaus/sysmond/internal/core"
	"github.com/nullhaus/sysmond/internal/storage"
	"github.com/nullhaus/sysmond/internal/storage/migrations"
)

// Storage implements storage.Store on a single SQLite file.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
	mu     sync.RWMutex
}

// Open creates (if needed) and migrates the SQLite file at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Storage, error) {
	if path == "" {
		return nil, &storage.ErrInvalidPath{Path: path, Reason: "path cannot be empty"}
	}
	if strings.Contains(path, "..") {
		return nil, &storage.ErrInvalidPath{Path: path, Reason: "must not contain '..'"}
	}
	for _, prefix := range []string{"/etc", "/sys", "/proc", "/dev"} {
		if strings.HasPrefix(path, prefix) {
			return nil, &storage.ErrInvalidPath{Path: path, Reason: fmt.Sprintf("forbidden prefix %s", prefix)}
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		logger.Warn("failed to set store file permissions to 0600", "path", path, "error", err)
	}

	s := &Storage{db: db, logger: logger, path: path}
	storage.SetHealthStatus(true)
	logger.Info("sqlite store opened", "path", path, "wal_mode", true)
	return s, nil
}

// SchemaVersion reports the currently applied goose migration version.
// Open already applies every pending migration, so this is informational
// only (used by the migrate CLI subcommand to confirm the result).
func (s *Storage) SchemaVersion(ctx context.Context) (int64, error) {
	return migrations.Version(s.db)
}

// Write persists snap and all of its child fragments in a single
// transaction (spec §4.6: all child rows commit with the parent, or none).
func (s *Storage) Write(ctx context.Context, snap *core.Snapshot) error {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	errsJSON, err := json.Marshal(snap.CollectorErrors)
	if err != nil {
		return fmt.Errorf("failed to marshal collector_errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		storage.RecordOperation("write", "error")
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO system_snapshots (timestamp, collection_duration_ms, collector_errors)
		VALUES (?, ?, ?)`,
		snap.Timestamp.UnixMilli(), snap.CollectionDurationMS, string(errsJSON),
	)
	if err != nil {
		storage.RecordOperation("write", "error")
		if isUniqueConstraintErr(err) {
			return &storage.ErrDuplicateTimestamp{Timestamp: snap.Timestamp}
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	snapshotID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read snapshot id: %w", err)
	}

	if err := s.writeFragments(ctx, tx, snapshotID, snap); err != nil {
		storage.RecordOperation("write", "error")
		return err
	}

	if err := tx.Commit(); err != nil {
		storage.RecordOperation("write", "error")
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	storage.RecordOperation("write", "success")
	storage.RecordOperationDuration("write", time.Since(start).Seconds())
	return nil
}

func (s *Storage) writeFragments(ctx context.Context, tx *sql.Tx, snapshotID int64, snap *core.Snapshot) error {
	if c := snap.CPU; c != nil {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO cpu_metrics (snapshot_id, usage_percent, frequency_mhz, temperature_celsius, logical_count, physical_count)
			VALUES (?, ?, ?, ?, ?, ?)`,
			snapshotID, c.UsagePercent, nullFloat(c.FrequencyMHz), nullFloat(c.TemperatureCelsius), c.LogicalCount, c.PhysicalCount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert cpu_metrics: %w", err)
		}
		cpuID, _ := res.LastInsertId()
		for i, pct := range c.PerCoreUsage {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cpu_core_usage (cpu_metric_id, core_index, usage_percent) VALUES (?, ?, ?)`,
				cpuID, i, pct); err != nil {
				return fmt.Errorf("failed to insert cpu_core_usage: %w", err)
			}
		}
	}

	if r := snap.RAM; r != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ram_metrics (snapshot_id, total_gb, used_gb, available_gb, cached_gb, swap_total_gb, swap_used_gb, usage_percent)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, r.TotalGB, r.UsedGB, r.AvailableGB, r.CachedGB, r.SwapTotalGB, r.SwapUsedGB, r.UsagePercent,
		); err != nil {
			return fmt.Errorf("failed to insert ram_metrics: %w", err)
		}
	}

	for i, g := range snap.GPU {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO gpu_metrics (snapshot_id, device_index, name, usage_percent, memory_used_gb, memory_total_gb, temperature_celsius, fan_rpm, power_watts, core_clock_mhz, memory_clock_mhz)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, i, g.Name, g.UsagePercent, g.MemoryUsedGB, g.MemoryTotalGB, nullFloat(g.TemperatureCelsius), g.FanRPM, g.PowerWatts, nullFloat(g.CoreClockMHz), nullFloat(g.MemoryClockMHz),
		); err != nil {
			return fmt.Errorf("failed to insert gpu_metrics: %w", err)
		}
	}

	if d := snap.Disk; d != nil {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO disk_metrics (snapshot_id, read_mbps, write_mbps, queue_length, io_ops_per_sec)
			VALUES (?, ?, ?, ?, ?)`,
			snapshotID, d.ReadMbps, d.WriteMbps, d.QueueLength, d.IOOpsPerSec,
		)
		if err != nil {
			return fmt.Errorf("failed to insert disk_metrics: %w", err)
		}
		diskID, _ := res.LastInsertId()
		for _, dev := range d.Disks {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO disk_devices (disk_metric_id, device, total_gb, used_gb, free_gb, usage_percent)
				VALUES (?, ?, ?, ?, ?, ?)`,
				diskID, dev.Device, dev.TotalGB, dev.UsedGB, dev.FreeGB, dev.UsagePercent); err != nil {
				return fmt.Errorf("failed to insert disk_devices: %w", err)
			}
		}
	}

	if n := snap.Network; n != nil {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO network_metrics (snapshot_id, download_mbps, upload_mbps, connections_active, bytes_sent, bytes_received, packets_sent, packets_received, errors, warming_up)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, n.DownloadMbps, n.UploadMbps, n.ConnectionsActive, n.BytesSent, n.BytesReceived, n.PacketsSent, n.PacketsReceived, n.Errors, boolToInt(n.WarmingUp),
		)
		if err != nil {
			return fmt.Errorf("failed to insert network_metrics: %w", err)
		}
		netID, _ := res.LastInsertId()
		for _, iface := range n.Interfaces {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO network_interfaces (network_metric_id, name, speed_mbps, is_up)
				VALUES (?, ?, ?, ?)`,
				netID, iface.Name, iface.SpeedMbps, boolToInt(iface.IsUp)); err != nil {
				return fmt.Errorf("failed to insert network_interfaces: %w", err)
			}
		}
	}

	for _, p := range snap.Processes {
		var startedAt *int64
		if !p.StartedAt.IsZero() {
			ms := p.StartedAt.UnixMilli()
			startedAt = &ms
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO process_info (snapshot_id, name, pid, cpu_percent, memory_mb, thread_count, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, p.Name, p.PID, p.CPUPercent, p.MemoryMB, p.ThreadCount, p.Status, startedAt,
		); err != nil {
			return fmt.Errorf("failed to insert process_info: %w", err)
		}
	}

	if c := snap.Context; c != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO system_context (snapshot_id, user_active, idle_seconds, screen_locked, time_of_day, day_of_week, user_action)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snapshotID, boolToInt(c.UserActive), c.IdleSeconds, boolToInt(c.ScreenLocked), string(c.TimeOfDay), c.DayOfWeek, string(c.UserAction),
		); err != nil {
			return fmt.Errorf("failed to insert system_context: %w", err)
		}
	}

	return nil
}

// WriteAnomaly appends an anomaly record (spec §4.7: append-only, written
// synchronously by the pattern layer).
func (s *Storage) WriteAnomaly(ctx context.Context, a *core.Anomaly) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctxJSON, err := json.Marshal(a.ContextJSON)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anomalies (id, timestamp, metric_name, current_value, expected_value, deviation_std, severity, context_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp.UnixMilli(), a.MetricName, a.CurrentValue, a.ExpectedValue, a.DeviationStd, string(a.Severity), string(ctxJSON),
	)
	if err != nil {
		storage.RecordOperation("write_anomaly", "error")
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	storage.RecordOperation("write_anomaly", "success")
	return nil
}

// Close closes the underlying database handle. Idempotent.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	storage.SetHealthStatus(false)
	return err
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintErr(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
