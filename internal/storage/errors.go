// Package storage defines the embedded store's public contract and the
// typed errors its implementations return (spec §4.6).
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/nullhaus/sysmond/internal/core"
)

// Store is the durable relational store's full public contract.
type Store interface {
	Write(ctx context.Context, snap *core.Snapshot) error
	WriteAnomaly(ctx context.Context, a *core.Anomaly) error
	Recent(ctx context.Context, n int) ([]*core.Snapshot, error)
	History(ctx context.Context, metric string, from, to time.Time, maxPoints int) ([]Point, error)
	Processes(ctx context.Context, n int) ([]core.ProcessInfo, error)
	Summary(ctx context.Context, metric string, window time.Duration) (Summary, error)
	Anomalies(ctx context.Context, from, to time.Time) ([]core.Anomaly, error)
	RetentionSweep(ctx context.Context, now time.Time, retentionDays, anomalyRetentionDays, sizeCapMB int) error
	SampleStats(ctx context.Context) (SampleStats, error)
	Close() error
}

// SampleStats is the raw input to the training-readiness calculation
// (spec §6.2, §8): total snapshot count and the age of the oldest one.
type SampleStats struct {
	Count       int64
	OldestAge   time.Duration
	HasSamples  bool
}

// Point is one (timestamp, value) sample in a history series, possibly a
// bucketed average when the raw series exceeds max_points (spec §4.6).
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Summary is the avg/min/max/p95 aggregate the /api/metrics/summary
// endpoint reports for one metric over a window.
type Summary struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	P95 float64 `json:"p95"`
}

// PrimaryMetrics is the bit-exact metric vocabulary spec §6.2 defines for
// /api/metrics/history and /api/metrics/summary.
var PrimaryMetrics = []string{
	"cpu_percent", "ram_percent", "gpu_percent",
	"disk_read_mbps", "disk_write_mbps", "net_down_mbps", "net_up_mbps",
}

// ErrDuplicateTimestamp is returned by Write when a snapshot with the same
// timestamp already exists (spec §4.6: one snapshot row per timestamp).
type ErrDuplicateTimestamp struct {
	Timestamp time.Time
}

func (e *ErrDuplicateTimestamp) Error() string {
	return fmt.Sprintf("duplicate_timestamp: a snapshot already exists at %s", e.Timestamp.Format(time.RFC3339Nano))
}

// ErrStorageFull describes a store file that has reached the configured
// size cap. The sqlite Store's Write does not return it; the size cap is
// enforced by RetentionSweep deleting the oldest snapshots.
type ErrStorageFull struct {
	Path      string
	SizeBytes int64
	CapBytes  int64
}

func (e *ErrStorageFull) Error() string {
	return fmt.Sprintf("storage_full: %s is %d bytes, cap is %d bytes", e.Path, e.SizeBytes, e.CapBytes)
}

// ErrInvalidPath is returned when the configured store path fails the
// basic path-safety checks applied before opening the database file.
type ErrInvalidPath struct {
	Path   string
	Reason string
}

func (e *ErrInvalidPath) Error() string {
	return fmt.Sprintf("invalid store path %q: %s", e.Path, e.Reason)
}

// ErrSchemaTooNew describes an on-disk schema version newer than the
// highest version this build knows. The sqlite Store does not return it:
// Open applies pending migrations with goose and does not compare the
// on-disk version against the highest known one.
type ErrSchemaTooNew struct {
	OnDisk  int
	Highest int
}

func (e *ErrSchemaTooNew) Error() string {
	return fmt.Sprintf("schema_too_new: on-disk schema version %d is newer than the highest known version %d", e.OnDisk, e.Highest)
}
