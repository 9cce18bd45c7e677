// Package core defines the telemetry domain model: snapshots, fragments,
// and anomalies shared by the pipeline, store, pattern layer, and HTTP
// surface.
package core

import "time"

// Snapshot is the aggregate root for one sampled point in time. Every
// fragment is optional; the pipeline discards a snapshot with no fragments
// at all (spec invariant: at least one non-null fragment).
type Snapshot struct {
	Timestamp             time.Time         `json:"timestamp"`
	CPU                   *CPUFragment      `json:"cpu,omitempty"`
	RAM                   *RAMFragment      `json:"ram,omitempty"`
	GPU                   []GPUFragment     `json:"gpu,omitempty"`
	Disk                  *DiskFragment     `json:"disk,omitempty"`
	Network               *NetworkFragment  `json:"network,omitempty"`
	Processes             []ProcessInfo     `json:"processes,omitempty"`
	Context               *ContextFragment  `json:"context,omitempty"`
	CollectionDurationMS  int               `json:"collection_duration_ms"`
	CollectorErrors       map[string]string `json:"collector_errors,omitempty"`
}

// HasData reports whether at least one fragment is populated.
func (s *Snapshot) HasData() bool {
	return s.CPU != nil || s.RAM != nil || len(s.GPU) > 0 || s.Disk != nil ||
		s.Network != nil || len(s.Processes) > 0 || s.Context != nil
}

// CPUFragment is the cpu collector's typed output.
type CPUFragment struct {
	UsagePercent       float64   `json:"usage_percent"`
	FrequencyMHz       *float64  `json:"frequency_mhz"`
	PerCoreUsage       []float64 `json:"per_core_usage,omitempty"`
	TemperatureCelsius *float64  `json:"temperature_celsius"`
	LogicalCount       int       `json:"logical_count"`
	PhysicalCount      int       `json:"physical_count"`
}

// RAMFragment is the ram collector's typed output.
type RAMFragment struct {
	TotalGB      float64 `json:"total_gb"`
	UsedGB       float64 `json:"used_gb"`
	AvailableGB  float64 `json:"available_gb"`
	CachedGB     float64 `json:"cached_gb"`
	SwapTotalGB  float64 `json:"swap_total_gb"`
	SwapUsedGB   float64 `json:"swap_used_gb"`
	UsagePercent float64 `json:"usage_percent"`
}

// GPUFragment is one device entry in the gpu collector's sequence output.
type GPUFragment struct {
	Name             string   `json:"name"`
	UsagePercent     float64  `json:"usage_percent"`
	MemoryUsedGB     float64  `json:"memory_used_gb"`
	MemoryTotalGB    float64  `json:"memory_total_gb"`
	TemperatureCelsius *float64 `json:"temperature_celsius"`
	FanRPM           float64  `json:"fan_rpm"`
	PowerWatts       float64  `json:"power_watts"`
	CoreClockMHz     *float64 `json:"core_clock_mhz"`
	MemoryClockMHz   *float64 `json:"memory_clock_mhz"`
}

// DiskFragment is the disk collector's typed output.
type DiskFragment struct {
	ReadMbps     float64    `json:"read_mbps"`
	WriteMbps    float64    `json:"write_mbps"`
	QueueLength  float64    `json:"queue_length"`
	IOOpsPerSec  float64    `json:"io_ops_per_sec"`
	Disks        []DiskInfo `json:"disks,omitempty"`
}

// DiskInfo is one physical/logical disk's capacity stats.
type DiskInfo struct {
	Device       string  `json:"device"`
	TotalGB      float64 `json:"total_gb"`
	UsedGB       float64 `json:"used_gb"`
	FreeGB       float64 `json:"free_gb"`
	UsagePercent float64 `json:"usage_percent"`
}

// NetworkFragment is the network collector's typed output.
type NetworkFragment struct {
	DownloadMbps      float64         `json:"download_mbps"`
	UploadMbps        float64         `json:"upload_mbps"`
	ConnectionsActive int             `json:"connections_active"`
	BytesSent         uint64          `json:"bytes_sent"`
	BytesReceived     uint64          `json:"bytes_received"`
	PacketsSent       uint64          `json:"packets_sent"`
	PacketsReceived   uint64          `json:"packets_received"`
	Errors            uint64          `json:"errors"`
	WarmingUp         bool            `json:"warming_up,omitempty"`
	Interfaces        []InterfaceInfo `json:"interfaces,omitempty"`
}

// InterfaceInfo describes one network interface.
type InterfaceInfo struct {
	Name       string `json:"name"`
	SpeedMbps  int    `json:"speed_mbps"`
	IsUp       bool   `json:"is_up"`
}

// ProcessInfo is one entry in the top-N process list, ordered by CPU
// percent descending, ties broken by memory then name ascending.
type ProcessInfo struct {
	Name        string    `json:"name"`
	PID         int32     `json:"pid"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryMB    float64   `json:"memory_mb"`
	ThreadCount int32     `json:"threads"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
}

// TimeOfDay is the coarse daypart bucket for the context fragment.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// UserAction is the inferred activity bucket for the context fragment.
type UserAction string

const (
	ActionCoding    UserAction = "coding"
	ActionGaming    UserAction = "gaming"
	ActionBrowsing  UserAction = "browsing"
	ActionStreaming UserAction = "streaming"
	ActionIdle      UserAction = "idle"
	ActionUnknown   UserAction = "unknown"
)

// ContextFragment is the context collector's typed output.
type ContextFragment struct {
	UserActive   bool       `json:"user_active"`
	IdleSeconds  float64    `json:"idle_seconds"`
	ScreenLocked bool       `json:"screen_locked"`
	TimeOfDay    TimeOfDay  `json:"time_of_day"`
	DayOfWeek    string     `json:"day_of_week"`
	UserAction   UserAction `json:"user_action"`
}

// Severity classifies an anomaly's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Anomaly is an append-only record produced by the pattern layer.
type Anomaly struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	MetricName     string         `json:"metric_name"`
	CurrentValue   float64        `json:"current_value"`
	ExpectedValue  float64        `json:"expected_value"`
	DeviationStd   float64        `json:"deviation_std"`
	Severity       Severity       `json:"severity"`
	ContextJSON    map[string]any `json:"context_json,omitempty"`
}
