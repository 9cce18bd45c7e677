// Package validate applies the per-fragment range invariants from the data
// model (spec §3, §4.3). Each fragment either passes unchanged or is
// rejected wholesale and recorded in the snapshot's collector_errors map;
// validation never inspects fields across fragments.
package validate

import (
	"fmt"

	"github.com/nullhaus/sysmond/internal/core"
)

// Snapshot validates the cpu, ram, gpu, disk and network fragments on s,
// dropping any that fail and recording an invalid_range:<field> reason in
// collector_errors. The processes and context fragments are not checked.
func Snapshot(s *core.Snapshot) {
	if s.CPU != nil {
		if field := cpuInvalid(s.CPU); field != "" {
			reject(s, "cpu", field)
			s.CPU = nil
		}
	}
	if s.RAM != nil {
		if field := ramInvalid(s.RAM); field != "" {
			reject(s, "ram", field)
			s.RAM = nil
		}
	}
	if len(s.GPU) > 0 {
		s.GPU = filterGPUs(s, s.GPU)
	}
	if s.Disk != nil {
		if field := diskInvalid(s.Disk); field != "" {
			reject(s, "disk", field)
			s.Disk = nil
		}
	}
	if s.Network != nil {
		if field := networkInvalid(s.Network); field != "" {
			reject(s, "network", field)
			s.Network = nil
		}
	}
}

func reject(s *core.Snapshot, collector, field string) {
	if s.CollectorErrors == nil {
		s.CollectorErrors = make(map[string]string)
	}
	s.CollectorErrors[collector] = fmt.Sprintf("invalid_range:%s", field)
}

func cpuInvalid(c *core.CPUFragment) string {
	if c.UsagePercent < 0 || c.UsagePercent > 100 {
		return "usage_percent"
	}
	if c.FrequencyMHz != nil && *c.FrequencyMHz <= 0 {
		return "frequency_mhz"
	}
	if c.TemperatureCelsius != nil && (*c.TemperatureCelsius < 0 || *c.TemperatureCelsius > 150) {
		return "temperature_celsius"
	}
	if c.LogicalCount <= 0 || c.PhysicalCount <= 0 {
		return "logical_count"
	}
	if len(c.PerCoreUsage) != 0 && len(c.PerCoreUsage) != c.LogicalCount {
		return "per_core_usage"
	}
	return ""
}

func ramInvalid(r *core.RAMFragment) string {
	if r.TotalGB <= 0 {
		return "total_gb"
	}
	if r.UsedGB < 0 || r.AvailableGB < 0 || r.CachedGB < 0 {
		return "used_gb"
	}
	if r.SwapTotalGB < 0 || r.SwapUsedGB < 0 {
		return "swap_total_gb"
	}
	if r.UsedGB+r.AvailableGB > r.TotalGB*1.05 {
		return "used_gb"
	}
	return ""
}

func filterGPUs(s *core.Snapshot, gpus []core.GPUFragment) []core.GPUFragment {
	out := make([]core.GPUFragment, 0, len(gpus))
	for _, g := range gpus {
		if g.UsagePercent < 0 || g.UsagePercent > 100 {
			reject(s, "gpu", "usage_percent")
			continue
		}
		if g.MemoryUsedGB > g.MemoryTotalGB {
			reject(s, "gpu", "memory_used_gb")
			continue
		}
		if g.FanRPM < 0 || g.PowerWatts < 0 {
			reject(s, "gpu", "fan_rpm")
			continue
		}
		if g.TemperatureCelsius != nil && (*g.TemperatureCelsius < 0 || *g.TemperatureCelsius > 150) {
			reject(s, "gpu", "temperature_celsius")
			continue
		}
		out = append(out, g)
	}
	return out
}

func diskInvalid(d *core.DiskFragment) string {
	if d.ReadMbps < 0 || d.WriteMbps < 0 {
		return "read_mbps"
	}
	if d.QueueLength < 0 || d.IOOpsPerSec < 0 {
		return "queue_length"
	}
	for _, disk := range d.Disks {
		if disk.UsagePercent < 0 || disk.UsagePercent > 100 {
			return "usage_percent"
		}
	}
	return ""
}

func networkInvalid(n *core.NetworkFragment) string {
	if n.DownloadMbps < 0 || n.UploadMbps < 0 {
		return "download_mbps"
	}
	if n.ConnectionsActive < 0 {
		return "connections_active"
	}
	return ""
}
