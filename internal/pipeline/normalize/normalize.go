// Package normalize applies absent-field derivation and stable list
// ordering to a freshly assembled snapshot before validation (spec §4.2).
// It performs no unit conversion: fields keep the units the collectors
// reported. It is a pure function: no I/O, no shared state.
package normalize

import (
	"sort"

	"github.com/nullhaus/sysmond/internal/core"
)

// Snapshot normalizes s in place and returns it for chaining.
func Snapshot(s *core.Snapshot) *core.Snapshot {
	if s.RAM != nil {
		normalizeRAM(s.RAM)
	}
	if s.Disk != nil {
		normalizeDisk(s.Disk)
	}
	if len(s.GPU) > 0 {
		normalizeGPUOrder(s.GPU)
	}
	if len(s.Processes) > 0 {
		normalizeProcessOrder(s.Processes)
	}
	return s
}

func normalizeRAM(r *core.RAMFragment) {
	if r.UsagePercent == 0 && r.TotalGB > 0 {
		r.UsagePercent = clampPercent((r.UsedGB / r.TotalGB) * 100)
	}
}

func normalizeDisk(d *core.DiskFragment) {
	sort.Slice(d.Disks, func(i, j int) bool {
		return d.Disks[i].Device < d.Disks[j].Device
	})
	for i := range d.Disks {
		if d.Disks[i].UsagePercent == 0 && d.Disks[i].TotalGB > 0 {
			d.Disks[i].UsagePercent = clampPercent((d.Disks[i].UsedGB / d.Disks[i].TotalGB) * 100)
		}
	}
}

// normalizeGPUOrder leaves GPUs in collector-reported (index) order; the
// collector already emits devices index-ascending, so this is a no-op
// placeholder kept for the symmetry the spec describes across list fragments.
func normalizeGPUOrder(gpus []core.GPUFragment) {}

func normalizeProcessOrder(procs []core.ProcessInfo) {
	sort.SliceStable(procs, func(i, j int) bool {
		if procs[i].CPUPercent != procs[j].CPUPercent {
			return procs[i].CPUPercent > procs[j].CPUPercent
		}
		if procs[i].MemoryMB != procs[j].MemoryMB {
			return procs[i].MemoryMB > procs[j].MemoryMB
		}
		return procs[i].Name < procs[j].Name
	})
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
