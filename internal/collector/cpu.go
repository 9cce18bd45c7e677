package collector

import (
	"context"
	"runtime"

	"github.com/nullhaus/sysmond/internal/core"
	"github.com/shirou/gopsutil/v4/cpu"
)

// CPUCollector samples aggregate and per-core utilization, frequency, and
// logical/physical core counts. Temperature is platform-dependent and is
// left absent (nil) rather than a sentinel value (spec §9 open question).
type CPUCollector struct {
	physicalCount int
}

// NewCPUCollector creates a CPU collector. Physical core count is queried
// once at construction since it cannot change during the process lifetime.
func NewCPUCollector() *CPUCollector {
	physical, err := cpu.Counts(false)
	if err != nil || physical <= 0 {
		physical = runtime.NumCPU()
	}
	return &CPUCollector{physicalCount: physical}
}

func (c *CPUCollector) Name() string { return "cpu" }

func (c *CPUCollector) Sample(ctx context.Context) (any, error) {
	overall, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return nil, &Failure{Reason: ReasonTransientError, Detail: err.Error()}
	}
	if len(overall) == 0 {
		return nil, &Failure{Reason: ReasonTransientError, Detail: "no cpu percent samples returned"}
	}

	perCore, err := cpu.PercentWithContext(ctx, 0, true)
	if err != nil {
		perCore = nil
	}

	var freqPtr *float64
	if info, err := cpu.InfoWithContext(ctx); err == nil && len(info) > 0 && info[0].Mhz > 0 {
		mhz := info[0].Mhz
		freqPtr = &mhz
	}

	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil || logical <= 0 {
		logical = runtime.NumCPU()
	}

	usage := clampPercent(overall[0])
	return &core.CPUFragment{
		UsagePercent:       usage,
		FrequencyMHz:       freqPtr,
		PerCoreUsage:       clampPercents(perCore),
		TemperatureCelsius: nil,
		LogicalCount:       logical,
		PhysicalCount:      c.physicalCount,
	}, nil
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

func clampPercents(vs []float64) []float64 {
	if vs == nil {
		return nil
	}
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = clampPercent(v)
	}
	return out
}
