package collector

import (
	"context"

	"github.com/nullhaus/sysmond/internal/core"
	"github.com/shirou/gopsutil/v4/mem"
)

const bytesPerGB = 1024 * 1024 * 1024

// RAMCollector samples virtual and swap memory. Usage percent is derived
// from used/total when gopsutil doesn't already provide it (spec §4.2).
type RAMCollector struct{}

func NewRAMCollector() *RAMCollector { return &RAMCollector{} }

func (c *RAMCollector) Name() string { return "ram" }

func (c *RAMCollector) Sample(ctx context.Context) (any, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, &Failure{Reason: ReasonTransientError, Detail: err.Error()}
	}
	if vm.Total == 0 {
		return nil, &Failure{Reason: ReasonTransientError, Detail: "total memory reported as zero"}
	}

	swap, err := mem.SwapMemoryWithContext(ctx)
	var swapTotal, swapUsed float64
	if err == nil {
		swapTotal = float64(swap.Total) / bytesPerGB
		swapUsed = float64(swap.Used) / bytesPerGB
	}

	totalGB := float64(vm.Total) / bytesPerGB
	usedGB := float64(vm.Used) / bytesPerGB
	availableGB := float64(vm.Available) / bytesPerGB
	cachedGB := float64(vm.Cached) / bytesPerGB

	frag := &core.RAMFragment{
		TotalGB:      totalGB,
		UsedGB:       usedGB,
		AvailableGB:  availableGB,
		CachedGB:     cachedGB,
		SwapTotalGB:  swapTotal,
		SwapUsedGB:   swapUsed,
		UsagePercent: vm.UsedPercent,
	}
	if frag.UsagePercent == 0 && totalGB > 0 {
		frag.UsagePercent = clampPercent((usedGB / totalGB) * 100)
	}
	return frag, nil
}
