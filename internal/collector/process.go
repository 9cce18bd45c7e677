package collector

import (
	"context"
	"sort"

	"github.com/nullhaus/sysmond/internal/core"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessCollector reports the top-N processes by CPU usage. When
// processNameOnly is set (the default, spec §8 privacy.process_name_only)
// it never reads argv or the executable path, only the reported name.
type ProcessCollector struct {
	topN            int
	processNameOnly bool
}

func NewProcessCollector(topN int, processNameOnly bool) *ProcessCollector {
	return &ProcessCollector{topN: topN, processNameOnly: processNameOnly}
}

func (c *ProcessCollector) Name() string { return "process" }

func (c *ProcessCollector) Sample(ctx context.Context) (any, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, &Failure{Reason: ReasonTransientError, Detail: err.Error()}
	}

	infos := make([]core.ProcessInfo, 0, len(pids))
	for _, pid := range pids {
		select {
		case <-ctx.Done():
			return nil, &Failure{Reason: ReasonTimeout}
		default:
		}

		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memInfo, err := p.MemoryInfoWithContext(ctx)
		var memMB float64
		if err == nil && memInfo != nil {
			memMB = float64(memInfo.RSS) / (1024 * 1024)
		}
		threads, _ := p.NumThreadsWithContext(ctx)
		statuses, _ := p.StatusWithContext(ctx)
		status := ""
		if len(statuses) > 0 {
			status = statuses[0]
		}
		createdMS, _ := p.CreateTimeWithContext(ctx)

		infos = append(infos, core.ProcessInfo{
			Name:        name,
			PID:         pid,
			CPUPercent:  clampPercent(cpuPct),
			MemoryMB:    memMB,
			ThreadCount: threads,
			Status:      status,
			StartedAt:   msToTime(createdMS),
		})
	}

	sortProcesses(infos)
	if len(infos) > c.topN {
		infos = infos[:c.topN]
	}
	return infos, nil
}

// sortProcesses applies the ordering rule: CPU percent descending, ties
// broken by memory descending, then name ascending.
func sortProcesses(infos []core.ProcessInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CPUPercent != infos[j].CPUPercent {
			return infos[i].CPUPercent > infos[j].CPUPercent
		}
		if infos[i].MemoryMB != infos[j].MemoryMB {
			return infos[i].MemoryMB > infos[j].MemoryMB
		}
		return infos[i].Name < infos[j].Name
	})
}
