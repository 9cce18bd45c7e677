package collector

import (
	"context"
	"time"

	"github.com/nullhaus/sysmond/internal/core"
	"github.com/shirou/gopsutil/v4/disk"
)

type diskIOSample struct {
	readBytes  uint64
	writeBytes uint64
	readCount  uint64
	writeCount uint64
	ioTimeMS   uint64
	at         time.Time
}

// DiskCollector reports aggregate throughput/IOPS across all monitored
// devices plus per-device capacity. Throughput is a delta between ticks, so
// the first sample after startup only establishes a baseline (spec §4.1:
// first-tick warm-up is allowed to omit rate-derived fields).
type DiskCollector struct {
	prev     map[string]diskIOSample
	firstRun bool
}

func NewDiskCollector() *DiskCollector {
	return &DiskCollector{prev: make(map[string]diskIOSample), firstRun: true}
}

func (c *DiskCollector) Name() string { return "disk" }

func (c *DiskCollector) Sample(ctx context.Context) (any, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, &Failure{Reason: ReasonTransientError, Detail: err.Error()}
	}

	now := time.Now()
	var readMbps, writeMbps, iops, queueLen float64
	haveDelta := !c.firstRun

	for name, counter := range counters {
		cur := diskIOSample{
			readBytes:  counter.ReadBytes,
			writeBytes: counter.WriteBytes,
			readCount:  counter.ReadCount,
			writeCount: counter.WriteCount,
			ioTimeMS:   counter.IoTime,
			at:         now,
		}
		prev, ok := c.prev[name]
		c.prev[name] = cur
		if !ok || c.firstRun {
			continue
		}
		elapsed := cur.at.Sub(prev.at).Seconds()
		if elapsed <= 0 {
			continue
		}
		readMbps += bytesDeltaToMbps(prev.readBytes, cur.readBytes, elapsed)
		writeMbps += bytesDeltaToMbps(prev.writeBytes, cur.writeBytes, elapsed)
		iops += counterDeltaPerSec(prev.readCount, cur.readCount, elapsed) +
			counterDeltaPerSec(prev.writeCount, cur.writeCount, elapsed)
		if cur.ioTimeMS >= prev.ioTimeMS {
			queueLen += float64(cur.ioTimeMS-prev.ioTimeMS) / 1000 / elapsed
		}
	}
	c.firstRun = false

	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		partitions = nil
	}
	disks := make([]core.DiskInfo, 0, len(partitions))
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		disks = append(disks, core.DiskInfo{
			Device:       p.Device,
			TotalGB:      float64(usage.Total) / bytesPerGB,
			UsedGB:       float64(usage.Used) / bytesPerGB,
			FreeGB:       float64(usage.Free) / bytesPerGB,
			UsagePercent: clampPercent(usage.UsedPercent),
		})
	}

	if !haveDelta && len(disks) == 0 {
		return nil, &Failure{Reason: ReasonTransientError, Detail: "no disk data available"}
	}

	return &core.DiskFragment{
		ReadMbps:    readMbps,
		WriteMbps:   writeMbps,
		QueueLength: queueLen,
		IOOpsPerSec: iops,
		Disks:       disks,
	}, nil
}

func bytesDeltaToMbps(prev, cur uint64, elapsedSec float64) float64 {
	if cur < prev {
		return 0
	}
	return (float64(cur-prev) * 8 / 1e6) / elapsedSec
}

func counterDeltaPerSec(prev, cur uint64, elapsedSec float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsedSec
}
