package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaus/sysmond/internal/collector"
	"github.com/nullhaus/sysmond/internal/config"
	"github.com/nullhaus/sysmond/internal/core"
)

type fakeCollector struct{ name string }

func (f *fakeCollector) Name() string { return f.name }
func (f *fakeCollector) Sample(ctx context.Context) (any, error) {
	return &core.CPUFragment{UsagePercent: 1, LogicalCount: 1, PhysicalCount: 1}, nil
}

type fakePipeline struct {
	mu    sync.Mutex
	ticks [][]string
}

func (p *fakePipeline) TickNames(ctx context.Context, budget time.Duration, names []string) *core.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(names))
	copy(cp, names)
	p.ticks = append(p.ticks, cp)
	return nil
}
func (p *fakePipeline) Close() {}

func (p *fakePipeline) tickCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

type fakeStore struct {
	sweeps atomic.Int64
}

func (s *fakeStore) RetentionSweep(ctx context.Context, now time.Time, retentionDays, anomalyRetentionDays, sizeCapMB int) error {
	s.sweeps.Add(1)
	return nil
}

type fakePatterns struct {
	refreshes atomic.Int64
}

func (p *fakePatterns) RefreshBaselines(ctx context.Context) error {
	p.refreshes.Add(1)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Collection.HighIntervalSec = 1
	cfg.Collection.MediumIntervalSec = 2
	cfg.Collection.LowIntervalSec = 4
	cfg.Collection.VeryLowIntervalSec = 4
	cfg.Collection.TickBudgetRatio = 0.8
	cfg.Store.RetentionDays = 90
	cfg.Store.SizeCapMB = 2048
	cfg.Resources.DrainBudget = 2 * time.Second
	cfg.Resources.MaxResidentMB = 1 << 30
	cfg.Resources.MaxCPUPercent = 1000
	cfg.Resources.OverrunWindow = time.Hour
	return cfg
}

func TestScheduler_HighTierFiresEveryTick(t *testing.T) {
	reg := collector.NewRegistry(&fakeCollector{name: "cpu"}, &fakeCollector{name: "ram"}, &fakeCollector{name: "context"})
	pipeline := &fakePipeline{}
	store := &fakeStore{}
	sched := New(testConfig(), reg, pipeline, store, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	require.Eventually(t, func() bool { return pipeline.tickCount() >= 2 }, 3*time.Second, 20*time.Millisecond)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	for _, names := range pipeline.ticks {
		assert.Contains(t, names, "cpu")
		assert.Contains(t, names, "ram")
		assert.Contains(t, names, "context")
	}
}

func TestScheduler_VeryLowTierRunsRetentionAndBaselines(t *testing.T) {
	reg := collector.NewRegistry(&fakeCollector{name: "cpu"})
	pipeline := &fakePipeline{}
	store := &fakeStore{}
	patterns := &fakePatterns{}
	cfg := testConfig()
	cfg.Collection.VeryLowIntervalSec = 1

	sched := New(cfg, reg, pipeline, store, patterns, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)
	defer sched.Stop()

	require.Eventually(t, func() bool { return store.sweeps.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool { return patterns.refreshes.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_StopDrainsWithinBudget(t *testing.T) {
	reg := collector.NewRegistry(&fakeCollector{name: "cpu"})
	pipeline := &fakePipeline{}
	store := &fakeStore{}
	sched := New(testConfig(), reg, pipeline, store, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	require.Eventually(t, func() bool { return pipeline.tickCount() >= 1 }, 3*time.Second, 20*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		sched.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop within expected time")
	}
}

func TestScheduler_NotThrottledByDefault(t *testing.T) {
	reg := collector.NewRegistry(&fakeCollector{name: "cpu"})
	pipeline := &fakePipeline{}
	store := &fakeStore{}
	sched := New(testConfig(), reg, pipeline, store, nil, slog.Default())
	assert.False(t, sched.Throttled())
}
