package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullhaus/sysmond/internal/collector"
	"github.com/nullhaus/sysmond/internal/core"
)

type fakeCPUCollector struct {
	usage float64
}

func (c *fakeCPUCollector) Name() string { return "cpu" }
func (c *fakeCPUCollector) Sample(ctx context.Context) (any, error) {
	return &core.CPUFragment{UsagePercent: c.usage, LogicalCount: 8, PhysicalCount: 4}, nil
}

type fakeRAMCollector struct {
	usage float64
}

func (c *fakeRAMCollector) Name() string { return "ram" }
func (c *fakeRAMCollector) Sample(ctx context.Context) (any, error) {
	return &core.RAMFragment{UsagePercent: c.usage, TotalGB: 16, UsedGB: 16 * c.usage / 100, AvailableGB: 16 - 16*c.usage/100}, nil
}

type failingCollector struct {
	name    string
	failure *collector.Failure
}

func (c *failingCollector) Name() string { return c.name }
func (c *failingCollector) Sample(ctx context.Context) (any, error) {
	return nil, c.failure
}

type slowCollector struct {
	name  string
	delay time.Duration
}

func (c *slowCollector) Name() string { return c.name }
func (c *slowCollector) Sample(ctx context.Context) (any, error) {
	select {
	case <-time.After(c.delay):
		return &core.CPUFragment{UsagePercent: 1}, nil
	case <-ctx.Done():
		return nil, &collector.Failure{Reason: collector.ReasonTimeout}
	}
}

type fakeStore struct {
	mu    sync.Mutex
	snaps []*core.Snapshot
}

func (s *fakeStore) Write(ctx context.Context, snap *core.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

type fakeSink struct {
	mu    sync.Mutex
	snaps []*core.Snapshot
}

func (s *fakeSink) Publish(snap *core.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snaps)
}

func newTestPipeline(reg *collector.Registry) (*Pipeline, *fakeStore, *fakeSink, *fakeSink) {
	store := &fakeStore{}
	ring := &fakeSink{}
	patterns := &fakeSink{}
	p := New(reg, store, ring, patterns, slog.Default(), 8)
	return p, store, ring, patterns
}

func TestPipeline_TickAssemblesFragments(t *testing.T) {
	reg := collector.NewRegistry(&fakeCPUCollector{usage: 50}, &fakeRAMCollector{usage: 30})
	p, store, ring, patterns := newTestPipeline(reg)
	defer p.Close()

	snap := p.Tick(context.Background(), time.Second)

	require.NotNil(t, snap)
	require.NotNil(t, snap.CPU)
	assert.Equal(t, 50.0, snap.CPU.UsagePercent)
	require.NotNil(t, snap.RAM)
	assert.Equal(t, 30.0, snap.RAM.UsagePercent)

	assert.Equal(t, 1, ring.count())
	assert.Equal(t, 1, patterns.count())
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestPipeline_TickNamesOnlySamplesRequested(t *testing.T) {
	reg := collector.NewRegistry(&fakeCPUCollector{usage: 50}, &fakeRAMCollector{usage: 30})
	p, _, _, _ := newTestPipeline(reg)
	defer p.Close()

	snap := p.TickNames(context.Background(), time.Second, []string{"cpu"})

	require.NotNil(t, snap)
	assert.NotNil(t, snap.CPU)
	assert.Nil(t, snap.RAM)
}

func TestPipeline_CollectorFailureRecordsErrorAndHealth(t *testing.T) {
	reg := collector.NewRegistry(
		&fakeCPUCollector{usage: 50},
		&failingCollector{name: "gpu", failure: &collector.Failure{Reason: collector.ReasonUnsupported}},
	)
	p, _, _, _ := newTestPipeline(reg)
	defer p.Close()

	snap := p.Tick(context.Background(), time.Second)

	require.NotNil(t, snap)
	assert.Equal(t, "unsupported", snap.CollectorErrors["gpu"])

	health := p.Health()
	require.Contains(t, health, "gpu")
	assert.Equal(t, "unsupported", health["gpu"].LastError)
	require.Contains(t, health, "cpu")
	assert.False(t, health["cpu"].LastSuccess.IsZero())

	// Permanent failures disable the collector for the rest of the session.
	_, ok := reg.Get("gpu")
	assert.False(t, ok)
}

func TestPipeline_DiscardsEmptySnapshot(t *testing.T) {
	reg := collector.NewRegistry(
		&failingCollector{name: "cpu", failure: &collector.Failure{Reason: collector.ReasonTransientError}},
	)
	p, store, ring, patterns := newTestPipeline(reg)
	defer p.Close()

	snap := p.Tick(context.Background(), time.Second)

	assert.Nil(t, snap)
	assert.Equal(t, 0, ring.count())
	assert.Equal(t, 0, patterns.count())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, store.count())
}

func TestPipeline_TickRespectsDeadline(t *testing.T) {
	reg := collector.NewRegistry(&slowCollector{name: "cpu", delay: 500 * time.Millisecond})
	p, _, _, _ := newTestPipeline(reg)
	defer p.Close()

	start := time.Now()
	snap := p.Tick(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 400*time.Millisecond)
	if snap != nil {
		assert.Equal(t, "timeout", snap.CollectorErrors["cpu"])
	}
}

func TestPipeline_StampTimestampRejectsOutOfOrder(t *testing.T) {
	reg := collector.NewRegistry(&fakeCPUCollector{usage: 1})
	p, _, _, _ := newTestPipeline(reg)
	defer p.Close()

	now := time.Now()
	snap := &core.Snapshot{Timestamp: now, CPU: &core.CPUFragment{}}
	ok := p.stampTimestamp(snap)
	assert.True(t, ok)

	earlier := &core.Snapshot{Timestamp: now.Add(-time.Second), CPU: &core.CPUFragment{}}
	ok = p.stampTimestamp(earlier)
	assert.False(t, ok)

	same := &core.Snapshot{Timestamp: now, CPU: &core.CPUFragment{}}
	ok = p.stampTimestamp(same)
	require.True(t, ok)
	assert.True(t, same.Timestamp.After(now))
}

// gatedStore blocks every Write until release is closed.
type gatedStore struct {
	fakeStore
	release chan struct{}
}

func (s *gatedStore) Write(ctx context.Context, snap *core.Snapshot) error {
	<-s.release
	return s.fakeStore.Write(ctx, snap)
}

func TestPipeline_StoreDropsWhenQueueSaturated(t *testing.T) {
	reg := collector.NewRegistry(&fakeCPUCollector{usage: 1})
	store := &gatedStore{release: make(chan struct{})}
	ring := &fakeSink{}
	patterns := &fakeSink{}
	// With a queue depth of 1 and every Write blocked, at most one snapshot
	// sits in the writer and one in the queue, so 20 ticks in a row force
	// saturation deterministically.
	p := New(reg, store, ring, patterns, slog.Default(), 1)
	defer p.Close()

	for i := 0; i < 20; i++ {
		p.Tick(context.Background(), time.Second)
	}
	assert.Positive(t, p.StoreDrops())
	close(store.release)

	require.Eventually(t, func() bool { return store.count() > 0 }, time.Second, 10*time.Millisecond)
}
