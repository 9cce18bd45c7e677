// Package pipeline orchestrates one sampling tick: fan-out to collectors
// under a shared deadline, join, normalize, validate, assemble, and hand the
// resulting snapshot to the store, ring buffer, and pattern layer (spec
// §4.4). The fan-out/join shape is grounded on the teacher collector
// manager's goroutine-per-collector-plus-mutex-assembly pattern, generalized
// from a fixed four-collector case to an arbitrary named registry.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullhaus/sysmond/internal/collector"
	"github.com/nullhaus/sysmond/internal/core"
	"github.com/nullhaus/sysmond/internal/pipeline/normalize"
	"github.com/nullhaus/sysmond/internal/pipeline/validate"
)

// Store is the durable sink. Write must be synchronous from the pipeline's
// point of view; the pipeline itself provides the back-pressure handling.
type Store interface {
	Write(ctx context.Context, snap *core.Snapshot) error
}

// RingBuffer is the live-read sink; Publish must never block.
type RingBuffer interface {
	Publish(snap *core.Snapshot)
}

// PatternSink is the anomaly-detection sink; Publish must never block.
type PatternSink interface {
	Publish(snap *core.Snapshot)
}

// Pipeline runs one tick at a time; it is the single writer of
// lastTimestamp and storeQueue, so it is not safe to call Tick concurrently
// with itself (the scheduler enforces this by running one cadence loop per
// pipeline instance).
type Pipeline struct {
	registry *collector.Registry
	store    Store
	ring     RingBuffer
	patterns PatternSink
	logger   *slog.Logger

	mu            sync.Mutex
	lastTimestamp time.Time

	healthMu sync.RWMutex
	health   map[string]CollectorHealth

	storeQueue chan *core.Snapshot
	storeDrops atomic.Int64
	wg         sync.WaitGroup

	metrics Metrics
}

// Metrics receives pipeline-internal instrumentation. Nil is safe: every
// call site guards against it, so a pipeline built without SetMetrics runs
// uninstrumented rather than panicking.
type Metrics interface {
	ObserveTick(d time.Duration)
	RecordCollectorError(collector, reason string)
}

// SetMetrics attaches the instrumentation sink. Call once before Tick runs
// concurrently with anything else.
func (p *Pipeline) SetMetrics(m Metrics) {
	p.metrics = m
}

// CollectorHealth is one collector's entry in the /health response (spec
// §4.9: "collectors:{name:{last_success_ts, last_error}}").
type CollectorHealth struct {
	LastSuccess time.Time
	LastError   string
}

// Health returns a snapshot of every collector's last outcome.
func (p *Pipeline) Health() map[string]CollectorHealth {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	out := make(map[string]CollectorHealth, len(p.health))
	for k, v := range p.health {
		out[k] = v
	}
	return out
}

func (p *Pipeline) recordHealth(name string, success bool, errMsg string, at time.Time) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	if p.health == nil {
		p.health = make(map[string]CollectorHealth)
	}
	h := p.health[name]
	if success {
		h.LastSuccess = at
	} else {
		h.LastError = errMsg
	}
	p.health[name] = h
}

// New builds a pipeline. storeQueueDepth bounds the in-flight write queue
// that absorbs brief store-write stalls before the pipeline starts dropping
// the oldest unwritten snapshot (spec §4.4 back-pressure policy).
func New(reg *collector.Registry, store Store, ring RingBuffer, patterns PatternSink, logger *slog.Logger, storeQueueDepth int) *Pipeline {
	p := &Pipeline{
		registry:   reg,
		store:      store,
		ring:       ring,
		patterns:   patterns,
		logger:     logger,
		storeQueue: make(chan *core.Snapshot, storeQueueDepth),
	}
	p.wg.Add(1)
	go p.drainStoreQueue()
	return p
}

// Close stops the background store-writer goroutine, draining anything
// already queued. Callers should cancel new Ticks before calling Close.
func (p *Pipeline) Close() {
	close(p.storeQueue)
	p.wg.Wait()
}

// StoreDrops returns the number of snapshots dropped because the store
// write queue was saturated.
func (p *Pipeline) StoreDrops() int64 {
	return p.storeDrops.Load()
}

type collectorResult struct {
	name     string
	fragment any
	err      error
}

// Tick runs one full sampling cycle over every registered collector and
// returns the assembled snapshot, or nil if discarded.
func (p *Pipeline) Tick(ctx context.Context, tickBudget time.Duration) *core.Snapshot {
	return p.TickNames(ctx, tickBudget, p.registry.Names())
}

// TickNames runs one sampling cycle over only the named collectors,
// producing a snapshot with nulls for every fragment not in names (spec
// §4.8: a tick at cadence T samples only the collectors assigned to T or
// faster).
func (p *Pipeline) TickNames(ctx context.Context, tickBudget time.Duration, names []string) *core.Snapshot {
	tickStart := time.Now()
	deadline := tickStart.Add(tickBudget)
	tickCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveTick(time.Since(tickStart))
		}
	}()

	results := make(chan collectorResult, len(names))
	var wg sync.WaitGroup
	for _, name := range names {
		c, ok := p.registry.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(c collector.Collector) {
			defer wg.Done()
			frag, err := c.Sample(tickCtx)
			results <- collectorResult{name: c.Name(), fragment: frag, err: err}
		}(c)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	snap := &core.Snapshot{
		Timestamp:            time.Now(),
		CollectionDurationMS: 0,
		CollectorErrors:      make(map[string]string),
	}
	for res := range results {
		p.assemble(snap, res)
	}
	snap.CollectionDurationMS = int(time.Since(tickStart).Milliseconds())
	if snap.CollectionDurationMS > 10000 {
		snap.CollectionDurationMS = 10000
	}

	normalize.Snapshot(snap)
	validate.Snapshot(snap)

	if !snap.HasData() {
		p.logger.Debug("tick produced no usable fragments, discarding")
		return nil
	}
	if err := snap.Validate(); err != nil {
		p.logger.Warn("snapshot failed validation, discarding", "error", err)
		return nil
	}

	if !p.stampTimestamp(snap) {
		p.logger.Warn("snapshot timestamp earlier than last recorded timestamp, discarding")
		return nil
	}

	p.ring.Publish(snap)
	p.patterns.Publish(snap)
	p.enqueueWrite(snap)

	return snap
}

func (p *Pipeline) assemble(snap *core.Snapshot, res collectorResult) {
	if res.err != nil {
		reason := "transient_error"
		if f, ok := res.err.(*collector.Failure); ok {
			reason = string(f.Reason)
			if f.Permanent() {
				p.registry.Disable(res.name)
				p.logger.Warn("collector disabled for remainder of session", "collector", res.name, "reason", reason)
			}
		}
		snap.CollectorErrors[res.name] = reason
		p.recordHealth(res.name, false, reason, time.Now())
		if p.metrics != nil {
			p.metrics.RecordCollectorError(res.name, reason)
		}
		return
	}
	p.recordHealth(res.name, true, "", time.Now())
	switch res.name {
	case "cpu":
		if v, ok := res.fragment.(*core.CPUFragment); ok {
			snap.CPU = v
		}
	case "ram":
		if v, ok := res.fragment.(*core.RAMFragment); ok {
			snap.RAM = v
		}
	case "gpu":
		if v, ok := res.fragment.([]core.GPUFragment); ok {
			snap.GPU = v
		}
	case "disk":
		if v, ok := res.fragment.(*core.DiskFragment); ok {
			snap.Disk = v
		}
	case "network":
		if v, ok := res.fragment.(*core.NetworkFragment); ok {
			snap.Network = v
		}
	case "process":
		if v, ok := res.fragment.([]core.ProcessInfo); ok {
			snap.Processes = v
		}
	case "context":
		if v, ok := res.fragment.(*core.ContextFragment); ok {
			snap.Context = v
		}
	}
}

// stampTimestamp enforces strict monotonicity: equal timestamps are bumped
// by 1ms, earlier timestamps are rejected outright (spec §3, §4.4).
func (p *Pipeline) stampTimestamp(snap *core.Snapshot) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.Timestamp.Before(p.lastTimestamp) {
		return false
	}
	if !snap.Timestamp.After(p.lastTimestamp) && !p.lastTimestamp.IsZero() {
		snap.Timestamp = p.lastTimestamp.Add(time.Millisecond)
	}
	p.lastTimestamp = snap.Timestamp
	return true
}

// enqueueWrite hands the snapshot to the background store writer,
// dropping the oldest unwritten snapshot if the queue is saturated rather
// than blocking the tick (spec §4.4 back-pressure policy).
func (p *Pipeline) enqueueWrite(snap *core.Snapshot) {
	select {
	case p.storeQueue <- snap:
	default:
		select {
		case <-p.storeQueue:
			p.storeDrops.Add(1)
		default:
		}
		select {
		case p.storeQueue <- snap:
		default:
			p.storeDrops.Add(1)
		}
	}
}

func (p *Pipeline) drainStoreQueue() {
	defer p.wg.Done()
	for snap := range p.storeQueue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.store.Write(ctx, snap); err != nil {
			p.logger.Error("store write failed", "error", err, "timestamp", snap.Timestamp)
		}
		cancel()
	}
}
