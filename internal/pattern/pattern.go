// Package pattern implements the baseline, threshold, and spike detectors
// that consume snapshots and emit anomaly records (spec §4.7). Per-metric
// state is bounded by an LRU cache the way the teacher bounds its template
// cache, sized generously since the process only ever tracks a handful of
// primary metric names.
package pattern

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/nullhaus/sysmond/internal/config"
	"github.com/nullhaus/sysmond/internal/core"
	"github.com/nullhaus/sysmond/internal/storage"
)

// HistorySource lets the VERY_LOW tier recompute baselines from the store's
// durable history instead of only the in-process window, so a restarted
// process doesn't start every baseline cold (spec §4.7, §4.8).
type HistorySource interface {
	History(ctx context.Context, metric string, from, to time.Time, maxPoints int) ([]storage.Point, error)
}

const metricStateCacheSize = 64

// AnomalyStore is the sink anomalies are written to; writes are synchronous
// from the detector's point of view (spec §4.7).
type AnomalyStore interface {
	WriteAnomaly(ctx context.Context, a *core.Anomaly) error
}

type thresholdLevel int

const (
	levelNormal thresholdLevel = iota
	levelWarn
	levelCritical
)

type metricState struct {
	mu sync.Mutex

	window    []float64
	windowCap int

	baselineMean float64
	baselineStd  float64
	haveBaseline bool

	currentLevel  thresholdLevel
	warnStreak    int
	clearStreak   int
	criticalStreak int

	spiking bool
}

// Detector runs the three pattern detectors and writes anomalies. Publish
// is non-blocking: each call enqueues the snapshot for background
// processing so the pipeline is never slowed by detection or by the
// synchronous anomaly write.
type Detector struct {
	cfg     *config.PatternsConfig
	store   AnomalyStore
	history HistorySource
	logger  *slog.Logger

	states *lru.Cache[string, *metricState]

	queue chan *core.Snapshot
	wg    sync.WaitGroup

	metrics Metrics
}

// Metrics receives anomaly-emission instrumentation. Nil is safe.
type Metrics interface {
	RecordAnomaly(metric, severity string)
}

// SetMetrics attaches the instrumentation sink. Call once before Publish
// runs concurrently with anything else.
func (d *Detector) SetMetrics(m Metrics) {
	d.metrics = m
}

// New builds a detector. history may be nil, in which case RefreshBaselines
// is a no-op and baselines live only in the in-process window.
func New(cfg *config.PatternsConfig, store AnomalyStore, history HistorySource, logger *slog.Logger) *Detector {
	states, err := lru.New[string, *metricState](metricStateCacheSize)
	if err != nil {
		states, _ = lru.New[string, *metricState](metricStateCacheSize)
	}
	d := &Detector{
		cfg:     cfg,
		store:   store,
		history: history,
		logger:  logger,
		states:  states,
		queue:   make(chan *core.Snapshot, 256),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// RefreshBaselines recomputes every tracked metric's baseline from the
// store's durable history (spec §4.8 VERY_LOW tier), so baselines survive a
// process restart instead of starting cold every time.
func (d *Detector) RefreshBaselines(ctx context.Context) error {
	if d.history == nil {
		return nil
	}
	now := time.Now()
	lookback := time.Duration(d.cfg.WindowSamples) * time.Second
	for _, name := range d.states.Keys() {
		st, ok := d.states.Get(name)
		if !ok {
			continue
		}
		points, err := d.history.History(ctx, name, now.Add(-lookback), now, d.cfg.WindowSamples)
		if err != nil {
			d.logger.Warn("baseline refresh: history query failed", "metric", name, "error", err)
			continue
		}
		if len(points) == 0 {
			continue
		}
		values := make([]float64, len(points))
		for i, p := range points {
			values[i] = p.Value
		}
		mean, std := rollingStats(values)

		st.mu.Lock()
		st.window = values
		if len(st.window) >= 30 {
			st.baselineMean, st.baselineStd, st.haveBaseline = mean, std, true
		}
		st.mu.Unlock()
	}
	return nil
}

func (d *Detector) Close() {
	close(d.queue)
	d.wg.Wait()
}

// Publish enqueues snap for background pattern evaluation. If the queue is
// saturated the snapshot is dropped from pattern evaluation only; it has
// already reached the store and ring buffer.
func (d *Detector) Publish(snap *core.Snapshot) {
	select {
	case d.queue <- snap:
	default:
		d.logger.Warn("pattern layer queue saturated, dropping snapshot from evaluation")
	}
}

func (d *Detector) run() {
	defer d.wg.Done()
	for snap := range d.queue {
		d.evaluate(snap)
	}
}

func (d *Detector) evaluate(snap *core.Snapshot) {
	for _, pm := range primaryMetrics(snap) {
		d.evaluateMetric(snap.Timestamp, pm.name, pm.value)
	}
}

type primaryMetric struct {
	name  string
	value float64
}

func primaryMetrics(snap *core.Snapshot) []primaryMetric {
	var out []primaryMetric
	if snap.CPU != nil {
		out = append(out, primaryMetric{"cpu_percent", snap.CPU.UsagePercent})
	}
	if snap.RAM != nil {
		out = append(out, primaryMetric{"ram_percent", snap.RAM.UsagePercent})
	}
	if snap.Disk != nil && len(snap.Disk.Disks) > 0 {
		var sum float64
		for _, disk := range snap.Disk.Disks {
			sum += disk.UsagePercent
		}
		out = append(out, primaryMetric{"disk_usage_percent", sum / float64(len(snap.Disk.Disks))})
	}
	return out
}

func (d *Detector) evaluateMetric(ts time.Time, name string, value float64) {
	st, ok := d.states.Get(name)
	if !ok {
		st = &metricState{windowCap: d.cfg.WindowSamples}
		d.states.Add(name, st)
	}

	st.mu.Lock()
	st.window = append(st.window, value)
	if len(st.window) > st.windowCap {
		st.window = st.window[len(st.window)-st.windowCap:]
	}
	mean, std := rollingStats(st.window)
	coldStart := len(st.window) < 30
	if !coldStart {
		st.baselineMean, st.baselineStd, st.haveBaseline = mean, std, true
	}

	isSpiking := st.haveBaseline && st.baselineStd > 0 && math.Abs(value-st.baselineMean) > d.cfg.SpikeK*st.baselineStd
	spike := isSpiking && !st.spiking
	st.spiking = isSpiking

	threshCfg, hasThresh := d.cfg.Thresholds[name]
	newLevel := st.currentLevel
	if hasThresh {
		newLevel = d.updateThresholdState(st, value, threshCfg)
	}
	levelChanged := hasThresh && newLevel != st.currentLevel
	if hasThresh {
		st.currentLevel = newLevel
	}
	st.mu.Unlock()

	if levelChanged && newLevel != levelNormal {
		severity := core.SeverityWarn
		if newLevel == levelCritical {
			severity = core.SeverityCritical
		}
		d.emit(ts, name, value, mean, std, severity, "threshold")
	}
	if spike {
		severity := core.SeverityInfo
		if st.currentLevel >= levelWarn {
			severity = core.SeverityWarn
		}
		d.emit(ts, name, value, mean, std, severity, "spike")
	}
}

// updateThresholdState applies mandatory hysteresis: a level change needs
// sustain_window consecutive samples on the new side before it takes effect,
// both entering and clearing (spec §4.7).
func (d *Detector) updateThresholdState(st *metricState, value float64, t config.ThresholdConfig) thresholdLevel {
	sustain := d.cfg.SustainWindow

	switch {
	case value >= t.Critical:
		st.criticalStreak++
		st.warnStreak = 0
		st.clearStreak = 0
		if st.criticalStreak >= sustain {
			return levelCritical
		}
	case value >= t.Warn:
		st.warnStreak++
		st.criticalStreak = 0
		st.clearStreak = 0
		if st.warnStreak >= sustain && st.currentLevel < levelWarn {
			return levelWarn
		}
		if st.currentLevel == levelCritical {
			return levelCritical
		}
	default:
		st.warnStreak = 0
		st.criticalStreak = 0
		st.clearStreak++
		if st.clearStreak >= sustain {
			return levelNormal
		}
	}
	return st.currentLevel
}

func (d *Detector) emit(ts time.Time, metric string, value, expected, std float64, severity core.Severity, kind string) {
	a := &core.Anomaly{
		ID:            uuid.NewString(),
		Timestamp:     ts,
		MetricName:    metric,
		CurrentValue:  value,
		ExpectedValue: expected,
		DeviationStd:  safeStdRatio(value, expected, std),
		Severity:      severity,
		ContextJSON:   map[string]any{"kind": kind},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := d.store.WriteAnomaly(ctx, a); err != nil {
		d.logger.Error("failed to write anomaly", "error", err, "metric", metric)
	}
	if d.metrics != nil {
		d.metrics.RecordAnomaly(metric, string(severity))
	}
}

func safeStdRatio(value, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (value - mean) / std
}

func rollingStats(values []float64) (mean, std float64) {
	n := len(values)
	if n == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(n)
	if n < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(n))
	return mean, std
}
