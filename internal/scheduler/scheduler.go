// Package scheduler drives the pipeline on the multi-rate clock spec §4.8
// describes: a single clock ticking at the HIGH cadence, with MEDIUM, LOW,
// and VERY_LOW work folded in whenever enough wall-clock time has passed for
// that tier. Grounded on internal/realtime/bus.go's Start(ctx)/Stop(ctx)
// cooperative lifecycle (stop channel + WaitGroup + drain budget),
// generalized from one broadcast worker to four independent-cadence tiers
// sharing one pipeline.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	psprocess "github.com/shirou/gopsutil/v4/process"
	"golang.org/x/time/rate"

	"github.com/nullhaus/sysmond/internal/collector"
	"github.com/nullhaus/sysmond/internal/config"
	"github.com/nullhaus/sysmond/internal/core"
)

// heaviestOptionalCollectors are disabled first when the self-throttle guard
// trips: GPU sampling shells out to nvidia-smi, and process enumeration
// walks every PID on the host, making them the two most expensive collectors
// to sample (spec §5).
var heaviestOptionalCollectors = []string{"gpu", "process"}

// resourceCheckInterval is how often the self-throttle guard samples the
// process's own resident memory and CPU usage.
const resourceCheckInterval = 10 * time.Second

// Pipeline is the subset of pipeline.Pipeline the scheduler drives.
type Pipeline interface {
	TickNames(ctx context.Context, tickBudget time.Duration, names []string) *core.Snapshot
	Close()
}

// RetentionSweeper is the store operation the VERY_LOW tier invokes.
type RetentionSweeper interface {
	RetentionSweep(ctx context.Context, now time.Time, retentionDays, anomalyRetentionDays, sizeCapMB int) error
}

// BaselineRefresher is the pattern layer operation the VERY_LOW tier
// invokes to recompute baselines from the store's recent history rather
// than only from in-process samples since startup.
type BaselineRefresher interface {
	RefreshBaselines(ctx context.Context) error
}

// tier is one of the four cadences in spec §4.8, in fastest-first order.
type tier struct {
	name       string
	interval   time.Duration
	collectors []string
	lastRun    time.Time
}

// Scheduler owns the process's only clock: it is the sole caller of
// Pipeline.TickNames, so no two ticks for the same tier ever overlap.
type Scheduler struct {
	cfg        *config.Config
	pipeline   Pipeline
	store      RetentionSweeper
	patterns   BaselineRefresher
	registry   *collector.Registry
	logger     *slog.Logger
	drainBudget time.Duration

	tiers []*tier

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	throttled bool
	disabled  []string

	selfProc    *psprocess.Process
	overrunSince time.Time

	// resourceCheckLimiter backstops resourceCheckInterval: even if
	// monitorResources were ever driven faster than its own ticker (a
	// misconfigured caller, a future code path), the gopsutil self-sample
	// calls underneath checkResourceOverrun never run more than once per
	// resourceCheckInterval.
	resourceCheckLimiter *rate.Limiter
}

// New builds a scheduler from config's collection cadences. registry
// determines which configured collector names actually exist; a tier whose
// collectors are all absent (e.g. gpu on a headless box) still fires on
// schedule, it just produces no fragments for that tier.
func New(cfg *config.Config, reg *collector.Registry, pipeline Pipeline, store RetentionSweeper, patterns BaselineRefresher, logger *slog.Logger) *Scheduler {
	known := func(names ...string) []string {
		var out []string
		for _, n := range names {
			if _, ok := reg.Get(n); ok {
				out = append(out, n)
			}
		}
		return out
	}

	s := &Scheduler{
		cfg:                  cfg,
		pipeline:             pipeline,
		store:                store,
		patterns:             patterns,
		registry:             reg,
		logger:               logger,
		drainBudget:          cfg.Resources.DrainBudget,
		resourceCheckLimiter: rate.NewLimiter(rate.Every(resourceCheckInterval), 1),
		stopCh:               make(chan struct{}),
		doneCh:               make(chan struct{}),
		tiers: []*tier{
			{name: "high", interval: time.Duration(cfg.Collection.HighIntervalSec) * time.Second, collectors: known("cpu", "ram", "context")},
			{name: "medium", interval: time.Duration(cfg.Collection.MediumIntervalSec) * time.Second, collectors: known("disk", "network", "process")},
			{name: "low", interval: time.Duration(cfg.Collection.LowIntervalSec) * time.Second, collectors: known("gpu")},
			{name: "very_low", interval: time.Duration(cfg.Collection.VeryLowIntervalSec) * time.Second},
		},
	}
	if proc, err := psprocess.NewProcess(int32(os.Getpid())); err == nil {
		s.selfProc = proc
	} else {
		logger.Warn("self-throttle guard disabled, could not resolve own process", "error", err)
	}
	return s
}

// Start begins driving the clock in a background goroutine. It returns
// immediately; call Stop to shut down cooperatively.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)

	if s.selfProc != nil {
		s.wg.Add(1)
		go s.monitorResources(ctx)
	}
}

// Stop signals the clock to stop issuing new ticks, waits up to the
// drain budget for any in-flight tick to finish, then returns (spec §4.8,
// §5: scheduler stops → pipeline drains → HTTP stops accepting → store
// closes).
func (s *Scheduler) Stop() {
	close(s.stopCh)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.drainBudget):
		s.logger.Warn("scheduler drain budget exceeded, proceeding with shutdown")
	}
}

// Throttled reports whether the self-throttle guard has disabled optional
// collectors due to a sustained resource overrun.
func (s *Scheduler) Throttled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttled
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	highTier := s.tiers[0]
	ticker := time.NewTicker(highTier.interval)
	defer ticker.Stop()

	now := time.Now()
	for _, t := range s.tiers {
		t.lastRun = now
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.fireDueTiers(ctx, now)
		}
	}
}

// fireDueTiers runs one pipeline tick covering every tier due at now,
// unioning their collector lists into a single snapshot (spec §4.8: "a
// tick at cadence T invokes only collectors assigned to T or faster").
func (s *Scheduler) fireDueTiers(ctx context.Context, now time.Time) {
	var names []string
	var slowest time.Duration
	veryLowDue := false

	// A tier is due once its interval has elapsed, less half a HIGH tick of
	// slack, so a tick value landing a hair early (or the first tick after
	// run stamps lastRun) does not push the tier to the following tick.
	slack := s.tiers[0].interval / 2
	for _, t := range s.tiers {
		if now.Sub(t.lastRun) < t.interval-slack {
			continue
		}
		t.lastRun = now
		if t.interval > slowest {
			slowest = t.interval
		}
		if t.name == "very_low" {
			veryLowDue = true
			continue
		}
		names = append(names, t.collectors...)
	}

	if len(names) > 0 {
		budget := s.cfg.TickBudget(int(slowest / time.Second))
		if budget <= 0 {
			budget = s.cfg.TickBudget(s.cfg.Collection.HighIntervalSec)
		}
		s.pipeline.TickNames(ctx, budget, names)
	}

	if veryLowDue {
		s.runVeryLowWork(ctx, now)
	}
}

func (s *Scheduler) runVeryLowWork(ctx context.Context, now time.Time) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.store.RetentionSweep(sweepCtx, now, s.cfg.Store.RetentionDays, s.cfg.Patterns.AnomalyRetentionDays, s.cfg.Store.SizeCapMB); err != nil {
		s.logger.Error("retention sweep failed", "error", err)
	}

	if s.patterns == nil {
		return
	}
	refreshCtx, cancel2 := context.WithTimeout(ctx, 30*time.Second)
	defer cancel2()
	if err := s.patterns.RefreshBaselines(refreshCtx); err != nil {
		s.logger.Error("baseline refresh failed", "error", err)
	}
}

// monitorResources is the self-throttle guard (spec §5): it samples the
// process's own resident memory and CPU usage and, if either stays over its
// configured cap for the overrun window, disables the heaviest optional
// collectors and logs a self_throttle event. It never re-enables a disabled
// collector; recovery requires a process restart, matching the permanent
// nature of a Registry.Disable call.
func (s *Scheduler) monitorResources(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(resourceCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.checkResourceOverrun(ctx, now)
		}
	}
}

func (s *Scheduler) checkResourceOverrun(ctx context.Context, now time.Time) {
	if s.Throttled() {
		return
	}
	if !s.resourceCheckLimiter.Allow() {
		return
	}

	memInfo, err := s.selfProc.MemoryInfoWithContext(ctx)
	if err != nil {
		return
	}
	cpuPct, err := s.selfProc.CPUPercentWithContext(ctx)
	if err != nil {
		return
	}

	residentMB := float64(memInfo.RSS) / (1024 * 1024)
	overrun := residentMB > float64(s.cfg.Resources.MaxResidentMB) || cpuPct > s.cfg.Resources.MaxCPUPercent

	s.mu.Lock()
	defer s.mu.Unlock()

	if !overrun {
		s.overrunSince = time.Time{}
		return
	}
	if s.overrunSince.IsZero() {
		s.overrunSince = now
		return
	}
	if now.Sub(s.overrunSince) < s.cfg.Resources.OverrunWindow {
		return
	}

	for _, name := range heaviestOptionalCollectors {
		s.registry.Disable(name)
	}
	s.throttled = true
	s.disabled = append(s.disabled, heaviestOptionalCollectors...)
	s.logger.Warn("self_throttle",
		"resident_mb", residentMB,
		"cpu_percent", cpuPct,
		"disabled_collectors", heaviestOptionalCollectors,
	)
}
