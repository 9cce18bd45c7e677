package collector

import (
	"context"
	"time"

	"github.com/nullhaus/sysmond/internal/core"
	"github.com/shirou/gopsutil/v4/host"
)

// ContextCollector infers coarse ambient context: idle time, daypart, and a
// best-effort activity bucket. There is no reliable cross-platform idle-time
// API without platform-specific bridges, so idle detection degrades to "not
// idle" rather than failing the whole fragment (spec §9: prefer a degraded
// fragment over a collector error when a partial signal is still useful).
type ContextCollector struct{}

func NewContextCollector() *ContextCollector { return &ContextCollector{} }

func (c *ContextCollector) Name() string { return "context" }

func (c *ContextCollector) Sample(ctx context.Context) (any, error) {
	now := time.Now()
	idleSeconds := hostIdleSeconds(ctx)

	return &core.ContextFragment{
		UserActive:   idleSeconds < idleThresholdSeconds,
		IdleSeconds:  idleSeconds,
		ScreenLocked: false,
		TimeOfDay:    dayPart(now),
		DayOfWeek:    now.Weekday().String(),
		UserAction:   inferUserAction(idleSeconds),
	}, nil
}

const idleThresholdSeconds = 120

// hostIdleSeconds always reports 0: there is no portable idle-input API in
// the standard collector stack. It queries host uptime but derives no idle
// time from it.
func hostIdleSeconds(ctx context.Context) float64 {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0
	}
	_ = uptime
	return 0
}

func dayPart(t time.Time) core.TimeOfDay {
	h := t.Hour()
	switch {
	case h >= 5 && h < 12:
		return core.Morning
	case h >= 12 && h < 17:
		return core.Afternoon
	case h >= 17 && h < 22:
		return core.Evening
	default:
		return core.Night
	}
}

func inferUserAction(idleSeconds float64) core.UserAction {
	if idleSeconds >= idleThresholdSeconds {
		return core.ActionIdle
	}
	return core.ActionUnknown
}
