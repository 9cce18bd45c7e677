package collector

import (
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nullhaus/sysmond/internal/core"
)

// gpuQueryFields is the nvidia-smi CSV column order this collector parses,
// mirroring the query-mode invocation the NVIDIA tooling in the pack uses
// for stable, machine-readable output across driver versions.
var gpuQueryFields = []string{
	"name", "utilization.gpu", "memory.used", "memory.total",
	"temperature.gpu", "fan.speed", "power.draw", "clocks.sm", "clocks.mem",
}

// GPUCollector shells out to nvidia-smi. On hosts without an NVIDIA GPU (the
// common case for a general telemetry agent) it returns {unsupported} and
// the pipeline auto-disables it for the session (spec §7).
type GPUCollector struct {
	binary string
}

func NewGPUCollector() *GPUCollector {
	return &GPUCollector{binary: "nvidia-smi"}
}

func (c *GPUCollector) Name() string { return "gpu" }

func (c *GPUCollector) Sample(ctx context.Context) (any, error) {
	path, err := exec.LookPath(c.binary)
	if err != nil {
		return nil, &Failure{Reason: ReasonUnsupported, Detail: "nvidia-smi not found in PATH"}
	}

	query := strings.Join(gpuQueryFields, ",")
	cmd := exec.CommandContext(ctx, path, "--query-gpu="+query, "--format=csv,noheader,nounits")
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Failure{Reason: ReasonTimeout}
		}
		return nil, &Failure{Reason: ReasonTransientError, Detail: err.Error()}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, &Failure{Reason: ReasonUnsupported, Detail: "no GPUs reported"}
	}

	fragments := make([]core.GPUFragment, 0, len(lines))
	for _, line := range lines {
		frag, err := parseGPULine(line)
		if err != nil {
			continue
		}
		fragments = append(fragments, frag)
	}
	if len(fragments) == 0 {
		return nil, &Failure{Reason: ReasonTransientError, Detail: "failed to parse nvidia-smi output"}
	}
	return fragments, nil
}

func parseGPULine(line string) (core.GPUFragment, error) {
	cols := strings.Split(line, ",")
	if len(cols) < len(gpuQueryFields) {
		return core.GPUFragment{}, errors.New("short gpu row")
	}
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}

	frag := core.GPUFragment{
		Name:          cols[0],
		UsagePercent:  clampPercent(parseFloatOr(cols[1], 0)),
		MemoryUsedGB:  parseFloatOr(cols[2], 0) / 1024,
		MemoryTotalGB: parseFloatOr(cols[3], 0) / 1024,
		FanRPM:        parseFloatOr(cols[5], 0),
		PowerWatts:    parseFloatOr(cols[6], 0),
	}
	if temp, ok := parseFloatOk(cols[4]); ok {
		frag.TemperatureCelsius = &temp
	}
	if clk, ok := parseFloatOk(cols[7]); ok {
		frag.CoreClockMHz = &clk
	}
	if clk, ok := parseFloatOk(cols[8]); ok {
		frag.MemoryClockMHz = &clk
	}
	return frag, nil
}

func parseFloatOr(s string, def float64) float64 {
	v, ok := parseFloatOk(s)
	if !ok {
		return def
	}
	return v
}

func parseFloatOk(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[N/A]" || s == "N/A" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
