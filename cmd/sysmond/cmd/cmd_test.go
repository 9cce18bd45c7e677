package cmd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nullhaus/sysmond/internal/config"
)

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"config", fmt.Errorf("%w: bad yaml", errConfig), 1},
		{"storage", fmt.Errorf("%w: disk full", errStorageInit), 2},
		{"bind", fmt.Errorf("%w: address in use", errBind), 3},
		{"interrupted", errInterrupted, 130},
		{"unrecognized", errors.New("boom"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCodeFor(tc.err))
		})
	}
}

func TestIsInterrupted(t *testing.T) {
	assert.True(t, IsInterrupted(errInterrupted))
	assert.True(t, IsInterrupted(fmt.Errorf("wrapped: %w", errInterrupted)))
	assert.False(t, IsInterrupted(errConfig))
	assert.False(t, IsInterrupted(nil))
}

func TestBuildRegistry_OnlyEnabledNamesIncluded(t *testing.T) {
	cfg := &config.Config{
		Collection: config.CollectionConfig{TopProcesses: 10},
		Collectors: config.CollectorsConfig{
			Enabled:             []string{"cpu", "ram"},
			ExternalToolBridge:  true,
			PlatformQueryBridge: false,
		},
		Privacy: config.PrivacyConfig{ProcessNameOnly: true},
	}

	reg := buildRegistry(cfg)
	names := reg.Names()

	assert.Contains(t, names, "cpu")
	assert.Contains(t, names, "ram")
	assert.NotContains(t, names, "gpu")
	assert.NotContains(t, names, "process")

	_, ok := reg.Get("external_tool")
	assert.True(t, ok, "external tool bridge should be registered when enabled")
	_, ok = reg.Get("platform_query")
	assert.False(t, ok, "platform query bridge should be absent when disabled")
}
