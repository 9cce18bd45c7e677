package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/nullhaus/sysmond/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSetupWriter(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
		want io.Writer
	}{
		{"stdout output", config.LogConfig{Output: "stdout"}, os.Stdout},
		{"stderr output", config.LogConfig{Output: "stderr"}, os.Stderr},
		{"default output", config.LogConfig{Output: ""}, os.Stdout},
		{"file output without filename falls back to stdout", config.LogConfig{Output: "file"}, os.Stdout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SetupWriter(tt.cfg); got != tt.want {
				t.Errorf("SetupWriter(%+v) = %v, want %v", tt.cfg, got, tt.want)
			}
		})
	}
}

func TestNew_BuildsAWorkingLogger(t *testing.T) {
	cfg := config.LogConfig{Level: "info", Format: "json", Output: "stdout"}

	log := New(cfg)
	if log == nil {
		t.Fatal("New returned nil")
	}
	log.Info("test message", "key", "value")
}

func TestNew_TextFormatHonorsDebugLevel(t *testing.T) {
	cfg := config.LogConfig{Level: "debug", Format: "text", Output: "stdout"}

	log := New(cfg)
	if log == nil {
		t.Fatal("New returned nil")
	}
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug level to be enabled")
	}
}
