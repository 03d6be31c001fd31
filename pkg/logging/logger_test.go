package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewParsesLevels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		enabled  slog.Level
		disabled slog.Level
	}{
		{"debug", "debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"warn", "warn", slog.LevelWarn, slog.LevelInfo},
		{"mixed case error", "ERROR", slog.LevelError, slog.LevelWarn},
		{"unknown falls back to info", "loud", slog.LevelInfo, slog.LevelDebug},
		{"empty falls back to info", "", slog.LevelInfo, slog.LevelDebug},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enabled) {
				t.Fatalf("expected level %s enabled for %q", tt.enabled, tt.level)
			}
			if logger.Enabled(ctx, tt.disabled) {
				t.Fatalf("expected level %s disabled for %q", tt.disabled, tt.level)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()

	logger.Info("test message", "key", "value")

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("Default() should enable info level")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("Default() should not enable debug level (info is higher)")
	}

	if logger.Logger == nil {
		t.Fatal("Default() returned Logger with nil slog.Logger")
	}
}

func TestWithConversation(t *testing.T) {
	logger := Default().WithConversation("chat-42").WithTrace("trace-1")
	if logger == nil || logger.Logger == nil {
		t.Fatal("derived logger must be usable")
	}
	logger.Info("stamped record")
}
