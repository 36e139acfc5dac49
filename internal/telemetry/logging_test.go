package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/af-corp/wall-e/internal/config"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.TelemetryConfig{LogLevel: "warn", LogFormat: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "lock_id", "octo/repo/7")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "shown" || entry["lock_id"] != "octo/repo/7" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewLogger_TextAndDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.TelemetryConfig{LogLevel: "verbose", LogFormat: "TEXT"}, &buf)

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("unknown level should fall back to info")
	}
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}
