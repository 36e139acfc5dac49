package telemetry

import (
	"io"
	"log/slog"
	"strings"

	"github.com/af-corp/wall-e/internal/config"
)

// NewLogger builds the process logger from the telemetry section. Unknown
// levels fall back to info; format "text" selects the text handler, anything
// else JSON.
func NewLogger(cfg config.TelemetryConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
