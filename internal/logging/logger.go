package logging

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the process-wide slog logger: JSON lines on stdout with
// source locations, tagged with the service name so binaries sharing log
// storage stay distinguishable.
func NewLogger(service, level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     parseLevel(level),
		AddSource: true,
	})
	return slog.New(h).With("service", service)
}

// parseLevel maps the LOG_LEVEL value onto slog levels. Unknown values mean
// info rather than an error; a misconfigured logger should still log.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
