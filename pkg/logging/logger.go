package logging

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger so subsystems can hang shared helpers off it.
type Logger struct {
	*slog.Logger
}

// New creates a JSON logger at the given level. Level names follow slog's
// text format ("debug", "info", "warn", "error", offsets like "warn+2");
// anything unparseable falls back to info.
func New(level string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default returns an info-level JSON logger.
func Default() *Logger {
	return New("info")
}

// Component returns a child logger tagged with the owning component,
// so log lines can be filtered per subsystem (booking, reconciler, worker).
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// With returns a child logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return parsed
}
