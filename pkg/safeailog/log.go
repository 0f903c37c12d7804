// Package safeailog provides the structured logger the safeaid command
// logs through: a JSON log/slog handler wrapped in a small Logger type
// carrying standing fields.
package safeailog

import (
	"log/slog"
	"os"
)

// Logger is a structured logger carrying a fixed set of fields (the
// component name, plus whatever With attaches) on every record.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing JSON-formatted records to os.Stderr at
// the given level, tagged with component.
func New(component string, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger := slog.New(handler).With(slog.String("component", component))
	return &Logger{Logger: logger}
}

// With returns a Logger with additional standing fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithAgent returns a Logger tagged with agent_id.
func (l *Logger) WithAgent(agentID string) *Logger {
	return &Logger{Logger: l.Logger.With(slog.String("agent_id", agentID))}
}

// Decision logs a policy decision at Info, or Warn when it blocks.
func (l *Logger) Decision(boundary, action, reason string) {
	attrs := []any{
		slog.String("boundary", boundary),
		slog.String("action", action),
		slog.String("reason", reason),
	}
	if action == "block" {
		l.Warn("policy decision", attrs...)
		return
	}
	l.Info("policy decision", attrs...)
}

// ConfigReloaded logs a successful config reload.
func (l *Logger) ConfigReloaded(files []string) {
	l.Info("config reloaded", slog.Int("file_count", len(files)), slog.Any("files", files))
}

// ConfigReloadFailed logs a failed config reload. The process keeps
// running on its last-known-good bundle; this is a Warn, not fatal.
func (l *Logger) ConfigReloadFailed(err error) {
	l.Warn("config reload failed", slog.String("error", err.Error()))
}
