// Package logging builds the process-wide slog logger and the per-component
// loggers derived from it.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger returns the shared logger. It is built once from the environment:
//   - COACHQA_LOG_FORMAT: "json" (default) or "text"
//   - COACHQA_LOG_LEVEL: debug|info|warn|error
//
// Logs go to stderr so command output on stdout stays machine-readable.
var Logger = sync.OnceValue(func() *slog.Logger {
	return New(os.Stderr, os.Getenv("COACHQA_LOG_FORMAT"), os.Getenv("COACHQA_LOG_LEVEL"))
})

// New builds a logger writing to w. Unknown formats fall back to JSON and
// unknown levels to info.
func New(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", "coach-qa")
}

// WithComponent attaches a component field to the shared logger.
func WithComponent(component string) *slog.Logger {
	return Logger().With("component", component)
}

// Or returns l when set, otherwise the shared logger tagged with component.
func Or(l *slog.Logger, component string) *slog.Logger {
	if l != nil {
		return l.With("component", component)
	}
	return WithComponent(component)
}

// Trim shortens free text before it is written to a log line.
func Trim(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
