package answer

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/coach-qa/ensemble"
)

// Config holds the orchestrator's own settings.
type Config struct {
	DefaultMode       ensemble.Mode
	Budget            time.Duration // Overall request budget
	MaxQuestionLength int           // In runes

	logger *slog.Logger
	now    func() time.Time
}

// Option customises the orchestrator.
type Option func(*Config)

// WithDefaultMode sets the mode used when a request names none.
func WithDefaultMode(m ensemble.Mode) Option {
	return func(cfg *Config) {
		if m != "" {
			cfg.DefaultMode = m
		}
	}
}

// WithBudget sets the overall request budget.
func WithBudget(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.Budget = d
		}
	}
}

// WithMaxQuestionLength caps question length in runes.
func WithMaxQuestionLength(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxQuestionLength = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *Config) {
		if now != nil {
			cfg.now = now
		}
	}
}
