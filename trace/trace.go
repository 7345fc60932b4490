// Package trace delivers answer trace records to append-only sinks without
// ever blocking the request path.
package trace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
)

// Sink appends trace records. Implementations must be safe for concurrent use.
type Sink interface {
	Append(ctx context.Context, rec answer.Record) error
}

// LogSink writes each record as one structured log line.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logging.Or(logger, "trace")}
}

func (s *LogSink) Append(ctx context.Context, rec answer.Record) error {
	level := slog.LevelInfo
	if rec.ReviewRequired {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "answer trace",
		"record_id", rec.ID,
		"outcome", rec.Outcome,
		"review_required", rec.ReviewRequired,
		"rule_set_version", rec.RuleSetVersion,
		"record", rec,
	)
	return nil
}

// Memory keeps records in process, for tests and local runs.
type Memory struct {
	mu      sync.Mutex
	records []answer.Record
}

// NewMemory creates an empty in-process sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, rec answer.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (m *Memory) Records() []answer.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]answer.Record(nil), m.records...)
}
