package trace

import (
	"bytes"
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweetpotato0/coach-qa/answer"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []string
}

func (s *blockingSink) Append(ctx context.Context, rec answer.Record) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.got = append(s.got, rec.ID)
	s.mu.Unlock()
	return nil
}

type failingSink struct{}

func (failingSink) Append(context.Context, answer.Record) error {
	return stderrors.New("stream unavailable")
}

func TestAsyncDeliversInOrder(t *testing.T) {
	mem := NewMemory()
	a := NewAsync(mem, WithBuffer(8))
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := a.Append(context.Background(), answer.Record{ID: id}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	recs := mem.Records()
	if len(recs) != 3 || recs[0].ID != "r1" || recs[2].ID != "r3" {
		t.Fatalf("records = %+v", recs)
	}
	if a.Dropped() != 0 {
		t.Errorf("Dropped = %d", a.Dropped())
	}
}

func TestAsyncNeverBlocksWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	a := NewAsync(sink, WithBuffer(1), WithAppendTimeout(time.Second))

	start := time.Now()
	for i := 0; i < 10; i++ {
		_ = a.Append(context.Background(), answer.Record{ID: "r"})
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Append blocked for %v", elapsed)
	}
	// one record is in flight, one buffered, the rest dropped
	if d := a.Dropped(); d < 8 {
		t.Errorf("Dropped = %d, want at least 8", d)
	}
	close(sink.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAsyncCountsSinkFailures(t *testing.T) {
	a := NewAsync(failingSink{})
	_ = a.Append(context.Background(), answer.Record{ID: "r1"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", a.Dropped())
	}
	if err := a.Append(context.Background(), answer.Record{ID: "late"}); !stderrors.Is(err, ErrClosed) {
		t.Fatalf("Append after Close = %v", err)
	}
}

func TestLogSinkFlagsReview(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sink := NewLogSink(logger)
	if err := sink.Append(context.Background(), answer.Record{ID: "r1", Outcome: answer.OutcomeBlockedPre, ReviewRequired: true}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"record_id":"r1"`) {
		t.Fatalf("log line = %s", out)
	}
}
