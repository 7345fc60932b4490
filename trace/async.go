package trace

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
	"github.com/sweetpotato0/coach-qa/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = stderrors.New("trace sink closed")

// Drop reasons reported on the drop counter.
const (
	dropFull   = "buffer_full"
	dropFailed = "sink_error"
	dropClosed = "closed"
)

// Async wraps a Sink with a bounded buffer and one delivery goroutine.
// Append never blocks: when the buffer is full the record is dropped and
// counted. Delivery failures are logged and counted, never retried.
type Async struct {
	sink    Sink
	queue   chan answer.Record
	timeout time.Duration
	logger  *slog.Logger
	counter metric.Int64Counter

	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
}

// AsyncOption customises Async.
type AsyncOption func(*Async)

// WithBuffer sets how many records may wait for delivery.
func WithBuffer(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.queue = make(chan answer.Record, n)
		}
	}
}

// WithAppendTimeout bounds each delivery to the wrapped sink.
func WithAppendTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) AsyncOption {
	return func(a *Async) { a.logger = l }
}

// NewAsync starts the delivery goroutine. Call Close to flush and stop it.
func NewAsync(sink Sink, opts ...AsyncOption) *Async {
	a := &Async{
		sink:    sink,
		queue:   make(chan answer.Record, 256),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = logging.Or(a.logger, "trace")
	a.counter = telemetry.Counter("coachqa.trace.dropped", "Trace records dropped before reaching the sink")
	go a.loop()
	return a
}

// Append enqueues rec. It returns ErrClosed after Close and nil otherwise,
// including when the record had to be dropped.
func (a *Async) Append(ctx context.Context, rec answer.Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(ctx, dropClosed)
		return ErrClosed
	}
	select {
	case a.queue <- rec:
	default:
		a.drop(ctx, dropFull)
		a.logger.Warn("trace buffer full, record dropped", "record_id", rec.ID)
	}
	return nil
}

// Dropped returns how many records never reached the sink.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting records and waits until the buffer is drained or
// ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for rec := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.sink.Append(ctx, rec)
		cancel()
		if err != nil {
			a.drop(context.Background(), dropFailed)
			a.logger.Warn("trace append failed", "record_id", rec.ID, "error", err)
		}
	}
}

func (a *Async) drop(ctx context.Context, reason string) {
	a.dropped.Add(1)
	a.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
