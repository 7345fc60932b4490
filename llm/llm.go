// Package llm defines the provider-agnostic language-model contract used by
// the answer pipeline, plus the timeout and retry policy every call goes
// through.
package llm

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/message"
)

// Request is one completion request.
type Request struct {
	System    string
	Messages  []message.Message
	MaxTokens int
}

// Prompt builds a single-turn request.
func Prompt(system, user string, maxTokens int) Request {
	return Request{
		System:    system,
		Messages:  []message.Message{message.User(user)},
		MaxTokens: maxTokens,
	}
}

// Response is the completion text returned by a backend.
type Response struct {
	Text  string
	Model string
}

// Backend is a language-model provider. Implementations must honour ctx
// cancellation and deadlines.
type Backend interface {
	ID() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Backend.
type Func struct {
	Name string
	Fn   func(ctx context.Context, req Request) (Response, error)
}

func (f Func) ID() string { return f.Name }

func (f Func) Complete(ctx context.Context, req Request) (Response, error) {
	return f.Fn(ctx, req)
}

// StatusError carries an HTTP-like status from a provider.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// ProviderError tags a failure with the backend that produced it. It matches
// errors.ErrProviderFailed as well as the underlying cause.
type ProviderError struct {
	Backend string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{errors.ErrProviderFailed, e.Err}
}

// Wrap returns err as a *ProviderError for backend, or nil.
func Wrap(backend string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if stderrors.As(err, &pe) {
		return err
	}
	return &ProviderError{Backend: backend, Err: err}
}

// ErrEmptyResponse is returned when a backend answers with no text.
var ErrEmptyResponse = stderrors.New("empty response")

// IsTransient reports whether err is worth one retry: timeouts, network
// failures, rate limiting and server-side errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) ||
		stderrors.Is(err, io.ErrUnexpectedEOF) ||
		stderrors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	var se *StatusError
	if stderrors.As(err, &se) {
		return se.Code == 408 || se.Code == 429 || se.Code >= 500
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused")
}

// Policy bounds a backend call.
type Policy struct {
	Timeout    time.Duration
	MaxRetries int
}

// DefaultPolicy is a 10s per-attempt timeout with one retry.
var DefaultPolicy = Policy{Timeout: 10 * time.Second, MaxRetries: 1}

// Result describes one bounded call.
type Result struct {
	Response Response
	Attempts int
	Latency  time.Duration
	Err      error
}

// Call runs req against b with a per-attempt timeout, retrying transient
// failures at most p.MaxRetries times. It never retries once ctx is done.
// Empty responses count as failures but are not retried.
func Call(ctx context.Context, b Backend, req Request, p Policy) Result {
	start := time.Now()
	var res Result
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		res.Attempts = attempt + 1
		resp, err := attemptOnce(ctx, b, req, p.Timeout)
		if err == nil {
			res.Response = resp
			res.Err = nil
			break
		}
		res.Err = Wrap(b.ID(), err)
		if ctx.Err() != nil || !IsTransient(err) {
			break
		}
	}
	res.Latency = time.Since(start)
	return res
}

func attemptOnce(ctx context.Context, b Backend, req Request, timeout time.Duration) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	resp, err := b.Complete(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil && !stderrors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return Response{}, err
	}
	resp.Text = strings.TrimSpace(resp.Text)
	if resp.Text == "" {
		return Response{}, ErrEmptyResponse
	}
	return resp, nil
}
