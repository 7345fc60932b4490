// Package api serves the answer pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
)

const maxRequestBodySize = 64 << 10

// Answerer runs the pipeline.
type Answerer interface {
	Answer(ctx context.Context, req answer.Request) (*answer.Package, error)
}

// Options configures the handler.
type Options struct {
	// MCP, when set, is mounted at MCPPath.
	MCP     http.Handler
	MCPPath string
	Logger  *slog.Logger
}

// NewHandler returns the HTTP routes.
func NewHandler(a Answerer, opts Options) http.Handler {
	logger := logging.Or(opts.Logger, "api")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handleHealth)
	r.Post("/v1/answers", handleAnswer(a, logger))
	if opts.MCP != nil {
		path := opts.MCPPath
		if path == "" {
			path = "/mcp"
		}
		r.Handle(path, opts.MCP)
	}
	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleAnswer(a Answerer, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req answer.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		pkg, err := a.Answer(r.Context(), req)
		switch {
		case err == nil:
		case stderrors.Is(err, errors.ErrInvalidInput):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case stderrors.Is(err, context.Canceled):
			logger.Debug("client went away", "request_id", middleware.GetReqID(r.Context()))
			return
		default:
			logger.Error("answer failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "answer failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pkg)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
