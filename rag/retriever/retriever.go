package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/planner"
	"github.com/sweetpotato0/coach-qa/rag/preprocess"
	"golang.org/x/sync/errgroup"
)

// Store is the read-only document store. Implementations must filter by
// coachID on the server side and return at most limit chunks.
type Store interface {
	GetChunks(ctx context.Context, coachID, query string, limit int) ([]document.Chunk, error)
}

// Config controls retrieval behaviour.
type Config struct {
	MaxChunks int
}

// Option customizes retriever config.
type Option func(*Config)

// WithMaxChunks caps the merged result size.
func WithMaxChunks(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxChunks = n
		}
	}
}

// Result is the merged candidate set for one request.
type Result struct {
	Chunks []document.Chunk
	// Err is set when the store could not be read; Chunks is then empty.
	Err error
	// Dropped counts chunks discarded for carrying another coach's ID.
	Dropped int
}

// Grounded reports whether any candidate content is available.
func (r Result) Grounded() bool {
	return r.Err == nil && len(r.Chunks) > 0
}

// Retriever fans queries out to the store and merges the answers.
type Retriever struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// New creates a retriever.
func New(store Store, logger *slog.Logger, opts ...Option) *Retriever {
	cfg := Config{MaxChunks: 50}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Retriever{
		store:  store,
		cfg:    cfg,
		logger: logging.Or(logger, "retriever"),
	}
}

// Retrieve runs every query concurrently. Store failures are not retried.
// A failed query is skipped and the others still count; the result degrades
// to "no grounding" only when every query fails. Only cancellation of ctx by
// the caller is returned as an error.
func (r *Retriever) Retrieve(ctx context.Context, queries []planner.Query, coachID string) (Result, error) {
	if strings.TrimSpace(coachID) == "" {
		return Result{}, fmt.Errorf("coach id is required: %w", errors.ErrInvalidInput)
	}
	if r.store == nil || len(queries) == 0 {
		return Result{}, nil
	}

	perQuery := make([][]document.Chunk, len(queries))
	errs := make([]error, len(queries))
	var g errgroup.Group
	g.SetLimit(planner.MaxQueries)
	for i, q := range queries {
		g.Go(func() error {
			chunks, err := r.store.GetChunks(ctx, coachID, q.Text, r.cfg.MaxChunks)
			if err != nil {
				errs[i] = fmt.Errorf("query %q: %w", q.Kind, err)
				return nil
			}
			perQuery[i] = chunks
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	if len(failed) == len(queries) {
		r.logger.Warn("document store unavailable, continuing without grounding",
			"coach_id", coachID, "error", failed[0])
		return Result{Err: fmt.Errorf("%w: %v", errors.ErrStoreUnavailable, failed[0])}, nil
	}
	if len(failed) > 0 {
		r.logger.Warn("some retrieval queries failed",
			"coach_id", coachID, "failed", len(failed), "queries", len(queries), "error", failed[0])
	}

	res := r.merge(perQuery, coachID)
	r.logger.Debug("retrieved chunks",
		"coach_id", coachID, "queries", len(queries), "chunks", len(res.Chunks), "dropped", res.Dropped)
	return res, nil
}

// merge de-duplicates by chunk ID in query order, enforces coach isolation,
// normalises text and applies the cap.
func (r *Retriever) merge(perQuery [][]document.Chunk, coachID string) Result {
	var res Result
	seen := make(map[string]struct{})
	for _, chunks := range perQuery {
		for _, c := range chunks {
			if c.CoachID != coachID {
				res.Dropped++
				r.logger.Error("store returned chunk for another coach",
					"chunk_id", c.ID, "want_coach", coachID, "got_coach", c.CoachID)
				continue
			}
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			c = c.Clone()
			c.Text = preprocess.Normalize(c.Text)
			if c.Text == "" {
				continue
			}
			res.Chunks = append(res.Chunks, c)
			if len(res.Chunks) >= r.cfg.MaxChunks {
				return res
			}
		}
	}
	return res
}
