package reranker

import (
	"context"
	"math"
	"sort"

	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/lexical"
)

// Result is an ordered retrieval result with its aggregate confidence.
// Items are sorted by descending score, newest chunk first on ties.
type Result struct {
	Items      []document.Scored
	Confidence float64
}

// Chunks returns the chunks of r in rank order.
func (r Result) Chunks() []document.Chunk {
	out := make([]document.Chunk, len(r.Items))
	for i, it := range r.Items {
		out[i] = it.Chunk
	}
	return out
}

// Empty reports whether no chunk survived reranking.
func (r Result) Empty() bool {
	return len(r.Items) == 0
}

// Reranker scores and orders candidate chunks for a question.
type Reranker interface {
	Rerank(ctx context.Context, question string, chunks []document.Chunk) (Result, error)
}

// Config controls cut-offs shared by all rerankers.
type Config struct {
	TopK     int
	MinScore float64
}

// Option customizes reranker config.
type Option func(*Config)

// WithTopK sets how many chunks survive reranking.
func WithTopK(k int) Option {
	return func(cfg *Config) {
		if k > 0 {
			cfg.TopK = k
		}
	}
}

// WithMinScore sets the minimum score a chunk needs to count as grounding.
func WithMinScore(min float64) Option {
	return func(cfg *Config) {
		if min >= 0 && min <= 1 {
			cfg.MinScore = min
		}
	}
}

// NewConfig applies opts over the defaults.
func NewConfig(opts ...Option) Config {
	cfg := Config{TopK: 8, MinScore: 0.15}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// Lexical scores chunks by IDF-weighted query coverage blended with a
// normalised BM25 score. Both parts lie in [0,1].
type Lexical struct {
	cfg Config
}

var _ Reranker = (*Lexical)(nil)

// NewLexical creates the default reranker.
func NewLexical(opts ...Option) *Lexical {
	return &Lexical{cfg: NewConfig(opts...)}
}

// Rerank implements Reranker. It is deterministic for a given input set
// regardless of the order chunks arrive in.
func (l *Lexical) Rerank(ctx context.Context, question string, chunks []document.Chunk) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	query := lexical.Unique(lexical.Terms(question))
	if len(chunks) == 0 || len(query) == 0 {
		return Result{}, nil
	}

	docs := make([][]string, len(chunks))
	for i, c := range chunks {
		docs[i] = lexical.Terms(c.SearchText())
	}
	idx := lexical.NewBM25(docs)
	maxBM25 := idx.MaxScore(query)

	scored := make([]document.Scored, 0, len(chunks))
	for i, c := range chunks {
		coverage := idx.Coverage(i, query)
		bm := 0.0
		if maxBM25 > 0 {
			bm = idx.Score(i, query) / maxBM25
		}
		scored = append(scored, document.Scored{Chunk: c, Score: clamp(0.7*coverage + 0.3*bm)})
	}
	return Select(scored, l.cfg), nil
}

// Select filters scored chunks below the minimum, orders the rest and keeps
// the top K. Confidence is the top score, or 0 when nothing survives.
func Select(scored []document.Scored, cfg Config) Result {
	kept := make([]document.Scored, 0, len(scored))
	for _, s := range scored {
		s.Score = round(clamp(s.Score))
		if s.Score > 0 && s.Score >= cfg.MinScore {
			kept = append(kept, s)
		}
	}
	Sort(kept)
	if cfg.TopK > 0 && len(kept) > cfg.TopK {
		kept = kept[:cfg.TopK]
	}
	if len(kept) == 0 {
		return Result{}
	}
	return Result{Items: kept, Confidence: kept[0].Score}
}

// Sort orders by score desc, then CreatedAt desc, then ID asc.
func Sort(items []document.Scored) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Chunk.CreatedAt.Equal(b.Chunk.CreatedAt) {
			return a.Chunk.CreatedAt.After(b.Chunk.CreatedAt)
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// round keeps scores stable across platforms so ties compare equal.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
