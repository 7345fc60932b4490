package chunking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/rag/document"
)

// Source is one piece of coach content (a transcript, a drill sheet, a
// written guide) to split into retrievable chunks.
type Source struct {
	CoachID   string
	SourceID  string
	Text      string
	Keywords  []string
	CreatedAt time.Time
}

// Chunker splits a source into chunks ready for the document store.
type Chunker interface {
	Chunk(ctx context.Context, src Source) ([]document.Chunk, error)
}

type Options struct {
	ChunkSize int
	Overlap   int
	Separator string
}

// SimpleChunker splits sources by separator and enforces max rune lengths.
type SimpleChunker struct {
	size    int
	overlap int
	sep     string
}

// Option customizes the simple chunker.
type Option func(*Options)

// WithChunkSize overrides the default chunk size (runes).
func WithChunkSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ChunkSize = size
		}
	}
}

// WithOverlap configures overlap (runes) between consecutive windows of one paragraph.
func WithOverlap(overlap int) Option {
	return func(o *Options) {
		if overlap >= 0 {
			o.Overlap = overlap
		}
	}
}

// WithSeparator sets the logical separator used before windowing.
func WithSeparator(sep string) Option {
	return func(o *Options) {
		if sep != "" {
			o.Separator = sep
		}
	}
}

// NewSimpleChunker constructs a chunker with defaults sized for coaching notes.
func NewSimpleChunker(opts ...Option) *SimpleChunker {
	cfg := &Options{
		ChunkSize: 800,
		Overlap:   120,
		Separator: "\n\n",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	// the window must advance
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 2
	}
	return &SimpleChunker{
		size:    cfg.ChunkSize,
		overlap: cfg.Overlap,
		sep:     cfg.Separator,
	}
}

// Chunk splits the source into bounded pieces. Blank text yields no chunks.
func (c *SimpleChunker) Chunk(ctx context.Context, src Source) ([]document.Chunk, error) {
	if err := Validate(src); err != nil {
		return nil, err
	}

	var chunks []document.Chunk
	for _, text := range c.Split(src.Text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunks = append(chunks, NewChunk(src, len(chunks)+1, text))
	}
	return chunks, nil
}

// Split returns the trimmed windows of text without building chunks.
func (c *SimpleChunker) Split(text string) []string {
	var out []string
	for _, part := range strings.Split(text, c.sep) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		runes := []rune(part)
		for len(runes) > c.size {
			if w := strings.TrimSpace(string(runes[:c.size])); w != "" {
				out = append(out, w)
			}
			runes = runes[c.size-c.overlap:]
		}
		if w := strings.TrimSpace(string(runes)); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Validate checks the fields every chunk inherits.
func Validate(src Source) error {
	if strings.TrimSpace(src.CoachID) == "" || strings.TrimSpace(src.SourceID) == "" {
		return fmt.Errorf("%w: coach id and source id are required", errors.ErrInvalidInput)
	}
	return nil
}

// ChunkID is the stable identifier of the ordinal-th chunk of a source.
func ChunkID(sourceID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", sourceID, ordinal)
}

// NewChunk builds the ordinal-th chunk of src. Ordinals start at 1.
func NewChunk(src Source, ordinal int, text string) document.Chunk {
	c := document.Chunk{
		ID:        ChunkID(src.SourceID, ordinal),
		CoachID:   src.CoachID,
		SourceID:  src.SourceID,
		Text:      strings.TrimSpace(text),
		CreatedAt: src.CreatedAt,
	}
	if len(src.Keywords) > 0 {
		c.Keywords = append([]string(nil), src.Keywords...)
	}
	return c
}
