// Package markdown chunks coach-authored markdown (drill sheets, session
// plans) along its heading structure.
package markdown

import (
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/sweetpotato0/coach-qa/rag/chunking"
	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/lexical"
)

// Chunker splits markdown sources by heading hierarchy using a goldmark AST.
type Chunker struct {
	maxHeadingLevel int
	maxCharacters   int
	minCharacters   int
	fallback        *chunking.SimpleChunker
	parser          goldmark.Markdown
}

// Option customises the markdown chunker.
type Option func(*Chunker)

// WithMaxHeadingLevel caps which heading level starts a new chunk (default 3).
func WithMaxHeadingLevel(level int) Option {
	return func(c *Chunker) {
		if level > 0 {
			c.maxHeadingLevel = level
		}
	}
}

// WithMaxCharacters bounds a section before it is windowed by the fallback chunker.
func WithMaxCharacters(chars int) Option {
	return func(c *Chunker) {
		if chars > 0 {
			c.maxCharacters = chars
		}
	}
}

// WithMinCharacters merges adjoining sections until they reach the provided size.
func WithMinCharacters(chars int) Option {
	return func(c *Chunker) {
		if chars >= 0 {
			c.minCharacters = chars
		}
	}
}

// WithFallbackChunker swaps the chunker used for oversized sections.
func WithFallbackChunker(ch *chunking.SimpleChunker) Option {
	return func(c *Chunker) {
		if ch != nil {
			c.fallback = ch
		}
	}
}

// New creates a markdown chunker.
func New(opts ...Option) *Chunker {
	ch := &Chunker{
		maxHeadingLevel: 3,
		maxCharacters:   1200,
		minCharacters:   240,
		parser:          goldmark.New(),
		fallback: chunking.NewSimpleChunker(
			chunking.WithChunkSize(800),
			chunking.WithOverlap(120),
		),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Chunk implements chunking.Chunker. Section titles become chunk keywords so
// lexical retrieval can match a question against the heading it falls under.
func (c *Chunker) Chunk(ctx context.Context, src chunking.Source) ([]document.Chunk, error) {
	if err := chunking.Validate(src); err != nil {
		return nil, err
	}

	var chunks []document.Chunk
	for _, sec := range c.splitSections(src.Text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		secSrc := src
		secSrc.Keywords = sectionKeywords(src.Keywords, sec.titles)

		if len([]rune(sec.raw)) <= c.maxCharacters {
			chunks = append(chunks, chunking.NewChunk(secSrc, len(chunks)+1, sec.raw))
			continue
		}
		for _, w := range c.fallback.Split(sec.raw) {
			chunks = append(chunks, chunking.NewChunk(secSrc, len(chunks)+1, w))
		}
	}
	return chunks, nil
}

type section struct {
	raw    string
	titles []string
}

type headingInfo struct {
	start int
	title string
}

func (c *Chunker) splitSections(content string) []section {
	source := []byte(content)
	root := c.parser.Parser().Parse(text.NewReader(source))

	var headings []headingInfo
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok || heading.Level > c.maxHeadingLevel {
			return ast.WalkContinue, nil
		}
		lines := heading.Lines()
		if lines == nil || lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		// lines start after the "#" markers; back up to the line start
		start := lines.At(0).Start
		for start > 0 && source[start-1] != '\n' {
			start--
		}
		headings = append(headings, headingInfo{
			start: start,
			title: strings.TrimSpace(string(heading.Text(source))),
		})
		return ast.WalkSkipChildren, nil
	})

	if len(headings) == 0 {
		raw := strings.TrimSpace(content)
		if raw == "" {
			return nil
		}
		return []section{{raw: raw}}
	}

	var sections []section
	if intro := strings.TrimSpace(string(source[:headings[0].start])); intro != "" {
		sections = append(sections, section{raw: intro})
	}
	for i, h := range headings {
		end := len(source)
		if i+1 < len(headings) {
			end = headings[i+1].start
		}
		raw := strings.TrimSpace(string(source[h.start:end]))
		if raw == "" {
			continue
		}
		sec := section{raw: raw}
		if h.title != "" {
			sec.titles = []string{h.title}
		}
		sections = append(sections, sec)
	}
	return c.mergeShortSections(sections)
}

func (c *Chunker) mergeShortSections(sections []section) []section {
	if c.minCharacters <= 0 || len(sections) == 0 {
		return sections
	}
	merged := make([]section, 0, len(sections))
	var buffer *section
	for idx, sec := range sections {
		current := sec
		if buffer != nil {
			current = section{
				raw:    buffer.raw + "\n\n" + sec.raw,
				titles: append(append([]string(nil), buffer.titles...), sec.titles...),
			}
			buffer = nil
		}
		if len([]rune(current.raw)) < c.minCharacters && idx < len(sections)-1 {
			tmp := current
			buffer = &tmp
			continue
		}
		merged = append(merged, current)
	}
	return merged
}

func sectionKeywords(base, titles []string) []string {
	out := append([]string(nil), base...)
	for _, t := range titles {
		for _, tok := range lexical.Tokenize(t) {
			if !lexical.IsStopWord(tok) {
				out = append(out, tok)
			}
		}
	}
	return lexical.Unique(out)
}
