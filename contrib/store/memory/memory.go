// Package memory provides an in-process chunk store, used for local runs and
// tests. Chunks can be seeded from a YAML file.
package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/lexical"
	"gopkg.in/yaml.v3"
)

// Store keeps chunks grouped by coach.
type Store struct {
	mu      sync.RWMutex
	byCoach map[string][]document.Chunk
}

// New creates a store holding chunks.
func New(chunks ...document.Chunk) *Store {
	s := &Store{byCoach: make(map[string][]document.Chunk)}
	s.Add(chunks...)
	return s
}

// Add stores chunks, replacing any with the same coach and ID.
func (s *Store) Add(chunks ...document.Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		list := s.byCoach[c.CoachID]
		replaced := false
		for i := range list {
			if list[i].ID == c.ID {
				list[i] = c.Clone()
				replaced = true
				break
			}
		}
		if !replaced {
			list = append(list, c.Clone())
		}
		s.byCoach[c.CoachID] = list
	}
}

// Count returns the number of chunks stored for coachID.
func (s *Store) Count(coachID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCoach[coachID])
}

type hit struct {
	chunk   document.Chunk
	matches int
}

// GetChunks returns up to limit chunks of coachID sharing at least one term
// with query, best matches first. A query without terms returns the newest
// chunks.
func (s *Store) GetChunks(ctx context.Context, coachID, query string, limit int) ([]document.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := lexical.Unique(lexical.Terms(query))
	var hits []hit
	for _, c := range s.byCoach[coachID] {
		n := len(terms)
		if len(terms) > 0 {
			n = matches(terms, lexical.Set(lexical.Terms(c.SearchText())))
			if n == 0 {
				continue
			}
		}
		hits = append(hits, hit{chunk: c.Clone(), matches: n})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].matches != hits[j].matches {
			return hits[i].matches > hits[j].matches
		}
		if !hits[i].chunk.CreatedAt.Equal(hits[j].chunk.CreatedAt) {
			return hits[i].chunk.CreatedAt.After(hits[j].chunk.CreatedAt)
		}
		return hits[i].chunk.ID < hits[j].chunk.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]document.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.chunk
	}
	return out, nil
}

func matches(terms []string, doc map[string]struct{}) int {
	n := 0
	for _, t := range terms {
		if _, ok := doc[t]; ok {
			n++
		}
	}
	return n
}

type chunkRecord struct {
	ID        string    `yaml:"id"`
	CoachID   string    `yaml:"coach_id"`
	SourceID  string    `yaml:"source_id,omitempty"`
	Text      string    `yaml:"text"`
	Keywords  []string  `yaml:"keywords,omitempty"`
	CreatedAt time.Time `yaml:"created_at,omitempty"`
}

type chunkFile struct {
	Chunks []chunkRecord `yaml:"chunks"`
}

// LoadFile builds a store from a YAML file with a top-level "chunks" list.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk file: %w", err)
	}
	return Parse(data)
}

// Parse builds a store from YAML data.
func Parse(data []byte) (*Store, error) {
	var f chunkFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse chunk file: %w", err)
	}
	s := New()
	for i, c := range f.Chunks {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.CoachID) == "" {
			return nil, fmt.Errorf("chunk %d: id and coach_id are required", i)
		}
		s.Add(document.Chunk{
			ID:        c.ID,
			CoachID:   c.CoachID,
			SourceID:  c.SourceID,
			Text:      c.Text,
			Keywords:  c.Keywords,
			CreatedAt: c.CreatedAt,
		})
	}
	return s, nil
}

// Encode renders chunks in the format LoadFile reads.
func Encode(chunks []document.Chunk) ([]byte, error) {
	f := chunkFile{Chunks: make([]chunkRecord, 0, len(chunks))}
	for _, c := range chunks {
		f.Chunks = append(f.Chunks, chunkRecord{
			ID:        c.ID,
			CoachID:   c.CoachID,
			SourceID:  c.SourceID,
			Text:      c.Text,
			Keywords:  c.Keywords,
			CreatedAt: c.CreatedAt,
		})
	}
	out, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode chunk file: %w", err)
	}
	return out, nil
}
