package document

import (
	"strings"
	"time"
)

// Chunk is a slice of a coach's training content. Chunks are owned by the
// document store; the answer pipeline only reads them.
type Chunk struct {
	ID           string    `json:"id" bson:"id"`
	CoachID      string    `json:"coach_id" bson:"coach_id"`
	SourceID     string    `json:"source_id" bson:"source_id"`
	Text         string    `json:"text" bson:"text"`
	Keywords     []string  `json:"keywords,omitempty" bson:"keywords,omitempty"`
	EmbeddingRef string    `json:"embedding_ref,omitempty" bson:"embedding_ref,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}

// Clone returns a deep copy of the chunk.
func (c Chunk) Clone() Chunk {
	out := c
	if c.Keywords != nil {
		out.Keywords = append([]string(nil), c.Keywords...)
	}
	return out
}

// SearchText is the text scored during reranking: body plus keywords.
func (c Chunk) SearchText() string {
	if len(c.Keywords) == 0 {
		return c.Text
	}
	return c.Text + "\n" + strings.Join(c.Keywords, " ")
}

// Scored pairs a chunk with its relevance score.
type Scored struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// SourceIDs returns the distinct source IDs of chunks in order of first appearance.
func SourceIDs(chunks []Chunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	var out []string
	for _, c := range chunks {
		if c.SourceID == "" {
			continue
		}
		if _, ok := seen[c.SourceID]; ok {
			continue
		}
		seen[c.SourceID] = struct{}{}
		out = append(out, c.SourceID)
	}
	return out
}
