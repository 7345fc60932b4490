package tiktoken

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sweetpotato0/coach-qa/rag/tokenizer"
)

var _ tokenizer.Tokenizer = (*Tokenizer)(nil)

// Tokenizer counts tokens with a BPE encoding.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// New resolves name as a model first, then as an encoding name.
func New(name string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, fmt.Errorf("tiktoken: resolve %q: %w", name, err)
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// NewOrSimple returns a tiktoken counter, or the offline approximation when
// the encoding cannot be loaded (the BPE ranks are fetched on first use).
func NewOrSimple(name string) (tokenizer.Tokenizer, error) {
	t, err := New(name)
	if err != nil {
		return tokenizer.NewSimpleTokenizer(), err
	}
	return t, nil
}

func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
