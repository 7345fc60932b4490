// Package provider builds language-model backends from configuration.
package provider

import (
	"context"
	"fmt"
	"io"

	"github.com/sweetpotato0/coach-qa/config"
	"github.com/sweetpotato0/coach-qa/contrib/provider/claude"
	"github.com/sweetpotato0/coach-qa/contrib/provider/cohere"
	"github.com/sweetpotato0/coach-qa/contrib/provider/gemini"
	"github.com/sweetpotato0/coach-qa/contrib/provider/groq"
	"github.com/sweetpotato0/coach-qa/contrib/provider/openai"
	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/llm"
)

// New constructs the backend described by cfg.
func New(ctx context.Context, cfg config.BackendConfig) (llm.Backend, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.New(openai.Config{ID: cfg.ID, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	case config.ProviderGroq:
		return groq.New(groq.Config{ID: cfg.ID, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	case config.ProviderClaude:
		return claude.New(claude.Config{ID: cfg.ID, APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	case config.ProviderCohere:
		return cohere.New(cohere.Config{ID: cfg.ID, APIKey: cfg.APIKey, Endpoint: cfg.BaseURL, Model: cfg.Model}), nil
	case config.ProviderGemini:
		return gemini.New(ctx, gemini.Config{ID: cfg.ID, APIKey: cfg.APIKey, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown provider %q: %w", cfg.Provider, errors.ErrInvalidInput)
	}
}

// Set is the ordered list of configured backends.
type Set struct {
	Backends []llm.Backend
}

// NewSet builds every configured backend. On failure the ones already built
// are closed.
func NewSet(ctx context.Context, cfgs []config.BackendConfig) (*Set, error) {
	s := &Set{}
	for _, c := range cfgs {
		b, err := New(ctx, c)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("backend %s: %w", c.ID, err)
		}
		s.Backends = append(s.Backends, b)
	}
	return s, nil
}

// Get returns the backend with the given ID.
func (s *Set) Get(id string) (llm.Backend, bool) {
	for _, b := range s.Backends {
		if b.ID() == id {
			return b, true
		}
	}
	return nil, false
}

// Close releases backends holding connections.
func (s *Set) Close() error {
	var first error
	for _, b := range s.Backends {
		if c, ok := b.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
