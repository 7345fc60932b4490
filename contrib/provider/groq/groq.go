// Package groq configures the OpenAI-compatible Groq endpoint as a backend.
package groq

import (
	"github.com/sweetpotato0/coach-qa/contrib/provider/openai"
)

// BaseURL is Groq's OpenAI-compatible API root.
const BaseURL = "https://api.groq.com/openai/v1/"

// DefaultModel favours latency, which suits question categorisation and
// mixture-of-experts routing.
const DefaultModel = "llama-3.1-8b-instant"

// Config holds Groq provider configuration
type Config struct {
	ID      string
	APIKey  string
	Model   string
	BaseURL string
}

// New returns a backend talking to Groq through the OpenAI SDK.
func New(cfg Config) *openai.Provider {
	if cfg.ID == "" {
		cfg.ID = "groq"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = BaseURL
	}
	return openai.New(openai.Config{
		ID:      cfg.ID,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
}
