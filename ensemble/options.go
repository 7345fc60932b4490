package ensemble

import (
	"log/slog"
	"time"

	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/rag/tokenizer"
)

// Config controls backend roles, call policy and prompt sizing.
type Config struct {
	Adjudicator string              // Backend that merges consensus outputs
	Primary     string              // Cross-check drafter
	Secondary   string              // Cross-check critic
	Experts     map[Category]string // Mixture-of-experts routing

	Policy    llm.Policy    // Per-call timeout and retry budget
	Deadline  time.Duration // Shared deadline for one fan-out; zero derives it from Policy
	MaxTokens int           // Completion cap per call

	Ungrounded    UngroundedPolicy
	Tokenizer     tokenizer.Tokenizer
	ContextTokens int // Budget for grounding content in a prompt

	AnswerPrompt      string
	UngroundedPrompt  string
	AdjudicatorPrompt string
	CriticPrompt      string

	logger *slog.Logger
}

// Option customises the generator configuration.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Policy:            llm.DefaultPolicy,
		MaxTokens:         800,
		Ungrounded:        UngroundedAnswer,
		Tokenizer:         tokenizer.NewSimpleTokenizer(),
		ContextTokens:     3000,
		AnswerPrompt:      defaultAnswerPrompt,
		UngroundedPrompt:  defaultUngroundedPrompt,
		AdjudicatorPrompt: defaultAdjudicatorPrompt,
		CriticPrompt:      defaultCriticPrompt,
	}
}

// WithAdjudicator names the backend that merges consensus outputs.
func WithAdjudicator(id string) Option {
	return func(cfg *Config) { cfg.Adjudicator = id }
}

// WithCrossCheck names the drafting and critiquing backends.
func WithCrossCheck(primary, secondary string) Option {
	return func(cfg *Config) {
		cfg.Primary = primary
		cfg.Secondary = secondary
	}
}

// WithExperts routes question categories to backend IDs. Unknown category
// names are ignored.
func WithExperts(experts map[string]string) Option {
	return func(cfg *Config) {
		if len(experts) == 0 {
			return
		}
		cfg.Experts = make(map[Category]string, len(experts))
		for name, id := range experts {
			if c, err := ParseCategory(name); err == nil {
				cfg.Experts[c] = id
			}
		}
	}
}

// WithPolicy sets the per-call timeout and retry budget.
func WithPolicy(p llm.Policy) Option {
	return func(cfg *Config) {
		if p.Timeout > 0 {
			cfg.Policy.Timeout = p.Timeout
		}
		if p.MaxRetries >= 0 {
			cfg.Policy.MaxRetries = p.MaxRetries
		}
	}
}

// WithDeadline sets the shared deadline for concurrent backend calls.
func WithDeadline(d time.Duration) Option {
	return func(cfg *Config) {
		if d > 0 {
			cfg.Deadline = d
		}
	}
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxTokens = n
		}
	}
}

// WithUngroundedPolicy picks answer-with-caveat or refuse when no grounding exists.
func WithUngroundedPolicy(p UngroundedPolicy) Option {
	return func(cfg *Config) {
		if p == UngroundedAnswer || p == UngroundedRefuse {
			cfg.Ungrounded = p
		}
	}
}

// WithTokenizer sets the tokenizer and the grounding budget.
func WithTokenizer(tok tokenizer.Tokenizer, budget int) Option {
	return func(cfg *Config) {
		if tok != nil {
			cfg.Tokenizer = tok
		}
		if budget > 0 {
			cfg.ContextTokens = budget
		}
	}
}

// WithPrompts overrides system prompts. Empty values keep the defaults.
func WithPrompts(answer, adjudicator, critic string) Option {
	return func(cfg *Config) {
		if answer != "" {
			cfg.AnswerPrompt = answer
		}
		if adjudicator != "" {
			cfg.AdjudicatorPrompt = adjudicator
		}
		if critic != "" {
			cfg.CriticPrompt = critic
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.logger = l }
}

func (cfg Config) deadline() time.Duration {
	if cfg.Deadline > 0 {
		return cfg.Deadline
	}
	return cfg.Policy.Timeout * time.Duration(cfg.Policy.MaxRetries+1)
}
