// Package voice rewrites a verified answer in a coach's personal voice
// without changing its facts or citations.
package voice

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sweetpotato0/coach-qa/citation"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
	"github.com/sweetpotato0/coach-qa/prompt"
)

const defaultSystemPrompt = `You rewrite a coach's answer so it sounds like the coach described below.
Change tone and phrasing only. Do not add facts, advice, numbers, names or examples, and do not remove any.
Keep every [src:...] marker exactly as written and attached to the same statement. Do not add markers.
Return only the rewritten answer as plain text.`

// maxAttempts bounds rewrites per answer: the first call plus one retry on
// citation drift.
const maxAttempts = 2

// Result is the outcome of one refinement.
type Result struct {
	Text     string
	Refined  bool // false when the unrefined text was kept
	Attempts int
	Drift    bool // a rewrite changed the citation markers
}

// Refiner performs the single-call voice rewrite.
type Refiner struct {
	backend   llm.Backend
	policy    llm.Policy
	maxTokens int
	system    string
	logger    *slog.Logger
}

// Option customises a Refiner.
type Option func(*Refiner)

// WithPolicy sets the call timeout and retry budget.
func WithPolicy(p llm.Policy) Option {
	return func(r *Refiner) { r.policy = p }
}

// WithMaxTokens caps the rewrite length.
func WithMaxTokens(n int) Option {
	return func(r *Refiner) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// WithSystemPrompt overrides the rewrite instruction.
func WithSystemPrompt(s string) Option {
	return func(r *Refiner) {
		if s != "" {
			r.system = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Refiner) { r.logger = l }
}

// NewRefiner creates a refiner. A nil backend disables rewriting; the
// disclaimer is still appended.
func NewRefiner(backend llm.Backend, opts ...Option) *Refiner {
	r := &Refiner{
		backend:   backend,
		policy:    llm.DefaultPolicy,
		maxTokens: 800,
		system:    defaultSystemPrompt,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = logging.Or(r.logger, "voice")
	return r
}

// Refine rewrites text in the profile's voice. The citation marker set of the
// result always equals that of text: a rewrite that drifts is retried once,
// then the unrefined text is used. When disclaimer is set a safety note is
// appended. Only cancellation of ctx returns an error.
func (r *Refiner) Refine(ctx context.Context, text string, profile Profile, disclaimer bool) (Result, error) {
	res := Result{Text: strings.TrimSpace(text)}
	if res.Text != "" && r.backend != nil && !profile.Empty() {
		if err := r.rewrite(ctx, &res, profile); err != nil {
			return Result{}, err
		}
	}
	if disclaimer {
		res.Text = strings.TrimSpace(res.Text + "\n\n" + Disclaimer(profile))
	}
	return res, nil
}

func (r *Refiner) rewrite(ctx context.Context, res *Result, profile Profile) error {
	original := res.Text
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		call := llm.Call(ctx, r.backend, r.request(original, profile, res.Drift), r.policy)
		if err := ctx.Err(); err != nil {
			return err
		}
		if call.Err != nil {
			r.logger.Warn("voice rewrite failed, keeping unrefined text", "coach_id", profile.CoachID, "error", call.Err)
			return nil
		}
		if citation.SameSet(original, call.Response.Text) {
			res.Text = call.Response.Text
			res.Refined = true
			return nil
		}
		res.Drift = true
		r.logger.Warn("voice rewrite changed citations",
			"coach_id", profile.CoachID,
			"attempt", attempt,
			"want", citation.Set(original),
			"got", citation.Set(call.Response.Text),
		)
	}
	return nil
}

func (r *Refiner) request(text string, p Profile, drifted bool) llm.Request {
	var style []string
	if p.Tone != "" {
		style = append(style, "Tone: "+p.Tone)
	}
	if p.EnergyLevel != "" {
		style = append(style, "Energy: "+p.EnergyLevel)
	}
	if p.CommunicationStyle != "" {
		style = append(style, "Communication style: "+p.CommunicationStyle)
	}
	b := prompt.NewBuilder().
		AddList("Coach voice", style).
		AddList("Catchphrases the coach uses (optional, at most one)", p.Catchphrases).
		AddSection("Answer to rewrite", text)
	if drifted {
		var markers []string
		for _, id := range citation.Set(text) {
			markers = append(markers, citation.Marker(id))
		}
		if len(markers) == 0 {
			b.Add("Your previous rewrite changed the citation markers. The answer must contain no [src:...] markers.")
		} else {
			b.AddFormat("Your previous rewrite changed the citation markers. The answer must contain exactly these markers: %s", strings.Join(markers, " "))
		}
	}
	return llm.Prompt(r.system, b.Build(), r.maxTokens)
}
