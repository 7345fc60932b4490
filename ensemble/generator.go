// Package ensemble coordinates several language-model backends to produce one
// grounded draft answer.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
	"github.com/sweetpotato0/coach-qa/rag/lexical"
)

// Base confidences before grounding is taken into account.
const (
	confidenceMerged          = 0.9
	confidenceContradiction   = 0.1
	confidenceMergedFloor     = 0.5
	confidenceNoAdjudicator   = 0.6
	confidenceSingle          = 0.55
	confidenceApproved        = 0.85
	confidenceRevised         = 0.75
	confidenceUnreviewed      = 0.55
	confidenceRevisionFailed  = 0.5
	confidenceExpert          = 0.7
	confidenceUngroundedScale = 0.5
)

// Generator runs one of the coordination modes over a fixed backend list.
// It is safe for concurrent use.
type Generator struct {
	backends []llm.Backend
	byID     map[string]llm.Backend
	cfg      Config
	logger   *slog.Logger
}

// New creates a generator. Role options that name unknown backends are
// rejected; unset roles default to the first (and second) backend.
func New(backends []llm.Backend, opts ...Option) (*Generator, error) {
	if len(backends) == 0 {
		return nil, errors.ErrNoBackends
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	byID := make(map[string]llm.Backend, len(backends))
	for _, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("%w: nil backend", errors.ErrInvalidInput)
		}
		if _, dup := byID[b.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate backend %q", errors.ErrInvalidInput, b.ID())
		}
		byID[b.ID()] = b
	}

	first := backends[0].ID()
	second := backends[len(backends)-1].ID()
	if len(backends) > 1 {
		second = backends[1].ID()
	}
	if cfg.Adjudicator == "" {
		cfg.Adjudicator = first
	}
	if cfg.Primary == "" {
		cfg.Primary = first
	}
	if cfg.Secondary == "" {
		cfg.Secondary = second
	}
	roles := map[string]string{"adjudicator": cfg.Adjudicator, "primary": cfg.Primary, "secondary": cfg.Secondary}
	for c, id := range cfg.Experts {
		roles["expert "+string(c)] = id
	}
	for role, id := range roles {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("%w: %s backend %q is not configured", errors.ErrInvalidInput, role, id)
		}
	}

	return &Generator{
		backends: backends,
		byID:     byID,
		cfg:      cfg,
		logger:   logging.Or(cfg.logger, "ensemble"),
	}, nil
}

// Generate produces a draft for in under mode. Backend failures never surface
// as errors: they degrade the draft down to the fallback template. The only
// errors are an unknown mode and cancellation of ctx.
func (g *Generator) Generate(ctx context.Context, in Input, mode Mode) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	if !in.Grounded && g.cfg.Ungrounded == UngroundedRefuse {
		return Draft{Mode: mode, MergedText: RefusalText, Refused: true, Ungrounded: true}, nil
	}

	var (
		draft Draft
		err   error
	)
	switch mode {
	case Consensus:
		draft, err = g.consensus(ctx, in)
	case CrossCheck:
		draft, err = g.crossCheck(ctx, in)
	case MixtureOfExperts:
		draft, err = g.mixture(ctx, in)
	default:
		return Draft{}, fmt.Errorf("%w: unknown ensemble mode %q", errors.ErrInvalidInput, mode)
	}
	if err != nil {
		return Draft{}, err
	}
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}

	draft.Mode = mode
	if draft.Fallback {
		draft.MergedText = FallbackText
		draft.Confidence = 0
		g.logger.Warn("ensemble fell back to template", "mode", mode, "outputs", len(draft.BackendOutputs))
		return draft, nil
	}
	draft.Confidence = g.scale(draft.Confidence, in)
	if !in.Grounded {
		draft.Ungrounded = true
		draft.MergedText = UngroundedCaveat + "\n\n" + draft.MergedText
	}
	g.logger.Debug("ensemble draft ready",
		"mode", mode,
		"confidence", draft.Confidence,
		"contradictions", len(draft.Contradictions),
	)
	return draft, nil
}

// scale folds retrieval confidence into a base confidence.
func (g *Generator) scale(base float64, in Input) float64 {
	factor := confidenceUngroundedScale
	if in.Grounded {
		rc := math.Max(0, math.Min(1, in.RetrievalConfidence))
		factor = 0.5 + 0.5*rc
	}
	return math.Round(base*factor*1000) / 1000
}

func (g *Generator) consensus(ctx context.Context, in Input) (Draft, error) {
	outputs := g.fanOut(ctx, g.backends, g.answerRequest(in), RoleAnswer)
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	draft := Draft{BackendOutputs: outputs}

	var ok []BackendOutput
	for _, o := range outputs {
		if o.OK() {
			ok = append(ok, o)
		}
	}
	switch len(ok) {
	case 0:
		draft.Fallback = true
		return draft, nil
	case 1:
		draft.MergedText = ok[0].Text
		draft.Confidence = confidenceSingle
		return draft, nil
	}

	adj := g.byID[g.cfg.Adjudicator]
	res := llm.Call(ctx, adj, g.adjudicatorRequest(in, outputs), g.cfg.Policy)
	draft.BackendOutputs = append(draft.BackendOutputs, outputOf(adj.ID(), RoleAdjudicator, res))
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	if res.Err != nil {
		g.logger.Warn("adjudicator failed, using most agreed output", "backend", adj.ID(), "error", res.Err)
		draft.MergedText = mostAgreed(ok).Text
		draft.Confidence = confidenceNoAdjudicator
		return draft, nil
	}

	merged, err := decodeJSON[adjudication](res.Response.Text)
	if err != nil || strings.TrimSpace(merged.Answer) == "" {
		// Plain-text output is still a merged answer.
		draft.MergedText = strings.TrimSpace(sanitizeJSON(res.Response.Text))
		draft.Confidence = confidenceNoAdjudicator
		return draft, nil
	}
	draft.MergedText = strings.TrimSpace(merged.Answer)
	for _, c := range merged.Contradictions {
		if c = strings.TrimSpace(c); c != "" {
			draft.Contradictions = append(draft.Contradictions, c)
		}
	}
	draft.Confidence = math.Max(confidenceMergedFloor,
		confidenceMerged-confidenceContradiction*float64(len(draft.Contradictions)))
	return draft, nil
}

func (g *Generator) crossCheck(ctx context.Context, in Input) (Draft, error) {
	primary := g.byID[g.cfg.Primary]
	secondary := g.byID[g.cfg.Secondary]

	res := llm.Call(ctx, primary, g.answerRequest(in), g.cfg.Policy)
	draft := Draft{BackendOutputs: []BackendOutput{outputOf(primary.ID(), RoleDraft, res)}}
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	if res.Err != nil {
		draft.Fallback = true
		return draft, nil
	}
	draft.MergedText = res.Response.Text

	review := llm.Call(ctx, secondary, g.criticRequest(in, draft.MergedText), g.cfg.Policy)
	draft.BackendOutputs = append(draft.BackendOutputs, outputOf(secondary.ID(), RoleCritic, review))
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	if review.Err != nil {
		g.logger.Warn("critic failed, accepting unreviewed draft", "backend", secondary.ID(), "error", review.Err)
		draft.Confidence = confidenceUnreviewed
		return draft, nil
	}
	verdict, err := decodeJSON[critique](review.Response.Text)
	if err != nil {
		g.logger.Warn("critic output unreadable, accepting unreviewed draft", "backend", secondary.ID(), "error", err)
		draft.Confidence = confidenceUnreviewed
		return draft, nil
	}
	draft.Issues = verdict.Issues
	if !strings.EqualFold(strings.TrimSpace(verdict.Verdict), "revise") {
		draft.Verdict = "approve"
		draft.Confidence = confidenceApproved
		return draft, nil
	}

	draft.Verdict = "revise"
	revised := llm.Call(ctx, primary, g.revisionRequest(in, draft.MergedText, verdict.Issues), g.cfg.Policy)
	draft.BackendOutputs = append(draft.BackendOutputs, outputOf(primary.ID(), RoleRevision, revised))
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	if revised.Err != nil {
		g.logger.Warn("revision failed, keeping first draft", "backend", primary.ID(), "error", revised.Err)
		draft.Confidence = confidenceRevisionFailed
		return draft, nil
	}
	draft.MergedText = revised.Response.Text
	draft.Confidence = confidenceRevised
	return draft, nil
}

func (g *Generator) mixture(ctx context.Context, in Input) (Draft, error) {
	category := Categorize(in.Question)
	expert := g.expertFor(category)
	res := llm.Call(ctx, expert, g.answerRequest(in), g.cfg.Policy)
	draft := Draft{
		Category:       category,
		BackendOutputs: []BackendOutput{outputOf(expert.ID(), RoleExpert, res)},
	}
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	if res.Err != nil {
		draft.Fallback = true
		return draft, nil
	}
	draft.MergedText = res.Response.Text
	draft.Confidence = confidenceExpert
	return draft, nil
}

func (g *Generator) expertFor(c Category) llm.Backend {
	if id, ok := g.cfg.Experts[c]; ok {
		return g.byID[id]
	}
	if id, ok := g.cfg.Experts[CategoryGeneral]; ok {
		return g.byID[id]
	}
	return g.byID[g.cfg.Primary]
}

type indexedResult struct {
	i   int
	res llm.Result
}

// fanOut calls every backend concurrently and joins on one shared deadline.
// Calls still running at the deadline are recorded as timed out; their
// results are discarded when they arrive.
func (g *Generator) fanOut(ctx context.Context, backends []llm.Backend, req llm.Request, role string) []BackendOutput {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.deadline())
	defer cancel()

	results := make(chan indexedResult, len(backends))
	for i, b := range backends {
		go func() {
			results <- indexedResult{i: i, res: llm.Call(ctx, b, req, g.cfg.Policy)}
		}()
	}

	outputs := make([]BackendOutput, len(backends))
	done := make([]bool, len(backends))
	for pending := len(backends); pending > 0; pending-- {
		select {
		case r := <-results:
			outputs[r.i] = outputOf(backends[r.i].ID(), role, r.res)
			done[r.i] = true
		case <-ctx.Done():
			for i, b := range backends {
				if !done[i] {
					outputs[i] = BackendOutput{
						BackendID: b.ID(),
						Role:      role,
						Error:     llm.Wrap(b.ID(), ctx.Err()).Error(),
						LatencyMs: g.cfg.deadline().Milliseconds(),
					}
				}
			}
			return outputs
		}
	}
	return outputs
}

func outputOf(id, role string, res llm.Result) BackendOutput {
	out := BackendOutput{
		BackendID: id,
		Role:      role,
		LatencyMs: res.Latency.Milliseconds(),
		Attempts:  res.Attempts,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
		return out
	}
	out.Text = res.Response.Text
	return out
}

// mostAgreed returns the output whose content terms overlap most with the
// others. Earlier outputs win ties.
func mostAgreed(outputs []BackendOutput) BackendOutput {
	sets := make([]map[string]struct{}, len(outputs))
	terms := make([][]string, len(outputs))
	for i, o := range outputs {
		terms[i] = lexical.Terms(o.Text)
		sets[i] = lexical.Set(terms[i])
	}
	best, bestScore := 0, -1.0
	for i := range outputs {
		score := 0.0
		for j := range outputs {
			if i != j {
				score += lexical.Overlap(terms[i], sets[j])
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return outputs[best]
}
