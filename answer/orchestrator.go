// Package answer is the public entry point of the coach Q&A pipeline: it
// sequences safety screening, retrieval, ensemble generation, verification
// and voice refinement, and owns budgets and fallbacks.
package answer

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sweetpotato0/coach-qa/ensemble"
	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
	"github.com/sweetpotato0/coach-qa/pkg/telemetry"
	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/planner"
	"github.com/sweetpotato0/coach-qa/rag/reranker"
	"github.com/sweetpotato0/coach-qa/rag/retriever"
	"github.com/sweetpotato0/coach-qa/safety"
	"github.com/sweetpotato0/coach-qa/verify"
	"github.com/sweetpotato0/coach-qa/voice"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Components are the pipeline stages. Retriever and Generator are required;
// the rest default to their standard implementations, and Profiles and Trace
// may be nil.
type Components struct {
	Classifier *safety.Classifier
	Planner    *planner.Planner
	Retriever  *retriever.Retriever
	Reranker   reranker.Reranker
	Generator  *ensemble.Generator
	Verifier   *verify.Verifier
	Refiner    *voice.Refiner
	Profiles   voice.ProfileStore
	Trace      TraceSink
}

// Orchestrator runs the pipeline. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	c        Components
	cfg      Config
	validate *validator.Validate
	logger   *slog.Logger
	tracer   oteltrace.Tracer
}

// New wires an orchestrator.
func New(c Components, opts ...Option) (*Orchestrator, error) {
	if c.Retriever == nil {
		return nil, fmt.Errorf("%w: retriever is required", errors.ErrInvalidInput)
	}
	if c.Generator == nil {
		return nil, fmt.Errorf("%w: generator is required", errors.ErrInvalidInput)
	}
	cfg := Config{
		DefaultMode:       ensemble.Consensus,
		Budget:            25 * time.Second,
		MaxQuestionLength: 2000,
		now:               time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if c.Classifier == nil {
		c.Classifier = safety.New(nil)
	}
	if c.Planner == nil {
		c.Planner = planner.New()
	}
	if c.Reranker == nil {
		c.Reranker = reranker.NewLexical()
	}
	if c.Verifier == nil {
		c.Verifier = verify.New()
	}
	if c.Refiner == nil {
		c.Refiner = voice.NewRefiner(nil)
	}
	return &Orchestrator{
		c:        c,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logging.Or(cfg.logger, "answer"),
		tracer:   telemetry.Tracer(),
	}, nil
}

// Answer runs the full pipeline for one question. Invalid requests return an
// error wrapping errors.ErrInvalidInput; cancellation of ctx returns ctx.Err()
// and no package. Every other failure degrades to a well-formed Package,
// down to the fallback template when the overall budget runs out.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (pkg *Package, err error) {
	started := o.cfg.now()
	q, mode, err := o.admit(req, started)
	if err != nil {
		o.logger.Info("question rejected",
			"coach_id", req.CoachID,
			"user_id", req.UserID,
			"error", err,
		)
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "answer.Answer", oteltrace.WithAttributes(
		attribute.String("question.id", q.ID),
		attribute.String("coach.id", q.CoachID),
		attribute.String("ensemble.mode", string(mode)),
	))
	defer func() { telemetry.End(span, err) }()

	rec := &Record{
		ID:             uuid.NewString(),
		Question:       q,
		RuleSetVersion: o.c.Classifier.Version(),
		StageMs:        make(map[string]int64),
	}

	pre := o.c.Classifier.Classify(q.Text)
	rec.PreCheck = pre
	if pre.ShouldBlock {
		pkg = assemble(assembly{question: q, safety: pre, mode: mode, started: started, finished: o.cfg.now()})
		o.finish(ctx, rec, pkg, OutcomeBlockedPre)
		return pkg, nil
	}

	budgetCtx, cancel := context.WithTimeout(ctx, o.cfg.Budget)
	defer cancel()

	pkg, outcome, err := o.run(budgetCtx, q, mode, pre, started, rec)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			o.logger.Info("request cancelled", "question_id", q.ID, "error", ctxErr)
			return nil, ctxErr
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			outcome = OutcomeBudgetExceeded
			o.logger.Warn("request budget exhausted, returning fallback", "question_id", q.ID, "budget", o.cfg.Budget)
		} else {
			outcome = OutcomeFallback
			o.logger.Error("pipeline failed, returning fallback", "question_id", q.ID, "error", err)
		}
		err = nil
		pkg = assemble(assembly{
			question: q,
			safety:   pre,
			text:     ensemble.FallbackText,
			mode:     mode,
			fallback: true,
			started:  started,
			finished: o.cfg.now(),
		})
	}
	o.finish(ctx, rec, pkg, outcome)
	return pkg, nil
}

// admit validates req and turns it into a Question.
func (o *Orchestrator) admit(req Request, now time.Time) (Question, ensemble.Mode, error) {
	req.Question = strings.TrimSpace(req.Question)
	req.CoachID = strings.TrimSpace(req.CoachID)
	req.UserID = strings.TrimSpace(req.UserID)
	if err := o.validate.Struct(req); err != nil {
		return Question{}, "", fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}
	if n := utf8.RuneCountInString(req.Question); n > o.cfg.MaxQuestionLength {
		return Question{}, "", fmt.Errorf("%w: question is %d characters, limit is %d",
			errors.ErrInvalidInput, n, o.cfg.MaxQuestionLength)
	}
	mode := o.cfg.DefaultMode
	if req.Mode != "" {
		mode = req.Mode
	}
	return Question{
		ID:            uuid.NewString(),
		Text:          req.Question,
		AskedByUserID: req.UserID,
		CoachID:       req.CoachID,
		AskedAt:       now,
	}, mode, nil
}

// run executes every stage after the pre-check. Errors are either context
// errors or unexpected stage failures; the caller maps both to a fallback.
func (o *Orchestrator) run(ctx context.Context, q Question, mode ensemble.Mode, pre safety.Result, started time.Time, rec *Record) (*Package, string, error) {
	var queries []planner.Query
	_ = o.stage(ctx, rec, "plan", func(context.Context) error {
		queries = o.c.Planner.Plan(q.Text)
		for _, pq := range queries {
			rec.Queries = append(rec.Queries, pq.Text)
		}
		return nil
	})

	var retrieved retriever.Result
	err := o.stage(ctx, rec, "retrieve", func(ctx context.Context) error {
		var err error
		retrieved, err = o.c.Retriever.Retrieve(ctx, queries, q.CoachID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	rec.RetrievedChunkIDs = chunkIDs(retrieved.Chunks)
	rec.DroppedChunks = retrieved.Dropped
	if retrieved.Err != nil {
		rec.RetrievalError = retrieved.Err.Error()
	}

	var ranked reranker.Result
	if retrieved.Grounded() {
		err = o.stage(ctx, rec, "rerank", func(ctx context.Context) error {
			var err error
			ranked, err = o.c.Reranker.Rerank(ctx, q.Text, retrieved.Chunks)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			o.logger.Warn("rerank failed, continuing without grounding", "question_id", q.ID, "error", err)
			ranked = reranker.Result{}
		}
	}
	chunks := ranked.Chunks()
	grounded := !ranked.Empty()
	sources := document.SourceIDs(chunks)
	rec.RankedChunkIDs = chunkIDs(chunks)
	rec.RetrievalConfidence = ranked.Confidence

	var draft ensemble.Draft
	err = o.stage(ctx, rec, "generate", func(ctx context.Context) error {
		var err error
		draft, err = o.c.Generator.Generate(ctx, ensemble.Input{
			Question:            q.Text,
			Chunks:              chunks,
			Grounded:            grounded,
			RetrievalConfidence: ranked.Confidence,
		}, mode)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	rec.Draft = &draft

	text := draft.MergedText
	outcome := OutcomeAnswered
	switch {
	case draft.Fallback:
		outcome = OutcomeFallback
	case draft.Refused:
		outcome = OutcomeRefused
	default:
		var verified verify.Result
		_ = o.stage(ctx, rec, "verify", func(context.Context) error {
			verified = o.c.Verifier.Verify(draft.MergedText, chunks)
			return nil
		})
		rec.UnsupportedClaims = verified.UnsupportedClaims

		profile := o.profile(ctx, q.CoachID)
		var refined voice.Result
		err = o.stage(ctx, rec, "refine", func(ctx context.Context) error {
			var err error
			refined, err = o.c.Refiner.Refine(ctx, verified.PatchedText, profile, pre.Disclaimer())
			return err
		})
		if err != nil {
			return nil, "", err
		}
		rec.Refinement = &Refinement{Refined: refined.Refined, Attempts: refined.Attempts, Drift: refined.Drift}
		text = refined.Text
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	post := o.c.Classifier.Classify(text)
	rec.PostCheck = &post
	if post.ShouldBlock {
		outcome = OutcomeBlockedPost
	}
	pkg := assemble(assembly{
		question:   q,
		safety:     safety.Max(post, pre),
		text:       text,
		sources:    sources,
		confidence: draft.Confidence,
		mode:       mode,
		grounded:   grounded,
		fallback:   draft.Fallback,
		started:    started,
		finished:   o.cfg.now(),
	})
	return pkg, outcome, nil
}

// profile loads the coach's voice profile. A missing or unreadable profile
// yields an empty one, which leaves the text unrefined.
func (o *Orchestrator) profile(ctx context.Context, coachID string) voice.Profile {
	if o.c.Profiles == nil {
		return voice.Profile{CoachID: coachID}
	}
	p, err := o.c.Profiles.GetVoiceProfile(ctx, coachID)
	switch {
	case err == nil:
		return p
	case stderrors.Is(err, errors.ErrNotFound):
		o.logger.Debug("no voice profile", "coach_id", coachID)
	case ctx.Err() == nil:
		o.logger.Warn("voice profile unavailable", "coach_id", coachID, "error", err)
	}
	return voice.Profile{CoachID: coachID}
}

func (o *Orchestrator) stage(ctx context.Context, rec *Record, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "answer."+name)
	start := time.Now()
	err := fn(ctx)
	rec.StageMs[name] = time.Since(start).Milliseconds()
	telemetry.End(span, err)
	return err
}

// finish logs the outcome and hands the record to the trace sink. The sink
// never gets the caller's cancellation.
func (o *Orchestrator) finish(ctx context.Context, rec *Record, pkg *Package, outcome string) {
	rec.Package = *pkg
	rec.Outcome = outcome
	rec.RecordedAt = o.cfg.now()
	rec.ReviewRequired = rec.PreCheck.Critical() || (rec.PostCheck != nil && rec.PostCheck.Critical())

	attrs := []any{
		"question_id", pkg.QuestionID,
		"coach_id", rec.Question.CoachID,
		"outcome", outcome,
		"risk_level", pkg.Safety.RiskLevel,
		"mode", pkg.ModeUsed,
		"citations", len(pkg.Citations),
		"confidence", pkg.Confidence,
		"timing_ms", pkg.TimingMs,
	}
	switch {
	case rec.ReviewRequired:
		o.logger.Warn("critical safety block, flagged for review",
			append(attrs, "patterns", pkg.Safety.DetectedPatterns, "question", logging.Trim(rec.Question.Text, 120))...)
	case outcome == OutcomeAnswered:
		o.logger.Info("question answered", attrs...)
	default:
		o.logger.Info("question handled", attrs...)
	}

	if o.c.Trace == nil {
		return
	}
	if err := o.c.Trace.Append(context.WithoutCancel(ctx), *rec); err != nil {
		o.logger.Debug("trace append failed", "record_id", rec.ID, "error", err)
	}
}

func chunkIDs(chunks []document.Chunk) []string {
	if len(chunks) == 0 {
		return nil
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}
