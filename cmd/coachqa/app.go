package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/config"
	profilememory "github.com/sweetpotato0/coach-qa/contrib/profile/memory"
	profilemongo "github.com/sweetpotato0/coach-qa/contrib/profile/mongo"
	"github.com/sweetpotato0/coach-qa/contrib/provider"
	coherererank "github.com/sweetpotato0/coach-qa/contrib/reranker/cohere"
	storememory "github.com/sweetpotato0/coach-qa/contrib/store/memory"
	storepostgres "github.com/sweetpotato0/coach-qa/contrib/store/postgres"
	"github.com/sweetpotato0/coach-qa/contrib/tokenizer/tiktoken"
	traceredis "github.com/sweetpotato0/coach-qa/contrib/trace/redis"
	"github.com/sweetpotato0/coach-qa/ensemble"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
	"github.com/sweetpotato0/coach-qa/pkg/telemetry"
	"github.com/sweetpotato0/coach-qa/rag/planner"
	"github.com/sweetpotato0/coach-qa/rag/reranker"
	"github.com/sweetpotato0/coach-qa/rag/retriever"
	"github.com/sweetpotato0/coach-qa/rag/tokenizer"
	"github.com/sweetpotato0/coach-qa/safety"
	"github.com/sweetpotato0/coach-qa/trace"
	"github.com/sweetpotato0/coach-qa/verify"
	"github.com/sweetpotato0/coach-qa/voice"
)

// app owns every long-lived component built from configuration.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	orchestrator *answer.Orchestrator
	closers      []func(context.Context) error
}

func newApp(ctx context.Context, cfg config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logging.WithComponent("coachqa")}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		Disable:        cfg.Telemetry.Disable,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdown)

	rules, err := safety.Select(cfg.Safety.RuleSetVersion, cfg.Safety.RuleSetPath)
	if err != nil {
		return nil, fmt.Errorf("safety rules: %w", err)
	}

	store, err := a.chunkStore(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := a.profileStore(ctx)
	if err != nil {
		return nil, err
	}
	sink, err := a.traceSink()
	if err != nil {
		return nil, err
	}

	backends, err := provider.NewSet(ctx, cfg.Ensemble.Backends)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return backends.Close() })

	policy := llm.Policy{Timeout: cfg.Ensemble.PerBackendTimeout, MaxRetries: llm.DefaultPolicy.MaxRetries}
	generator, err := ensemble.New(backends.Backends,
		ensemble.WithAdjudicator(cfg.Ensemble.Adjudicator),
		ensemble.WithCrossCheck(cfg.Ensemble.Primary, cfg.Ensemble.Secondary),
		ensemble.WithExperts(cfg.Ensemble.Experts),
		ensemble.WithPolicy(policy),
		ensemble.WithMaxTokens(cfg.Ensemble.MaxTokens),
		ensemble.WithUngroundedPolicy(ensemble.UngroundedPolicy(cfg.Pipeline.UngroundedPolicy)),
		ensemble.WithTokenizer(a.tokenizer(), cfg.Retrieval.ContextTokenBudget),
	)
	if err != nil {
		return nil, err
	}

	var refiner *voice.Refiner
	if b, ok := backends.Get(cfg.Ensemble.Primary); ok {
		refiner = voice.NewRefiner(b, voice.WithPolicy(policy), voice.WithMaxTokens(cfg.Ensemble.MaxTokens))
	}

	a.orchestrator, err = answer.New(answer.Components{
		Classifier: safety.New(rules),
		Planner:    planner.New(),
		Retriever:  retriever.New(store, nil, retriever.WithMaxChunks(cfg.Retrieval.MaxChunks)),
		Reranker:   a.reranker(),
		Generator:  generator,
		Verifier: verify.New(
			verify.WithThreshold(cfg.Verify.SupportThreshold),
			verify.WithPolicy(verify.Policy(cfg.Verify.UnsupportedPolicy)),
		),
		Refiner:  refiner,
		Profiles: profiles,
		Trace:    sink,
	},
		answer.WithDefaultMode(ensemble.Mode(cfg.Ensemble.Mode)),
		answer.WithBudget(cfg.Pipeline.OverallBudget),
		answer.WithMaxQuestionLength(cfg.Pipeline.MaxQuestionLength),
	)
	if err != nil {
		return nil, err
	}

	a.logger.Info("pipeline ready",
		"mode", cfg.Ensemble.Mode,
		"backends", len(backends.Backends),
		"chunk_store", cfg.Retrieval.Store,
		"reranker", cfg.Retrieval.Reranker,
		"profiles", cfg.Stores.Profiles,
		"trace_sink", cfg.Trace.Sink,
		"rule_set_version", rules.Version,
	)
	return a, nil
}

func (a *app) chunkStore(ctx context.Context) (retriever.Store, error) {
	switch a.cfg.Retrieval.Store {
	case "postgres":
		s, err := storepostgres.Open(ctx, a.cfg.Stores.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		return s, nil
	default:
		if a.cfg.Retrieval.ChunksFile == "" {
			a.logger.Warn("memory chunk store has no seed file, every answer will be ungrounded")
			return storememory.New(), nil
		}
		return storememory.LoadFile(a.cfg.Retrieval.ChunksFile)
	}
}

func (a *app) profileStore(ctx context.Context) (voice.ProfileStore, error) {
	switch a.cfg.Stores.Profiles {
	case "mongo":
		s, err := profilemongo.Open(ctx, a.cfg.Stores.Mongo)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		if a.cfg.Stores.ProfilesFile == "" {
			return profilememory.New(), nil
		}
		return profilememory.LoadFile(a.cfg.Stores.ProfilesFile)
	}
}

func (a *app) traceSink() (answer.TraceSink, error) {
	var sink trace.Sink = trace.NewLogSink(nil)
	if a.cfg.Trace.Sink == "redis" {
		s, err := traceredis.New(a.cfg.Stores.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
		sink = s
	}
	async := trace.NewAsync(sink, trace.WithBuffer(a.cfg.Trace.Buffer))
	a.closers = append(a.closers, async.Close)
	return async, nil
}

func (a *app) reranker() reranker.Reranker {
	opts := []reranker.Option{
		reranker.WithTopK(a.cfg.Retrieval.RerankTopK),
		reranker.WithMinScore(a.cfg.Retrieval.MinRetrievalConfidence),
	}
	if a.cfg.Retrieval.Reranker == "cohere" {
		return coherererank.New(a.cfg.Retrieval.CohereAPIKey, coherererank.WithRerankOptions(opts...))
	}
	return reranker.NewLexical(opts...)
}

func (a *app) tokenizer() tokenizer.Tokenizer {
	if a.cfg.Retrieval.TokenizerEncoding == "simple" {
		return tokenizer.NewSimpleTokenizer()
	}
	tok, err := tiktoken.NewOrSimple(a.cfg.Retrieval.TokenizerEncoding)
	if err != nil {
		a.logger.Warn("tiktoken unavailable, using approximate token counts", "error", err)
	}
	return tok
}

// Close releases resources in reverse order of creation. The trace buffer
// is flushed before its sink is closed.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}
