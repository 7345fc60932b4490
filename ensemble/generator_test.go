package ensemble

import (
	"context"
	stderrors "errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/rag/document"
)

type stubBackend struct {
	id    string
	delay time.Duration
	fn    func(req llm.Request) (string, error)

	mu    sync.Mutex
	calls []llm.Request
}

func (s *stubBackend) ID() string { return s.id }

func (s *stubBackend) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	text, err := s.fn(req)
	return llm.Response{Text: text, Model: s.id}, err
}

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubBackend) lastRequest() llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func reply(text string) func(llm.Request) (string, error) {
	return func(llm.Request) (string, error) { return text, nil }
}

func fail(msg string) func(llm.Request) (string, error) {
	return func(llm.Request) (string, error) { return "", stderrors.New(msg) }
}

// byRole answers differently when acting as adjudicator or critic.
func byRole(answer, judge func(llm.Request) (string, error)) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		if req.System == defaultAdjudicatorPrompt || req.System == defaultCriticPrompt {
			return judge(req)
		}
		return answer(req)
	}
}

func groundedInput(question string) Input {
	return Input{
		Question: question,
		Chunks: []document.Chunk{
			{ID: "c1", CoachID: "coach-1", SourceID: "s1", Text: "Pair players five yards apart and pass with the inside of the foot."},
			{ID: "c2", CoachID: "coach-1", SourceID: "s2", Text: "Beginners should keep the ball on the ground and use two touches."},
		},
		Grounded:            true,
		RetrievalConfidence: 1,
	}
}

func fastPolicy() Option {
	return WithPolicy(llm.Policy{Timeout: time.Second, MaxRetries: 1})
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func mustGenerator(t *testing.T, backends []llm.Backend, opts ...Option) *Generator {
	t.Helper()
	g, err := New(backends, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"consensus":          Consensus,
		" CrossCheck ":       CrossCheck,
		"cross-check":        CrossCheck,
		"moe":                MixtureOfExperts,
		"mixture-of-experts": MixtureOfExperts,
	}
	for in, want := range tests {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("vote"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestNewValidatesRoles(t *testing.T) {
	if _, err := New(nil); !stderrors.Is(err, errors.ErrNoBackends) {
		t.Fatalf("New(nil) error = %v", err)
	}
	a := &stubBackend{id: "a", fn: reply("x")}
	if _, err := New([]llm.Backend{a}, WithAdjudicator("missing")); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("unknown adjudicator error = %v", err)
	}
	if _, err := New([]llm.Backend{a, a}); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("duplicate backend error = %v", err)
	}
	if _, err := New([]llm.Backend{a}, WithExperts(map[string]string{"mental": "b"})); err == nil {
		t.Fatal("expected unknown expert backend error")
	}
}

func TestConsensusMergesWithAdjudicator(t *testing.T) {
	a := &stubBackend{id: "a", fn: byRole(
		reply("Pass with the inside of the foot [src:s1]."),
		reply("```json\n{\"answer\": \"Pass with the inside of the foot [src:s1]. Keep it on the ground [src:s2].\", \"contradictions\": [\"one or two touches\"]}\n```"),
	)}
	b := &stubBackend{id: "b", fn: reply("Keep the ball on the ground [src:s2].")}
	g := mustGenerator(t, []llm.Backend{a, b}, fastPolicy())

	draft, err := g.Generate(context.Background(), groundedInput("What's a good passing drill for beginners?"), Consensus)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.Fallback || draft.Mode != Consensus {
		t.Fatalf("unexpected draft %+v", draft)
	}
	if !strings.Contains(draft.MergedText, "[src:s2]") || !strings.Contains(draft.MergedText, "[src:s1]") {
		t.Errorf("merged text = %q", draft.MergedText)
	}
	if len(draft.Contradictions) != 1 {
		t.Errorf("contradictions = %v", draft.Contradictions)
	}
	if !approx(draft.Confidence, 0.8) {
		t.Errorf("confidence = %v, want 0.8", draft.Confidence)
	}
	if len(draft.BackendOutputs) != 3 || draft.BackendOutputs[2].Role != RoleAdjudicator {
		t.Errorf("outputs = %+v", draft.BackendOutputs)
	}
	prompt := b.lastRequest().Messages[0].Content
	if !strings.Contains(prompt, "[src:s1]") || !strings.Contains(prompt, "inside of the foot") {
		t.Errorf("answer prompt missing grounding: %q", prompt)
	}
}

func TestConsensusToleratesOneFailure(t *testing.T) {
	a := &stubBackend{id: "a", fn: fail("bad request")}
	b := &stubBackend{id: "b", fn: reply("Keep the ball on the ground [src:s2].")}
	g := mustGenerator(t, []llm.Backend{a, b}, fastPolicy())

	draft, err := g.Generate(context.Background(), groundedInput("passing drill?"), Consensus)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.Fallback || draft.MergedText != "Keep the ball on the ground [src:s2]." {
		t.Fatalf("draft = %+v", draft)
	}
	if !approx(draft.Confidence, confidenceSingle) {
		t.Errorf("confidence = %v, want reduced %v", draft.Confidence, confidenceSingle)
	}
	if a.callCount() != 1 {
		t.Errorf("non-transient failure retried: %d calls", a.callCount())
	}
	if draft.BackendOutputs[0].Error == "" {
		t.Error("failed backend output has no error")
	}
}

func TestConsensusAllTimeOutFallsBack(t *testing.T) {
	a := &stubBackend{id: "a", delay: time.Second, fn: reply("late")}
	b := &stubBackend{id: "b", delay: time.Second, fn: reply("late")}
	g := mustGenerator(t, []llm.Backend{a, b},
		WithPolicy(llm.Policy{Timeout: 20 * time.Millisecond, MaxRetries: 1}),
		WithDeadline(80*time.Millisecond),
	)

	start := time.Now()
	draft, err := g.Generate(context.Background(), groundedInput("passing drill?"), Consensus)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("fan-out took %v", elapsed)
	}
	if !draft.Fallback || draft.MergedText != FallbackText || draft.Confidence != 0 {
		t.Fatalf("draft = %+v", draft)
	}
	if a.callCount() != 2 {
		t.Errorf("timed-out backend calls = %d, want 2 (one retry)", a.callCount())
	}
}

func TestFanOutDiscardsLateResults(t *testing.T) {
	a := &stubBackend{id: "a", fn: reply("Fast answer [src:s1].")}
	slow := &stubBackend{id: "slow", delay: time.Second, fn: reply("Slow answer.")}
	g := mustGenerator(t, []llm.Backend{a, slow},
		WithPolicy(llm.Policy{Timeout: 5 * time.Second, MaxRetries: 0}),
		WithDeadline(50*time.Millisecond),
	)

	start := time.Now()
	draft, err := g.Generate(context.Background(), groundedInput("passing drill?"), Consensus)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("generator waited for the slow backend")
	}
	if draft.MergedText != "Fast answer [src:s1]." {
		t.Fatalf("merged = %q", draft.MergedText)
	}
	if draft.BackendOutputs[1].Error == "" || draft.BackendOutputs[1].Text != "" {
		t.Errorf("slow output = %+v", draft.BackendOutputs[1])
	}
}

func TestConsensusAdjudicatorFailureUsesMostAgreed(t *testing.T) {
	a := &stubBackend{id: "a", fn: byRole(reply("Keep your knees bent and stay low."), fail("adjudicator down"))}
	b := &stubBackend{id: "b", fn: reply("Stay low with bent knees.")}
	c := &stubBackend{id: "c", fn: reply("Drink water often.")}
	g := mustGenerator(t, []llm.Backend{a, b, c}, fastPolicy())

	draft, err := g.Generate(context.Background(), groundedInput("defending stance?"), Consensus)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.MergedText != "Stay low with bent knees." {
		t.Fatalf("merged = %q", draft.MergedText)
	}
	if !approx(draft.Confidence, confidenceNoAdjudicator) {
		t.Errorf("confidence = %v", draft.Confidence)
	}
}

func TestConsensusPlainTextAdjudication(t *testing.T) {
	a := &stubBackend{id: "a", fn: byRole(reply("One."), reply("Merged plain answer."))}
	b := &stubBackend{id: "b", fn: reply("Two.")}
	g := mustGenerator(t, []llm.Backend{a, b}, fastPolicy())

	draft, err := g.Generate(context.Background(), groundedInput("q"), Consensus)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.MergedText != "Merged plain answer." || !approx(draft.Confidence, confidenceNoAdjudicator) {
		t.Fatalf("draft = %+v", draft)
	}
}

func TestCrossCheck(t *testing.T) {
	tests := []struct {
		name        string
		critic      func(llm.Request) (string, error)
		wantText    string
		wantConf    float64
		wantCalls   int
		wantVerdict string
	}{
		{
			name:        "approve",
			critic:      reply(`{"verdict":"approve","issues":[]}`),
			wantText:    "Draft [src:s1].",
			wantConf:    confidenceApproved,
			wantCalls:   1,
			wantVerdict: "approve",
		},
		{
			name:        "revise",
			critic:      reply(`Sure. {"verdict":"revise","issues":["cite the two-touch rule"]}`),
			wantText:    "Revised [src:s1] [src:s2].",
			wantConf:    confidenceRevised,
			wantCalls:   2,
			wantVerdict: "revise",
		},
		{
			name:      "critic fails",
			critic:    fail("critic offline"),
			wantText:  "Draft [src:s1].",
			wantConf:  confidenceUnreviewed,
			wantCalls: 1,
		},
		{
			name:      "critic unreadable",
			critic:    reply("looks fine to me"),
			wantText:  "Draft [src:s1].",
			wantConf:  confidenceUnreviewed,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &stubBackend{id: "primary", fn: func(req llm.Request) (string, error) {
				if strings.Contains(req.Messages[0].Content, "Reviewer issues to fix") {
					return "Revised [src:s1] [src:s2].", nil
				}
				return "Draft [src:s1].", nil
			}}
			critic := &stubBackend{id: "critic", fn: tt.critic}
			g := mustGenerator(t, []llm.Backend{primary, critic}, fastPolicy())

			draft, err := g.Generate(context.Background(), groundedInput("passing drill?"), CrossCheck)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if draft.MergedText != tt.wantText {
				t.Errorf("merged = %q, want %q", draft.MergedText, tt.wantText)
			}
			if !approx(draft.Confidence, tt.wantConf) {
				t.Errorf("confidence = %v, want %v", draft.Confidence, tt.wantConf)
			}
			if primary.callCount() != tt.wantCalls {
				t.Errorf("primary calls = %d, want %d", primary.callCount(), tt.wantCalls)
			}
			if draft.Verdict != tt.wantVerdict {
				t.Errorf("verdict = %q, want %q", draft.Verdict, tt.wantVerdict)
			}
			if tt.wantCalls == 2 && !strings.Contains(primary.lastRequest().Messages[0].Content, "cite the two-touch rule") {
				t.Error("revision prompt lacks critique")
			}
		})
	}
}

func TestCrossCheckPrimaryFailureFallsBack(t *testing.T) {
	primary := &stubBackend{id: "primary", fn: fail("boom")}
	critic := &stubBackend{id: "critic", fn: reply(`{"verdict":"approve"}`)}
	g := mustGenerator(t, []llm.Backend{primary, critic}, fastPolicy())

	draft, err := g.Generate(context.Background(), groundedInput("q"), CrossCheck)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !draft.Fallback || critic.callCount() != 0 {
		t.Fatalf("draft = %+v, critic calls = %d", draft, critic.callCount())
	}
}

func TestMixtureOfExpertsRoutesOnce(t *testing.T) {
	a := &stubBackend{id: "a", fn: reply("technique answer")}
	b := &stubBackend{id: "b", fn: reply("Breathe slowly before the kick [src:s1].")}
	g := mustGenerator(t, []llm.Backend{a, b}, fastPolicy(),
		WithExperts(map[string]string{"mental": "b", "technique": "a", "bogus": "a"}))

	draft, err := g.Generate(context.Background(), groundedInput("How do I handle pressure and nerves before a penalty?"), MixtureOfExperts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if draft.Category != CategoryMental {
		t.Fatalf("category = %q", draft.Category)
	}
	if a.callCount() != 0 || b.callCount() != 1 {
		t.Fatalf("calls a=%d b=%d", a.callCount(), b.callCount())
	}
	if !approx(draft.Confidence, confidenceExpert) || len(draft.BackendOutputs) != 1 {
		t.Errorf("draft = %+v", draft)
	}
}

func TestUngroundedPolicies(t *testing.T) {
	in := Input{Question: "How many rest days should I take?"}

	refuser := &stubBackend{id: "a", fn: reply("should not be called")}
	g := mustGenerator(t, []llm.Backend{refuser}, WithUngroundedPolicy(UngroundedRefuse))
	draft, err := g.Generate(context.Background(), in, MixtureOfExperts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !draft.Refused || draft.MergedText != RefusalText || refuser.callCount() != 0 {
		t.Fatalf("refuse draft = %+v, calls = %d", draft, refuser.callCount())
	}

	answerer := &stubBackend{id: "a", fn: reply("Most athletes take one or two rest days a week.")}
	g = mustGenerator(t, []llm.Backend{answerer}, fastPolicy())
	draft, err = g.Generate(context.Background(), in, MixtureOfExperts)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !draft.Ungrounded || !strings.HasPrefix(draft.MergedText, UngroundedCaveat) {
		t.Fatalf("ungrounded draft = %+v", draft)
	}
	if !approx(draft.Confidence, confidenceExpert*confidenceUngroundedScale) {
		t.Errorf("confidence = %v", draft.Confidence)
	}
	if answerer.lastRequest().System != defaultUngroundedPrompt {
		t.Error("ungrounded question used the grounded prompt")
	}
}

func TestGenerateHonoursCancellation(t *testing.T) {
	a := &stubBackend{id: "a", delay: 5 * time.Second, fn: reply("late")}
	b := &stubBackend{id: "b", delay: 5 * time.Second, fn: reply("late")}
	g := mustGenerator(t, []llm.Backend{a, b}, fastPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	_, err := g.Generate(ctx, groundedInput("q"), Consensus)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not stop in-flight calls")
	}
}

func TestGenerateRejectsUnknownMode(t *testing.T) {
	g := mustGenerator(t, []llm.Backend{&stubBackend{id: "a", fn: reply("x")}})
	if _, err := g.Generate(context.Background(), groundedInput("q"), Mode("vote")); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("error = %v", err)
	}
}

func TestSourcesRespectsTokenBudget(t *testing.T) {
	in := groundedInput("q")
	full := sources(in.Chunks, nil, 0)
	if !strings.Contains(full, "[src:s1]") || !strings.Contains(full, "[src:s2]") {
		t.Fatalf("sources = %q", full)
	}
	g := mustGenerator(t, []llm.Backend{&stubBackend{id: "a", fn: reply("x")}}, WithTokenizer(nil, 30))
	cut := sources(in.Chunks, g.cfg.Tokenizer, g.cfg.ContextTokens)
	if !strings.Contains(cut, "[src:s1]") || strings.Contains(cut, "[src:s2]") {
		t.Fatalf("budgeted sources = %q", cut)
	}
}

func TestSanitizeJSON(t *testing.T) {
	tests := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"Here you go: {\"a\":1}":  `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for in, want := range tests {
		if got := sanitizeJSON(in); got != want {
			t.Errorf("sanitizeJSON(%q) = %q, want %q", in, got, want)
		}
	}
}
