package answer

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sweetpotato0/coach-qa/ensemble"
	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/llm"
	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/retriever"
	"github.com/sweetpotato0/coach-qa/safety"
	"github.com/sweetpotato0/coach-qa/voice"
)

type stubStore struct {
	chunks []document.Chunk
	err    error
	calls  atomic.Int32
}

func (s *stubStore) GetChunks(ctx context.Context, coachID, query string, limit int) ([]document.Chunk, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	var out []document.Chunk
	for _, c := range s.chunks {
		if c.CoachID == coachID {
			out = append(out, c)
		}
	}
	return out, nil
}

type stubBackend struct {
	id    string
	delay time.Duration
	fn    func(req llm.Request) string
	calls atomic.Int32
}

func (b *stubBackend) ID() string { return b.id }

func (b *stubBackend) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	return llm.Response{Text: b.fn(req)}, nil
}

type recordingSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *recordingSink) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) all() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

type stubProfiles map[string]voice.Profile

func (p stubProfiles) GetVoiceProfile(_ context.Context, coachID string) (voice.Profile, error) {
	if prof, ok := p[coachID]; ok {
		return prof, nil
	}
	return voice.Profile{}, errors.ErrNotFound
}

const coachID = "coach-7"

func passingChunks() []document.Chunk {
	day := func(d int) time.Time { return time.Date(2025, 3, d, 9, 0, 0, 0, time.UTC) }
	return []document.Chunk{
		{ID: "c1", CoachID: coachID, SourceID: "passing-101", CreatedAt: day(1),
			Text: "Beginner passing drill: pair players five yards apart and pass with the inside of the foot."},
		{ID: "c2", CoachID: coachID, SourceID: "passing-102", CreatedAt: day(2),
			Text: "In a beginners passing drill, keep passes on the ground and receive with a soft first touch."},
		{ID: "c3", CoachID: coachID, SourceID: "warmups", CreatedAt: day(3),
			Text: "Good passing sessions for beginners start with a short dynamic warm-up."},
		{ID: "x1", CoachID: "other-coach", SourceID: "secret", CreatedAt: day(4),
			Text: "Private passing drill for beginners from another coach."},
	}
}

const groundedAnswer = "Pair players five yards apart and pass with the inside of the foot [src:passing-101]. " +
	"Keep passes on the ground [src:passing-102] [src:secret]."

// answerer replies with text, and with a JSON merge when acting as adjudicator.
func answerer(id, text string) *stubBackend {
	return &stubBackend{id: id, fn: func(req llm.Request) string {
		if strings.Contains(req.System, "merge candidate answers") {
			return `{"answer": ` + quote(text) + `, "contradictions": []}`
		}
		return text
	}}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

type fixture struct {
	store    *stubStore
	backends []*stubBackend
	sink     *recordingSink
	orch     *Orchestrator
}

func newFixture(t *testing.T, store *stubStore, backends []*stubBackend, genOpts []ensemble.Option, opts ...Option) *fixture {
	t.Helper()
	list := make([]llm.Backend, len(backends))
	for i, b := range backends {
		list[i] = b
	}
	if genOpts == nil {
		genOpts = []ensemble.Option{ensemble.WithPolicy(llm.Policy{Timeout: time.Second, MaxRetries: 1})}
	}
	gen, err := ensemble.New(list, genOpts...)
	if err != nil {
		t.Fatalf("ensemble.New: %v", err)
	}
	sink := &recordingSink{}
	orch, err := New(Components{
		Retriever: retriever.New(store, nil),
		Generator: gen,
		Trace:     sink,
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{store: store, backends: backends, sink: sink, orch: orch}
}

func (f *fixture) modelCalls() int {
	n := 0
	for _, b := range f.backends {
		n += int(b.calls.Load())
	}
	return n
}

func ask(question string) Request {
	return Request{Question: question, CoachID: coachID, UserID: "athlete-1"}
}

func TestScenarioACriticalQuestionIsBlocked(t *testing.T) {
	f := newFixture(t, &stubStore{chunks: passingChunks()},
		[]*stubBackend{answerer("a", groundedAnswer), answerer("b", groundedAnswer)}, nil)

	pkg, err := f.orch.Answer(context.Background(), ask("I broke my wrist, what do I do?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if pkg.Safety.RiskLevel != safety.RiskCritical || !pkg.Safety.ShouldBlock {
		t.Fatalf("safety = %+v", pkg.Safety)
	}
	if pkg.FinalText != safety.EmergencyResponse || !strings.Contains(pkg.FinalText, "seek care") {
		t.Errorf("final text = %q", pkg.FinalText)
	}
	if len(pkg.Citations) != 0 || pkg.Confidence != 0 {
		t.Errorf("blocked package carries citations or confidence: %+v", pkg)
	}
	if f.modelCalls() != 0 || f.store.calls.Load() != 0 {
		t.Errorf("downstream work after pre-check block: model=%d store=%d", f.modelCalls(), f.store.calls.Load())
	}
	recs := f.sink.all()
	if len(recs) != 1 || !recs[0].ReviewRequired || recs[0].Outcome != OutcomeBlockedPre {
		t.Fatalf("trace = %+v", recs)
	}
	if recs[0].RuleSetVersion != safety.DefaultVersion {
		t.Errorf("rule set version = %q", recs[0].RuleSetVersion)
	}
}

func TestCriticalInputsNeverReachModels(t *testing.T) {
	for _, q := range []string{"I want to end my life", "I think I'm having a heart attack"} {
		t.Run(q, func(t *testing.T) {
			f := newFixture(t, &stubStore{chunks: passingChunks()}, []*stubBackend{answerer("a", groundedAnswer)}, nil)
			pkg, err := f.orch.Answer(context.Background(), ask(q))
			if err != nil {
				t.Fatalf("Answer: %v", err)
			}
			if !pkg.Safety.ShouldBlock || f.modelCalls() != 0 {
				t.Fatalf("pkg = %+v, model calls = %d", pkg, f.modelCalls())
			}
		})
	}
}

func TestScenarioBGroundedAnswer(t *testing.T) {
	f := newFixture(t, &stubStore{chunks: passingChunks()},
		[]*stubBackend{answerer("a", groundedAnswer), answerer("b", groundedAnswer)}, nil)

	pkg, err := f.orch.Answer(context.Background(), ask("What's a good passing drill for beginners?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if pkg.Safety.ShouldBlock || pkg.Safety.RiskLevel != safety.RiskNone {
		t.Fatalf("safety = %+v", pkg.Safety)
	}
	if len(pkg.Citations) < 1 || pkg.Confidence <= 0 || !pkg.Grounded || pkg.Fallback {
		t.Fatalf("pkg = %+v", pkg)
	}
	if pkg.ModeUsed != ensemble.Consensus {
		t.Errorf("mode = %q", pkg.ModeUsed)
	}

	retrieved := map[string]bool{"passing-101": true, "passing-102": true, "warmups": true}
	for _, id := range pkg.Citations {
		if !retrieved[id] {
			t.Errorf("citation %q was not retrieved", id)
		}
	}
	if strings.Contains(pkg.FinalText, "secret") {
		t.Errorf("foreign source leaked into answer: %q", pkg.FinalText)
	}

	recs := f.sink.all()
	if len(recs) != 1 {
		t.Fatalf("trace records = %d", len(recs))
	}
	rec := recs[0]
	if rec.Outcome != OutcomeAnswered || rec.Draft == nil || rec.PostCheck == nil || rec.Refinement == nil {
		t.Fatalf("record = %+v", rec)
	}
	for _, id := range rec.RetrievedChunkIDs {
		if id == "x1" {
			t.Error("another coach's chunk was retrieved")
		}
	}
	for _, stage := range []string{"plan", "retrieve", "rerank", "generate", "verify", "refine"} {
		if _, ok := rec.StageMs[stage]; !ok {
			t.Errorf("stage %s not timed", stage)
		}
	}
	if rec.Package.QuestionID != pkg.QuestionID {
		t.Error("trace record does not carry the returned package")
	}
}

func TestBuildUpPhrasingIsNotAnEmergency(t *testing.T) {
	chunks := []document.Chunk{{
		ID: "b1", CoachID: coachID, SourceID: "build-up", CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		Text: "Build-up play: work on passing out of the back with your center backs splitting wide.",
	}}
	text := "Work on passing out of the back with your center backs splitting wide [src:build-up]."
	f := newFixture(t, &stubStore{chunks: chunks},
		[]*stubBackend{answerer("a", text), answerer("b", text)}, nil)

	pkg, err := f.orch.Answer(context.Background(), ask("How do I get better at passing out from the back under pressure?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if pkg.Safety.ShouldBlock || pkg.Safety.RiskLevel != safety.RiskNone {
		t.Fatalf("safety = %+v", pkg.Safety)
	}
	if f.store.calls.Load() == 0 {
		t.Fatal("question never reached retrieval")
	}
	if !strings.Contains(pkg.FinalText, "passing out of the back") {
		t.Fatalf("answer replaced: %q", pkg.FinalText)
	}
}

func TestScenarioCNoChunksIsUngrounded(t *testing.T) {
	f := newFixture(t, &stubStore{},
		[]*stubBackend{answerer("a", "Most beginners improve with short daily passing practice."), answerer("b", "Practice passing a little every day.")}, nil)

	pkg, err := f.orch.Answer(context.Background(), ask("What's a good passing drill for beginners?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if pkg.Safety.ShouldBlock || pkg.Grounded || pkg.Fallback {
		t.Fatalf("pkg = %+v", pkg)
	}
	if len(pkg.Citations) != 0 {
		t.Errorf("citations = %v, want none", pkg.Citations)
	}
	if !strings.HasPrefix(pkg.FinalText, ensemble.UngroundedCaveat) {
		t.Errorf("final text lacks ungrounded caveat: %q", pkg.FinalText)
	}
}

func TestStoreFailureDegradesToUngrounded(t *testing.T) {
	f := newFixture(t, &stubStore{err: stderrors.New("connection refused")},
		[]*stubBackend{answerer("a", "General advice.")}, nil)

	pkg, err := f.orch.Answer(context.Background(), ask("What's a good passing drill for beginners?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if pkg.Grounded || pkg.Fallback || len(pkg.Citations) != 0 {
		t.Fatalf("pkg = %+v", pkg)
	}
	if f.store.calls.Load() > 3 {
		t.Errorf("store read retried: %d calls", f.store.calls.Load())
	}
	if rec := f.sink.all()[0]; rec.RetrievalError == "" {
		t.Error("retrieval error not traced")
	}
}

func TestScenarioDAllBackendsTimeOut(t *testing.T) {
	slow := func(id string) *stubBackend {
		return &stubBackend{id: id, delay: 5 * time.Second, fn: func(llm.Request) string { return "late" }}
	}
	f := newFixture(t, &stubStore{chunks: passingChunks()}, []*stubBackend{slow("a"), slow("b")},
		[]ensemble.Option{ensemble.WithPolicy(llm.Policy{Timeout: 20 * time.Millisecond, MaxRetries: 1})},
		WithBudget(2*time.Second))

	start := time.Now()
	pkg, err := f.orch.Answer(context.Background(), ask("What's a good passing drill for beginners?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("answer exceeded the budget")
	}
	if pkg.FinalText != ensemble.FallbackText || !pkg.Fallback || pkg.Confidence != 0 {
		t.Fatalf("pkg = %+v", pkg)
	}
	if pkg.Safety.ShouldBlock {
		t.Error("fallback must not be a safety block")
	}
	if rec := f.sink.all()[0]; rec.Outcome != OutcomeFallback {
		t.Errorf("outcome = %q", rec.Outcome)
	}
}

func TestBudgetExpiryReturnsFallback(t *testing.T) {
	slow := &stubBackend{id: "a", delay: 5 * time.Second, fn: func(llm.Request) string { return "late" }}
	f := newFixture(t, &stubStore{chunks: passingChunks()}, []*stubBackend{slow},
		[]ensemble.Option{ensemble.WithPolicy(llm.Policy{Timeout: 10 * time.Second, MaxRetries: 0})},
		WithBudget(50*time.Millisecond), WithDefaultMode(ensemble.MixtureOfExperts))

	start := time.Now()
	pkg, err := f.orch.Answer(context.Background(), ask("What's a good passing drill for beginners?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("budget not enforced")
	}
	if !pkg.Fallback || pkg.FinalText != ensemble.FallbackText {
		t.Fatalf("pkg = %+v", pkg)
	}
	if rec := f.sink.all()[0]; rec.Outcome != OutcomeBudgetExceeded {
		t.Errorf("outcome = %q", rec.Outcome)
	}
}

func TestCancellationReturnsNoPackage(t *testing.T) {
	slow := &stubBackend{id: "a", delay: 5 * time.Second, fn: func(llm.Request) string { return "late" }}
	f := newFixture(t, &stubStore{chunks: passingChunks()}, []*stubBackend{slow}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	pkg, err := f.orch.Answer(ctx, ask("What's a good passing drill for beginners?"))
	if !stderrors.Is(err, context.Canceled) || pkg != nil {
		t.Fatalf("Answer = %+v, %v", pkg, err)
	}
	if len(f.sink.all()) != 0 {
		t.Error("cancelled request was traced")
	}
}

func TestPostCheckBlockDiscardsAnswer(t *testing.T) {
	unsafe := "If you have chest pain during the drill, push through it [src:passing-101]."
	f := newFixture(t, &stubStore{chunks: passingChunks()}, []*stubBackend{answerer("a", unsafe)}, nil)

	pkg, err := f.orch.Answer(context.Background(), ask("What's a good passing drill for beginners?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !pkg.Safety.ShouldBlock || pkg.FinalText != safety.EmergencyResponse {
		t.Fatalf("pkg = %+v", pkg)
	}
	if len(pkg.Citations) != 0 {
		t.Errorf("citations = %v", pkg.Citations)
	}
	rec := f.sink.all()[0]
	if rec.Outcome != OutcomeBlockedPost || !rec.ReviewRequired {
		t.Errorf("record outcome = %q review = %v", rec.Outcome, rec.ReviewRequired)
	}
}

func TestMediumRiskGetsDisclaimer(t *testing.T) {
	f := newFixture(t, &stubStore{chunks: passingChunks()},
		[]*stubBackend{answerer("a", groundedAnswer), answerer("b", groundedAnswer)}, nil)

	pkg, err := f.orch.Answer(context.Background(), ask("I have asthma. What's a good passing drill for beginners?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if pkg.Safety.RiskLevel != safety.RiskMedium || pkg.Safety.ShouldBlock {
		t.Fatalf("safety = %+v", pkg.Safety)
	}
	if !strings.HasSuffix(pkg.FinalText, voice.Disclaimer(voice.Profile{CoachID: coachID})) {
		t.Errorf("final text lacks disclaimer: %q", pkg.FinalText)
	}
}

func TestVoiceRefinementUsesProfile(t *testing.T) {
	a := answerer("a", groundedAnswer)
	b := answerer("b", groundedAnswer)
	list := []llm.Backend{a, b}
	gen, err := ensemble.New(list)
	if err != nil {
		t.Fatal(err)
	}
	rewriter := &stubBackend{id: "voice", fn: func(req llm.Request) string {
		return "Let's go! Pair up five yards apart, inside of the foot [src:passing-101]. Keep it on the ground [src:passing-102]."
	}}
	sink := &recordingSink{}
	orch, err := New(Components{
		Retriever: retriever.New(&stubStore{chunks: passingChunks()}, nil),
		Generator: gen,
		Refiner:   voice.NewRefiner(rewriter),
		Profiles:  stubProfiles{coachID: {CoachID: coachID, Tone: "energetic", Catchphrases: []string{"Let's go!"}}},
		Trace:     sink,
	})
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := orch.Answer(context.Background(), ask("What's a good passing drill for beginners?"))
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.HasPrefix(pkg.FinalText, "Let's go!") {
		t.Fatalf("final text = %q", pkg.FinalText)
	}
	if len(pkg.Citations) != 2 {
		t.Errorf("citations = %v", pkg.Citations)
	}
	if rec := sink.all()[0]; rec.Refinement == nil || !rec.Refinement.Refined {
		t.Errorf("refinement = %+v", rec.Refinement)
	}
}

func TestValidationRejectsBeforePipeline(t *testing.T) {
	f := newFixture(t, &stubStore{chunks: passingChunks()}, []*stubBackend{answerer("a", groundedAnswer)}, nil,
		WithMaxQuestionLength(40))

	tests := []struct {
		name string
		req  Request
	}{
		{"empty question", Request{Question: "   ", CoachID: coachID, UserID: "u"}},
		{"oversized question", Request{Question: strings.Repeat("drill ", 10), CoachID: coachID, UserID: "u"}},
		{"missing coach", Request{Question: "Passing drill?", UserID: "u"}},
		{"missing user", Request{Question: "Passing drill?", CoachID: coachID}},
		{"unknown mode", Request{Question: "Passing drill?", CoachID: coachID, UserID: "u", Mode: "vote"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := f.orch.Answer(context.Background(), tt.req)
			if !stderrors.Is(err, errors.ErrInvalidInput) || pkg != nil {
				t.Fatalf("Answer = %+v, %v", pkg, err)
			}
		})
	}
	if f.modelCalls() != 0 || len(f.sink.all()) != 0 {
		t.Error("rejected requests reached the pipeline")
	}
}

func TestRequestModeOverridesDefault(t *testing.T) {
	a := answerer("a", groundedAnswer)
	f := newFixture(t, &stubStore{chunks: passingChunks()}, []*stubBackend{a}, nil)
	req := ask("What's a good passing drill for beginners?")
	req.Mode = ensemble.MixtureOfExperts
	pkg, err := f.orch.Answer(context.Background(), req)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if pkg.ModeUsed != ensemble.MixtureOfExperts || a.calls.Load() != 1 {
		t.Fatalf("mode = %q, calls = %d", pkg.ModeUsed, a.calls.Load())
	}
}

func TestNewRequiresCoreComponents(t *testing.T) {
	if _, err := New(Components{}); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("New error = %v", err)
	}
}
