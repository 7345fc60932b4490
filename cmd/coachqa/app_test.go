package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sweetpotato0/coach-qa/answer"
	"github.com/sweetpotato0/coach-qa/config"
	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/safety"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	chunks := filepath.Join(dir, "chunks.yaml")
	data := `
chunks:
  - id: c1
    coach_id: coach-7
    source_id: passing-101
    text: Pair players five yards apart and pass with the inside of the foot.
`
	if err := os.WriteFile(chunks, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Telemetry.Disable = true
	cfg.Retrieval.TokenizerEncoding = "simple"
	cfg.Retrieval.ChunksFile = chunks
	cfg.Ensemble.Backends = []config.BackendConfig{
		{ID: "openai", Provider: config.ProviderOpenAI, APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: "http://127.0.0.1:1/v1"},
	}
	cfg.Ensemble.Adjudicator = "openai"
	cfg.Ensemble.Primary = "openai"
	cfg.Ensemble.Secondary = "openai"
	return cfg
}

func TestNewAppBlocksCriticalQuestionsOffline(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close(context.Background())

	pkg, err := a.orchestrator.Answer(context.Background(), answer.Request{
		Question: "I broke my wrist, what do I do?",
		CoachID:  "coach-7",
		UserID:   "athlete-1",
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !pkg.Safety.ShouldBlock || pkg.FinalText != safety.EmergencyResponse {
		t.Fatalf("package = %+v", pkg)
	}
}

func TestNewAppRequiresBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Ensemble.Backends = nil
	cfg.Ensemble.Adjudicator, cfg.Ensemble.Primary, cfg.Ensemble.Secondary = "", "", ""
	_, err := newApp(context.Background(), cfg)
	if !stderrors.Is(err, errors.ErrNoBackends) {
		t.Fatalf("newApp error = %v", err)
	}
}

func TestNewAppRejectsUnknownRuleSetVersion(t *testing.T) {
	cfg := testConfig(t)
	cfg.Safety.RuleSetVersion = "2031-01"
	if _, err := newApp(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "safety rules") {
		t.Fatalf("newApp error = %v", err)
	}
}

func TestAskCommandRequiresCoachAndUser(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"ask", "What's a good passing drill?"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("error = %v, want it to mention 'required'", err)
	}
}

func TestAskCommandRejectsUnknownMode(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ask", "--coach", "c", "--user", "u", "--mode", "vote", "question"})
	err := rootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown ensemble mode") {
		t.Fatalf("error = %v", err)
	}
}
