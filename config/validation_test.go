package config

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"
)

func TestValidatorRules(t *testing.T) {
	tests := []struct {
		name      string
		apply     func(v *Validator)
		wantError bool
	}{
		{"non-empty model", func(v *Validator) { v.RequireNonEmpty("model", "gpt-4o-mini") }, false},
		{"empty model", func(v *Validator) { v.RequireNonEmpty("model", "") }, true},
		{"positive top k", func(v *Validator) { v.RequirePositive("rerankTopK", 8) }, false},
		{"zero top k", func(v *Validator) { v.RequirePositive("rerankTopK", 0) }, true},
		{"positive budget", func(v *Validator) { v.RequirePositiveDuration("overallBudget", 30*time.Second) }, false},
		{"negative budget", func(v *Validator) { v.RequirePositiveDuration("overallBudget", -time.Second) }, true},
		{"retries at upper bound", func(v *Validator) { v.ValidateRange("maxRetries", 3, 0, 3) }, false},
		{"retries above range", func(v *Validator) { v.ValidateRange("maxRetries", 4, 0, 3) }, true},
		{"confidence in range", func(v *Validator) { v.ValidateFloatRange("minConfidence", 0.25, 0, 1) }, false},
		{"confidence above one", func(v *Validator) { v.ValidateFloatRange("minConfidence", 1.5, 0, 1) }, true},
		{"valid port", func(v *Validator) { v.ValidatePort("port", 5432) }, false},
		{"port zero", func(v *Validator) { v.ValidatePort("port", 0) }, true},
		{"port too large", func(v *Validator) { v.ValidatePort("port", 70000) }, true},
		{"redis db 15", func(v *Validator) { v.ValidateDBNumber("db", 15) }, false},
		{"redis db 16", func(v *Validator) { v.ValidateDBNumber("db", 16) }, true},
		{"known mode", func(v *Validator) { v.ValidateOneOf("mode", "moe", "consensus", "crosscheck", "moe") }, false},
		{"unknown mode", func(v *Validator) { v.ValidateOneOf("mode", "vote", "consensus", "crosscheck", "moe") }, true},
		{"check passes", func(v *Validator) { v.Check(true, "experts", "unused") }, false},
		{"check fails", func(v *Validator) { v.Check(false, "experts", "names an unknown backend") }, true},
		{"blank model", func(v *Validator) { v.RequireNonEmpty("model", "  ") }, true},
		{"sample ratio below zero", func(v *Validator) { v.ValidateFloatRange("sampleRatio", -0.1, 0, 1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			tt.apply(v)
			if v.HasErrors() != tt.wantError {
				t.Errorf("HasErrors() = %v, want %v (%v)", v.HasErrors(), tt.wantError, v.Error())
			}
			if (v.Error() != nil) != tt.wantError {
				t.Errorf("Error() = %v, want error %v", v.Error(), tt.wantError)
			}
		})
	}
}

func TestValidatorCollectsEveryFailure(t *testing.T) {
	v := NewValidator().
		RequireNonEmpty("primary", "").
		RequirePositive("rerankTopK", -1).
		ValidateOneOf("sink", "kafka", "log", "redis")

	var errs ValidationErrors
	if !stderrors.As(v.Error(), &errs) || len(errs) != 3 {
		t.Fatalf("Error() = %v, want 3 ValidationErrors", v.Error())
	}
	msg := v.Error().Error()
	for _, field := range []string{"primary", "rerankTopK", "sink"} {
		if !strings.Contains(msg, field) {
			t.Errorf("error %q does not mention %q", msg, field)
		}
	}
	if e := errs[0]; !strings.Contains(e.Error(), `"primary"`) {
		t.Errorf("ValidationError.Error() = %q", e.Error())
	}
}

func TestValidatePostgresConfig(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		port    int
		user    string
		dbName  string
		sslMode string
		wantErr bool
	}{
		{"valid", "localhost", 5432, "coach", "coach_qa", "disable", false},
		{"missing host", "", 5432, "coach", "coach_qa", "disable", true},
		{"bad port", "localhost", 0, "coach", "coach_qa", "disable", true},
		{"missing user", "localhost", 5432, "", "coach_qa", "disable", true},
		{"missing database", "localhost", 5432, "coach", "", "disable", true},
		{"unknown ssl mode", "localhost", 5432, "coach", "coach_qa", "prefer-ish", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePostgresConfig(tt.host, tt.port, tt.user, tt.dbName, tt.sslMode)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePostgresConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateStoreConfigs(t *testing.T) {
	if err := ValidateRedisConfig("localhost:6379", 0, "coach-qa:traces"); err != nil {
		t.Errorf("valid redis config: %v", err)
	}
	if err := ValidateRedisConfig("localhost:6379", 0, ""); err == nil || !strings.Contains(err.Error(), "stream") {
		t.Errorf("missing stream: %v", err)
	}
	if err := ValidateMongoDBConfig("mongodb://localhost:27017", "coach_qa", "voice_profiles"); err != nil {
		t.Errorf("valid mongo config: %v", err)
	}
	if err := ValidateMongoDBConfig("mongodb://localhost:27017", "coach_qa", ""); err == nil {
		t.Error("missing collection accepted")
	}
}

func TestValidateBackendConfig(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		provider string
		apiKey   string
		model    string
		want     string
	}{
		{"valid", "openai", ProviderOpenAI, "sk", "gpt-4o-mini", ""},
		{"groq", "fast", ProviderGroq, "gsk", "llama-3.1-8b-instant", ""},
		{"unknown provider", "x", "mistral", "k", "m", "provider"},
		{"missing key", "claude", ProviderClaude, "", "claude-3-5-haiku-latest", "apiKey"},
		{"missing model", "gemini", ProviderGemini, "k", "", "model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBackendConfig(tt.id, tt.provider, tt.apiKey, tt.model)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}
