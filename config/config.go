package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported provider kinds for language-model backends.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
	ProviderCohere = "cohere"
)

// Config is the process configuration. It is built once at start-up and passed
// by value into constructors; components never read the environment themselves.
type Config struct {
	Pipeline  PipelineConfig
	Ensemble  EnsembleConfig
	Retrieval RetrievalConfig
	Safety    SafetyConfig
	Verify    VerifyConfig
	Stores    StoresConfig
	Trace     TraceConfig
	Telemetry TelemetryConfig
	Server    ServerConfig
}

// PipelineConfig bounds a single Answer invocation.
type PipelineConfig struct {
	OverallBudget     time.Duration
	MaxQuestionLength int
	UngroundedPolicy  string // answer | refuse
}

// EnsembleConfig selects the coordination mode and the backends taking part.
type EnsembleConfig struct {
	Mode              string // consensus | crosscheck | moe
	PerBackendTimeout time.Duration
	MaxTokens         int
	Backends          []BackendConfig
	Adjudicator       string            // backend ID used to merge consensus outputs
	Primary           string            // cross-check drafter
	Secondary         string            // cross-check critic
	Experts           map[string]string // question category -> backend ID
}

// BackendConfig describes one language-model backend.
type BackendConfig struct {
	ID       string
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// RetrievalConfig controls fetching and reranking of coach content.
type RetrievalConfig struct {
	MaxChunks              int
	RerankTopK             int
	MinRetrievalConfidence float64
	ContextTokenBudget     int
	TokenizerEncoding      string
	Reranker               string // lexical | cohere
	CohereAPIKey           string
	Store                  string // memory | postgres
	ChunksFile             string // YAML seed for the memory store
}

// SafetyConfig selects the active rule set.
type SafetyConfig struct {
	RuleSetVersion string
	RuleSetPath    string
}

// VerifyConfig controls how unsupported claims are patched.
type VerifyConfig struct {
	UnsupportedPolicy string // hedge | remove
	SupportThreshold  float64
}

// StoresConfig holds connection settings for external stores.
type StoresConfig struct {
	Postgres     PostgresConfig
	Mongo        MongoConfig
	Redis        RedisConfig
	Profiles     string // memory | mongo
	ProfilesFile string // YAML seed for the memory profile store
}

// PostgresConfig is the chunk store connection.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
}

// MongoConfig is the voice profile store connection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// RedisConfig is the trace stream connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// TraceConfig selects the trace sink.
type TraceConfig struct {
	Sink   string // log | redis
	Buffer int
}

// TelemetryConfig mirrors telemetry.Config.
type TelemetryConfig struct {
	Disable     bool
	ServiceName string
	Environment string
	Endpoint    string
	SampleRatio float64
}

// ServerConfig is used by the command-line server.
type ServerConfig struct {
	Addr    string
	MCPPath string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Pipeline: PipelineConfig{
			OverallBudget:     25 * time.Second,
			MaxQuestionLength: 2000,
			UngroundedPolicy:  "answer",
		},
		Ensemble: EnsembleConfig{
			Mode:              "consensus",
			PerBackendTimeout: 10 * time.Second,
			MaxTokens:         800,
			Experts:           map[string]string{},
		},
		Retrieval: RetrievalConfig{
			MaxChunks:              50,
			RerankTopK:             8,
			MinRetrievalConfidence: 0.15,
			ContextTokenBudget:     3000,
			TokenizerEncoding:      "cl100k_base",
			Reranker:               "lexical",
			Store:                  "memory",
		},
		Safety: SafetyConfig{
			RuleSetVersion: "default",
		},
		Verify: VerifyConfig{
			UnsupportedPolicy: "hedge",
			SupportThreshold:  0.35,
		},
		Stores: StoresConfig{
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				User:    "postgres",
				DBName:  "coach_qa",
				SSLMode: "disable",
				Table:   "content_chunks",
			},
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "coach_qa",
				Collection: "voice_profiles",
			},
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Stream: "coach-qa:traces",
				MaxLen: 100000,
			},
			Profiles: "memory",
		},
		Trace: TraceConfig{
			Sink:   "log",
			Buffer: 256,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "coach-qa",
		},
		Server: ServerConfig{
			Addr:    "127.0.0.1:8080",
			MCPPath: "/mcp",
		},
	}
}

// Load reads an optional .env file, applies COACHQA_* environment overrides on
// top of Default and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a validated Config using getenv for lookups.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	env := envReader{get: getenv}

	cfg.Pipeline.OverallBudget = env.duration("COACHQA_OVERALL_BUDGET", cfg.Pipeline.OverallBudget)
	cfg.Pipeline.MaxQuestionLength = env.int("COACHQA_MAX_QUESTION_LENGTH", cfg.Pipeline.MaxQuestionLength)
	cfg.Pipeline.UngroundedPolicy = env.str("COACHQA_UNGROUNDED_POLICY", cfg.Pipeline.UngroundedPolicy)

	cfg.Ensemble.Mode = env.str("COACHQA_ENSEMBLE_MODE", cfg.Ensemble.Mode)
	cfg.Ensemble.PerBackendTimeout = env.duration("COACHQA_PER_BACKEND_TIMEOUT", cfg.Ensemble.PerBackendTimeout)
	cfg.Ensemble.MaxTokens = env.int("COACHQA_MAX_TOKENS", cfg.Ensemble.MaxTokens)
	cfg.Ensemble.Backends = backendsFromEnv(env)
	cfg.Ensemble.Adjudicator = env.str("COACHQA_ADJUDICATOR", firstID(cfg.Ensemble.Backends, 0))
	cfg.Ensemble.Primary = env.str("COACHQA_PRIMARY", firstID(cfg.Ensemble.Backends, 0))
	cfg.Ensemble.Secondary = env.str("COACHQA_SECONDARY", firstID(cfg.Ensemble.Backends, 1))
	if raw := env.str("COACHQA_MOE_EXPERTS", ""); raw != "" {
		cfg.Ensemble.Experts = parsePairs(raw)
	}

	cfg.Retrieval.MaxChunks = env.int("COACHQA_MAX_CHUNKS", cfg.Retrieval.MaxChunks)
	cfg.Retrieval.RerankTopK = env.int("COACHQA_RERANK_TOP_K", cfg.Retrieval.RerankTopK)
	cfg.Retrieval.MinRetrievalConfidence = env.float("COACHQA_MIN_RETRIEVAL_CONFIDENCE", cfg.Retrieval.MinRetrievalConfidence)
	cfg.Retrieval.ContextTokenBudget = env.int("COACHQA_CONTEXT_TOKEN_BUDGET", cfg.Retrieval.ContextTokenBudget)
	cfg.Retrieval.TokenizerEncoding = env.str("COACHQA_TOKENIZER_ENCODING", cfg.Retrieval.TokenizerEncoding)
	cfg.Retrieval.Reranker = env.str("COACHQA_RERANKER", cfg.Retrieval.Reranker)
	cfg.Retrieval.CohereAPIKey = env.str("COACHQA_COHERE_API_KEY", "")
	cfg.Retrieval.Store = env.str("COACHQA_CHUNK_STORE", cfg.Retrieval.Store)
	cfg.Retrieval.ChunksFile = env.str("COACHQA_CHUNKS_FILE", "")

	cfg.Safety.RuleSetVersion = env.str("COACHQA_SAFETY_RULESET_VERSION", cfg.Safety.RuleSetVersion)
	cfg.Safety.RuleSetPath = env.str("COACHQA_SAFETY_RULESET_PATH", "")

	cfg.Verify.UnsupportedPolicy = env.str("COACHQA_UNSUPPORTED_POLICY", cfg.Verify.UnsupportedPolicy)
	cfg.Verify.SupportThreshold = env.float("COACHQA_SUPPORT_THRESHOLD", cfg.Verify.SupportThreshold)

	pg := &cfg.Stores.Postgres
	pg.Host = env.str("COACHQA_PG_HOST", pg.Host)
	pg.Port = env.int("COACHQA_PG_PORT", pg.Port)
	pg.User = env.str("COACHQA_PG_USER", pg.User)
	pg.Password = env.str("COACHQA_PG_PASSWORD", pg.Password)
	pg.DBName = env.str("COACHQA_PG_DB", pg.DBName)
	pg.SSLMode = env.str("COACHQA_PG_SSLMODE", pg.SSLMode)
	pg.Table = env.str("COACHQA_PG_TABLE", pg.Table)

	mg := &cfg.Stores.Mongo
	mg.URI = env.str("COACHQA_MONGO_URI", mg.URI)
	mg.Database = env.str("COACHQA_MONGO_DB", mg.Database)
	mg.Collection = env.str("COACHQA_MONGO_COLLECTION", mg.Collection)
	cfg.Stores.Profiles = env.str("COACHQA_PROFILE_STORE", cfg.Stores.Profiles)
	cfg.Stores.ProfilesFile = env.str("COACHQA_PROFILES_FILE", "")

	rd := &cfg.Stores.Redis
	rd.Addr = env.str("COACHQA_REDIS_ADDR", rd.Addr)
	rd.Password = env.str("COACHQA_REDIS_PASSWORD", rd.Password)
	rd.DB = env.int("COACHQA_REDIS_DB", rd.DB)
	rd.Stream = env.str("COACHQA_REDIS_STREAM", rd.Stream)
	rd.MaxLen = int64(env.int("COACHQA_REDIS_MAXLEN", int(rd.MaxLen)))

	cfg.Trace.Sink = env.str("COACHQA_TRACE_SINK", cfg.Trace.Sink)
	cfg.Trace.Buffer = env.int("COACHQA_TRACE_BUFFER", cfg.Trace.Buffer)

	cfg.Telemetry.Disable = env.bool("COACHQA_TELEMETRY_DISABLE", cfg.Telemetry.Disable)
	cfg.Telemetry.Environment = env.str("COACHQA_ENV", cfg.Telemetry.Environment)
	cfg.Telemetry.Endpoint = env.str("COACHQA_OTLP_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SampleRatio = env.float("COACHQA_TRACE_SAMPLE_RATIO", cfg.Telemetry.SampleRatio)

	cfg.Server.Addr = env.str("COACHQA_ADDR", cfg.Server.Addr)
	cfg.Server.MCPPath = env.str("COACHQA_MCP_PATH", cfg.Server.MCPPath)

	if env.err != nil {
		return Config{}, env.err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section and returns a combined error.
func (c Config) Validate() error {
	v := NewValidator()

	v.RequirePositiveDuration("pipeline.overallBudget", c.Pipeline.OverallBudget)
	v.RequirePositive("pipeline.maxQuestionLength", c.Pipeline.MaxQuestionLength)
	v.ValidateOneOf("pipeline.ungroundedPolicy", c.Pipeline.UngroundedPolicy, "answer", "refuse")

	v.ValidateOneOf("ensemble.mode", c.Ensemble.Mode, "consensus", "crosscheck", "moe")
	v.RequirePositiveDuration("ensemble.perBackendTimeout", c.Ensemble.PerBackendTimeout)
	v.RequirePositive("ensemble.maxTokens", c.Ensemble.MaxTokens)
	v.Check(c.Ensemble.PerBackendTimeout <= c.Pipeline.OverallBudget,
		"ensemble.perBackendTimeout", "must not exceed pipeline.overallBudget")

	ids := make(map[string]bool, len(c.Ensemble.Backends))
	for i, b := range c.Ensemble.Backends {
		if err := ValidateBackendConfig(b.ID, b.Provider, b.APIKey, b.Model); err != nil {
			v.Check(false, fmt.Sprintf("ensemble.backends[%d]", i), err.Error())
		}
		v.Check(!ids[b.ID], fmt.Sprintf("ensemble.backends[%d].id", i), "duplicate backend id "+b.ID)
		ids[b.ID] = true
	}
	for _, ref := range []struct{ field, id string }{
		{"ensemble.adjudicator", c.Ensemble.Adjudicator},
		{"ensemble.primary", c.Ensemble.Primary},
		{"ensemble.secondary", c.Ensemble.Secondary},
	} {
		v.Check(ref.id == "" || ids[ref.id], ref.field, "unknown backend "+ref.id)
	}
	for category, id := range c.Ensemble.Experts {
		v.Check(ids[id], "ensemble.experts."+category, "unknown backend "+id)
	}

	v.ValidateRange("retrieval.maxChunks", c.Retrieval.MaxChunks, 1, 500)
	v.ValidateRange("retrieval.rerankTopK", c.Retrieval.RerankTopK, 1, c.Retrieval.MaxChunks)
	v.ValidateFloatRange("retrieval.minRetrievalConfidence", c.Retrieval.MinRetrievalConfidence, 0, 1)
	v.RequirePositive("retrieval.contextTokenBudget", c.Retrieval.ContextTokenBudget)
	v.ValidateOneOf("retrieval.reranker", c.Retrieval.Reranker, "lexical", "cohere")
	v.ValidateOneOf("retrieval.store", c.Retrieval.Store, "memory", "postgres")
	v.Check(c.Retrieval.Reranker != "cohere" || c.Retrieval.CohereAPIKey != "",
		"retrieval.cohereAPIKey", "required when reranker is cohere")

	v.RequireNonEmpty("safety.ruleSetVersion", c.Safety.RuleSetVersion)

	v.ValidateOneOf("verify.unsupportedPolicy", c.Verify.UnsupportedPolicy, "hedge", "remove")
	v.ValidateFloatRange("verify.supportThreshold", c.Verify.SupportThreshold, 0, 1)

	v.ValidateOneOf("stores.profiles", c.Stores.Profiles, "memory", "mongo")
	v.ValidateOneOf("trace.sink", c.Trace.Sink, "log", "redis")
	v.RequirePositive("trace.buffer", c.Trace.Buffer)
	v.ValidateFloatRange("telemetry.sampleRatio", c.Telemetry.SampleRatio, 0, 1)

	if c.Retrieval.Store == "postgres" {
		pg := c.Stores.Postgres
		if err := ValidatePostgresConfig(pg.Host, pg.Port, pg.User, pg.DBName, pg.SSLMode); err != nil {
			v.Check(false, "stores.postgres", err.Error())
		}
	}
	if c.Stores.Profiles == "mongo" {
		mg := c.Stores.Mongo
		if err := ValidateMongoDBConfig(mg.URI, mg.Database, mg.Collection); err != nil {
			v.Check(false, "stores.mongo", err.Error())
		}
	}
	if c.Trace.Sink == "redis" {
		rd := c.Stores.Redis
		if err := ValidateRedisConfig(rd.Addr, rd.DB, rd.Stream); err != nil {
			v.Check(false, "stores.redis", err.Error())
		}
	}

	return v.Error()
}

// Backend returns the backend config with the given ID.
func (c EnsembleConfig) Backend(id string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if b.ID == id {
			return b, true
		}
	}
	return BackendConfig{}, false
}

func backendsFromEnv(env envReader) []BackendConfig {
	specs := []struct {
		provider, keyVar, modelVar, defaultModel, baseURLVar string
	}{
		{ProviderOpenAI, "COACHQA_OPENAI_API_KEY", "COACHQA_OPENAI_MODEL", "gpt-4o-mini", "COACHQA_OPENAI_BASE_URL"},
		{ProviderClaude, "COACHQA_ANTHROPIC_API_KEY", "COACHQA_CLAUDE_MODEL", "claude-sonnet-4-5-20250929", "COACHQA_CLAUDE_BASE_URL"},
		{ProviderGemini, "COACHQA_GEMINI_API_KEY", "COACHQA_GEMINI_MODEL", "gemini-1.5-flash", ""},
		{ProviderGroq, "COACHQA_GROQ_API_KEY", "COACHQA_GROQ_MODEL", "llama-3.1-8b-instant", "COACHQA_GROQ_BASE_URL"},
		{ProviderCohere, "COACHQA_COHERE_API_KEY", "COACHQA_COHERE_MODEL", "command-r", "COACHQA_COHERE_ENDPOINT"},
	}
	var out []BackendConfig
	for _, s := range specs {
		key := env.str(s.keyVar, "")
		if key == "" {
			continue
		}
		out = append(out, BackendConfig{
			ID:       s.provider,
			Provider: s.provider,
			Model:    env.str(s.modelVar, s.defaultModel),
			APIKey:   key,
			BaseURL:  env.str(s.baseURLVar, ""),
		})
	}
	return out
}

func firstID(backends []BackendConfig, idx int) string {
	if len(backends) == 0 {
		return ""
	}
	if idx >= len(backends) {
		idx = len(backends) - 1
	}
	return backends[idx].ID
}

// parsePairs parses "a=b,c=d".
func parsePairs(raw string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

type envReader struct {
	get func(string) string
	err error
}

func (e *envReader) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *envReader) bool(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("parse %s: %w", key, err)
	}
}
