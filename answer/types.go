package answer

import (
	"context"
	"time"

	"github.com/sweetpotato0/coach-qa/ensemble"
	"github.com/sweetpotato0/coach-qa/safety"
)

// Request is one call to Orchestrator.Answer.
type Request struct {
	Question string        `json:"question" validate:"required"`
	CoachID  string        `json:"coach_id" validate:"required,max=128"`
	UserID   string        `json:"user_id" validate:"required,max=128"`
	Mode     ensemble.Mode `json:"mode,omitempty" validate:"omitempty,oneof=consensus crosscheck moe"`
}

// Question is the immutable, validated form of a request.
type Question struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	AskedByUserID string    `json:"asked_by_user_id"`
	CoachID       string    `json:"coach_id"`
	AskedAt       time.Time `json:"asked_at"`
}

// Package is the only object returned to callers. Safety blocks are told
// apart from answers by Safety.ShouldBlock and Safety.RiskLevel.
type Package struct {
	QuestionID string        `json:"question_id"`
	FinalText  string        `json:"final_text"`
	Citations  []string      `json:"citations"`
	Confidence float64       `json:"confidence"`
	Safety     safety.Result `json:"safety"`
	TimingMs   int64         `json:"timing_ms"`
	ModeUsed   ensemble.Mode `json:"mode_used"`
	Grounded   bool          `json:"grounded"`
	Fallback   bool          `json:"fallback"`
}

// Outcomes recorded on trace records.
const (
	OutcomeAnswered       = "answered"
	OutcomeBlockedPre     = "blocked_pre_check"
	OutcomeBlockedPost    = "blocked_post_check"
	OutcomeFallback       = "fallback"
	OutcomeRefused        = "refused"
	OutcomeBudgetExceeded = "budget_exceeded"
)

// Refinement summarises the voice stage.
type Refinement struct {
	Refined  bool `json:"refined"`
	Attempts int  `json:"attempts"`
	Drift    bool `json:"drift"`
}

// Record is the audit trace of one pipeline execution.
type Record struct {
	ID             string    `json:"id"`
	RecordedAt     time.Time `json:"recorded_at"`
	Question       Question  `json:"question"`
	Package        Package   `json:"package"`
	Outcome        string    `json:"outcome"`
	ReviewRequired bool      `json:"review_required"`
	RuleSetVersion string    `json:"rule_set_version"`

	PreCheck  safety.Result  `json:"pre_check"`
	PostCheck *safety.Result `json:"post_check,omitempty"`

	Queries             []string `json:"queries,omitempty"`
	RetrievedChunkIDs   []string `json:"retrieved_chunk_ids,omitempty"`
	RankedChunkIDs      []string `json:"ranked_chunk_ids,omitempty"`
	RetrievalConfidence float64  `json:"retrieval_confidence"`
	RetrievalError      string   `json:"retrieval_error,omitempty"`
	DroppedChunks       int      `json:"dropped_chunks,omitempty"`

	Draft             *ensemble.Draft `json:"draft,omitempty"`
	UnsupportedClaims []string        `json:"unsupported_claims,omitempty"`
	Refinement        *Refinement     `json:"refinement,omitempty"`

	StageMs map[string]int64 `json:"stage_ms,omitempty"`
}

// TraceSink receives one record per answered request. Implementations must
// not block the caller.
type TraceSink interface {
	Append(ctx context.Context, rec Record) error
}
