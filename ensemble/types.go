package ensemble

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/coach-qa/rag/document"
)

// Mode selects how backends are coordinated. The set is closed: every
// dispatch over Mode is an exhaustive switch.
type Mode string

const (
	Consensus        Mode = "consensus"
	CrossCheck       Mode = "crosscheck"
	MixtureOfExperts Mode = "moe"
)

// Modes lists every mode in declaration order.
var Modes = []Mode{Consensus, CrossCheck, MixtureOfExperts}

// ParseMode accepts the configuration spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "consensus":
		return Consensus, nil
	case "crosscheck", "cross-check", "cross_check":
		return CrossCheck, nil
	case "moe", "mixture-of-experts", "mixture_of_experts":
		return MixtureOfExperts, nil
	}
	return "", fmt.Errorf("unknown ensemble mode %q", s)
}

// Input is what a generator needs for one question.
type Input struct {
	Question            string
	Chunks              []document.Chunk
	Grounded            bool
	RetrievalConfidence float64
}

// Roles recorded on backend outputs.
const (
	RoleAnswer      = "answer"
	RoleAdjudicator = "adjudicator"
	RoleDraft       = "draft"
	RoleCritic      = "critic"
	RoleRevision    = "revision"
	RoleExpert      = "expert"
)

// BackendOutput records one backend call.
type BackendOutput struct {
	BackendID string `json:"backend_id"`
	Role      string `json:"role"`
	Text      string `json:"text,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// OK reports whether the call produced text.
func (o BackendOutput) OK() bool {
	return o.Error == "" && o.Text != ""
}

// Draft is the generator's candidate answer plus per-backend metadata.
type Draft struct {
	Mode           Mode            `json:"mode"`
	Category       Category        `json:"category,omitempty"`
	BackendOutputs []BackendOutput `json:"backend_outputs"`
	MergedText     string          `json:"merged_text"`
	Confidence     float64         `json:"confidence"`
	Contradictions []string        `json:"contradictions,omitempty"`
	Verdict        string          `json:"verdict,omitempty"`
	Issues         []string        `json:"issues,omitempty"`
	Fallback       bool            `json:"fallback"`
	Refused        bool            `json:"refused,omitempty"`
	Ungrounded     bool            `json:"ungrounded,omitempty"`
}

// Fixed texts. None of these are produced by a model.
const (
	FallbackText = "Sorry, I couldn't put together a reliable answer right now. " +
		"This is an automatic fallback message, not coaching advice. " +
		"Please try again in a little while or ask your coach directly."

	RefusalText = "I couldn't find anything in your coach's training content that covers this, so I'd rather not guess. " +
		"Try rephrasing the question or ask your coach directly."

	UngroundedCaveat = "Note: I couldn't find your coach's own material on this, " +
		"so this is general guidance rather than your coach's specific advice."
)

// FallbackDraft is the deterministic answer used when no model output is usable.
func FallbackDraft(mode Mode) Draft {
	return Draft{Mode: mode, MergedText: FallbackText, Fallback: true}
}

// UngroundedPolicy decides what happens when no grounding is available.
type UngroundedPolicy string

const (
	UngroundedAnswer UngroundedPolicy = "answer"
	UngroundedRefuse UngroundedPolicy = "refuse"
)
