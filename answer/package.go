package answer

import (
	"time"

	"github.com/sweetpotato0/coach-qa/citation"
	"github.com/sweetpotato0/coach-qa/ensemble"
	"github.com/sweetpotato0/coach-qa/safety"
)

// assembly carries everything the packager maps into a Package.
type assembly struct {
	question   Question
	safety     safety.Result
	text       string
	sources    []string // source IDs retrieval returned for this request
	confidence float64
	mode       ensemble.Mode
	grounded   bool
	fallback   bool
	started    time.Time
	finished   time.Time
}

// assemble maps pipeline outputs onto a Package. Blocked results carry the
// override text and neither citations nor confidence. Markers naming sources
// outside this request's retrieval are dropped before citations are read.
func assemble(a assembly) *Package {
	pkg := &Package{
		QuestionID: a.question.ID,
		Safety:     a.safety,
		TimingMs:   a.finished.Sub(a.started).Milliseconds(),
		ModeUsed:   a.mode,
		Citations:  []string{},
	}
	if a.safety.ShouldBlock {
		pkg.FinalText = a.safety.OverrideResponse
		return pkg
	}
	pkg.FinalText = a.text
	pkg.Fallback = a.fallback
	if a.fallback {
		return pkg
	}
	pkg.Grounded = a.grounded
	pkg.Confidence = a.confidence

	allowed := make(map[string]struct{}, len(a.sources))
	for _, id := range a.sources {
		allowed[id] = struct{}{}
	}
	pkg.FinalText = citation.Filter(a.text, func(id string) bool {
		_, ok := allowed[id]
		return ok
	})
	pkg.Citations = append(pkg.Citations, citation.Extract(pkg.FinalText)...)
	return pkg
}
