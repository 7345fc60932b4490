// Package safety screens questions and answers for medical and mental-health
// risk using versioned pattern rule sets.
package safety

import (
	"strings"
)

// Result is the outcome of classifying one text. It depends only on the text
// and the active rule set.
type Result struct {
	RiskLevel        RiskLevel `json:"risk_level"`
	ShouldBlock      bool      `json:"should_block"`
	DetectedPatterns []string  `json:"detected_patterns,omitempty"`
	OverrideResponse string    `json:"override_response,omitempty"`
	Domain           Domain    `json:"domain,omitempty"`
	RuleSetVersion   string    `json:"rule_set_version"`
}

// Disclaimer reports whether an answer should carry a short safety note:
// medium risk is answered but flagged.
func (r Result) Disclaimer() bool {
	return !r.ShouldBlock && r.RiskLevel == RiskMedium
}

// Critical reports whether the result needs human review.
func (r Result) Critical() bool {
	return r.RiskLevel == RiskCritical
}

// Classifier applies a rule set. It holds no mutable state and is safe for
// concurrent use.
type Classifier struct {
	rules *RuleSet
}

// New creates a classifier; a nil rule set selects DefaultRuleSet.
func New(rules *RuleSet) *Classifier {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &Classifier{rules: rules}
}

// Version returns the active rule set version.
func (c *Classifier) Version() string {
	return c.rules.Version
}

type match struct {
	group   *Group
	pattern string
}

// Classify matches text against every group. The highest matched level
// wins; among groups at that level the first in rule order picks the domain
// of the override text.
func (c *Classifier) Classify(text string) Result {
	res := Result{RiskLevel: RiskNone, RuleSetVersion: c.rules.Version}
	norm := normalize(text)
	if norm == "" {
		return res
	}

	var matches []match
	suppressed := make(map[string]bool)
	for i := range c.rules.Groups {
		g := &c.rules.Groups[i]
		for _, re := range g.Patterns {
			if found := re.FindString(norm); found != "" {
				matches = append(matches, match{group: g, pattern: found})
				for _, s := range g.Suppresses {
					suppressed[s] = true
				}
			}
		}
	}

	var winner *Group
	for _, m := range matches {
		if suppressed[m.group.Name] {
			continue
		}
		res.DetectedPatterns = append(res.DetectedPatterns, m.group.Name+":"+m.pattern)
		if winner == nil || m.group.Level.Rank() > winner.Level.Rank() {
			winner = m.group
		}
	}
	if winner == nil {
		return res
	}

	res.RiskLevel = winner.Level
	res.Domain = winner.Domain
	if winner.Level.Blocks() {
		res.ShouldBlock = true
		res.OverrideResponse = c.rules.Override(winner.Level, winner.Domain)
	}
	return res
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

func normalize(text string) string {
	t := apostrophes.Replace(strings.ToLower(text))
	return strings.Join(strings.Fields(t), " ")
}

// Max returns the more severe of a and b, preferring a on equal levels.
func Max(a, b Result) Result {
	if b.RiskLevel.Rank() > a.RiskLevel.Rank() {
		return b
	}
	return a
}
