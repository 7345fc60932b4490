package ensemble

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/coach-qa/rag/lexical"
)

// Category is the mixture-of-experts bucket for a question.
type Category string

const (
	CategoryTechnique      Category = "technique"
	CategoryMental         Category = "mental"
	CategorySafetyAdjacent Category = "safety_adjacent"
	CategoryLogistics      Category = "logistics"
	CategoryGeneral        Category = "general"
)

// ParseCategory accepts a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryTechnique, CategoryMental, CategorySafetyAdjacent, CategoryLogistics, CategoryGeneral:
		return c, nil
	case "safety":
		return CategorySafetyAdjacent, nil
	}
	return "", fmt.Errorf("unknown question category %q", s)
}

type categoryRule struct {
	category Category
	phrases  []string
}

// categoryRules are listed in tie-break order.
var categoryRules = []categoryRule{
	{CategorySafetyAdjacent, []string{
		"injury", "injured", "pain", "sore", "soreness", "recovery", "recover", "rehab", "return to play",
		"warm up", "warmup", "cool down", "stretch", "stretching", "hydration", "dehydrated", "heat",
		"rest day", "overtraining", "concussion",
	}},
	{CategoryMental, []string{
		"nervous", "nerves", "confidence", "confident", "pressure", "anxious", "focus", "motivation",
		"motivated", "mindset", "mental", "fear", "afraid", "stress", "composure", "choke", "choking",
		"mistake", "mistakes", "frustrated", "self talk", "visualization",
	}},
	{CategoryTechnique, []string{
		"drill", "drills", "technique", "pass", "passing", "shot", "shooting", "shoot", "dribble",
		"dribbling", "touch", "first touch", "form", "footwork", "swing", "serve", "throw", "tackle",
		"defend", "defending", "position", "positioning", "stance", "grip", "finishing", "crossing",
	}},
	{CategoryLogistics, []string{
		"schedule", "session", "sessions", "tryout", "tryouts", "equipment", "cleats", "boots", "gear",
		"travel", "registration", "register", "fee", "fees", "cancel", "reschedule", "book", "booking",
		"how long", "how often", "calendar",
	}},
}

// Categorize buckets a question by counting phrase hits per category. The
// highest count wins; ties go to the earlier rule, and no hits means general.
func Categorize(question string) Category {
	best, bestHits := CategoryGeneral, 0
	for _, rule := range categoryRules {
		hits := 0
		for _, p := range rule.phrases {
			if _, ok := lexical.ContainsAny(question, []string{p}); ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = rule.category, hits
		}
	}
	return best
}
