// Package planner turns a question into a small, deterministic set of
// retrieval queries.
package planner

import (
	"sort"
	"strings"

	"github.com/sweetpotato0/coach-qa/rag/lexical"
	"github.com/sweetpotato0/coach-qa/rag/preprocess"
)

// Kind says how a query was derived.
type Kind string

const (
	KindOriginal Kind = "original"
	KindSynonym  Kind = "synonym"
	KindTopic    Kind = "topic"
)

// MaxQueries bounds the plan size.
const MaxQueries = 3

// Query is one retrieval query.
type Query struct {
	Text string `json:"text"`
	Kind Kind   `json:"kind"`
}

// Synonym rewrites Phrase to Replacement when building the synonym query.
type Synonym struct {
	Phrase      string
	Replacement string
}

// Topic expands a question touching any of Triggers with Keywords.
type Topic struct {
	Name     string
	Triggers []string
	Keywords []string
}

// Planner derives 1..MaxQueries queries. It holds only read-only tables and
// is safe for concurrent use.
type Planner struct {
	synonyms []Synonym
	topics   []Topic
}

// Option customizes the planner tables.
type Option func(*Planner)

// WithSynonyms replaces the synonym table. Order decides precedence.
func WithSynonyms(s []Synonym) Option {
	return func(p *Planner) {
		if len(s) > 0 {
			p.synonyms = s
		}
	}
}

// WithTopics replaces the topic table. Order decides precedence.
func WithTopics(t []Topic) Option {
	return func(p *Planner) {
		if len(t) > 0 {
			p.topics = t
		}
	}
}

// New creates a planner with the built-in coaching tables.
func New(opts ...Option) *Planner {
	p := &Planner{synonyms: DefaultSynonyms, topics: DefaultTopics}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Normalize lower-cases the question, strips control characters and
// collapses whitespace and trailing punctuation.
func Normalize(question string) string {
	q := strings.ToLower(preprocess.CleanBasic(question))
	q = strings.Join(strings.Fields(q), " ")
	return strings.TrimRight(q, "?!. ")
}

// Plan returns the normalized question first, then an optional synonym
// reformulation and an optional topic expansion. Duplicates are dropped.
func (p *Planner) Plan(question string) []Query {
	base := Normalize(question)
	if base == "" {
		return nil
	}
	queries := []Query{{Text: base, Kind: KindOriginal}}
	add := func(text string, kind Kind) {
		text = strings.TrimSpace(text)
		if text == "" || len(queries) >= MaxQueries {
			return
		}
		for _, q := range queries {
			if q.Text == text {
				return
			}
		}
		queries = append(queries, Query{Text: text, Kind: kind})
	}

	add(p.reformulate(base), KindSynonym)
	add(p.expand(base), KindTopic)
	return queries
}

// reformulate applies every synonym whose phrase appears at word boundaries.
func (p *Planner) reformulate(q string) string {
	padded := " " + strings.Join(lexical.Tokenize(q), " ") + " "
	changed := false
	for _, s := range p.synonyms {
		needle := " " + s.Phrase + " "
		if strings.Contains(padded, needle) {
			padded = strings.ReplaceAll(padded, needle, " "+s.Replacement+" ")
			changed = true
		}
	}
	if !changed {
		return ""
	}
	return strings.TrimSpace(padded)
}

// expand builds a keyword query from the content words of q plus the
// keywords of the first matching topic.
func (p *Planner) expand(q string) string {
	topic, ok := p.matchTopic(q)
	if !ok {
		return ""
	}
	var words []string
	for _, tok := range lexical.Tokenize(q) {
		if !lexical.IsStopWord(tok) {
			words = append(words, tok)
		}
	}
	extra := append([]string(nil), topic.Keywords...)
	sort.Strings(extra)
	return strings.Join(lexical.Unique(append(words, extra...)), " ")
}

func (p *Planner) matchTopic(q string) (Topic, bool) {
	for _, t := range p.topics {
		if _, ok := lexical.ContainsAny(q, t.Triggers); ok {
			return t, true
		}
	}
	return Topic{}, false
}

// DefaultSynonyms maps athlete phrasing to the vocabulary coaches tend to use.
var DefaultSynonyms = []Synonym{
	{Phrase: "first touch", Replacement: "ball control receiving"},
	{Phrase: "drill", Replacement: "exercise"},
	{Phrase: "drills", Replacement: "exercises"},
	{Phrase: "shot", Replacement: "shooting"},
	{Phrase: "shots", Replacement: "shooting"},
	{Phrase: "cardio", Replacement: "conditioning"},
	{Phrase: "stamina", Replacement: "endurance"},
	{Phrase: "nervous", Replacement: "anxious"},
	{Phrase: "nerves", Replacement: "pre game anxiety"},
	{Phrase: "beginners", Replacement: "new players"},
	{Phrase: "beginner", Replacement: "new player"},
	{Phrase: "workout", Replacement: "training session"},
	{Phrase: "quicker", Replacement: "faster"},
	{Phrase: "speed", Replacement: "acceleration"},
}

// DefaultTopics groups coaching subjects with retrieval keywords.
var DefaultTopics = []Topic{
	{
		Name:     "passing",
		Triggers: []string{"pass", "passing", "passes", "through ball", "cross"},
		Keywords: []string{"weight of pass", "receiving", "vision", "technique"},
	},
	{
		Name:     "ball_control",
		Triggers: []string{"first touch", "control", "dribble", "dribbling"},
		Keywords: []string{"close control", "touch", "footwork"},
	},
	{
		Name:     "shooting",
		Triggers: []string{"shoot", "shooting", "shot", "finishing"},
		Keywords: []string{"finishing", "placement", "technique"},
	},
	{
		Name:     "fitness",
		Triggers: []string{"fitness", "stamina", "cardio", "endurance", "conditioning", "speed", "sprint"},
		Keywords: []string{"conditioning", "intervals", "recovery"},
	},
	{
		Name:     "mindset",
		Triggers: []string{"nervous", "nerves", "confidence", "pressure", "motivation", "mindset", "focus"},
		Keywords: []string{"routine", "confidence", "mental preparation"},
	},
	{
		Name:     "logistics",
		Triggers: []string{"schedule", "tryout", "tryouts", "equipment", "boots", "cleats", "season"},
		Keywords: []string{"planning", "schedule", "preparation"},
	},
}
