// Package verify checks a draft answer against the retrieved coach content
// and hedges or removes sentences the content does not support. It never
// adds facts.
package verify

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sweetpotato0/coach-qa/citation"
	"github.com/sweetpotato0/coach-qa/pkg/logging"
	"github.com/sweetpotato0/coach-qa/rag/document"
	"github.com/sweetpotato0/coach-qa/rag/lexical"
)

// Policy says what happens to an unsupported claim.
type Policy string

const (
	PolicyHedge  Policy = "hedge"
	PolicyRemove Policy = "remove"
)

// HedgePrefix turns an unsupported claim into hedged opinion.
const HedgePrefix = "This varies by athlete, but "

// DefaultAllowList holds safe generic coaching advice that may stand without
// a source.
var DefaultAllowList = []string{
	"warm up", "warm-up", "cool down", "stay hydrated", "drink water", "get enough sleep", "rest",
	"listen to your body", "have fun", "enjoy", "be patient", "stay positive", "keep practicing",
	"practice regularly", "consistency", "start slowly", "build up gradually", "focus on the basics",
	"ask your coach", "talk to your coach", "check with your coach", "see a doctor", "consult a",
	"good luck", "great question",
}

// minClaimTerms is the number of content terms below which a sentence is
// treated as connective text rather than a factual claim.
const minClaimTerms = 3

// citedDiscount lowers the support threshold for a sentence checked against
// the chunks it cites.
const citedDiscount = 0.75

// Config controls support detection.
type Config struct {
	Threshold float64
	Policy    Policy
	AllowList []string
	logger    *slog.Logger
}

// Option customises a Verifier.
type Option func(*Config)

// WithThreshold sets the minimum fraction of a sentence's content terms that
// one chunk must contain.
func WithThreshold(t float64) Option {
	return func(cfg *Config) {
		if t > 0 && t <= 1 {
			cfg.Threshold = t
		}
	}
}

// WithPolicy selects hedge or remove.
func WithPolicy(p Policy) Option {
	return func(cfg *Config) {
		if p == PolicyHedge || p == PolicyRemove {
			cfg.Policy = p
		}
	}
}

// WithAllowList replaces the safe-advice allow-list.
func WithAllowList(phrases []string) Option {
	return func(cfg *Config) { cfg.AllowList = phrases }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.logger = l }
}

// Result is the patched draft.
type Result struct {
	PatchedText       string   `json:"patched_text"`
	UnsupportedClaims []string `json:"unsupported_claims,omitempty"`
	// Citations are the source IDs still cited by PatchedText, all of which
	// belong to the supplied chunks.
	Citations []string `json:"citations,omitempty"`
	Hedged    int      `json:"hedged,omitempty"`
	Removed   int      `json:"removed,omitempty"`
}

// Verifier is stateless and safe for concurrent use.
type Verifier struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a verifier. Defaults: threshold 0.35, hedge policy.
func New(opts ...Option) *Verifier {
	cfg := Config{Threshold: 0.35, Policy: PolicyHedge, AllowList: DefaultAllowList}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Verifier{cfg: cfg, logger: logging.Or(cfg.logger, "verify")}
}

type chunkIndex struct {
	terms    map[string]struct{}
	sourceID string
}

// Verify patches draft against chunks. Markers naming sources outside chunks
// are stripped. With no chunks there is nothing to check against, so the
// text is only stripped of markers.
func (v *Verifier) Verify(draft string, chunks []document.Chunk) Result {
	known := make(map[string]struct{}, len(chunks))
	index := make([]chunkIndex, len(chunks))
	for i, c := range chunks {
		known[c.SourceID] = struct{}{}
		index[i] = chunkIndex{terms: lexical.Set(lexical.Terms(c.SearchText())), sourceID: c.SourceID}
	}
	text := citation.Filter(draft, func(id string) bool {
		_, ok := known[id]
		return ok
	})
	if len(chunks) == 0 {
		return Result{PatchedText: text}
	}

	var res Result
	paragraphs := strings.Split(text, "\n")
	for pi, para := range paragraphs {
		var kept []string
		for _, sentence := range SplitSentences(para) {
			if v.supported(sentence, index) {
				kept = append(kept, sentence)
				continue
			}
			res.UnsupportedClaims = append(res.UnsupportedClaims, citation.Strip(sentence))
			if v.cfg.Policy == PolicyRemove {
				res.Removed++
				continue
			}
			res.Hedged++
			kept = append(kept, hedge(sentence))
		}
		paragraphs[pi] = strings.Join(kept, " ")
	}
	res.PatchedText = joinParagraphs(paragraphs)

	if res.PatchedText == "" && len(res.UnsupportedClaims) > 0 {
		// Removing everything would leave no answer; hedge instead.
		hedged := make([]string, len(res.UnsupportedClaims))
		for i, c := range res.UnsupportedClaims {
			hedged[i] = hedge(c)
		}
		res.PatchedText = strings.Join(hedged, " ")
		res.Hedged, res.Removed = len(hedged), 0
	}
	res.Citations = citation.Extract(res.PatchedText)

	if len(res.UnsupportedClaims) > 0 {
		v.logger.Debug("unsupported claims patched",
			"policy", v.cfg.Policy,
			"count", len(res.UnsupportedClaims),
		)
	}
	return res
}

func (v *Verifier) supported(sentence string, index []chunkIndex) bool {
	plain := citation.Strip(sentence)
	if strings.HasPrefix(plain, HedgePrefix) || strings.HasSuffix(plain, "?") {
		return true
	}
	terms := lexical.Unique(lexical.Terms(plain))
	if len(terms) < minClaimTerms {
		return true
	}
	if v.generic(plain, terms) {
		return true
	}
	cited := make(map[string]struct{})
	for _, id := range citation.Extract(sentence) {
		cited[id] = struct{}{}
	}
	for _, c := range index {
		threshold := v.cfg.Threshold
		if _, ok := cited[c.sourceID]; ok {
			threshold *= citedDiscount
		}
		if lexical.Overlap(terms, c.terms) >= threshold {
			return true
		}
	}
	return false
}

// generic reports whether a sentence is allow-listed advice: allow-listed
// phrases cover at least half of its content terms and it names no amount.
func (v *Verifier) generic(plain string, terms []string) bool {
	for _, tok := range lexical.Tokenize(plain) {
		if isQuantity(tok) {
			return false
		}
	}
	covered := make(map[string]struct{})
	for _, phrase := range v.cfg.AllowList {
		if _, ok := lexical.ContainsAny(plain, []string{phrase}); !ok {
			continue
		}
		for _, t := range lexical.Terms(phrase) {
			covered[t] = struct{}{}
		}
	}
	if len(covered) == 0 {
		return false
	}
	n := 0
	for _, t := range terms {
		if _, ok := covered[t]; ok {
			n++
		}
	}
	return 2*n >= len(terms)
}

var quantityWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`mg mcg ml milligram milligrams gram grams g iu dose doses dosage pill pills
	tablet tablets capsule capsules twice thrice daily hourly percent one two three four five six seven eight
	nine ten eleven twelve twenty thirty hundred thousand`) {
		quantityWords[w] = struct{}{}
	}
}

// isQuantity reports whether tok is a number, unit or dosing word.
func isQuantity(tok string) bool {
	if r, _ := utf8.DecodeRuneInString(tok); unicode.IsDigit(r) {
		return true
	}
	_, ok := quantityWords[tok]
	return ok
}

// hedge rewrites a claim as opinion. Its markers are dropped because the
// cited content did not support it.
func hedge(sentence string) string {
	s := citation.Strip(sentence)
	if strings.HasPrefix(s, HedgePrefix) {
		return s
	}
	return HedgePrefix + lowerFirst(s)
}

// lowerFirst lower-cases the first letter unless the first word looks like a
// name, acronym or the pronoun I.
func lowerFirst(s string) string {
	word, _, _ := strings.Cut(s, " ")
	if word == "I" || strings.HasPrefix(word, "I'") {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	if size < len(word) {
		next, _ := utf8.DecodeRuneInString(word[size:])
		if unicode.IsUpper(next) {
			return s
		}
	}
	return string(unicode.ToLower(r)) + s[size:]
}

func joinParagraphs(paragraphs []string) string {
	var out []string
	blank := false
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, p)
	}
	return strings.Join(out, "\n")
}
