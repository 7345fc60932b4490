// Package lexical holds the term analysis shared by planning, reranking,
// verification and question categorisation.
package lexical

import (
	"regexp"
	"strings"
)

var wordRegex = regexp.MustCompile(`\p{L}[\p{L}\p{M}']*|\p{N}+`)

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be because
	been before being below between both but by can could did do does doing down during each few for from
	further had has have having he her here hers herself him himself his how i if in into is it its itself
	just me more most my myself no nor not now of off on once only or other our ours ourselves out over own
	same she should so some such than that the their theirs them themselves then there these they this those
	through to too under until up very was we were what when where which while who whom why will with would
	you your yours yourself yourselves i'm i've it's what's don't can't get got gonna want wanna really also
	thing things good best way ways tip tips help`) {
		stopWords[w] = struct{}{}
	}
}

// Tokenize lower-cases text and splits it into word and number tokens.
func Tokenize(text string) []string {
	return wordRegex.FindAllString(strings.ToLower(text), -1)
}

// IsStopWord reports whether w carries no retrieval signal.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Terms returns stemmed content terms of text in order, stop words removed.
func Terms(text string) []string {
	toks := Tokenize(text)
	out := make([]string, 0, len(toks))
	for _, tok := range toks {
		if IsStopWord(tok) {
			continue
		}
		tok = strings.Trim(strings.TrimSuffix(tok, "'s"), "'")
		if tok == "" || IsStopWord(tok) {
			continue
		}
		out = append(out, Stem(tok))
	}
	return out
}

// Stem strips common English inflections so "passing", "passes" and "pass"
// share one term. It is deliberately small and deterministic.
func Stem(w string) string {
	n := len(w)
	switch {
	case n > 5 && strings.HasSuffix(w, "ing"):
		w = w[:n-3]
		if len(w) > 2 && w[len(w)-1] == w[len(w)-2] && w[len(w)-1] != 'l' && w[len(w)-1] != 's' {
			w = w[:len(w)-1]
		}
		return w
	case n > 4 && strings.HasSuffix(w, "ies"):
		return w[:n-3] + "y"
	case n > 4 && (strings.HasSuffix(w, "sses") || strings.HasSuffix(w, "shes") ||
		strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "xes")):
		return w[:n-2]
	case n > 4 && strings.HasSuffix(w, "ed") && !strings.HasSuffix(w, "eed"):
		w = w[:n-2]
		if len(w) > 2 && w[len(w)-1] == w[len(w)-2] && w[len(w)-1] != 'l' && w[len(w)-1] != 's' {
			w = w[:len(w)-1]
		}
		return w
	case n > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") && !strings.HasSuffix(w, "us"):
		w = w[:n-1]
		return trimE(w)
	case n > 4 && strings.HasSuffix(w, "ly"):
		return w[:n-2]
	}
	return trimE(w)
}

func trimE(w string) string {
	if len(w) > 4 && strings.HasSuffix(w, "e") {
		return w[:len(w)-1]
	}
	return w
}

// Unique drops repeated terms, keeping first occurrences.
func Unique(terms []string) []string {
	if len(terms) == 0 {
		return terms
	}
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Set builds a membership set from terms.
func Set(terms []string) map[string]struct{} {
	out := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		out[t] = struct{}{}
	}
	return out
}

// Overlap is the fraction of distinct query terms present in doc, in [0,1].
func Overlap(query []string, doc map[string]struct{}) float64 {
	q := Unique(query)
	if len(q) == 0 {
		return 0
	}
	hit := 0
	for _, t := range q {
		if _, ok := doc[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(q))
}

// ContainsAny reports whether text contains any of the given phrases,
// matched on lower-cased text at word boundaries.
func ContainsAny(text string, phrases []string) (string, bool) {
	norm := " " + strings.Join(Tokenize(text), " ") + " "
	for _, p := range phrases {
		needle := " " + strings.Join(Tokenize(p), " ") + " "
		if strings.TrimSpace(needle) == "" {
			continue
		}
		if strings.Contains(norm, needle) {
			return p, true
		}
	}
	return "", false
}
