package tokenizer

import (
	"strings"
	"unicode"
)

// Tokenizer counts model tokens so prompt context can be budgeted.
type Tokenizer interface {
	CountTokens(text string) int
}

var _ Tokenizer = (*SimpleTokenizer)(nil)

// SimpleTokenizer approximates model tokens without any vocabulary download.
//   - runs of letters or digits count as one token per four runes
//   - Han characters and punctuation count as one token each
type SimpleTokenizer struct{}

// NewSimpleTokenizer returns the offline approximation.
func NewSimpleTokenizer() Tokenizer {
	return SimpleTokenizer{}
}

func (SimpleTokenizer) CountTokens(text string) int {
	count := 0
	run := 0
	flush := func() {
		if run > 0 {
			count += (run + 3) / 4
			run = 0
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.Is(unicode.Han, r):
			flush()
			count++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run++
		default:
			flush()
			count++
		}
	}
	flush()
	return count
}

// Fit returns the longest prefix of texts whose combined size stays within
// budget. The first text is always kept, truncated by words when it alone
// exceeds the budget. A non-positive budget disables the limit.
func Fit(tok Tokenizer, texts []string, budget int) []string {
	if budget <= 0 || tok == nil {
		return texts
	}
	out := make([]string, 0, len(texts))
	used := 0
	for i, text := range texts {
		n := tok.CountTokens(text)
		if used+n <= budget {
			out = append(out, text)
			used += n
			continue
		}
		if i == 0 {
			out = append(out, truncateWords(tok, text, budget))
		}
		break
	}
	return out
}

func truncateWords(tok Tokenizer, text string, budget int) string {
	words := strings.Fields(text)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if tok.CountTokens(strings.Join(words[:mid], " ")) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return strings.Join(words[:lo], " ")
}
