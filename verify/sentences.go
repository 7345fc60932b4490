package verify

import (
	"strings"
)

// SplitSentences splits text at sentence terminators followed by whitespace.
// Citation markers directly after a terminator stay with the sentence they
// follow. Decimal points and common abbreviations do not end a sentence.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			i++
			continue
		}
		end := i + 1
		for end < len(text) && strings.ContainsRune(".!?", rune(text[end])) {
			end++
		}
		if c == '.' && end == i+1 && isAbbreviation(text[start:i]) {
			i = end
			continue
		}
		// absorb trailing markers: ". [src:a] [src:b]"
		for {
			j := end
			for j < len(text) && text[j] == ' ' {
				j++
			}
			if !strings.HasPrefix(text[j:], "[src:") {
				break
			}
			rb := strings.IndexByte(text[j:], ']')
			if rb < 0 {
				break
			}
			end = j + rb + 1
		}
		if end < len(text) && !isSpace(text[end]) {
			i = end
			continue
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
		i = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

var abbreviations = map[string]struct{}{
	"e.g": {}, "i.e": {}, "etc": {}, "vs": {}, "approx": {}, "min": {}, "mins": {}, "sec": {},
	"dr": {}, "mr": {}, "mrs": {}, "ms": {}, "st": {},
}

func isAbbreviation(before string) bool {
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(strings.TrimLeft(fields[len(fields)-1], "(\"'"))
	_, ok := abbreviations[last]
	return ok
}
