// Package citation reads and rewrites the [src:ID] markers that tie answer
// sentences to the coach content they came from.
package citation

import (
	"regexp"
	"sort"
	"strings"
)

var markerRegex = regexp.MustCompile(`\[src:\s*([^\]\s]+)\s*\]`)

// Marker formats the citation marker for sourceID.
func Marker(sourceID string) string {
	return "[src:" + sourceID + "]"
}

// Extract returns the distinct source IDs cited in text, in order of first
// appearance.
func Extract(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range markerRegex.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Set returns the cited source IDs of text as a sorted slice.
func Set(text string) []string {
	ids := Extract(text)
	sort.Strings(ids)
	return ids
}

// SameSet reports whether a and b cite exactly the same sources.
func SameSet(a, b string) bool {
	sa, sb := Set(a), Set(b)
	if len(sa) != len(sb) {
		return false
	}
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// Filter removes every marker whose source ID is not accepted by keep.
// Markers are also normalised to the canonical [src:ID] form.
func Filter(text string, keep func(id string) bool) string {
	out := markerRegex.ReplaceAllStringFunc(text, func(m string) string {
		id := markerRegex.FindStringSubmatch(m)[1]
		if keep != nil && keep(id) {
			return Marker(id)
		}
		return ""
	})
	return tidy(out)
}

// Strip removes all markers from text.
func Strip(text string) string {
	return Filter(text, nil)
}

var (
	spaceBeforePunct = regexp.MustCompile(`\s+([.,;:!?])`)
	multiSpace       = regexp.MustCompile(`[ \t]{2,}`)
)

func tidy(text string) string {
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = multiSpace.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
