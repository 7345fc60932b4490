package preprocess

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var (
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reHTMLTag  = regexp.MustCompile(`(?i)</?(p|div|br|li|ul|ol|h[1-6]|span|strong|em|a|table|tr|td|th|pre|code|body|html)\b[^>]*>`)

	ligatures = strings.NewReplacer(
		"ﬁ", "fi", "ﬂ", "fl",
		"—", "-", "–", "-",
		"·", ".", "•", "-",
		"\u00a0", " ",
	)
)

// CleanBasic strips control characters, normalises ligatures and collapses
// whitespace.
func CleanBasic(text string) string {
	if text == "" {
		return ""
	}

	b := strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	b = ligatures.Replace(b)
	b = reSpaces.ReplaceAllString(b, " ")
	b = reNewlines.ReplaceAllString(b, "\n\n")

	return strings.TrimSpace(b)
}

// LooksLikeHTML reports whether text carries common block or inline markup.
func LooksLikeHTML(text string) bool {
	return reHTMLTag.MatchString(text)
}

// HTMLToText extracts headings, paragraphs, list items and tables.
func HTMLToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	var out []string
	doc.Find("h1,h2,h3,h4,p,li,pre,table").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		switch goquery.NodeName(s) {
		case "h1", "h2", "h3", "h4":
			out = append(out, text)
		case "p", "pre":
			out = append(out, text)
		case "li":
			out = append(out, "- "+text)
		case "table":
			out = append(out, parseTable(s))
		}
	})
	if len(out) == 0 {
		// bare inline markup without block elements
		out = append(out, strings.TrimSpace(doc.Text()))
	}
	return strings.Join(out, "\n\n"), nil
}

func parseTable(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(i int, tr *goquery.Selection) {
		var cols []string
		tr.Find("th,td").Each(func(j int, td *goquery.Selection) {
			cols = append(cols, strings.TrimSpace(td.Text()))
		})
		if len(cols) > 0 {
			rows = append(rows, "| "+strings.Join(cols, " | ")+" |")
		}
	})
	return strings.Join(rows, "\n")
}

// RemoveDuplicateParagraphs dedupes by exact paragraph text.
func RemoveDuplicateParagraphs(text string) string {
	parts := strings.Split(text, "\n\n")
	seen := map[string]struct{}{}
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return strings.Join(out, "\n\n")
}

// Normalize turns stored chunk text into plain prompt text. HTML that fails to
// parse is kept as cleaned raw text.
func Normalize(raw string) string {
	t := raw
	if LooksLikeHTML(t) {
		if text, err := HTMLToText(t); err == nil {
			t = text
		}
	}
	t = CleanBasic(t)
	return RemoveDuplicateParagraphs(t)
}
