package segment

import (
	"html"
	"regexp"
	"strings"
)

var (
	// Block and line-boundary tags become newlines before tag removal so the
	// semantic boundaries survive into line classification.
	lineBreakRe = regexp.MustCompile(`(?i)<\s*br\s*/?\s*>|</\s*(?:li|p|tr|div|ul|ol)\s*>`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	blankLineRe = regexp.MustCompile(`\n\s*\n`)
)

// CleanHTML strips markup from a raw benefit fragment, keeping one benefit
// clause per line where the source structure allows it.
func CleanHTML(raw string) string {
	if raw == "" {
		return ""
	}

	s := lineBreakRe.ReplaceAllString(raw, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(html.UnescapeString(s), " ", " ")
	s = blankLineRe.ReplaceAllString(s, "\n")

	return strings.TrimSpace(s)
}

// SplitLines breaks cleaned text into trimmed, non-empty lines.
func SplitLines(text string) []string {
	var out []string
	for _, ln := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == '\r'
	}) {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
