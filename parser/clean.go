package parser

import (
	"regexp"
	"strings"
)

var (
	htmlUnescaper = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&quot;", `"`,
		"&#039;", "'",
		"&#39;", "'",
	)
	anyTagRe     = regexp.MustCompile(`<[^>]*>`)
	indentRe     = regexp.MustCompile(`(?m)^[ \t]{4,}`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// UnescapeHTML decodes the handful of entities the upstream emits.
func UnescapeHTML(s string) string {
	if s == "" {
		return s
	}
	return htmlUnescaper.Replace(s)
}

// Clean flattens answer prose for display: entities decoded, tags and
// backticks (and with them code fences) removed, deep indentation dropped,
// whitespace collapsed.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = UnescapeHTML(s)
	s = anyTagRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "`", "")
	s = indentRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
