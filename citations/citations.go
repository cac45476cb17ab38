// Package citations finds citations embedded in answer prose, replaces them
// with numbered markers and returns the ordered, deduplicated list.
//
// Three encodings are recognized, in this order:
//
//	Citation: {"Source": "...", "Link": "...", "Supporting Snippet": "..."}
//	[cite: Name, p.12, https://example.org/doc.pdf]
//	[anchor text](https://example.org)
//
// Extraction runs in two passes. Collect swaps every recognized citation
// for a positional placeholder; Renumber then walks the placeholders left to
// right and assigns the final numbers.
package citations

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

type Citation struct {
	Source            string `json:"source"`
	Link              string `json:"link"`
	SupportingSnippet string `json:"supportingSnippet"`
}

// Found is one citation occurrence discovered by Collect.
type Found struct {
	Citation Citation
	// Anchor is the visible text of a Markdown link; empty for the other forms.
	Anchor string
}

type Result struct {
	Citations   []Citation
	CleanedText string
}

const quoted = `"((?:[^"\\]|\\.)*)"`

var (
	structuredBlockRe = regexp.MustCompile(`(?i)Citation:\s*\{[^{}]*?"Source"\s*:\s*` + quoted +
		`[^{}]*?"Link"\s*:\s*` + quoted +
		`[^{}]*?"Supporting Snippet"\s*:\s*` + quoted + `[^{}]*?\}`)
	structuredInlineRe = regexp.MustCompile(`(?i)Citation:\s*"Source"\s*:\s*` + quoted +
		`\s*,?\s*"Link"\s*:\s*` + quoted +
		`\s*,?\s*"Supporting Snippet"\s*:\s*` + quoted)
	bracketRe     = regexp.MustCompile(`\[cite:\s*([^\]]+)\]`)
	markdownRe    = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
	bracketURLRe  = regexp.MustCompile("`(https?://[^`]+)`|https?://\\S+$")
	trailingRe    = regexp.MustCompile(`[,\-]\s*(p\.\d+)?\s*$`)
	placeholderRe = regexp.MustCompile(`\x00(\d+)\x00`)
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
)

// Extract runs both passes.
func Extract(text string) Result {
	marked, found := Collect(text)
	return Renumber(marked, found)
}

// Collect replaces each recognized citation with a placeholder whose number
// is the index of the occurrence in the returned slice.
func Collect(text string) (string, []Found) {
	var found []Found
	add := func(f Found) string {
		found = append(found, f)
		return placeholder(len(found) - 1)
	}
	structured := func(groups []string) string {
		return add(Found{Citation: Citation{
			Source:            strings.TrimSpace(unquote(groups[1])),
			Link:              strings.TrimSpace(unquote(groups[2])),
			SupportingSnippet: strings.TrimSpace(unquote(groups[3])),
		}})
	}

	text = replaceAll(structuredBlockRe, text, structured)
	text = replaceAll(structuredInlineRe, text, structured)
	text = replaceAll(bracketRe, text, func(groups []string) string {
		return add(Found{Citation: ParseBracket(groups[1])})
	})

	captured := make(map[string]bool, len(found))
	for _, f := range found {
		if f.Citation.Link != "" {
			captured[f.Citation.Link] = true
		}
	}
	text = replaceAll(markdownRe, text, func(groups []string) string {
		anchor := strings.TrimSpace(groups[1])
		link := strings.TrimSpace(groups[2])
		if !strings.HasPrefix(link, "http") || captured[link] {
			return groups[0]
		}
		return add(Found{Citation: Citation{Source: anchor, Link: link}, Anchor: anchor})
	})
	return text, found
}

// Renumber resolves placeholders in reading order. Occurrences sharing a
// non-empty link collapse onto the number of the first one.
func Renumber(text string, found []Found) Result {
	var out []Citation
	byLink := make(map[string]int)

	text = replaceAll(placeholderRe, text, func(groups []string) string {
		i, err := strconv.Atoi(groups[1])
		if err != nil || i < 0 || i >= len(found) {
			return ""
		}
		f := found[i]
		n, seen := byLink[f.Citation.Link]
		if f.Citation.Link == "" || !seen {
			out = append(out, f.Citation)
			n = len(out)
			if f.Citation.Link != "" {
				byLink[f.Citation.Link] = n
			}
		}
		marker := "[" + strconv.Itoa(n) + "]"
		if f.Anchor != "" {
			return f.Anchor + " " + marker
		}
		return marker
	})

	text = blankRunRe.ReplaceAllString(text, "\n\n")
	return Result{Citations: out, CleanedText: strings.TrimSpace(text)}
}

// ParseBracket interprets the body of a [cite: ...] marker. The URL may be
// wrapped in backticks or trail the text; whatever precedes it, minus a
// trailing comma, dash or page marker, is the source name. Without a URL the
// whole text is the source.
func ParseBracket(body string) Citation {
	body = strings.TrimSpace(body)
	loc := bracketURLRe.FindStringSubmatchIndex(body)
	if loc == nil {
		return Citation{Source: body}
	}
	url := body[loc[0]:loc[1]]
	if loc[2] >= 0 {
		url = body[loc[2]:loc[3]]
	}
	name := strings.TrimSpace(body[:loc[0]])
	name = strings.TrimSpace(trailingRe.ReplaceAllString(name, ""))
	return Citation{Source: name, Link: url}
}

// Strip removes [cite: ...] markers without collecting them.
func Strip(text string) string {
	return bracketRe.ReplaceAllString(text, "")
}

func placeholder(i int) string {
	return "\x00" + strconv.Itoa(i) + "\x00"
}

// unquote decodes JSON string escapes in a captured value, falling back to
// the raw capture.
func unquote(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err == nil {
		return out
	}
	return s
}

// replaceAll is ReplaceAllStringFunc with access to submatches.
func replaceAll(re *regexp.Regexp, text string, fn func(groups []string) string) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		groups := make([]string, len(m)/2)
		for g := range groups {
			if m[2*g] >= 0 {
				groups[g] = text[m[2*g]:m[2*g+1]]
			}
		}
		b.WriteString(text[last:m[0]])
		b.WriteString(fn(groups))
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}
