// Package reasoning splits the model's reasoning text into the named
// subsections the chat UI shows (question analysis, patient context, ...).
package reasoning

import (
	"regexp"
	"strings"

	"medchat-backend/parser"
)

// Tag is one recognized reasoning subsection.
type Tag struct {
	Name  string
	Label string
}

// Catalog lists the recognized tags in display order.
var Catalog = []Tag{
	{"QUESTION", "Question Analysis"},
	{"PATIENT_CONTEXT", "Patient Context"},
	{"GAP_ANALYSIS", "Gap Analysis"},
	{"LOCAL_MAPPING", "Local Mapping"},
	{"LOCAL_DIVERGENT", "Local Divergent"},
	{"LOCAL_CONVERGENT", "Local Convergent"},
	{"CONVERGENT", "Convergent Analysis"},
	{"DIVERGENT", "Divergent Analysis"},
	{"RISK_ANALYSIS", "Risk Analysis"},
}

type Section struct {
	Tag     string `json:"tag"`
	Label   string `json:"label"`
	Content string `json:"content"`
	// Partial marks a tag that was opened but not yet closed.
	Partial bool `json:"partial,omitempty"`
}

type tagPatterns struct {
	Tag
	closed *regexp.Regexp
	open   *regexp.Regexp
	close  *regexp.Regexp
}

var (
	patterns       []tagPatterns
	responseWrapRe = regexp.MustCompile(`(?is)<RESP?ONSE\b[^>]*>(.*?)</RESP?ONSE>`)
	thinkingRe     = regexp.MustCompile(`(?is)<THINKING>(.*?)</THINKING>`)
	innerTagRe     = regexp.MustCompile(`<[^>]*>`)
	anyOpenRe      *regexp.Regexp
)

func init() {
	names := make([]string, 0, len(Catalog))
	for _, t := range Catalog {
		names = append(names, t.Name)
		patterns = append(patterns, tagPatterns{
			Tag:    t,
			closed: regexp.MustCompile(`(?is)<` + t.Name + `>(.*?)</` + t.Name + `>`),
			open:   regexp.MustCompile(`(?i)<` + t.Name + `>`),
			close:  regexp.MustCompile(`(?i)</` + t.Name + `>`),
		})
	}
	anyOpenRe = regexp.MustCompile(`(?i)<(?:` + strings.Join(names, "|") + `)>`)
}

// Decompose returns the closed catalog sections found in text, in catalog
// order. Tags are looked up directly first and then inside a <THINKING>
// wrapper. A nil result means the text has no recognizable structure and
// should be shown as one block.
func Decompose(text string) []Section {
	return decompose(text, false)
}

// DecomposeLive is Decompose for reasoning that is still streaming: a tag
// that is opened but not yet closed is returned as a Partial section.
func DecomposeLive(text string) []Section {
	return decompose(text, true)
}

func decompose(text string, live bool) []Section {
	cleaned := strings.TrimSpace(responseWrapRe.ReplaceAllString(parser.UnescapeHTML(text), "$1"))
	if found := match(cleaned, live); len(found) > 0 {
		return found
	}
	if body, ok := Thinking(cleaned); ok {
		return match(body, live)
	}
	return nil
}

// Thinking returns the body of the first <THINKING> block.
func Thinking(text string) (string, bool) {
	m := thinkingRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func match(text string, live bool) []Section {
	var out []Section
	for _, p := range patterns {
		if m := p.closed.FindStringSubmatch(text); m != nil {
			if content := stripTags(m[1]); content != "" {
				out = append(out, Section{Tag: p.Name, Label: p.Label, Content: content})
			}
			continue
		}
		if !live {
			continue
		}
		if content, ok := p.unclosed(text); ok {
			out = append(out, Section{Tag: p.Name, Label: p.Label, Content: content, Partial: true})
		}
	}
	return out
}

// unclosed returns what follows the last opening tag when no closing tag
// comes after it, up to the next catalog opening tag.
func (p tagPatterns) unclosed(text string) (string, bool) {
	opens := p.open.FindAllStringIndex(text, -1)
	if len(opens) == 0 {
		return "", false
	}
	rest := text[opens[len(opens)-1][1]:]
	if p.close.MatchString(rest) {
		return "", false
	}
	if loc := anyOpenRe.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	// Drop a tag cut off mid-name at the end of the stream.
	if i := strings.LastIndex(rest, "<"); i >= 0 && !strings.Contains(rest[i:], ">") {
		rest = rest[:i]
	}
	content := stripTags(rest)
	return content, content != ""
}

func stripTags(s string) string {
	return strings.TrimSpace(innerTagRe.ReplaceAllString(s, ""))
}
