package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"medchat-backend/citations"
)

var (
	responseOpenRe  = regexp.MustCompile(`(?i)<RESP?ONSE\b[^>]*>`)
	responseCloseRe = regexp.MustCompile(`(?i)</RESP?ONSE>`)
	responseBlockRe = regexp.MustCompile(`(?is)<RESP?ONSE\b[^>]*>.*?</RESP?ONSE>`)
	blankLinesRe    = regexp.MustCompile(`\n\s*\n\s*\n`)
	referenceRe     = regexp.MustCompile(`(?is)<reference>(.*?)</reference>`)

	tagPatterns = map[string]*regexp.Regexp{}
)

func init() {
	for _, tag := range []string{
		"short_answer", "detailed_answer", "guideline_references",
		"source", "link", "supporting",
		"GAP_SUMMARY", "LOCAL_GUIDELINE_LIST",
	} {
		tagPatterns[tag] = tagPattern(tag)
	}
}

func tagPattern(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)<` + tag + `>(.*?)</` + tag + `>`)
}

// takeTag returns the trimmed body of the first <tag>...</tag> pair.
func takeTag(text, tag string) string {
	re, ok := tagPatterns[tag]
	if !ok {
		re = tagPattern(regexp.QuoteMeta(tag))
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// FilterResponseTags removes <RESPONSE> (or the misspelt <REPONSE>) blocks,
// which carry reasoning rather than answer text.
//
// Non-empty text after the first closing tag is returned on its own. An
// opening tag that is never closed truncates the text at the first opening
// tag, provided something precedes it. Otherwise closed blocks are removed
// and the rest is kept, including an unclosed tag at the very start.
func FilterResponseTags(text string) string {
	if text == "" {
		return text
	}
	if loc := responseCloseRe.FindStringIndex(text); loc != nil {
		if after := strings.TrimSpace(text[loc[1]:]); after != "" {
			return after
		}
	}
	if opens := responseOpenRe.FindAllStringIndex(text, -1); len(opens) > 0 {
		last := opens[len(opens)-1]
		if !responseCloseRe.MatchString(text[last[1]:]) {
			if prefix := strings.TrimSpace(text[:opens[0][0]]); prefix != "" {
				return prefix
			}
		}
	}
	filtered := responseBlockRe.ReplaceAllString(text, "")
	filtered = blankLinesRe.ReplaceAllString(filtered, "\n\n")
	return strings.TrimSpace(filtered)
}

func parseXML(text string) (Result, bool) {
	body := UnescapeHTML(FilterResponseTags(text))
	res := Result{
		ShortAnswer:    takeTag(body, "short_answer"),
		DetailedAnswer: takeTag(body, "detailed_answer"),
		Raw:            body,
		Mode:           ModeXML,
	}
	if res.ShortAnswer == "" && res.DetailedAnswer == "" {
		return Result{}, false
	}
	if raw := takeTag(body, "guideline_references"); raw != "" {
		res.References = parseReferenceBlock(raw)
	}
	return res, true
}

// parseReferenceBlock reads the body of <guideline_references>, either JSON
// (one object, an array, or bare comma-separated objects) or <reference>
// elements. Anything unreadable becomes a single reference whose snippet is
// the raw text.
func parseReferenceBlock(raw string) []citations.Citation {
	trimmed := strings.TrimSpace(raw)
	fallback := []citations.Citation{{SupportingSnippet: raw}}

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, "},") {
			trimmed = "[" + trimmed + "]"
		}
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return fallback
		}
		if refs := referenceList(decoded); len(refs) > 0 {
			return refs
		}
		return fallback
	}

	var refs []citations.Citation
	for _, m := range referenceRe.FindAllStringSubmatch(trimmed, -1) {
		c := citations.Citation{
			Source:            takeTag(m[1], "source"),
			Link:              takeTag(m[1], "link"),
			SupportingSnippet: takeTag(m[1], "supporting"),
		}
		if c.Source != "" || c.Link != "" || c.SupportingSnippet != "" {
			refs = append(refs, c)
		}
	}
	if len(refs) == 0 {
		return fallback
	}
	return refs
}
