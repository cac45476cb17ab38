package parser

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"medchat-backend/citations"
)

// shortAnswerLimit is the length below which unstructured prose is kept
// whole as the short answer.
const shortAnswerLimit = 300

var (
	ragTagRe         = regexp.MustCompile(`(?i)<RAG:[^>]*>`)
	internalMarkerRe = regexp.MustCompile(`\*\*\d+\.\s*[^*]*\*\*`)
	emojiRe          = regexp.MustCompile(`[\x{1F300}-\x{1F5FF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}\x{1FA70}-\x{1FAFF}\x{2600}-\x{26FF}\x{2700}-\x{27BF}\x{FE0F}]`)
	manyNewlinesRe   = regexp.MustCompile(`\n{3,}`)
	loneBulletRe     = regexp.MustCompile(`(?m)^[ \t]*[*\-][ \t]*$`)
	sentenceEndRe    = regexp.MustCompile(`[.!?]+\s+`)

	headingPatterns = []struct {
		re  *regexp.Regexp
		typ SectionType
	}{
		{regexp.MustCompile(`(?i)^#{1,3}\s*(short\s*answer|quick\s*answer)`), SectionShortAnswer},
		{regexp.MustCompile(`(?i)^#{1,3}\s*(detailed\s*answer|detailed\s*analysis)`), SectionDetailedAnswer},
		{regexp.MustCompile(`(?i)^#{1,3}\s*(reference|citation|guideline)`), SectionReference},
	}
)

func parseText(text string) Result {
	body := FilterResponseTags(text)
	body = stripReasoningPrefix(body)
	body = unwrapFlashAnswer(body)
	body = cleanProse(body)

	ext := citations.Extract(body)
	res := Result{Raw: text, Mode: ModeText, References: ext.Citations}

	if parts, ok := splitHeadings(ext.CleanedText); ok {
		res.ShortAnswer = parts[SectionShortAnswer]
		res.DetailedAnswer = parts[SectionDetailedAnswer]
		res.ReferenceText = parts[SectionReference]
		return res
	}

	full := strings.TrimSpace(ext.CleanedText)
	if utf8.RuneCountInString(full) < shortAnswerLimit {
		res.ShortAnswer = full
		return res
	}
	res.ShortAnswer, _, res.DetailedAnswer = SplitSentences(full)
	return res
}

// SplitSentences splits after the second sentence terminator. The
// terminators stay with the short part and the whitespace that follows them
// is returned as sep, so short+sep+detailed == text. Text with fewer than two
// terminators is returned whole as short.
func SplitSentences(text string) (short, sep, detailed string) {
	locs := sentenceEndRe.FindAllStringIndex(text, 2)
	if len(locs) < 2 {
		return text, "", ""
	}
	second := locs[1]
	end := second[0] + len(strings.TrimRightFunc(text[second[0]:second[1]], unicode.IsSpace))
	return text[:end], text[end:second[1]], text[second[1]:]
}

// splitHeadings groups lines under Markdown headings. Text before the first
// heading joins the short answer. ok is false when no heading is present.
func splitHeadings(text string) (map[SectionType]string, bool) {
	var (
		current  SectionType
		buf      []string
		preamble string
		found    bool
	)
	out := make(map[SectionType]string)
	emit := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if current == "" {
			preamble = body
			return
		}
		if body == "" {
			return
		}
		if prev := out[current]; prev != "" {
			body = prev + "\n\n" + body
		}
		out[current] = body
	}

	for _, line := range strings.Split(text, "\n") {
		next := headingType(strings.TrimSpace(line))
		if next == "" {
			buf = append(buf, line)
			continue
		}
		emit()
		current = next
		found = true
	}
	emit()

	if !found {
		return nil, false
	}
	if preamble != "" {
		if s := out[SectionShortAnswer]; s != "" {
			preamble += "\n\n" + s
		}
		out[SectionShortAnswer] = preamble
	}
	return out, true
}

func headingType(line string) SectionType {
	for _, h := range headingPatterns {
		if h.re.MatchString(line) {
			return h.typ
		}
	}
	return ""
}

// stripReasoningPrefix drops a leading <reasoning>...</reasoning> block.
func stripReasoningPrefix(text string) string {
	const open, closing = "<reasoning>", "</reasoning>"
	start := strings.Index(text, open)
	end := strings.Index(text, closing)
	if start < 0 || end < 0 || end < start {
		return text
	}
	return strings.TrimSpace(text[end+len(closing):])
}

// unwrapFlashAnswer returns the response of a flash_answer JSON envelope.
func unwrapFlashAnswer(text string) string {
	trimmed := strings.TrimSpace(text)
	var env struct {
		ResponseType string `json:"response_type"`
		Response     string `json:"response"`
	}
	if err := json.Unmarshal([]byte(trimmed), &env); err == nil &&
		env.ResponseType == "flash_answer" && env.Response != "" {
		return env.Response
	}
	return trimmed
}

// cleanProse removes emoji, retrieval markers, analysis blocks and stray
// bullets from free-text answers while keeping their Markdown layout.
func cleanProse(text string) string {
	text = analysisBlockRe.ReplaceAllString(text, "")
	text = emojiRe.ReplaceAllString(text, "")
	text = ragTagRe.ReplaceAllString(text, "")
	text = internalMarkerRe.ReplaceAllString(text, "")
	text = manyNewlinesRe.ReplaceAllString(text, "\n\n")
	text = loneBulletRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
