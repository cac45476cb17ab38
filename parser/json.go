package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"medchat-backend/citations"
	"medchat-backend/frames"
)

var (
	guidelineBlockRe = regexp.MustCompile(`(?is)<guideline_references>.*?</guideline_references>`)
	jsonEscapes      = []struct{ from, to string }{
		{`\n`, "\n"},
		{`\t`, "\t"},
		{`\r`, "\r"},
		{`\"`, `"`},
		{`\\`, `\`},
	}
)

// parseJSON handles a whole-body JSON object. ok is false when the body is
// not JSON or carries no answer; a bare {"response": ...} object is handed
// to text mode with the response text.
func parseJSON(text string) (Result, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return Result{}, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return Result{}, false
	}

	short, _ := obj["short_answer"].(string)
	detailed, _ := obj["detailed_answer"].(string)
	if (short == "" || detailed == "") && obj["response_type"] == frames.TypeComplete {
		if inner := innerObject(obj["response"]); inner != nil {
			s, _ := inner["short_answer"].(string)
			d, _ := inner["detailed_answer"].(string)
			if s != "" || d != "" {
				obj, short, detailed = inner, s, d
			}
		}
	}
	short = unescapeJSONString(short)
	detailed = unescapeJSONString(detailed)

	if short == "" || detailed == "" {
		if short == "" && detailed == "" && obj["response"] != nil {
			res := parseText(responseText(obj["response"]))
			res.SafetyRequired = isTruthy(obj["safety_flag"])
			return res, true
		}
		return Result{}, false
	}

	res := Result{
		ShortAnswer:    short,
		DetailedAnswer: strings.TrimSpace(guidelineBlockRe.ReplaceAllString(detailed, "")),
		References:     jsonReferences(obj, detailed),
		Raw:            text,
		Mode:           ModeJSON,
		SafetyRequired: isTruthy(obj["safety_flag"]),
		Disclaimer:     disclaimerFrom(obj["ai_disclaimer"]),
	}
	return res, true
}

// jsonReferences reads references by priority: guideline_reference, a
// references field holding a JSON string, a references array of
// "Source, URL" strings, then <guideline_references> inside the detailed
// answer.
func jsonReferences(obj map[string]any, detailed string) []citations.Citation {
	if refs := referenceList(obj["guideline_reference"]); len(refs) > 0 {
		return refs
	}
	switch v := obj["references"].(type) {
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			if refs := referenceList(decoded); len(refs) > 0 {
				return refs
			}
		}
	case []any:
		var refs []citations.Citation
		for _, item := range v {
			switch r := item.(type) {
			case string:
				refs = append(refs, splitSourceURL(r))
			case map[string]any:
				if c, ok := referenceFromMap(r); ok {
					refs = append(refs, c)
				}
			}
		}
		if len(refs) > 0 {
			return refs
		}
	}
	if raw := takeTag(UnescapeHTML(detailed), "guideline_references"); raw != "" {
		return parseReferenceBlock(raw)
	}
	return nil
}

// splitSourceURL splits "Name, part, https://..." on its last ", " when the
// final part looks like a URL.
func splitSourceURL(ref string) citations.Citation {
	if i := strings.LastIndex(ref, ", "); i >= 0 {
		if last := ref[i+2:]; strings.HasPrefix(last, "http") {
			return citations.Citation{Source: strings.TrimSpace(ref[:i]), Link: strings.TrimSpace(last)}
		}
	}
	return citations.Citation{Source: strings.TrimSpace(ref)}
}

// referenceList accepts a single reference object or an array of them.
func referenceList(v any) []citations.Citation {
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		items = []any{t}
	default:
		return nil
	}
	var refs []citations.Citation
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			if c, ok := referenceFromMap(m); ok {
				refs = append(refs, c)
			}
		}
	}
	return refs
}

func referenceFromMap(m map[string]any) (citations.Citation, bool) {
	c := citations.Citation{
		Source:            firstString(m, "Source", "source"),
		Link:              firstString(m, "Link", "link"),
		SupportingSnippet: firstString(m, "Supporting_Snippet", "Supporting", "supportingSnippet", "supporting"),
	}
	return c, c.Source != "" || c.Link != "" || c.SupportingSnippet != ""
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func innerObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(t)), &m); err == nil {
			return m
		}
	}
	return nil
}

func responseText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// unescapeJSONString undoes the double encoding some upstream answers carry.
func unescapeJSONString(s string) string {
	if s == "" {
		return s
	}
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		var out string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
		return s
	}
	for _, r := range jsonEscapes {
		s = strings.ReplaceAll(s, r.from, r.to)
	}
	return s
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case string:
		return t == "1"
	}
	return false
}

func disclaimerFrom(v any) *Disclaimer {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return &Disclaimer{Text: strings.TrimSpace(t)}
	case map[string]any:
		d := &Disclaimer{}
		if text, ok := t["text"].(string); ok {
			d.Text = text
		}
		parts, _ := t["sections"].([]any)
		for _, p := range parts {
			m, ok := p.(map[string]any)
			if !ok {
				continue
			}
			title, _ := m["title"].(string)
			content, _ := m["content"].(string)
			d.Sections = append(d.Sections, DisclaimerPart{Title: title, Content: content})
		}
		if d.Text == "" && len(d.Sections) == 0 {
			return nil
		}
		return d
	}
	return nil
}
