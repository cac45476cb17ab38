package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"medchat-backend/citations"
)

type SectionType string

const (
	SectionShortAnswer    SectionType = "short-answer"
	SectionDetailedAnswer SectionType = "detailed-answer"
	SectionReference      SectionType = "reference"
	SectionDisclaimer     SectionType = "ai-disclaimer"
)

type LocalGuideline struct {
	Name string `json:"name"`
}

type DisclaimerPart struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Disclaimer struct {
	Text     string           `json:"text,omitempty"`
	Sections []DisclaimerPart `json:"sections,omitempty"`
}

// Section is one typed block of a finalized answer.
type Section struct {
	ID              int                  `json:"id"`
	Type            SectionType          `json:"contentType"`
	Content         string               `json:"content"`
	Citations       []citations.Citation `json:"citations"`
	GapSummary      string               `json:"gapSummary,omitempty"`
	LocalGuidelines []LocalGuideline     `json:"localGuidelines,omitempty"`
	Disclaimer      *Disclaimer          `json:"disclaimer,omitempty"`
}

var analysisBlockRe = regexp.MustCompile(`(?is)<(GAP_SUMMARY|LOCAL_GUIDELINE_LIST)>.*?</(GAP_SUMMARY|LOCAL_GUIDELINE_LIST)>`)

// Sections parses text and lays the result out in display order: short
// answer, detailed answer, reference, disclaimer. Each type appears at most
// once and the disclaimer is always present.
func Sections(text string) []Section {
	res := Parse(text)
	gap, guidelines := ExtractGapAndGuidelines(text)

	var out []Section
	add := func(s Section) {
		s.ID = len(out) + 1
		if s.Citations == nil {
			s.Citations = []citations.Citation{}
		}
		out = append(out, s)
	}

	if s, ok := proseSection(SectionShortAnswer, res.ShortAnswer, res.Mode); ok {
		add(s)
	}
	if s, ok := proseSection(SectionDetailedAnswer, res.DetailedAnswer, res.Mode); ok {
		add(s)
	}
	if len(res.References) > 0 || gap != "" || len(guidelines) > 0 || res.ReferenceText != "" {
		add(Section{
			Type:            SectionReference,
			Content:         res.ReferenceText,
			Citations:       res.References,
			GapSummary:      gap,
			LocalGuidelines: guidelines,
		})
	}

	disclaimer := res.Disclaimer
	if disclaimer == nil {
		disclaimer = DefaultDisclaimer()
	}
	add(Section{Type: SectionDisclaimer, Disclaimer: disclaimer})
	return out
}

// proseSection builds an answer section. Structured answers still carry
// inline [cite: ...] markers, which become numbered citations on the
// section; text-mode prose was already extracted and keeps its Markdown.
func proseSection(typ SectionType, body string, mode Mode) (Section, bool) {
	if strings.TrimSpace(body) == "" {
		return Section{}, false
	}
	if mode == ModeText {
		return Section{Type: typ, Content: body}, true
	}
	body = analysisBlockRe.ReplaceAllString(body, "")
	ext := citations.Extract(body)
	content := Clean(ext.CleanedText)
	if content == "" {
		return Section{}, false
	}
	return Section{Type: typ, Content: content, Citations: ext.Citations}, true
}

// ExtractGapAndGuidelines reads the optional <GAP_SUMMARY> text and the
// <LOCAL_GUIDELINE_LIST> JSON ({"local_guidelines": [...]}) from the full
// answer text. A list that fails to decode is ignored.
func ExtractGapAndGuidelines(text string) (string, []LocalGuideline) {
	gap := takeTag(text, "GAP_SUMMARY")

	var guidelines []LocalGuideline
	if raw := takeTag(text, "LOCAL_GUIDELINE_LIST"); raw != "" {
		var list struct {
			LocalGuidelines []LocalGuideline `json:"local_guidelines"`
		}
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			guidelines = list.LocalGuidelines
		}
	}
	return gap, guidelines
}

// DefaultDisclaimer is shown when the answer carries no ai_disclaimer.
func DefaultDisclaimer() *Disclaimer {
	return &Disclaimer{Sections: []DisclaimerPart{
		{
			Title:   "Legal & Regulatory Notice",
			Content: "This chatbot is an AI-powered assistant designed to provide informational responses based on established clinical guidelines and literature. It is not a licensed medical practitioner, and its outputs do not constitute medical advice, diagnosis, or treatment. By using this service, you agree that any decisions related to patient care remain solely the responsibility of qualified healthcare professionals. Compliance with GDPR and applicable health data protection laws is maintained; no personal health data is stored or reused.",
		},
		{
			Title:   "Clinical Safety & Risk Warning",
			Content: "The information provided by this system is intended for educational or support purposes only. It is not a substitute for professional clinical judgment. Do not rely solely on this tool for making critical health decisions. In all cases involving medical emergencies, diagnostic uncertainties, or treatment planning, users must consult certified physicians or specialists. The AI may not reflect the latest clinical updates, local protocols, or individualized patient factors.",
		},
		{
			Title:   "Intended Use & Limitations",
			Content: "This tool is optimized for use by medical professionals, researchers, and validated users. It uses automated reasoning over medical guidelines and retrieved sources, and while accuracy is a priority, responses may still contain errors or outdated information. The developers assume no liability for consequences arising from the misuse or overreliance on this system. End-users are advised to critically evaluate the outputs and verify with up-to-date clinical resources when needed.",
		},
	}}
}
