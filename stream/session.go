// Package stream folds relay frames into the state of one in-flight answer
// and produces the live and final chat messages for it.
package stream

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"medchat-backend/messages"
)

// DefaultExpertName is shown until the backend names an expert.
const DefaultExpertName = "Medical Expert"

// Session accumulates one answer. Buffers only grow until the session is
// replaced and SafetyFlag never goes back to false.
type Session struct {
	ExpertName             string
	HasReasoning           bool
	SafetyFlag             bool
	LocalGuidelineAnalysis *messages.LocalGuidelineAnalysis
	ProcessingGuideline    bool

	ExpertLoading        bool
	ReasoningActive      bool
	PreparingFinalAnswer bool
	Complete             bool

	reasoning strings.Builder
	answer    strings.Builder
}

func NewSession() *Session {
	return &Session{ExpertName: DefaultExpertName}
}

func (s *Session) ReasoningText() string { return s.reasoning.String() }

func (s *Session) AnswerText() string { return s.answer.String() }

var titler = cases.Title(language.English, cases.NoLower)

// FormatExpertName turns a backend expert id such as "liver_disease" into
// "Liver Disease Expert". A blank id gives DefaultExpertName.
func FormatExpertName(raw string) string {
	name := expertWords(raw)
	if name == "" {
		return DefaultExpertName
	}
	return titler.String(name) + " Expert"
}

func expertWords(raw string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(raw, "_", " ")), " ")
}
