// Package parser turns a finalized answer body into typed sections.
//
// Three grammars are tried in order and the first that yields an answer
// wins: a JSON object with short_answer/detailed_answer fields, inline XML
// tags (<short_answer>, <detailed_answer>, <guideline_references>), and
// free Markdown prose. Parsing never fails; unrecognized input degrades to a
// single short answer.
package parser

import (
	"regexp"

	"medchat-backend/citations"
)

type Mode string

const (
	ModeJSON Mode = "json"
	ModeXML  Mode = "xml"
	ModeText Mode = "text"
)

// Result is the raw outcome of Parse before it is laid out as sections.
type Result struct {
	ShortAnswer    string
	DetailedAnswer string
	References     []citations.Citation
	// ReferenceText is prose found under a references heading (text mode).
	ReferenceText  string
	Raw            string
	Mode           Mode
	SafetyRequired bool
	Disclaimer     *Disclaimer
}

var xmlAnswerRe = regexp.MustCompile(`(?i)<(short_answer|detailed_answer)>`)

// Parse runs the grammars in precedence order.
func Parse(text string) Result {
	if res, ok := parseJSON(text); ok {
		return res
	}
	if xmlAnswerRe.MatchString(text) {
		if res, ok := parseXML(text); ok {
			return res
		}
	}
	return parseText(text)
}
