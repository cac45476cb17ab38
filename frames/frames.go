package frames

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Response types emitted by the medical backend.
const (
	TypeExpertSelection        = "expert_selection"
	TypeReasoningStart         = "reasoning_start"
	TypeReasoning              = "reasoning"
	TypeReasoningComplete      = "reasoning_complete"
	TypeFinalAnswerStart       = "final_answer_start"
	TypeFinalAnswer            = "final_answer"
	TypeLocalGuidelineAnalysis = "local-guideline-analysis"
	TypeComplete               = "complete"
)

var knownTypes = map[string]struct{}{
	TypeExpertSelection:        {},
	TypeReasoningStart:         {},
	TypeReasoning:              {},
	TypeReasoningComplete:      {},
	TypeFinalAnswerStart:       {},
	TypeFinalAnswer:            {},
	TypeLocalGuidelineAnalysis: {},
	TypeComplete:               {},
}

// IsKnownType reports whether responseType is one the processor handles.
func IsKnownType(responseType string) bool {
	_, ok := knownTypes[responseType]
	return ok
}

// Control frame types written by the relay itself.
const (
	ControlComplete = "complete"
	ControlError    = "error"
)

// GenericStreamError is the only error text a client ever sees from the relay.
const GenericStreamError = "An error occurred while processing the response"

// metadataTypes are pipeline bookkeeping frames the UI never needs.
var metadataTypes = map[string]struct{}{
	"pipeline_decision":    {},
	"chunks_retrieved":     {},
	"reasoning_start_meta": {},
	"pipeline_info":        {},
}

// IsMetadata reports whether frames of this response type must be dropped.
func IsMetadata(responseType string) bool {
	_, ok := metadataTypes[responseType]
	return ok
}

// Upstream is one line of the backend's newline-delimited JSON protocol.
// Everything except response_type is optional and loosely typed.
type Upstream struct {
	ResponseType   string          `json:"response_type"`
	ExpertName     string          `json:"expert_name,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
	SafetyFlag     json.RawMessage `json:"safety_flag,omitempty"`
	SafetyRequired json.RawMessage `json:"safetyRequired,omitempty"`
	Safety         json.RawMessage `json:"safety,omitempty"`
}

// Frame is the normalized projection forwarded to the client.
type Frame struct {
	ResponseType string          `json:"response_type,omitempty"`
	ExpertName   string          `json:"expert_name,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
	SafetyFlag   bool            `json:"safety_flag"`
}

// Control is a synthetic frame produced by the relay (terminator or error).
type Control struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Envelope is what a client decodes from one SSE data line: either a
// forwarded Frame or a Control frame.
type Envelope struct {
	Frame
	Type    string `json:"type,omitempty"`
	Content string `json:"content,omitempty"`
}

// IsControl reports whether the envelope carries a relay control frame.
func (e Envelope) IsControl() bool {
	return e.Type != "" && e.ResponseType == ""
}

// Normalize projects an upstream line onto the forwarded frame shape.
func Normalize(u Upstream) Frame {
	return Frame{
		ResponseType: u.ResponseType,
		ExpertName:   u.ExpertName,
		Response:     u.Response,
		Timestamp:    u.Timestamp,
		SafetyFlag:   NormalizeSafety(u.SafetyFlag, u.SafetyRequired, u.Safety),
	}
}

// NormalizeSafety picks the first present, non-null candidate and reports
// whether it is boolean true, the number 1 or the string "1".
func NormalizeSafety(candidates ...json.RawMessage) bool {
	for _, raw := range candidates {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		return IsTruthyFlag(raw)
	}
	return false
}

// IsTruthyFlag implements the true|1|"1" rule on a single JSON value.
func IsTruthyFlag(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
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

// PayloadText coerces a loosely typed payload to text: JSON strings are
// decoded, null or absent becomes "", anything else is returned as raw JSON.
func PayloadText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// TimestampText renders a timestamp that may arrive as a string or a number.
func TimestampText(raw json.RawMessage) string {
	return strings.TrimSpace(PayloadText(raw))
}
