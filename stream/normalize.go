package stream

import (
	"encoding/json"
	"regexp"
	"strings"

	"medchat-backend/frames"
)

var (
	// Matches a Python dict repr such as {'type': 'thinking', 'thinking': "..."}.
	pyThinkingRe = regexp.MustCompile(`'thinking':\s*"([^"\\]*(?:\\.[^"\\]*)*)"`)
	escapes      = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\t`, "\t", `\"`, `"`)
)

// NormalizeThinking extracts the text of a reasoning chunk. Some providers
// send the thinking block as a dict repr or as a JSON object instead of
// plain text; anything else is returned unchanged.
func NormalizeThinking(chunk string) string {
	if m := pyThinkingRe.FindStringSubmatch(chunk); m != nil && m[1] != "" {
		return escapes.Replace(m[1])
	}
	trimmed := strings.TrimSpace(chunk)
	if !strings.HasPrefix(trimmed, "{") {
		return chunk
	}
	var block struct {
		Type     string `json:"type"`
		Thinking string `json:"thinking"`
	}
	if err := json.Unmarshal([]byte(strings.ReplaceAll(trimmed, "'", `"`)), &block); err != nil {
		return chunk
	}
	if block.Type == "thinking" && block.Thinking != "" {
		return escapes.Replace(block.Thinking)
	}
	return chunk
}

// probeSafety reports whether text is a JSON object carrying a truthy
// safety_flag. Anything unparseable is simply not a match.
func probeSafety(text string) bool {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return false
	}
	var probe struct {
		SafetyFlag json.RawMessage `json:"safety_flag"`
	}
	if err := json.Unmarshal([]byte(text), &probe); err != nil {
		return false
	}
	return len(probe.SafetyFlag) > 0 && frames.IsTruthyFlag(probe.SafetyFlag)
}
