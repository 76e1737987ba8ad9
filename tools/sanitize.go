// Package tools implements the local tool registry and executor: the
// task-completion and human-question tools plus web search and image
// understanding, all returning the uniform response envelope.
package tools

import (
	"encoding/json"
	"regexp"
	"strings"
)

var questionPattern = regexp.MustCompile(`"question":\s*"(.*?)"`)

// SanitizeArguments repairs the malformed argument strings some backends
// stream for tool calls: NUL bytes inside the text, and trailing junk after
// the closing brace (typically a literal "null" appended after the JSON
// object).
func SanitizeArguments(raw string) string {
	raw = strings.ReplaceAll(raw, "\x00", "")

	last := strings.LastIndex(raw, "}")
	if last != -1 && last < len(raw)-1 {
		trailing := strings.TrimSpace(raw[last+1:])
		if trailing == "" || strings.EqualFold(trailing, "null") {
			raw = raw[:last+1]
		}
	}

	return raw
}

// ParseArguments sanitizes and decodes a tool call's argument string. When
// decoding still fails, ask_question gets a regex fallback that pulls the
// question text out of the broken JSON; every other tool falls back to empty
// arguments so execution proceeds and the tool reports its own error.
func ParseArguments(toolName, raw string) map[string]any {
	cleaned := SanitizeArguments(raw)

	var args map[string]any
	if err := json.Unmarshal([]byte(cleaned), &args); err == nil && args != nil {
		return args
	}

	if toolName == AskQuestionName {
		if m := questionPattern.FindStringSubmatch(raw); len(m) == 2 && m[1] != "" {
			return map[string]any{"question": m[1]}
		}
		return map[string]any{"question": defaultQuestion}
	}

	return map[string]any{}
}
