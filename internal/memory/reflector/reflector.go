// Package reflector implements the stateless reflection trigger policy,
// turn condensation, and the JSON reflection-response parsing contract.
// The actual LLM call is external; this package only shapes the request
// and parses the response.
package reflector

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agnt-run/agentfs/internal/memory/memtypes"
	"github.com/agnt-run/agentfs/internal/tokens"
)

// correctionKeywords trigger should_reflect when found in the most recent
// user message.
var correctionKeywords = []string{
	"no,", "wrong", "incorrect", "that's not", "don't", "instead", "actually,", "fix", "not what i",
}

// ToolResult is the minimal shape of a tool result the trigger policy and
// turn condensation need.
type ToolResult struct {
	ToolName string
	IsError  bool
	Output   string
}

// Message is the minimal shape of a conversation message the trigger
// policy and turn condensation need.
type Message struct {
	Role string
	Text string
}

// ShouldReflect implements the trigger policy: any erroring tool result,
// a correction keyword in the latest user message, or more than two tool
// results in the turn.
func ShouldReflect(messages []Message, toolResults []ToolResult) bool {
	for _, tr := range toolResults {
		if tr.IsError {
			return true
		}
	}

	if msg, ok := lastUserMessage(messages); ok {
		lower := strings.ToLower(msg)
		for _, kw := range correctionKeywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}

	return len(toolResults) > 2
}

func lastUserMessage(messages []Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text, true
		}
	}
	return "", false
}

const (
	minTruncateChars = 300
	maxTruncateChars = 500
	maxCondensedMessages = 4
)

// CondenseTurn condenses the last up-to-4 messages into a single <turn>
// block. Text longer than 500 characters is cut to at most 300 via
// tokens.TruncateToChars; shorter text is kept whole.
func CondenseTurn(messages []Message) string {
	start := 0
	if len(messages) > maxCondensedMessages {
		start = len(messages) - maxCondensedMessages
	}
	recent := messages[start:]

	var b strings.Builder
	b.WriteString("<turn>\n")
	for _, m := range recent {
		text := m.Text
		if len(text) > maxTruncateChars {
			text = tokens.TruncateToChars(text, minTruncateChars)
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString("</turn>")
	return b.String()
}

// ReflectionPrompt is the strict-JSON-schema request the reflector hands
// to a secondary LLM; the call itself is the caller's responsibility.
const ReflectionPrompt = `Given the condensed turn below, respond with a single JSON object matching:
{"learnings":[{"category":"strategy|mistake|pattern","content":"...","confidence":0.0}],
 "helpful_ids":["..."],"harmful_ids":["..."],
 "tool_observations":[{"tool":"...","pattern":"...","error":"..."}]}
Respond with JSON only.`

// ParseReflection parses the secondary LLM's response into a Reflection,
// tolerating leading/trailing non-JSON text and ``` code-fence wrappers.
func ParseReflection(raw string) (memtypes.Reflection, error) {
	jsonText := extractJSON(raw)
	if jsonText == "" {
		return memtypes.Reflection{}, fmt.Errorf("reflector: no JSON object found in response")
	}
	var refl memtypes.Reflection
	if err := json.Unmarshal([]byte(jsonText), &refl); err != nil {
		return memtypes.Reflection{}, fmt.Errorf("reflector: parse reflection JSON: %w", err)
	}
	return refl, nil
}

// extractJSON strips ``` fences (with or without a language tag) and
// trims to the outermost {...} object, tolerating surrounding prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.Index(s, "\n"); idx >= 0 && !strings.HasPrefix(strings.TrimSpace(s[:idx]), "{") {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(s[start : end+1])
}
