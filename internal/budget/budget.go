// Package budget approximates the token cost of a conversation and trims what
// the LLM sees so a request stays within the model's context window.
//
// Two independent passes keep the prompt small. Each tool's LLM-facing view is
// capped with [CapList] and [Truncate] according to [Limits] before it becomes
// a message, and [Fit] drops older conversational context once the whole
// message list exceeds the ceiling.
package budget

import (
	"github.com/MrWong99/floodwatch/pkg/provider/llm"
)

// charsPerToken is the heuristic ratio used for token estimation.
const charsPerToken = 4

// DefaultCeiling is the default token ceiling for a conversation.
const DefaultCeiling = 12_000

// Ellipsis marks truncated text.
const Ellipsis = "…"

// Limits bounds the LLM-facing view of each tool result. A zero or negative
// value disables that limit.
type Limits struct {
	MaxFloods               int `yaml:"max_floods" json:"max_floods"`
	MaxFloodMessageChars    int `yaml:"max_flood_message_chars" json:"max_flood_message_chars"`
	MaxIncidents            int `yaml:"max_incidents" json:"max_incidents"`
	MaxIncidentTextChars    int `yaml:"max_incident_text_chars" json:"max_incident_text_chars"`
	MaxRivers               int `yaml:"max_rivers" json:"max_rivers"`
	MaxForecastChars        int `yaml:"max_forecast_chars" json:"max_forecast_chars"`
	MaxCorrelationItems     int `yaml:"max_correlation_items" json:"max_correlation_items"`
	MaxCorrelationTextChars int `yaml:"max_correlation_text_chars" json:"max_correlation_text_chars"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxFloods:               10,
		MaxFloodMessageChars:    300,
		MaxIncidents:            20,
		MaxIncidentTextChars:    200,
		MaxRivers:               15,
		MaxForecastChars:        1500,
		MaxCorrelationItems:     10,
		MaxCorrelationTextChars: 200,
	}
}

// Budget is the token ceiling of a conversation plus the per-tool trimming
// policy.
type Budget struct {
	Ceiling int
	Limits  Limits
}

// New returns a Budget. A non-positive ceiling selects [DefaultCeiling].
func New(ceiling int, limits Limits) *Budget {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	return &Budget{Ceiling: ceiling, Limits: limits}
}

// Fit trims messages to b.Ceiling. See [Fit].
func (b *Budget) Fit(messages []llm.Message) []llm.Message {
	return Fit(messages, b.Ceiling)
}

// Over reports whether messages exceed b.Ceiling.
func (b *Budget) Over(messages []llm.Message) bool {
	return Estimate(messages) > b.Ceiling
}

// Estimate returns the approximate token count of messages. It is a cheap,
// deterministic proxy (characters / 4), not a tokenizer.
func Estimate(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += estimateMessage(m)
	}
	return total
}

func estimateMessage(m llm.Message) int {
	chars := len(m.Content) + len(m.Role) + len(m.Name) + len(m.ToolCallID)
	for _, tc := range m.ToolCalls {
		chars += len(tc.Name) + len(tc.Arguments) + len(tc.ID)
	}
	tokens := chars / charsPerToken
	if tokens == 0 && chars > 0 {
		tokens = 1
	}
	return tokens
}

// Fit returns messages unchanged when their estimate is within ceiling.
// Otherwise it keeps only the leading system message, the most recent user
// message and the final assistant message together with the tool messages
// answering its tool calls, in their original order. Everything else is
// dropped. Fit never adds messages, so the estimate never grows, and fitting
// an already fitted list returns it unchanged.
func Fit(messages []llm.Message, ceiling int) []llm.Message {
	if Estimate(messages) <= ceiling {
		return messages
	}

	keep := make([]bool, len(messages))
	if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
		keep[0] = true
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			keep[i] = true
			break
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != llm.RoleAssistant {
			continue
		}
		keep[i] = true
		ids := make(map[string]struct{}, len(messages[i].ToolCalls))
		for _, tc := range messages[i].ToolCalls {
			ids[tc.ID] = struct{}{}
		}
		for j := i + 1; j < len(messages) && messages[j].Role == llm.RoleTool; j++ {
			if _, ok := ids[messages[j].ToolCallID]; ok {
				keep[j] = true
			}
		}
		break
	}

	out := make([]llm.Message, 0, len(messages))
	for i, m := range messages {
		if keep[i] {
			out = append(out, m)
		}
	}
	if len(out) == len(messages) {
		return messages
	}
	return out
}

// CapList returns at most max leading items. A non-positive max disables the
// cap. The input slice is never modified.
func CapList[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	out := make([]T, max)
	copy(out, items[:max])
	return out
}

// Truncate shortens s to max runes followed by [Ellipsis]. Strings of at most
// max runes, and any string when max is non-positive, are returned unchanged.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}
