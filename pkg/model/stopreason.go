package model

import "strings"

// StopReason is the normalized reason a model turn ended.
type StopReason string

const (
	StopEndTurn             StopReason = "endTurn"
	StopToolUse             StopReason = "toolUse"
	StopMaxTokens           StopReason = "maxTokens"
	StopSequence            StopReason = "stopSequence"
	StopContentFiltered     StopReason = "contentFiltered"
	StopGuardrailIntervened StopReason = "guardrailIntervened"
	StopContextWindow       StopReason = "modelContextWindowExceeded"
	// StopInterrupt is produced by the agent loop when a turn pauses for a
	// human response. Providers never emit it.
	StopInterrupt StopReason = "interrupt"
)

var stopReasonAliases = map[string]StopReason{
	"end_turn":                      StopEndTurn,
	"endturn":                       StopEndTurn,
	"stop":                          StopEndTurn,
	"tool_use":                      StopToolUse,
	"tooluse":                       StopToolUse,
	"tool_calls":                    StopToolUse,
	"max_tokens":                    StopMaxTokens,
	"maxtokens":                     StopMaxTokens,
	"length":                        StopMaxTokens,
	"stop_sequence":                 StopSequence,
	"stopsequence":                  StopSequence,
	"content_filtered":              StopContentFiltered,
	"contentfiltered":               StopContentFiltered,
	"guardrail_intervened":          StopGuardrailIntervened,
	"guardrailintervened":           StopGuardrailIntervened,
	"model_context_window_exceeded": StopContextWindow,
	"modelcontextwindowexceeded":    StopContextWindow,
}

// NormalizeStopReason maps provider stop tokens onto the canonical set.
// Unknown tokens pass through unchanged so callers can still branch on
// provider-specific reasons.
func NormalizeStopReason(raw string) StopReason {
	if raw == "" {
		return StopEndTurn
	}
	if mapped, ok := stopReasonAliases[strings.ToLower(raw)]; ok {
		return mapped
	}
	return StopReason(raw)
}
