package core

import "time"

// Analysis is the model's evolving working memory for one conversation. The
// shape is open, but these keys are recognized by the prompt builder and the
// control surface; anything else rides along untouched.
type Analysis map[string]any

// Recognized analysis keys.
const (
	AnalysisClaimedIdentity  = "claimed_identity"
	AnalysisCurrentIntent    = "current_intent"
	AnalysisNarrativeSummary = "narrative_summary"
	AnalysisKeyFacts         = "key_facts"
	AnalysisRiskFlags        = "risk_flags"
	AnalysisOpenQuestions    = "open_questions"
	AnalysisNextFocus        = "next_focus"
	AnalysisLanguage         = "language"
	AnalysisOperatorApplied  = "operator_applied"
	AnalysisConflict         = "conflict"
	AnalysisPivot            = "pivot"
)

// MergeAnalysis overlays current onto previous, merging nested objects key by
// key and replacing everything else. Neither input is mutated.
func MergeAnalysis(previous, current Analysis) Analysis {
	if previous == nil && current == nil {
		return nil
	}
	if previous == nil {
		return cloneMap(current)
	}
	if current == nil {
		return cloneMap(previous)
	}
	merged := cloneMap(previous)
	for key, value := range current {
		oldNested, oldIsMap := merged[key].(map[string]any)
		newNested, newIsMap := value.(map[string]any)
		if oldIsMap && newIsMap {
			merged[key] = map[string]any(MergeAnalysis(oldNested, newNested))
			continue
		}
		merged[key] = value
	}
	return merged
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// String returns a trimmed string value for a recognized key, or "".
func (a Analysis) String(key string) string {
	if a == nil {
		return ""
	}
	if v, ok := a[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns a list-of-strings value for a recognized key.
func (a Analysis) Strings(key string) []string {
	if a == nil {
		return nil
	}
	raw, ok := a[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// AnalysisRecord is one persisted analysis snapshot.
type AnalysisRecord struct {
	ID         int64          `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	Chat       string         `json:"conversation_id"`
	Title      string         `json:"title,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	Analysis   Analysis       `json:"analysis,omitempty"`
	Actions    []any          `json:"actions,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
