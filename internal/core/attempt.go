package core

import "time"

// AttemptPhase distinguishes the first generation of a cycle from its single
// bounded repair retry.
type AttemptPhase string

const (
	PhaseInitial AttemptPhase = "initial"
	PhaseRepair  AttemptPhase = "repair"
)

// GenerationAttempt records one model call within a generation cycle, with
// enough diagnostics for offline prompt-quality review.
type GenerationAttempt struct {
	ID               int64        `json:"id"`
	CreatedAt        time.Time    `json:"created_at"`
	ConversationID   string       `json:"conversation_id"`
	Title            string       `json:"title,omitempty"`
	Trigger          string       `json:"trigger,omitempty"`
	AttemptNo        int          `json:"attempt_no"`
	Phase            AttemptPhase `json:"phase"`
	ParsedOK         bool         `json:"parsed_ok"`
	Accepted         bool         `json:"accepted"`
	RejectReason     string       `json:"reject_reason,omitempty"`
	HeuristicScore   float64      `json:"heuristic_score,omitempty"`
	HeuristicFlags   []string     `json:"heuristic_flags,omitempty"`
	RawExcerpt       string       `json:"raw_excerpt,omitempty"`
	Suggestion       string       `json:"suggestion,omitempty"`
	Schema           string       `json:"schema,omitempty"`
	PromptTokens     int          `json:"prompt_tokens,omitempty"`
	CompletionTokens int          `json:"completion_tokens,omitempty"`
	TotalTokens      int          `json:"total_tokens,omitempty"`
	ReasoningTokens  int          `json:"reasoning_tokens,omitempty"`
	SuggestionID     string       `json:"suggestion_id,omitempty"`
	TraceID          string       `json:"trace_id,omitempty"`
}

// Directive is an operator-supplied override read at prompt-build time.
// The model never writes directives; it may only report having applied one.
type Directive struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Scope          string    `json:"scope"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Directive scopes. A "once" directive is deactivated after the model reports
// it as applied.
const (
	DirectiveScopeSession = "session"
	DirectiveScopeChat    = "chat"
	DirectiveScopeOnce    = "once"
)
