package archive

import "time"

// AttemptRecord is the archived form of one generation attempt, carrying the
// raw model output for offline prompt-quality review. Keyed by trace id so a
// delivery-feedback report can be joined back to the exact output that
// produced it.
type AttemptRecord struct {
	Version        string    `json:"version"`
	ConversationID string    `json:"conversation_id"`
	TraceID        string    `json:"trace_id"`
	SuggestionID   string    `json:"suggestion_id,omitempty"`
	AttemptNo      int       `json:"attempt_no"`
	Phase          string    `json:"phase"`
	Accepted       bool      `json:"accepted"`
	RejectReason   string    `json:"reject_reason,omitempty"`
	RawOutput      string    `json:"raw_output,omitempty"`
	Suggestion     string    `json:"suggestion,omitempty"`
	PromptTokens   int       `json:"prompt_tokens,omitempty"`
	TotalTokens    int       `json:"total_tokens,omitempty"`
	ArchivedAt     time.Time `json:"archived_at"`
}

// ManifestEntry is one JSONL line in the monthly manifest, enough to locate
// and filter archived attempts without fetching each object.
type ManifestEntry struct {
	TraceID        string `json:"trace_id"`
	ConversationID string `json:"conversation_id"`
	S3Key          string `json:"s3_key"`
	Accepted       bool   `json:"accepted"`
	RejectReason   string `json:"reject_reason,omitempty"`
	ArchivedAt     string `json:"archived_at"`
}
