package core

import (
	"strings"
	"time"
)

// EventType identifies what kind of occurrence an event records.
type EventType string

const (
	EventMessage        EventType = "message"
	EventPhoto          EventType = "photo"
	EventForward        EventType = "forward"
	EventTypingInterval EventType = "typing_interval"
)

// Role identifies who produced an event.
type Role string

const (
	RoleManual     Role = "manual"
	RoleScammer    Role = "scammer"
	RoleScambaiter Role = "scambaiter"
	RoleSystem     Role = "system"
)

// Event is one immutable record in a conversation's append-only log.
// Seq is assigned by the store on append and is the authoritative replay
// order; Timestamp may be out of order for forwarded or backfilled content.
type Event struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id"`
	Seq              int64          `json:"seq"`
	Type             EventType      `json:"type"`
	Role             Role           `json:"role"`
	Timestamp        time.Time      `json:"timestamp"`
	Text             string         `json:"text,omitempty"`
	CaptionOriginal  string         `json:"caption_original,omitempty"`
	CaptionGenerated string         `json:"caption_generated,omitempty"`
	DurationSeconds  float64        `json:"duration_seconds,omitempty"`
	SourceMessageID  string         `json:"source_message_id,omitempty"`
	Meta             map[string]any `json:"meta,omitempty"`
}

var validEventTypes = map[EventType]bool{
	EventMessage:        true,
	EventPhoto:          true,
	EventForward:        true,
	EventTypingInterval: true,
}

var validRoles = map[Role]bool{
	RoleManual:     true,
	RoleScammer:    true,
	RoleScambaiter: true,
	RoleSystem:     true,
}

// Validate reports whether the event is well-formed enough to store.
// The returned error wraps ErrMalformedEvent so callers can classify it.
func (e Event) Validate() error {
	if !validEventTypes[e.Type] {
		return wrapMalformed("unknown event type %q", string(e.Type))
	}
	if !validRoles[e.Role] {
		return wrapMalformed("unknown role %q", string(e.Role))
	}
	switch e.Type {
	case EventTypingInterval:
		if e.DurationSeconds < 0 {
			return wrapMalformed("typing interval duration must be non-negative")
		}
	case EventMessage:
		if strings.TrimSpace(e.Text) == "" {
			return wrapMalformed("message event requires text")
		}
	}
	return nil
}

// MetaString returns a string-typed meta value, or "" when absent.
func (e Event) MetaString(key string) string {
	if e.Meta == nil {
		return ""
	}
	if v, ok := e.Meta[key].(string); ok {
		return v
	}
	return ""
}

// IsContent reports whether the event carries conversational content that
// should invalidate cached prompt projections on append. Typing intervals
// are context-only and never trigger regeneration on their own.
func (e Event) IsContent() bool {
	switch e.Type {
	case EventMessage, EventPhoto, EventForward:
		return true
	}
	return false
}
