package core

import "encoding/json"

// ActionKind enumerates the closed action vocabulary a validated model
// response may contain.
type ActionKind string

const (
	ActionMarkRead        ActionKind = "mark_read"
	ActionSimulateTyping  ActionKind = "simulate_typing"
	ActionWait            ActionKind = "wait"
	ActionSendMessage     ActionKind = "send_message"
	ActionEditMessage     ActionKind = "edit_message"
	ActionNoop            ActionKind = "noop"
	ActionEscalateToHuman ActionKind = "escalate_to_human"
)

// WaitUnit is the unit of a wait action's value.
type WaitUnit string

const (
	WaitSeconds WaitUnit = "seconds"
	WaitMinutes WaitUnit = "minutes"
)

// Action is one entry of a structured result's ordered action list. The set
// of implementations is closed; every consumer can switch exhaustively on
// Kind.
type Action interface {
	Kind() ActionKind
}

type MarkRead struct{}

func (MarkRead) Kind() ActionKind { return ActionMarkRead }

type SimulateTyping struct {
	DurationSeconds float64 `json:"duration_seconds"`
}

func (SimulateTyping) Kind() ActionKind { return ActionSimulateTyping }

type Wait struct {
	Value float64  `json:"value"`
	Unit  WaitUnit `json:"unit"`
}

func (Wait) Kind() ActionKind { return ActionWait }

type SendMessage struct {
	Text      string `json:"text"`
	ReplyTo   string `json:"reply_to,omitempty"`
	SendAtUTC string `json:"send_at_utc,omitempty"`
}

func (SendMessage) Kind() ActionKind { return ActionSendMessage }

type EditMessage struct {
	MessageID string `json:"message_id"`
	NewText   string `json:"new_text"`
}

func (EditMessage) Kind() ActionKind { return ActionEditMessage }

type Noop struct{}

func (Noop) Kind() ActionKind { return ActionNoop }

type EscalateToHuman struct {
	Reason string `json:"reason"`
}

func (EscalateToHuman) Kind() ActionKind { return ActionEscalateToHuman }

// EncodeAction renders an action in its canonical wire shape: a flat object
// with a "type" discriminator, send_message carrying a nested message object.
func EncodeAction(a Action) map[string]any {
	out := map[string]any{"type": string(a.Kind())}
	switch v := a.(type) {
	case SimulateTyping:
		out["duration_seconds"] = v.DurationSeconds
	case Wait:
		out["value"] = v.Value
		out["unit"] = string(v.Unit)
	case SendMessage:
		msg := map[string]any{"text": v.Text}
		out["message"] = msg
		if v.ReplyTo != "" {
			out["reply_to"] = v.ReplyTo
		}
		if v.SendAtUTC != "" {
			out["send_at_utc"] = v.SendAtUTC
		}
	case EditMessage:
		out["message_id"] = v.MessageID
		out["new_text"] = v.NewText
	case EscalateToHuman:
		out["reason"] = v.Reason
	}
	return out
}

// EncodeActions renders an ordered action list for persistence or queueing.
func EncodeActions(actions []Action) []map[string]any {
	out := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		out = append(out, EncodeAction(a))
	}
	return out
}

// MarshalActionsJSON is a convenience wrapper around EncodeActions.
func MarshalActionsJSON(actions []Action) ([]byte, error) {
	return json.Marshal(EncodeActions(actions))
}
