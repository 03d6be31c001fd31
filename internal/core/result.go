package core

// SchemaVersion is the contract version a structured model response must
// declare in its top-level "schema" key.
const SchemaVersion = "scambait.llm.v1"

// Message is the optional top-level reply body of a structured result.
type Message struct {
	Text string `json:"text,omitempty"`
}

// StructuredResult is the validated output of one accepted generation cycle.
// It is only ever produced by the contract validator.
type StructuredResult struct {
	Schema   string   `json:"schema"`
	Analysis Analysis `json:"analysis"`
	Message  Message  `json:"message,omitempty"`
	Actions  []Action `json:"-"`
}

// FirstSendMessage returns the first send_message action, if any.
func (r *StructuredResult) FirstSendMessage() (SendMessage, bool) {
	for _, a := range r.Actions {
		if send, ok := a.(SendMessage); ok {
			return send, true
		}
	}
	return SendMessage{}, false
}

// Suggestion extracts the outgoing reply text: the first send_message
// action's text, falling back to the top-level message text when the analysis
// flags a conflict and no send action is present.
func (r *StructuredResult) Suggestion() string {
	if send, ok := r.FirstSendMessage(); ok {
		return send.Text
	}
	return r.Message.Text
}

// HasEscalation reports whether the action list asks for a human.
func (r *StructuredResult) HasEscalation() (EscalateToHuman, bool) {
	for _, a := range r.Actions {
		if esc, ok := a.(EscalateToHuman); ok {
			return esc, true
		}
	}
	return EscalateToHuman{}, false
}
