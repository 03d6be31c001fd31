package promptctx

import (
	"fmt"
	"strings"
	"time"

	"github.com/baitlab/scambaiter/internal/core"
)

// maxLineChars bounds a single rendered history line so one pasted wall of
// text cannot dominate the budget.
const maxLineChars = 220

// Line is one rendered history entry. Seq ties it back to the stored event;
// Time is display precision only, the store keeps the full timestamp.
type Line struct {
	Seq  int64  `json:"seq"`
	Time string `json:"time"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// Render produces the prompt form of the line: "HH:MM role: text".
func (l Line) Render() string {
	return fmt.Sprintf("%s %s: %s", l.Time, l.Role, l.Text)
}

// Payload is the bounded context handed to the model layer. History is a
// contiguous suffix of the event log, never a slice with gaps.
type Payload struct {
	ConversationID string    `json:"conversation_id"`
	GeneratedAt    time.Time `json:"generated_at"`

	ProfileSummary string   `json:"profile_summary,omitempty"`
	MemoryLines    []string `json:"memory_lines,omitempty"`
	DirectiveLines []string `json:"directive_lines,omitempty"`
	History        []Line   `json:"history"`

	TotalEvents   int `json:"total_events"`
	TrimmedEvents int `json:"trimmed_events"`
	TokenEstimate int `json:"token_estimate"`
	TokenBudget   int `json:"token_budget"`
}

// RenderHistory joins the history lines for direct inclusion in a prompt.
func (p *Payload) RenderHistory() string {
	lines := make([]string, 0, len(p.History))
	for _, l := range p.History {
		lines = append(lines, l.Render())
	}
	return strings.Join(lines, "\n")
}

// renderLine projects a stored event into its display line.
func renderLine(ev core.Event) Line {
	l := Line{Seq: ev.Seq, Role: string(ev.Role), Time: "--:--"}
	if !ev.Timestamp.IsZero() {
		l.Time = ev.Timestamp.Format("15:04")
	}

	text := strings.TrimSpace(ev.Text)
	switch ev.Type {
	case core.EventPhoto:
		marker := "[photo]"
		if caption := strings.TrimSpace(ev.CaptionGenerated); caption != "" {
			marker = "[photo: " + caption + "]"
		} else if caption := strings.TrimSpace(ev.CaptionOriginal); caption != "" {
			marker = "[photo: " + caption + "]"
		}
		if text != "" {
			text = marker + " " + text
		} else {
			text = marker
		}
	case core.EventTypingInterval:
		text = fmt.Sprintf("[typing %.0fs]", ev.DurationSeconds)
	default:
		if text == "" {
			text = "[" + string(ev.Type) + "]"
		}
	}
	l.Text = clampLine(text)
	return l
}

func clampLine(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLineChars {
		return s
	}
	return string(runes[:maxLineChars-1]) + "…"
}
