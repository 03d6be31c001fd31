package promptctx

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/store"
)

var timePattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// flatCounter charges a fixed price per non-empty string, which makes budget
// arithmetic in tests exact.
type flatCounter struct{ perLine int }

func (c flatCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return c.perLine
}

func seedEvents(t *testing.T, s *store.MemoryStore, conversationID string, n int) {
	t.Helper()
	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ev := core.Event{
			Type:      core.EventMessage,
			Role:      core.RoleScammer,
			Text:      "message " + string(rune('a'+i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := s.AppendEvent(context.Background(), conversationID, ev); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func TestBuildRendersTimesAndPlaceholders(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)

	events := []core.Event{
		{Type: core.EventMessage, Role: core.RoleScammer, Text: "hello dear",
			Timestamp: time.Date(2026, 8, 20, 14, 5, 0, 0, time.UTC)},
		{Type: core.EventPhoto, Role: core.RoleScammer, CaptionGenerated: "a trading chart",
			Timestamp: time.Date(2026, 8, 20, 14, 6, 0, 0, time.UTC)},
		{Type: core.EventTypingInterval, Role: core.RoleScambaiter, DurationSeconds: 7},
		{Type: core.EventForward, Role: core.RoleScammer,
			Timestamp: time.Date(2026, 8, 20, 14, 8, 0, 0, time.UTC)},
	}
	for i, ev := range events {
		if _, err := s.AppendEvent(ctx, "chat-1", ev); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	payload, err := NewBuilder(s).Build(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(payload.History) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(payload.History))
	}

	if payload.History[0].Time != "14:05" {
		t.Fatalf("time projection wrong: %q", payload.History[0].Time)
	}
	if got := payload.History[0].Render(); got != "14:05 scammer: hello dear" {
		t.Fatalf("line render wrong: %q", got)
	}
	if !strings.Contains(payload.History[1].Text, "[photo: a trading chart]") {
		t.Fatalf("photo caption missing: %q", payload.History[1].Text)
	}
	if payload.History[2].Time != "--:--" {
		t.Fatalf("missing timestamp should render as --:--, got %q", payload.History[2].Time)
	}
	if payload.History[2].Text != "[typing 7s]" {
		t.Fatalf("typing placeholder wrong: %q", payload.History[2].Text)
	}
	if payload.History[3].Text != "[forward]" {
		t.Fatalf("empty forward placeholder wrong: %q", payload.History[3].Text)
	}
}

func TestBuildTrimsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	seedEvents(t, s, "chat-1", 10)

	b := NewBuilder(s, WithTokenCounter(flatCounter{perLine: 10}))
	payload, err := b.Build(ctx, "chat-1", 20)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if len(payload.History) != 2 {
		t.Fatalf("expected last 2 events, got %d", len(payload.History))
	}
	if payload.History[0].Seq != 9 || payload.History[1].Seq != 10 {
		t.Fatalf("wrong tail kept: %+v", payload.History)
	}
	for _, l := range payload.History {
		if !timePattern.MatchString(l.Time) {
			t.Fatalf("timestamp not HH:MM: %q", l.Time)
		}
	}
	if payload.TrimmedEvents != 8 || payload.TotalEvents != 10 {
		t.Fatalf("trim accounting wrong: %+v", payload)
	}
}

func TestBuildHistoryIsContiguousSuffix(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	seedEvents(t, s, "chat-1", 10)
	b := NewBuilder(s, WithTokenCounter(flatCounter{perLine: 10}))

	for budget := 20; budget <= 100; budget += 10 {
		payload, err := b.Build(ctx, "chat-1", budget)
		if err != nil {
			t.Fatalf("budget %d: %v", budget, err)
		}
		if len(payload.History) == 0 {
			t.Fatalf("budget %d: empty history", budget)
		}
		if payload.History[len(payload.History)-1].Seq != 10 {
			t.Fatalf("budget %d: suffix does not end at tail", budget)
		}
		for i := 1; i < len(payload.History); i++ {
			if payload.History[i].Seq != payload.History[i-1].Seq+1 {
				t.Fatalf("budget %d: gap at %d", budget, i)
			}
		}
	}
}

func TestBuildBudgetExceeded(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	seedEvents(t, s, "chat-1", 10)

	b := NewBuilder(s, WithTokenCounter(flatCounter{perLine: 10}))
	_, err := b.Build(ctx, "chat-1", 5)
	if !errors.Is(err, core.ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if core.TagOf(err) != core.TagUsage {
		t.Fatalf("budget errors are usage errors, got %v", core.TagOf(err))
	}
}

func TestBuildZeroBudgetKeepsEverything(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	seedEvents(t, s, "chat-1", 10)

	payload, err := NewBuilder(s).Build(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(payload.History) != 10 || payload.TrimmedEvents != 0 {
		t.Fatalf("unbudgeted build must keep all events: %+v", payload)
	}
}

func TestBuildIncludesAnalysisAndDirectives(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	seedEvents(t, s, "chat-1", 3)

	if _, err := s.SaveAnalysis(ctx, core.AnalysisRecord{
		Chat: "chat-1",
		Analysis: core.Analysis{
			core.AnalysisClaimedIdentity: "oil rig engineer",
			core.AnalysisCurrentIntent:   "crypto investment",
			core.AnalysisKeyFacts:        []any{"claims to live in Houston", "asks for gift cards"},
		},
	}); err != nil {
		t.Fatalf("save analysis: %v", err)
	}
	if _, err := s.AddDirective(ctx, "chat-1", "answer only in German", core.DirectiveScopeChat); err != nil {
		t.Fatalf("add directive: %v", err)
	}

	payload, err := NewBuilder(s).Build(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	joined := strings.Join(payload.MemoryLines, "\n")
	if !strings.Contains(joined, "claimed identity: oil rig engineer") {
		t.Fatalf("identity missing from memory lines: %q", joined)
	}
	if !strings.Contains(joined, "asks for gift cards") {
		t.Fatalf("facts missing from memory lines: %q", joined)
	}
	if len(payload.DirectiveLines) != 1 || payload.DirectiveLines[0] != "answer only in German" {
		t.Fatalf("directive lines wrong: %v", payload.DirectiveLines)
	}
}

func TestBuildSurfacesEscalationMeta(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	if _, err := s.AppendEvent(ctx, "chat-1", core.Event{
		Type: core.EventMessage, Role: core.RoleScammer, Text: "send the money now",
		Timestamp: time.Now().UTC(),
		Meta:      map[string]any{"escalation": "threat of urgency"},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	payload, err := NewBuilder(s).Build(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	joined := strings.Join(payload.MemoryLines, "\n")
	if !strings.Contains(joined, "escalation noted: threat of urgency") {
		t.Fatalf("escalation annotation not surfaced: %q", joined)
	}
	// Escalations are annotations, not turns.
	for _, l := range payload.History {
		if strings.Contains(l.Text, "escalation noted") {
			t.Fatal("escalation leaked into the conversation history")
		}
	}
}

func TestBuildClampsLongLines(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	long := strings.Repeat("x", 1000)
	if _, err := s.AppendEvent(ctx, "chat-1", core.Event{
		Type: core.EventMessage, Role: core.RoleScammer, Text: long,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	payload, err := NewBuilder(s).Build(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := len([]rune(payload.History[0].Text)); got > maxLineChars {
		t.Fatalf("line not clamped: %d runes", got)
	}
	if !strings.HasSuffix(payload.History[0].Text, "…") {
		t.Fatal("clamped line should end with ellipsis")
	}
}

func TestCharCounter(t *testing.T) {
	c := CharCounter{}
	if got := c.Count(""); got != 0 {
		t.Fatalf("empty text costs %d", got)
	}
	if got := c.Count("abcd"); got != 1 {
		t.Fatalf("4 chars should cost 1 token, got %d", got)
	}
	if got := c.Count("abcde"); got != 2 {
		t.Fatalf("5 chars should round up to 2 tokens, got %d", got)
	}
}
