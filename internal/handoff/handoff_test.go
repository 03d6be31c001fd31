package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/store"
)

func seedAcceptedSuggestion(t *testing.T, s *store.MemoryStore, conversationID, suggestionID, traceID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.SaveAttempt(ctx, core.GenerationAttempt{
		ConversationID: conversationID,
		AttemptNo:      1,
		Phase:          core.PhaseInitial,
		ParsedOK:       true,
		Accepted:       true,
		Suggestion:     "Which exchange are you using?",
		SuggestionID:   suggestionID,
		TraceID:        traceID,
	}); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}
	if _, err := s.SaveAnalysis(ctx, core.AnalysisRecord{
		Chat:       conversationID,
		Suggestion: "Which exchange are you using?",
		Analysis:   core.Analysis{core.AnalysisCurrentIntent: "crypto investment"},
		Actions: []any{
			map[string]any{"type": "simulate_typing", "duration_seconds": float64(4)},
			map[string]any{"type": "send_message", "message": map[string]any{"text": "Which exchange are you using?"}},
		},
		Metadata: map[string]any{"suggestion_id": suggestionID, "trace_id": traceID},
	}); err != nil {
		t.Fatalf("seed analysis: %v", err)
	}
}

func TestQueueActionsMintsTicket(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	q := NewMemoryQueue(4)
	svc := NewService(s, q)
	seedAcceptedSuggestion(t, s, "chat-1", "sugg-1", "trace-1")

	ticket, err := svc.QueueActions(ctx, "chat-1", "sugg-1")
	if err != nil {
		t.Fatalf("queue actions: %v", err)
	}
	if ticket.TicketID == "" || ticket.TraceID != "trace-1" || len(ticket.Actions) != 2 {
		t.Fatalf("ticket wrong: %+v", ticket)
	}

	msgs, err := q.Receive(ctx, 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("receive: %v (%d msgs)", err, len(msgs))
	}
	job, err := DecodeJob(msgs[0].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Kind != JobDeliverActions || job.Ticket == nil || job.Ticket.SuggestionID != "sugg-1" {
		t.Fatalf("job wrong: %+v", job)
	}
}

func TestQueueActionsUnknownSuggestion(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	svc := NewService(s, NewMemoryQueue(1))

	_, err := svc.QueueActions(ctx, "chat-1", "missing")
	if !errors.Is(err, core.ErrUnknownSuggestion) {
		t.Fatalf("expected ErrUnknownSuggestion, got %v", err)
	}
	if core.TagOf(err) != core.TagState {
		t.Fatalf("expected state tag, got %v", core.TagOf(err))
	}
}

func TestQueueActionsRejectsSupersededSuggestion(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	svc := NewService(s, NewMemoryQueue(1))
	seedAcceptedSuggestion(t, s, "chat-1", "sugg-1", "trace-1")
	seedAcceptedSuggestion(t, s, "chat-1", "sugg-2", "trace-2")

	if _, err := svc.QueueActions(ctx, "chat-1", "sugg-1"); !errors.Is(err, core.ErrUnknownSuggestion) {
		t.Fatalf("stale suggestion must be rejected, got %v", err)
	}
	if _, err := svc.QueueActions(ctx, "chat-1", "sugg-2"); err != nil {
		t.Fatalf("current suggestion must queue: %v", err)
	}
}

func TestQueueActionsConversationMismatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	svc := NewService(s, NewMemoryQueue(1))
	seedAcceptedSuggestion(t, s, "chat-1", "sugg-1", "trace-1")

	if _, err := svc.QueueActions(ctx, "chat-2", "sugg-1"); !errors.Is(err, core.ErrUnknownSuggestion) {
		t.Fatalf("cross-conversation id must be rejected, got %v", err)
	}
}

func TestEnqueueCycleRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)
	svc := NewService(store.NewMemoryStore(nil), q)

	jobID, err := svc.EnqueueCycle(ctx, "chat-1", "auto")
	if err != nil || jobID == "" {
		t.Fatalf("enqueue cycle: %v (%q)", err, jobID)
	}

	msgs, _ := q.Receive(ctx, 1, 0)
	job, err := DecodeJob(msgs[0].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.Kind != JobRunCycle || job.Cycle == nil || job.Cycle.ConversationID != "chat-1" || job.Cycle.Trigger != "auto" {
		t.Fatalf("cycle job wrong: %+v", job)
	}

	if _, err := svc.EnqueueCycle(ctx, "", "auto"); core.TagOf(err) != core.TagUsage {
		t.Fatalf("empty conversation id must be a usage error, got %v", err)
	}
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 1)
	if err != nil || msgs != nil {
		t.Fatalf("expected empty receive, got %v (%v)", msgs, err)
	}
	if time.Since(start) < 500*time.Millisecond {
		t.Fatal("receive returned before the wait elapsed")
	}
}

func newFeedbackStore(t *testing.T) *FeedbackStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFeedbackStore(client, time.Hour)
}

func TestFeedbackRecordAndGet(t *testing.T) {
	ctx := context.Background()
	fs := newFeedbackStore(t)

	fb, err := fs.Record(ctx, "trace-1", OutcomeSent, "delivered at 10:02")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if fb.Outcome != OutcomeSent || fb.Reports != 1 {
		t.Fatalf("feedback wrong: %+v", fb)
	}

	got, err := fs.Get(ctx, "trace-1")
	if err != nil || got == nil || got.Detail != "delivered at 10:02" {
		t.Fatalf("get wrong: %+v (%v)", got, err)
	}
}

func TestFeedbackToleratesOutOfOrderReports(t *testing.T) {
	ctx := context.Background()
	fs := newFeedbackStore(t)

	// A failure report lands after a retry already succeeded. The newest
	// report wins, but the count shows there was churn.
	if _, err := fs.Record(ctx, "trace-1", OutcomeSent, ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	fb, err := fs.Record(ctx, "trace-1", OutcomeFailed, "late retry report")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if fb.Outcome != OutcomeFailed || fb.Reports != 2 {
		t.Fatalf("out-of-order handling wrong: %+v", fb)
	}

	// Unknown trace ids are recorded, not rejected.
	if _, err := fs.Record(ctx, "never-minted", OutcomeRejected, ""); err != nil {
		t.Fatalf("unknown trace: %v", err)
	}
}

func TestFeedbackRejectsInvalidOutcome(t *testing.T) {
	ctx := context.Background()
	fs := newFeedbackStore(t)

	_, err := fs.Record(ctx, "trace-1", "exploded", "")
	if !errors.Is(err, core.ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
	if core.TagOf(err) != core.TagUsage {
		t.Fatalf("expected usage tag, got %v", core.TagOf(err))
	}

	if _, err := fs.Record(ctx, "", OutcomeSent, ""); core.TagOf(err) != core.TagUsage {
		t.Fatalf("empty trace id must be a usage error, got %v", err)
	}

	if got, err := fs.Get(ctx, "trace-1"); err != nil || got != nil {
		t.Fatalf("rejected report must not be stored: %+v (%v)", got, err)
	}
}
