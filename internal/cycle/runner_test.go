package cycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/llm"
	"github.com/baitlab/scambaiter/internal/promptctx"
	"github.com/baitlab/scambaiter/internal/store"
)

const validOutput = `{
	"schema": "scambait.llm.v1",
	"analysis": {"current_intent": "crypto investment"},
	"message": {"text": ""},
	"actions": [
		{"type": "simulate_typing", "duration_seconds": 4},
		{"type": "send_message", "message": {"text": "Which exchange are you using?"}}
	]
}`

const invalidOutput = `{"schema": "scambait.llm.v1", "analysis": {}, "actions": [{"type": "noop"}]}`

type scriptedClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []llm.Request
	block     chan struct{}
}

func (c *scriptedClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.requests)
	c.requests = append(c.requests, req)
	if idx < len(c.errs) && c.errs[idx] != nil {
		return llm.Response{}, c.errs[idx]
	}
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return llm.Response{
		Text:  c.responses[idx],
		Usage: llm.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func newTestRunner(t *testing.T, client llm.Client) (*Runner, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(nil)
	builder := promptctx.NewBuilder(s)
	r := NewRunner(s, builder, client, WithModel("test-model"))
	return r, s
}

func seedConversation(t *testing.T, s *store.MemoryStore, id string) {
	t.Helper()
	for _, text := range []string{"hello dear", "i have an investment for you"} {
		if _, err := s.AppendEvent(context.Background(), id, core.Event{
			Type: core.EventMessage, Role: core.RoleScammer, Text: text,
			Timestamp: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestRunAcceptsFirstAttempt(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{responses: []string{validOutput}}
	r, s := newTestRunner(t, client)
	seedConversation(t, s, "chat-1")

	res, err := r.Run(ctx, "chat-1", "manual")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusAccepted || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Suggestion != "Which exchange are you using?" {
		t.Fatalf("suggestion wrong: %q", res.Suggestion)
	}
	if res.SuggestionID == "" || res.TraceID == "" {
		t.Fatalf("correlation tokens missing: %+v", res)
	}

	attempts, err := s.ListAttempts(ctx, "chat-1", 10)
	if err != nil || len(attempts) != 1 {
		t.Fatalf("expected 1 attempt record, got %d (%v)", len(attempts), err)
	}
	a := attempts[0]
	if !a.Accepted || a.Phase != core.PhaseInitial || a.TotalTokens != 150 {
		t.Fatalf("attempt record wrong: %+v", a)
	}

	latest, err := s.LatestAnalysis(ctx, "chat-1")
	if err != nil {
		t.Fatalf("latest analysis: %v", err)
	}
	if latest.Suggestion != res.Suggestion || latest.Analysis.String("current_intent") != "crypto investment" {
		t.Fatalf("analysis snapshot wrong: %+v", latest)
	}
	if latest.Metadata["trace_id"] != res.TraceID {
		t.Fatalf("trace id not recorded: %+v", latest.Metadata)
	}
}

func TestRunRepairsOnce(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{responses: []string{invalidOutput, validOutput}}
	r, s := newTestRunner(t, client)
	seedConversation(t, s, "chat-1")

	res, err := r.Run(ctx, "chat-1", "manual")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusAccepted || res.Attempts != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	attempts, _ := s.ListAttempts(ctx, "chat-1", 10)
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempt records, got %d", len(attempts))
	}
	// Newest first.
	if attempts[0].Phase != core.PhaseRepair || !attempts[0].Accepted {
		t.Fatalf("repair attempt wrong: %+v", attempts[0])
	}
	if attempts[1].Phase != core.PhaseInitial || attempts[1].Accepted || attempts[1].RejectReason == "" {
		t.Fatalf("initial attempt wrong: %+v", attempts[1])
	}

	// The second request is the corrective follow-up carrying the failure.
	second := client.requests[1]
	var sawFailed bool
	for _, m := range second.Messages {
		if strings.Contains(m.Content, "failed_generation") {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Fatal("repair request does not reference the failed output")
	}
}

func TestRunFailsAfterExhaustedRepair(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{responses: []string{"nonsense", "more nonsense"}}
	r, s := newTestRunner(t, client)
	seedConversation(t, s, "chat-1")

	res, err := r.Run(ctx, "chat-1", "manual")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusFailed || res.Attempts != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.RejectReason != "parse_failed" {
		t.Fatalf("reject reason wrong: %q", res.RejectReason)
	}

	attempts, _ := s.ListAttempts(ctx, "chat-1", 10)
	if len(attempts) != 2 {
		t.Fatalf("expected exactly 2 attempt records, got %d", len(attempts))
	}
	for _, a := range attempts {
		if a.Accepted {
			t.Fatalf("no attempt should be accepted: %+v", a)
		}
	}
}

func TestRunSingleCyclePerConversation(t *testing.T) {
	ctx := context.Background()
	block := make(chan struct{})
	client := &scriptedClient{responses: []string{validOutput}, block: block}
	r, s := newTestRunner(t, client)
	seedConversation(t, s, "chat-1")

	done := make(chan Result, 1)
	go func() {
		res, _ := r.Run(ctx, "chat-1", "auto")
		done <- res
	}()

	// Wait until the first cycle holds the slot.
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		held := r.active["chat-1"]
		r.mu.Unlock()
		if held {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first cycle never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	second, err := r.Run(ctx, "chat-1", "manual")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Status != StatusInFlight {
		t.Fatalf("expected in_flight, got %+v", second)
	}

	close(block)
	first := <-done
	if first.Status != StatusAccepted {
		t.Fatalf("first cycle should finish accepted: %+v", first)
	}
}

func TestRunRecordsTimeout(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{responses: []string{validOutput}, block: make(chan struct{})}
	r, s := newTestRunner(t, client)
	r.callTimeout = 20 * time.Millisecond
	seedConversation(t, s, "chat-1")

	res, err := r.Run(ctx, "chat-1", "auto")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != StatusFailed || res.RejectReason != "timeout" {
		t.Fatalf("expected timeout failure, got %+v", res)
	}
	attempts, _ := s.ListAttempts(ctx, "chat-1", 10)
	if len(attempts) != 1 || attempts[0].RejectReason != "timeout" {
		t.Fatalf("timeout attempt not recorded: %+v", attempts)
	}
}

func TestRunConsumesOnceDirectives(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{responses: []string{validOutput}}
	r, s := newTestRunner(t, client)
	seedConversation(t, s, "chat-1")

	once, err := s.AddDirective(ctx, "chat-1", "mention a cousin in Lagos", core.DirectiveScopeOnce)
	if err != nil {
		t.Fatalf("add once: %v", err)
	}
	keep, err := s.AddDirective(ctx, "chat-1", "answer only in German", core.DirectiveScopeChat)
	if err != nil {
		t.Fatalf("add chat: %v", err)
	}

	if _, err := r.Run(ctx, "chat-1", "manual"); err != nil {
		t.Fatalf("run: %v", err)
	}

	active, _ := s.ListDirectives(ctx, "chat-1", true, 10)
	if len(active) != 1 || active[0].ID != keep.ID {
		t.Fatalf("once directive not consumed: %+v", active)
	}
	all, _ := s.ListDirectives(ctx, "chat-1", false, 10)
	var found bool
	for _, d := range all {
		if d.ID == once.ID && !d.Active {
			found = true
		}
	}
	if !found {
		t.Fatal("once directive should remain recorded but inactive")
	}
}

func TestRunPromptCarriesDirectivesAndHistory(t *testing.T) {
	ctx := context.Background()
	client := &scriptedClient{responses: []string{validOutput}}
	r, s := newTestRunner(t, client)
	seedConversation(t, s, "chat-1")
	if _, err := s.AddDirective(ctx, "chat-1", "answer only in German", core.DirectiveScopeChat); err != nil {
		t.Fatalf("add directive: %v", err)
	}

	if _, err := r.Run(ctx, "chat-1", "manual"); err != nil {
		t.Fatalf("run: %v", err)
	}

	req := client.requests[0]
	if len(req.System) != 1 || !strings.Contains(req.System[0], "scambait.llm.v1") {
		t.Fatalf("system prompt missing contract: %v", req.System)
	}
	user := req.Messages[0].Content
	if !strings.Contains(user, "[OPERATOR_DIRECTIVES]") || !strings.Contains(user, "answer only in German") {
		t.Fatalf("directives missing from prompt: %q", user)
	}
	if !strings.Contains(user, "i have an investment for you") {
		t.Fatalf("history missing from prompt: %q", user)
	}
}
