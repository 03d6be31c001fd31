package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/profile"
)

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(_ context.Context, conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, conversationID)
	return nil
}

func messageEvent(text, sourceID string) core.Event {
	return core.Event{
		Type:            core.EventMessage,
		Role:            core.RoleScammer,
		Timestamp:       time.Now().UTC(),
		Text:            text,
		SourceMessageID: sourceID,
	}
}

func TestMemoryAppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	for i, text := range []string{"m1", "m2", "m3"} {
		seq, err := s.AppendEvent(ctx, "chat-1", messageEvent(text, ""))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != int64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, seq)
		}
	}

	events, err := s.ListEvents(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("order broken at %d: seq %d", i, ev.Seq)
		}
	}
}

func TestMemoryAppendDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	if _, err := s.AppendEvent(ctx, "chat-1", messageEvent("hello", "src-1")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err := s.AppendEvent(ctx, "chat-1", messageEvent("hello", "src-1"))
	if !errors.Is(err, core.ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}

	// Same source id in another conversation is fine.
	if _, err := s.AppendEvent(ctx, "chat-2", messageEvent("hello", "src-1")); err != nil {
		t.Fatalf("append to other conversation: %v", err)
	}
}

func TestMemoryAppendRejectsMalformed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	_, err := s.AppendEvent(ctx, "chat-1", core.Event{Type: "bogus", Role: core.RoleScammer})
	if !errors.Is(err, core.ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	events, _ := s.ListEvents(ctx, "chat-1", 0)
	if len(events) != 0 {
		t.Fatal("malformed event must not be stored")
	}
}

func TestMemoryAppendInvalidatesCacheForContentOnly(t *testing.T) {
	ctx := context.Background()
	cache := &recordingCache{}
	s := NewMemoryStore(cache)

	if _, err := s.AppendEvent(ctx, "chat-1", messageEvent("hello", "")); err != nil {
		t.Fatalf("append: %v", err)
	}
	typing := core.Event{Type: core.EventTypingInterval, Role: core.RoleScammer, DurationSeconds: 3}
	if _, err := s.AppendEvent(ctx, "chat-1", typing); err != nil {
		t.Fatalf("append typing: %v", err)
	}

	if len(cache.invalidated) != 1 || cache.invalidated[0] != "chat-1" {
		t.Fatalf("expected one invalidation for content event, got %v", cache.invalidated)
	}
}

func TestMemoryListEventsSince(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	for _, text := range []string{"m1", "m2", "m3", "m4"} {
		if _, err := s.AppendEvent(ctx, "chat-1", messageEvent(text, "")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	events, err := s.ListEvents(ctx, "chat-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 || events[0].Text != "m3" {
		t.Fatalf("since filter wrong: %+v", events)
	}

	tail, err := s.TailEvents(ctx, "chat-1", 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 2 || tail[0].Text != "m3" || tail[1].Text != "m4" {
		t.Fatalf("tail wrong: %+v", tail)
	}
}

func TestMemoryAnalysisMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	if _, err := s.SaveAnalysis(ctx, core.AnalysisRecord{
		Chat:     "chat-1",
		Analysis: core.Analysis{"language": "en", "current_intent": "romance"},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	merged, err := s.MergeLatestAnalysis(ctx, "chat-1", core.Analysis{"current_intent": "crypto"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.Analysis.String("language") != "en" || merged.Analysis.String("current_intent") != "crypto" {
		t.Fatalf("merge result wrong: %v", merged.Analysis)
	}

	latest, err := s.LatestAnalysis(ctx, "chat-1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.ID != merged.ID {
		t.Fatal("merged snapshot must become the latest")
	}
}

func TestMemoryDirectiveLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	d, err := s.AddDirective(ctx, "chat-1", "answer in German", core.DirectiveScopeOnce)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.AddDirective(ctx, "chat-1", "  ", ""); !errors.Is(err, core.ErrMalformedEvent) {
		t.Fatalf("empty text must be rejected, got %v", err)
	}

	active, err := s.ListDirectives(ctx, "chat-1", true, 10)
	if err != nil || len(active) != 1 {
		t.Fatalf("expected one active directive, got %v (%v)", active, err)
	}

	if err := s.DeactivateDirective(ctx, d.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, _ = s.ListDirectives(ctx, "chat-1", true, 10)
	if len(active) != 0 {
		t.Fatal("deactivated directive still listed as active")
	}

	if err := s.DeleteDirective(ctx, 9999); core.TagOf(err) != core.TagState {
		t.Fatalf("unknown directive should be a state error, got %v", err)
	}
}

func TestMemoryAttemptBySuggestion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	if _, err := s.SaveAttempt(ctx, core.GenerationAttempt{
		ConversationID: "chat-1", AttemptNo: 1, Phase: core.PhaseInitial,
		Accepted: false, RejectReason: "schema_invalid",
	}); err != nil {
		t.Fatalf("save rejected: %v", err)
	}
	if _, err := s.SaveAttempt(ctx, core.GenerationAttempt{
		ConversationID: "chat-1", AttemptNo: 2, Phase: core.PhaseRepair,
		Accepted: true, SuggestionID: "sugg-1", TraceID: "trace-1",
	}); err != nil {
		t.Fatalf("save accepted: %v", err)
	}

	got, err := s.AttemptBySuggestionID(ctx, "sugg-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Phase != core.PhaseRepair || got.TraceID != "trace-1" {
		t.Fatalf("wrong attempt: %+v", got)
	}

	if _, err := s.AttemptBySuggestionID(ctx, "missing"); !errors.Is(err, core.ErrUnknownSuggestion) {
		t.Fatalf("expected ErrUnknownSuggestion, got %v", err)
	}
}

func TestMemoryProfileRoutesThroughMergeEngine(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	bio := "trader"
	if _, err := s.UpsertProfile(ctx, "chat-1", profile.Patch{Bio: &bio}, profile.SourceLive); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	other := "other"
	merged, err := s.UpsertProfile(ctx, "chat-1", profile.Patch{Bio: &other}, profile.SourceForward)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if merged.Bio.String() != "trader" {
		t.Fatalf("priority rules not applied through store: %q", merged.Bio.String())
	}

	// Returned snapshots are copies.
	merged.Bio = profile.Field{Value: "mutated"}
	reread, _ := s.GetProfile(ctx, "chat-1")
	if reread.Bio.String() != "trader" {
		t.Fatal("store snapshot mutated through returned copy")
	}
}

func TestMemoryImageCaptionCache(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	if _, ok, _ := s.ImageCaption(ctx, "hash-1"); ok {
		t.Fatal("unexpected cache hit")
	}
	if err := s.SetImageCaption(ctx, "hash-1", "a fake trading screenshot"); err != nil {
		t.Fatalf("set: %v", err)
	}
	caption, ok, err := s.ImageCaption(ctx, "hash-1")
	if err != nil || !ok || caption != "a fake trading screenshot" {
		t.Fatalf("cache miss after set: %q %v %v", caption, ok, err)
	}
}
