package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/dedupe"
	"github.com/baitlab/scambaiter/internal/profile"
	"github.com/baitlab/scambaiter/internal/store"
)

func forwardEvent(text string, originID, chatID int64) core.Event {
	return core.Event{
		Type:      core.EventForward,
		Role:      core.RoleScammer,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Meta: map[string]any{
			dedupe.MetaOriginKind:      "MessageOriginChannel",
			dedupe.MetaOriginMessageID: originID,
			dedupe.MetaSenderChat:      map[string]any{"id": chatID},
		},
	}
}

func TestIngestEventStatuses(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	ing := NewIngestor(s)

	ev := core.Event{
		Type: core.EventMessage, Role: core.RoleScammer,
		Text: "hello", SourceMessageID: "src-1",
		Timestamp: time.Now().UTC(),
	}
	status, seq, err := ing.IngestEvent(ctx, "chat-1", ev)
	if err != nil || status != StatusAppended || seq != 1 {
		t.Fatalf("first ingest wrong: %v %v %d", status, err, seq)
	}

	status, _, err = ing.IngestEvent(ctx, "chat-1", ev)
	if err != nil || status != StatusSkippedDuplicate {
		t.Fatalf("duplicate should be skipped, got %v (%v)", status, err)
	}

	_, _, err = ing.IngestEvent(ctx, "chat-1", core.Event{Type: "bogus", Role: core.RoleScammer})
	if !errors.Is(err, core.ErrMalformedEvent) {
		t.Fatalf("malformed must error, got %v", err)
	}
}

func TestForwardBatchIdempotence(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	ing := NewIngestor(s)

	batch := []core.Event{
		forwardEvent("m1", 101, 500),
		forwardEvent("m2", 102, 500),
		forwardEvent("m3", 103, 500),
	}

	res, err := ing.IngestForwardBatch(ctx, "chat-1", batch)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if res.AppendedCount != 3 || res.SkippedCount != 0 || res.Ambiguous {
		t.Fatalf("first batch result wrong: %+v", res)
	}

	events, _ := s.ListEvents(ctx, "chat-1", 0)
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("sequence wrong at %d: %d", i, ev.Seq)
		}
	}

	res, err = ing.IngestForwardBatch(ctx, "chat-1", batch)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if res.AppendedCount != 0 || res.SkippedCount != 3 {
		t.Fatalf("re-ingest must skip everything: %+v", res)
	}
}

func TestForwardBatchAppendsSuffix(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	ing := NewIngestor(s)

	if _, err := ing.IngestForwardBatch(ctx, "chat-1", []core.Event{
		forwardEvent("m1", 101, 500),
		forwardEvent("m2", 102, 500),
	}); err != nil {
		t.Fatalf("seed batch: %v", err)
	}

	res, err := ing.IngestForwardBatch(ctx, "chat-1", []core.Event{
		forwardEvent("m1", 101, 500),
		forwardEvent("m2", 102, 500),
		forwardEvent("m3", 103, 500),
		forwardEvent("m4", 104, 500),
	})
	if err != nil {
		t.Fatalf("extended batch: %v", err)
	}
	if res.AppendedCount != 2 || res.SkippedCount != 2 || res.Ambiguous {
		t.Fatalf("extended batch result wrong: %+v", res)
	}

	events, _ := s.ListEvents(ctx, "chat-1", 0)
	if len(events) != 4 || events[2].Text != "m3" || events[3].Text != "m4" {
		t.Fatalf("stored sequence wrong: %+v", events)
	}
}

func TestForwardBatchReportsAmbiguousOverlap(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	ing := NewIngestor(s)

	if _, err := ing.IngestForwardBatch(ctx, "chat-1", []core.Event{
		forwardEvent("m1", 101, 500),
		forwardEvent("m2", 102, 500),
		forwardEvent("m3", 103, 500),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Overlaps m1 (non-tail) and adds new content: conservative append,
	// but flagged for a human.
	res, err := ing.IngestForwardBatch(ctx, "chat-1", []core.Event{
		forwardEvent("m1", 101, 500),
		forwardEvent("x9", 199, 500),
	})
	if err != nil {
		t.Fatalf("overlap batch: %v", err)
	}
	if !res.Ambiguous {
		t.Fatalf("non-tail overlap must be ambiguous: %+v", res)
	}
	if res.AppendedCount != 1 {
		t.Fatalf("new content must still append: %+v", res)
	}
}

func TestForwardBatchMergesProfileObservations(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	ing := NewIngestor(s)

	ev := forwardEvent("hello", 101, 500)
	ev.Meta[dedupe.MetaSenderUser] = map[string]any{
		"id": int64(777), "first_name": "Sergey", "username": "fast_profit",
	}
	if _, err := ing.IngestForwardBatch(ctx, "chat-1", []core.Event{ev}); err != nil {
		t.Fatalf("batch: %v", err)
	}

	p, err := s.GetProfile(ctx, "chat-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.Identity[profile.FieldFirstName].String() != "Sergey" {
		t.Fatalf("first name not merged: %+v", p.Identity)
	}
	if p.Identity[profile.FieldUsername].Source != profile.SourceForward {
		t.Fatalf("provenance wrong: %+v", p.Identity[profile.FieldUsername])
	}
}

type stubCaptioner struct {
	calls   int
	caption string
	err     error
}

func (c *stubCaptioner) Caption(_ context.Context, _ []byte) (string, error) {
	c.calls++
	return c.caption, c.err
}

func TestIngestPhotoCachesCaptionByHash(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	vision := &stubCaptioner{caption: "a forged bank statement"}
	ing := NewIngestor(s, WithCaptioner(vision))

	image := []byte{0x01, 0x02, 0x03}
	photo := core.Event{Type: core.EventPhoto, Role: core.RoleScammer, Timestamp: time.Now().UTC()}

	if _, _, err := ing.IngestPhoto(ctx, "chat-1", photo, image); err != nil {
		t.Fatalf("first photo: %v", err)
	}
	if _, _, err := ing.IngestPhoto(ctx, "chat-2", photo, image); err != nil {
		t.Fatalf("second photo: %v", err)
	}
	if vision.calls != 1 {
		t.Fatalf("caption should be served from cache, calls=%d", vision.calls)
	}

	events, _ := s.ListEvents(ctx, "chat-2", 0)
	if len(events) != 1 || events[0].CaptionGenerated != "a forged bank statement" {
		t.Fatalf("caption not applied: %+v", events)
	}
}

func TestIngestPhotoCaptionFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore(nil)
	ing := NewIngestor(s, WithCaptioner(&stubCaptioner{err: errors.New("vision down")}))

	photo := core.Event{Type: core.EventPhoto, Role: core.RoleScammer, Timestamp: time.Now().UTC()}
	status, _, err := ing.IngestPhoto(ctx, "chat-1", photo, []byte{0xff})
	if err != nil || status != StatusAppended {
		t.Fatalf("photo must append without caption: %v %v", status, err)
	}

	if _, _, err := ing.IngestPhoto(ctx, "chat-1", core.Event{Type: core.EventMessage, Role: core.RoleScammer, Text: "x"}, nil); !errors.Is(err, core.ErrMalformedEvent) {
		t.Fatalf("non-photo must be rejected: %v", err)
	}
}
