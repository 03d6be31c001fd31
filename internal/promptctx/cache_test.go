package promptctx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/store"
)

func newTestCache(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, time.Hour)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)

	if got, err := cache.Get(ctx, "chat-1"); err != nil || got != nil {
		t.Fatalf("expected miss, got %+v (%v)", got, err)
	}

	proj := &Projection{
		Lines:       []Line{{Seq: 1, Time: "09:00", Role: "scammer", Text: "hello"}},
		Escalations: []string{"escalation noted: urgency"},
	}
	if err := cache.Put(ctx, "chat-1", proj); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := cache.Get(ctx, "chat-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || len(got.Lines) != 1 || got.Lines[0].Render() != "09:00 scammer: hello" {
		t.Fatalf("roundtrip wrong: %+v", got)
	}
	if len(got.Escalations) != 1 {
		t.Fatalf("escalations lost: %+v", got)
	}

	if err := cache.Invalidate(ctx, "chat-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if got, err := cache.Get(ctx, "chat-1"); err != nil || got != nil {
		t.Fatalf("expected miss after invalidate, got %+v (%v)", got, err)
	}
}

func TestAppendInvalidatesCachedProjection(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	s := store.NewMemoryStore(cache)
	b := NewBuilder(s, WithCache(cache))

	if _, err := s.AppendEvent(ctx, "chat-1", core.Event{
		Type: core.EventMessage, Role: core.RoleScammer, Text: "first",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	payload, err := b.Build(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(payload.History) != 1 {
		t.Fatalf("expected 1 line, got %d", len(payload.History))
	}

	// The append drops the cached projection, so the next build sees the
	// new event instead of a stale snapshot.
	if _, err := s.AppendEvent(ctx, "chat-1", core.Event{
		Type: core.EventMessage, Role: core.RoleScammer, Text: "second",
		Timestamp: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("append second: %v", err)
	}

	payload, err = b.Build(ctx, "chat-1", 0)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(payload.History) != 2 || payload.History[1].Text != "second" {
		t.Fatalf("stale projection served: %+v", payload.History)
	}
}
