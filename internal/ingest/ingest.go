package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/dedupe"
	"github.com/baitlab/scambaiter/internal/profile"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// EventStatus is what a single-event ingest reports back.
type EventStatus string

const (
	StatusAppended         EventStatus = "appended"
	StatusSkippedDuplicate EventStatus = "skipped_duplicate"
)

// Store is the persistence surface the ingestor writes through. Profile
// observations route through the store's merge API so priority rules are
// enforced in one place.
type Store interface {
	AppendEvent(ctx context.Context, conversationID string, ev core.Event) (int64, error)
	ListEvents(ctx context.Context, conversationID string, sinceSeq int64) ([]core.Event, error)
	UpsertProfile(ctx context.Context, conversationID string, patch profile.Patch, source profile.Source) (*profile.Profile, error)
	ImageCaption(ctx context.Context, imageHash string) (string, bool, error)
	SetImageCaption(ctx context.Context, imageHash, caption string) error
}

// Captioner describes images. The vision layer provides one.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// Ingestor feeds transport events into the event store: single live events,
// deduplicated forward batches, and photos with vision captions.
type Ingestor struct {
	store     Store
	captioner Captioner
	logger    *logging.Logger
	tracer    trace.Tracer
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithCaptioner enables vision captions for photo events.
func WithCaptioner(c Captioner) Option {
	return func(i *Ingestor) { i.captioner = c }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

// NewIngestor creates an ingestor over the given store.
func NewIngestor(store Store, opts ...Option) *Ingestor {
	if store == nil {
		panic("ingest: store cannot be nil")
	}
	i := &Ingestor{
		store:  store,
		logger: logging.Default(),
		tracer: otel.Tracer("scambaiter.internal.ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IngestEvent appends one live event. Duplicates are a no-op reported as
// skipped, never an error surfaced to the transport.
func (i *Ingestor) IngestEvent(ctx context.Context, conversationID string, ev core.Event) (EventStatus, int64, error) {
	ctx, span := i.tracer.Start(ctx, "ingest.event")
	defer span.End()

	seq, err := i.store.AppendEvent(ctx, conversationID, ev)
	if errors.Is(err, core.ErrDuplicateEvent) {
		return StatusSkippedDuplicate, 0, nil
	}
	if err != nil {
		span.RecordError(err)
		return "", 0, err
	}
	return StatusAppended, seq, nil
}

// IngestPhoto appends a photo event, describing the image through the vision
// layer first. Captions are cached by content hash; a failed caption never
// blocks the append.
func (i *Ingestor) IngestPhoto(ctx context.Context, conversationID string, ev core.Event, image []byte) (EventStatus, int64, error) {
	ctx, span := i.tracer.Start(ctx, "ingest.photo")
	defer span.End()

	if ev.Type != core.EventPhoto {
		return "", 0, fmt.Errorf("ingest: %w: expected photo event, got %s", core.ErrMalformedEvent, ev.Type)
	}

	if len(image) > 0 && ev.CaptionGenerated == "" {
		hash := sha256Hex(image)
		if cached, ok, err := i.store.ImageCaption(ctx, hash); err == nil && ok {
			ev.CaptionGenerated = cached
		} else if i.captioner != nil {
			caption, err := i.captioner.Caption(ctx, image)
			if err != nil {
				i.logger.WithConversation(conversationID).Warn("image caption failed", "error", err)
			} else {
				ev.CaptionGenerated = caption
				if err := i.store.SetImageCaption(ctx, hash, caption); err != nil {
					i.logger.WithConversation(conversationID).Warn("caption cache write failed", "error", err)
				}
			}
		}
	}
	return i.IngestEvent(ctx, conversationID, ev)
}

// BatchResult summarizes one forward-batch ingest.
type BatchResult struct {
	AppendedCount int    `json:"appended_count"`
	SkippedCount  int    `json:"skipped_count"`
	Ambiguous     bool   `json:"ambiguous,omitempty"`
	Mode          string `json:"mode"`
	Reason        string `json:"reason,omitempty"`
}

// IngestForwardBatch deduplicates an ordered forward batch against the stored
// log and appends whatever is new, in batch order. Non-tail overlaps are
// still appended (conservative default) but reported as ambiguous so an
// operator can review. Profile observations riding on the batch are merged
// with forward-source priority.
func (i *Ingestor) IngestForwardBatch(ctx context.Context, conversationID string, batch []core.Event) (BatchResult, error) {
	ctx, span := i.tracer.Start(ctx, "ingest.forward_batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("scambaiter.conversation_id", conversationID),
		attribute.Int("scambaiter.batch_size", len(batch)),
	)

	stamped := make([]core.Event, 0, len(batch))
	for _, ev := range batch {
		if dedupe.IdentityKeyOf(ev) == "" {
			if id := dedupe.ResolveIdentity(ev); id.Key != "" {
				ev = dedupe.StampIdentity(ev, id)
			}
		}
		stamped = append(stamped, ev)
	}

	existing, err := i.store.ListEvents(ctx, conversationID, 0)
	if err != nil {
		span.RecordError(err)
		return BatchResult{}, fmt.Errorf("ingest: load history: %w", err)
	}

	plan := dedupe.PlanBatch(existing, stamped)
	result := BatchResult{
		SkippedCount: plan.Skipped,
		Ambiguous:    plan.Ambiguous,
		Mode:         string(plan.Mode),
		Reason:       plan.Reason,
	}

	for _, ev := range plan.ToAppend {
		if _, err := i.store.AppendEvent(ctx, conversationID, ev); err != nil {
			if errors.Is(err, core.ErrDuplicateEvent) {
				result.SkippedCount++
				continue
			}
			span.RecordError(err)
			return result, fmt.Errorf("ingest: append forward event: %w", err)
		}
		result.AppendedCount++
	}

	if patch := profilePatchFromBatch(stamped); !patch.IsEmpty() {
		if _, err := i.store.UpsertProfile(ctx, conversationID, patch, profile.SourceForward); err != nil {
			i.logger.WithConversation(conversationID).Warn("forward profile merge failed", "error", err)
		}
	}

	if result.Ambiguous {
		i.logger.WithConversation(conversationID).Warn("forward batch overlap is ambiguous",
			"appended", result.AppendedCount,
			"skipped", result.SkippedCount,
			"reason", result.Reason)
	}
	return result, nil
}

// profilePatchFromBatch lifts counterparty observations off forwarded events.
// Later events win within one batch; priority against stored values is
// decided by the merge engine.
func profilePatchFromBatch(batch []core.Event) profile.Patch {
	identity := map[string]any{}
	for _, ev := range batch {
		if ev.Role != core.RoleScammer || ev.Meta == nil {
			continue
		}
		if sender, ok := ev.Meta[dedupe.MetaSenderUser].(map[string]any); ok {
			copyPresent(identity, sender, "id", profile.FieldUserID)
			copyPresent(identity, sender, "first_name", profile.FieldFirstName)
			copyPresent(identity, sender, "last_name", profile.FieldLastName)
			copyPresent(identity, sender, "username", profile.FieldUsername)
			copyPresent(identity, sender, "phone", profile.FieldPhone)
		}
		if name := ev.MetaString(dedupe.MetaSenderUserName); name != "" {
			identity[profile.FieldDisplayName] = name
		}
	}
	if len(identity) == 0 {
		return profile.Patch{}
	}
	return profile.Patch{Identity: identity}
}

func copyPresent(dst map[string]any, src map[string]any, from, to string) {
	if v, ok := src[from]; ok && v != nil {
		dst[to] = v
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
