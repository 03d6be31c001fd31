package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// Delivery outcomes the feedback interface accepts.
const (
	OutcomeSent     = "sent"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Feedback is one delivery report from the downstream collaborator,
// correlated by trace id.
type Feedback struct {
	TraceID    string    `json:"trace_id"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	Reports    int       `json:"reports"`
	RecordedAt time.Time `json:"recorded_at"`
}

// FeedbackStore records delivery feedback in redis. Feedback may arrive late,
// out of order, or for trace ids this process never minted; all of that is
// recorded rather than rejected, since correlation is the reader's problem.
type FeedbackStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewFeedbackStore creates a feedback store. ttl <= 0 falls back to 30 days.
func NewFeedbackStore(client *redis.Client, ttl time.Duration) *FeedbackStore {
	if client == nil {
		panic("handoff: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &FeedbackStore{
		client: client,
		ttl:    ttl,
		logger: logging.Default(),
		tracer: otel.Tracer("scambaiter.internal.handoff.feedback"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func feedbackKey(traceID string) string {
	return "feedback:" + traceID
}

// Record stores one delivery report. The newest report wins; earlier ones
// stay counted so out-of-order arrivals are visible.
func (f *FeedbackStore) Record(ctx context.Context, traceID, outcome, detail string) (*Feedback, error) {
	ctx, span := f.tracer.Start(ctx, "handoff.feedback_record")
	defer span.End()

	if traceID == "" {
		return nil, fmt.Errorf("handoff: %w: trace id required", core.ErrMalformedEvent)
	}
	switch outcome {
	case OutcomeSent, OutcomeRejected, OutcomeFailed:
	default:
		return nil, fmt.Errorf("handoff: %w: %q", core.ErrInvalidOutcome, outcome)
	}

	fb := Feedback{
		TraceID:    traceID,
		Outcome:    outcome,
		Detail:     detail,
		Reports:    1,
		RecordedAt: f.now(),
	}
	if prev, err := f.Get(ctx, traceID); err != nil {
		span.RecordError(err)
		return nil, err
	} else if prev != nil {
		fb.Reports = prev.Reports + 1
	}

	raw, err := json.Marshal(fb)
	if err != nil {
		return nil, fmt.Errorf("handoff: encode feedback: %w", err)
	}
	if err := f.client.Set(ctx, feedbackKey(traceID), raw, f.ttl).Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("handoff: store feedback: %w", err)
	}

	f.logger.WithTrace(traceID).Info("delivery feedback recorded",
		"outcome", outcome,
		"reports", fb.Reports)
	return &fb, nil
}

// Get returns the latest feedback for a trace id, or nil when none has
// arrived yet.
func (f *FeedbackStore) Get(ctx context.Context, traceID string) (*Feedback, error) {
	raw, err := f.client.Get(ctx, feedbackKey(traceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handoff: load feedback: %w", err)
	}
	var fb Feedback
	if err := json.Unmarshal(raw, &fb); err != nil {
		return nil, fmt.Errorf("handoff: decode feedback: %w", err)
	}
	return &fb, nil
}
