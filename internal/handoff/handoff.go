package handoff

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// Store is the persistence surface the handoff service reads. The action plan
// rides on the analysis snapshot the cycle persisted with the suggestion.
type Store interface {
	AttemptBySuggestionID(ctx context.Context, suggestionID string) (*core.GenerationAttempt, error)
	LatestAnalysis(ctx context.Context, conversationID string) (*core.AnalysisRecord, error)
}

// Service marks accepted suggestions as queued-for-delivery and enqueues
// cycle-run jobs for workers. It never executes delivery itself.
type Service struct {
	store  Store
	queue  Queue
	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger attaches a logger.
func WithServiceLogger(l *logging.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a handoff service over the given store and queue.
func NewService(store Store, queue Queue, opts ...ServiceOption) *Service {
	if store == nil {
		panic("handoff: store cannot be nil")
	}
	if queue == nil {
		panic("handoff: queue cannot be nil")
	}
	s := &Service{
		store:  store,
		queue:  queue,
		logger: logging.Default(),
		tracer: otel.Tracer("scambaiter.internal.handoff"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueueActions resolves an accepted suggestion and enqueues its action plan
// for the delivery collaborator. Unknown ids fail with ErrUnknownSuggestion;
// so does an id whose plan has been superseded by a newer accepted cycle,
// since delivering a stale plan would contradict the current analysis.
func (s *Service) QueueActions(ctx context.Context, conversationID, suggestionID string) (*Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "handoff.queue_actions")
	defer span.End()
	span.SetAttributes(
		attribute.String("scambaiter.conversation_id", conversationID),
		attribute.String("scambaiter.suggestion_id", suggestionID),
	)

	attempt, err := s.store.AttemptBySuggestionID(ctx, suggestionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if conversationID != "" && attempt.ConversationID != conversationID {
		err := fmt.Errorf("handoff: %w: %s belongs to another conversation", core.ErrUnknownSuggestion, suggestionID)
		span.RecordError(err)
		return nil, err
	}

	latest, err := s.store.LatestAnalysis(ctx, attempt.ConversationID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("handoff: load action plan: %w", err)
	}
	if latest == nil || latest.Metadata["suggestion_id"] != suggestionID {
		err := fmt.Errorf("handoff: %w: %s superseded by a newer cycle", core.ErrUnknownSuggestion, suggestionID)
		span.RecordError(err)
		return nil, err
	}

	ticket := &Ticket{
		TicketID:       uuid.NewString(),
		ConversationID: attempt.ConversationID,
		SuggestionID:   suggestionID,
		TraceID:        attempt.TraceID,
		Suggestion:     attempt.Suggestion,
		Actions:        latest.Actions,
		QueuedAt:       s.now(),
	}
	_, body, err := encodeJob(Job{Kind: JobDeliverActions, Ticket: ticket})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.queue.Send(ctx, body); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.WithConversation(ticket.ConversationID).WithTrace(ticket.TraceID).
		Info("action plan queued",
			"ticket_id", ticket.TicketID,
			"suggestion_id", suggestionID,
			"actions", len(ticket.Actions))
	return ticket, nil
}

// EnqueueCycle queues a generation-cycle job for a worker to pick up.
func (s *Service) EnqueueCycle(ctx context.Context, conversationID, trigger string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "handoff.enqueue_cycle")
	defer span.End()

	if conversationID == "" {
		return "", fmt.Errorf("handoff: %w: conversation id required", core.ErrMalformedEvent)
	}
	job, body, err := encodeJob(Job{
		Kind:  JobRunCycle,
		Cycle: &CycleJob{ConversationID: conversationID, Trigger: trigger},
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if err := s.queue.Send(ctx, body); err != nil {
		span.RecordError(err)
		return "", err
	}
	return job.ID, nil
}
