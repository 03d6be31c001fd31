package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Queue is the delivery transport the core hands work to. Implementations
// exist for SQS and an in-memory channel.
type Queue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one queued item as seen by a consumer.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// JobKind discriminates queued work.
type JobKind string

const (
	// JobDeliverActions carries an accepted action plan for the delivery
	// collaborator.
	JobDeliverActions JobKind = "deliver_actions"
	// JobRunCycle asks a worker to run one generation cycle.
	JobRunCycle JobKind = "run_cycle"
)

// Ticket marks one accepted suggestion as queued-for-delivery. The delivery
// collaborator reports back through the feedback store using the trace id.
type Ticket struct {
	TicketID       string    `json:"ticket_id"`
	ConversationID string    `json:"conversation_id"`
	SuggestionID   string    `json:"suggestion_id"`
	TraceID        string    `json:"trace_id"`
	Suggestion     string    `json:"suggestion,omitempty"`
	Actions        []any     `json:"actions"`
	QueuedAt       time.Time `json:"queued_at"`
}

// CycleJob asks for one generation cycle on a conversation.
type CycleJob struct {
	ConversationID string `json:"conversation_id"`
	Trigger        string `json:"trigger,omitempty"`
}

// Job is the queue envelope.
type Job struct {
	ID     string    `json:"id"`
	Kind   JobKind   `json:"kind"`
	Ticket *Ticket   `json:"ticket,omitempty"`
	Cycle  *CycleJob `json:"cycle,omitempty"`
}

func encodeJob(job Job) (Job, string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	body, err := json.Marshal(job)
	if err != nil {
		return Job{}, "", fmt.Errorf("handoff: encode job: %w", err)
	}
	return job, string(body), nil
}

// DecodeJob parses a queue message body back into a Job.
func DecodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("handoff: decode job: %w", err)
	}
	if job.Kind == "" {
		return Job{}, fmt.Errorf("handoff: decode job: missing kind")
	}
	return job, nil
}
