package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/cycle"
	"github.com/baitlab/scambaiter/internal/handoff"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// CycleRunner drives one generation cycle. Satisfied by cycle.Runner.
type CycleRunner interface {
	Run(ctx context.Context, conversationID, trigger string) (cycle.Result, error)
}

// EscalationNotifier alerts an operator when an accepted cycle asks for a
// human.
type EscalationNotifier interface {
	NotifyEscalation(ctx context.Context, conversationID, reason string) error
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobs             JobUpdater
	escalations      EscalationNotifier
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the queue long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithJobUpdater enables job status persistence for operator polling.
func WithJobUpdater(jobs JobUpdater) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.jobs = jobs
	}
}

// WithEscalationNotifier wires an operator alert for accepted
// escalate_to_human actions.
func WithEscalationNotifier(n EscalationNotifier) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.escalations = n
	}
}

// Worker consumes cycle-run jobs from the queue and invokes the runner.
type Worker struct {
	runner      CycleRunner
	queue       handoff.Queue
	jobs        JobUpdater
	escalations EscalationNotifier
	logger      *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

// NewWorker constructs a queue consumer around the provided cycle runner.
func NewWorker(runner CycleRunner, queue handoff.Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if runner == nil {
		panic("worker: runner cannot be nil")
	}
	if queue == nil {
		panic("worker: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		runner:      runner,
		queue:       queue,
		jobs:        cfg.jobs,
		escalations: cfg.escalations,
		logger:      logger,
		cfg:         cfg,
	}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("cycle worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("cycle worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive cycle jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg handoff.Message) {
	job, err := handoff.DecodeJob(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode cycle job", "error", err)
		w.deleteMessage(context.Background(), msg.ReceiptHandle)
		return
	}

	switch job.Kind {
	case handoff.JobRunCycle:
		w.handleCycle(ctx, job)
	default:
		// Delivery jobs belong to the delivery collaborator's queue; seeing
		// one here is a wiring mistake, not retryable work.
		w.logger.Error("unexpected job kind on cycle queue", "job_id", job.ID, "kind", string(job.Kind))
	}

	w.deleteMessage(context.Background(), msg.ReceiptHandle)
}

func (w *Worker) handleCycle(ctx context.Context, job handoff.Job) {
	if job.Cycle == nil || job.Cycle.ConversationID == "" {
		w.logger.Error("cycle job missing conversation id", "job_id", job.ID)
		w.markFailed(ctx, job.ID, "missing conversation id")
		return
	}

	log := w.logger.WithConversation(job.Cycle.ConversationID)
	log.Info("worker running cycle", "job_id", job.ID, "trigger", job.Cycle.Trigger)

	res, err := w.runner.Run(ctx, job.Cycle.ConversationID, job.Cycle.Trigger)
	if err != nil {
		log.Error("cycle job failed", "error", err, "job_id", job.ID, "tag", string(core.TagOf(err)))
		w.markFailed(ctx, job.ID, err.Error())
		return
	}

	log.Info("cycle job processed",
		"job_id", job.ID,
		"status", string(res.Status),
		"attempts", res.Attempts)
	if w.jobs != nil {
		if storeErr := w.jobs.MarkCompleted(ctx, job.ID, res); storeErr != nil {
			log.Error("failed to update job status", "error", storeErr, "job_id", job.ID)
		}
	}

	w.notifyEscalations(ctx, res)
}

// notifyEscalations alerts the operator for every escalate_to_human action in
// an accepted result. Notification failures are logged, never retried: the
// action plan itself still carries the escalation.
func (w *Worker) notifyEscalations(ctx context.Context, res cycle.Result) {
	if w.escalations == nil || res.Status != cycle.StatusAccepted || res.Output == nil {
		return
	}
	for _, action := range res.Output.Actions {
		esc, ok := action.(core.EscalateToHuman)
		if !ok {
			continue
		}
		if err := w.escalations.NotifyEscalation(ctx, res.ConversationID, esc.Reason); err != nil {
			w.logger.WithConversation(res.ConversationID).WithTrace(res.TraceID).
				Error("escalation notification failed", "error", err)
		}
	}
}

func (w *Worker) markFailed(ctx context.Context, jobID, msg string) {
	if w.jobs == nil {
		return
	}
	if err := w.jobs.MarkFailed(ctx, jobID, msg); err != nil {
		w.logger.Error("failed to update job status", "error", err, "job_id", jobID)
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete cycle job", "error", err)
	}
}
