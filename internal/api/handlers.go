// Package api exposes the control surface over HTTP: event ingest,
// prompt previews, analysis read/patch, generation cycles, delivery
// handoff, and feedback.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/cycle"
	"github.com/baitlab/scambaiter/internal/handoff"
	"github.com/baitlab/scambaiter/internal/ingest"
	"github.com/baitlab/scambaiter/internal/observability/metrics"
	"github.com/baitlab/scambaiter/internal/promptctx"
	"github.com/baitlab/scambaiter/internal/store"
	"github.com/baitlab/scambaiter/internal/worker"
	"github.com/baitlab/scambaiter/pkg/logging"
)

const (
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 500
	defaultDirectiveLimit = 100
)

// Store is the persistence surface the handlers read and write through.
type Store interface {
	ListEvents(ctx context.Context, conversationID string, sinceSeq int64) ([]core.Event, error)
	TailEvents(ctx context.Context, conversationID string, limit int) ([]core.Event, error)
	ListConversations(ctx context.Context) ([]store.ConversationInfo, error)
	LatestAnalysis(ctx context.Context, conversationID string) (*core.AnalysisRecord, error)
	MergeLatestAnalysis(ctx context.Context, conversationID string, partial core.Analysis) (*core.AnalysisRecord, error)
	AddDirective(ctx context.Context, conversationID, text, scope string) (core.Directive, error)
	ListDirectives(ctx context.Context, conversationID string, activeOnly bool, limit int) ([]core.Directive, error)
	DeleteDirective(ctx context.Context, id int64) error
}

// PromptBuilder renders the bounded prompt payload for previews.
type PromptBuilder interface {
	Build(ctx context.Context, conversationID string, tokenBudget int) (*promptctx.Payload, error)
}

// CycleRunner executes one generation cycle synchronously.
type CycleRunner interface {
	Run(ctx context.Context, conversationID, trigger string) (cycle.Result, error)
}

// CycleEnqueuer hands a cycle job to the background queue.
type CycleEnqueuer interface {
	EnqueueCycle(ctx context.Context, conversationID, trigger string) (string, error)
}

// ActionQueuer mints delivery tickets for accepted suggestions.
type ActionQueuer interface {
	QueueActions(ctx context.Context, conversationID, suggestionID string) (*handoff.Ticket, error)
}

// FeedbackRecorder stores delivery-outcome reports keyed by trace id.
type FeedbackRecorder interface {
	Record(ctx context.Context, traceID, outcome, detail string) (*handoff.Feedback, error)
	Get(ctx context.Context, traceID string) (*handoff.Feedback, error)
}

// JobReader records and looks up background job records for async cycle
// polling.
type JobReader interface {
	PutPending(ctx context.Context, job *worker.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*worker.JobRecord, error)
}

// Handler carries the wired collaborators for every route.
type Handler struct {
	ingestor *ingest.Ingestor
	store    Store
	prompts  PromptBuilder
	cycles   CycleRunner
	enqueuer CycleEnqueuer
	queuer   ActionQueuer
	feedback FeedbackRecorder
	jobs     JobReader
	metrics  *metrics.CoreMetrics
	logger   *logging.Logger
}

// Config wires a Handler. Ingestor, Store, Prompts, and Cycles are required;
// the rest degrade gracefully when absent.
type Config struct {
	Ingestor *ingest.Ingestor
	Store    Store
	Prompts  PromptBuilder
	Cycles   CycleRunner
	Enqueuer CycleEnqueuer
	Queuer   ActionQueuer
	Feedback FeedbackRecorder
	Jobs     JobReader
	Metrics  *metrics.CoreMetrics
	Logger   *logging.Logger
}

// NewHandler constructs the route handler set. Panics when a required
// collaborator is missing.
func NewHandler(cfg Config) *Handler {
	if cfg.Ingestor == nil {
		panic("api: ingestor cannot be nil")
	}
	if cfg.Store == nil {
		panic("api: store cannot be nil")
	}
	if cfg.Prompts == nil {
		panic("api: prompt builder cannot be nil")
	}
	if cfg.Cycles == nil {
		panic("api: cycle runner cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Handler{
		ingestor: cfg.Ingestor,
		store:    cfg.Store,
		prompts:  cfg.Prompts,
		cycles:   cfg.Cycles,
		enqueuer: cfg.Enqueuer,
		queuer:   cfg.Queuer,
		feedback: cfg.Feedback,
		jobs:     cfg.Jobs,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// PostEvent appends a single live event.
// POST /conversations/{conversationID}/events
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	var ev core.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.writeError(w, fmt.Errorf("api: decode event: %w: %v", core.ErrInvalidJSON, err))
		return
	}

	status, seq, err := h.ingestor.IngestEvent(r.Context(), conversationID, ev)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.ObserveEvent(string(status))

	code := http.StatusCreated
	if status == ingest.StatusSkippedDuplicate {
		code = http.StatusOK
	}
	h.writeJSON(w, code, map[string]any{
		"status": status,
		"seq":    seq,
	})
}

type forwardBatchRequest struct {
	Events []core.Event `json:"events"`
}

// PostForwardBatch ingests an ordered forward batch with suffix dedup.
// POST /conversations/{conversationID}/forward-batches
func (h *Handler) PostForwardBatch(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	var req forwardBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("api: decode batch: %w: %v", core.ErrInvalidJSON, err))
		return
	}

	result, err := h.ingestor.IngestForwardBatch(r.Context(), conversationID, req.Events)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.ObserveBatchSkipped(result.SkippedCount)
	h.writeJSON(w, http.StatusOK, result)
}

// GetPromptPreview renders the prompt payload without calling the model.
// GET /conversations/{conversationID}/prompt-preview?budget=N
func (h *Handler) GetPromptPreview(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	budget := 0
	if raw := r.URL.Query().Get("budget"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, fmt.Errorf("api: %w: budget must be a non-negative integer", core.ErrMalformedEvent))
			return
		}
		budget = parsed
	}

	payload, err := h.prompts.Build(r.Context(), conversationID, budget)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payload)
}

// GetAnalysis returns the latest persisted analysis snapshot.
// GET /conversations/{conversationID}/analysis
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	rec, err := h.store.LatestAnalysis(r.Context(), conversationID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// PatchAnalysis merges an operator-supplied partial analysis onto the latest
// snapshot. Malformed JSON is a usage error, never a partial write.
// PATCH /conversations/{conversationID}/analysis
func (h *Handler) PatchAnalysis(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	var partial core.Analysis
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		h.writeError(w, fmt.Errorf("api: decode analysis patch: %w: %v", core.ErrInvalidJSON, err))
		return
	}

	rec, err := h.store.MergeLatestAnalysis(r.Context(), conversationID, partial)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// GetHistory returns the newest events in replay order.
// GET /conversations/{conversationID}/history?limit=N
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, fmt.Errorf("api: %w: limit must be a positive integer", core.ErrMalformedEvent))
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	events, err := h.store.TailEvents(r.Context(), conversationID, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"events":          events,
		"count":           len(events),
	})
}

// GetConversations lists known conversations.
// GET /conversations
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.ListConversations(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"conversations": infos,
		"count":         len(infos),
	})
}

type runCycleRequest struct {
	Trigger string `json:"trigger,omitempty"`
	Async   bool   `json:"async,omitempty"`
}

// PostCycle runs one generation cycle. With {"async": true} the cycle is
// queued instead and the response carries a job id to poll.
// POST /conversations/{conversationID}/cycles
func (h *Handler) PostCycle(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	var req runCycleRequest
	// A bare POST runs a synchronous manual cycle.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, fmt.Errorf("api: decode cycle request: %w: %v", core.ErrInvalidJSON, err))
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	if req.Async {
		h.enqueueCycle(w, r, conversationID, trigger)
		return
	}

	result, err := h.cycles.Run(r.Context(), conversationID, trigger)
	if err != nil {
		h.writeError(w, err)
		return
	}
	code := http.StatusOK
	if result.Status == cycle.StatusInFlight {
		code = http.StatusConflict
	}
	h.writeJSON(w, code, result)
}

func (h *Handler) enqueueCycle(w http.ResponseWriter, r *http.Request, conversationID, trigger string) {
	if h.enqueuer == nil {
		h.writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error": "async cycles are not configured",
			"tag":   string(core.TagUsage),
		})
		return
	}

	jobID, err := h.enqueuer.EnqueueCycle(r.Context(), conversationID, trigger)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.jobs != nil {
		record := &worker.JobRecord{
			JobID:          jobID,
			ConversationID: conversationID,
			Trigger:        trigger,
		}
		if err := h.jobs.PutPending(r.Context(), record); err != nil {
			h.logger.WithConversation(conversationID).
				Warn("failed to record pending job", "job_id", jobID, "error", err)
		}
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":          jobID,
		"conversation_id": conversationID,
		"status":          "queued",
	})
}

// GetJob reports the state of a queued cycle job.
// GET /jobs/{jobID}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error": "async cycles are not configured",
			"tag":   string(core.TagUsage),
		})
		return
	}
	jobID := chi.URLParam(r, "jobID")
	record, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, worker.ErrJobNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]any{
				"error": fmt.Sprintf("job %q not found", jobID),
				"tag":   string(core.TagState),
			})
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

type queueActionsRequest struct {
	SuggestionID string `json:"suggestion_id"`
}

// PostQueueActions queues the accepted action plan behind a suggestion id.
// POST /conversations/{conversationID}/queue-actions
func (h *Handler) PostQueueActions(w http.ResponseWriter, r *http.Request) {
	if h.queuer == nil {
		h.writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error": "delivery handoff is not configured",
			"tag":   string(core.TagUsage),
		})
		return
	}
	conversationID := chi.URLParam(r, "conversationID")
	var req queueActionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("api: decode queue request: %w: %v", core.ErrInvalidJSON, err))
		return
	}
	if req.SuggestionID == "" {
		h.writeError(w, fmt.Errorf("api: %w: suggestion_id is required", core.ErrMalformedEvent))
		return
	}

	ticket, err := h.queuer.QueueActions(r.Context(), conversationID, req.SuggestionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.ObserveQueued()
	h.writeJSON(w, http.StatusAccepted, ticket)
}

type feedbackRequest struct {
	TraceID string `json:"trace_id"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// PostFeedback records a delivery-outcome report.
// POST /feedback
func (h *Handler) PostFeedback(w http.ResponseWriter, r *http.Request) {
	if h.feedback == nil {
		h.writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error": "feedback store is not configured",
			"tag":   string(core.TagUsage),
		})
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("api: decode feedback: %w: %v", core.ErrInvalidJSON, err))
		return
	}

	fb, err := h.feedback.Record(r.Context(), req.TraceID, req.Outcome, req.Detail)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.ObserveFeedback(fb.Outcome)
	h.writeJSON(w, http.StatusOK, fb)
}

// GetFeedback returns the latest feedback for a trace id.
// GET /feedback/{traceID}
func (h *Handler) GetFeedback(w http.ResponseWriter, r *http.Request) {
	if h.feedback == nil {
		h.writeJSON(w, http.StatusNotImplemented, map[string]any{
			"error": "feedback store is not configured",
			"tag":   string(core.TagUsage),
		})
		return
	}
	traceID := chi.URLParam(r, "traceID")
	fb, err := h.feedback.Get(r.Context(), traceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if fb == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]any{
			"error": fmt.Sprintf("no feedback recorded for trace %q", traceID),
			"tag":   string(core.TagState),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, fb)
}

type addDirectiveRequest struct {
	Text  string `json:"text"`
	Scope string `json:"scope,omitempty"`
}

// PostDirective records a standing operator instruction.
// POST /conversations/{conversationID}/directives
func (h *Handler) PostDirective(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	var req addDirectiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("api: decode directive: %w: %v", core.ErrInvalidJSON, err))
		return
	}
	scope := req.Scope
	if scope == "" {
		scope = core.DirectiveScopeChat
	}

	directive, err := h.store.AddDirective(r.Context(), conversationID, req.Text, scope)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, directive)
}

// GetDirectives lists directives, active ones by default.
// GET /conversations/{conversationID}/directives?all=true
func (h *Handler) GetDirectives(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	activeOnly := r.URL.Query().Get("all") != "true"

	directives, err := h.store.ListDirectives(r.Context(), conversationID, activeOnly, defaultDirectiveLimit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"directives": directives,
		"count":      len(directives),
	})
}

// DeleteDirective removes a directive by id.
// DELETE /conversations/{conversationID}/directives/{directiveID}
func (h *Handler) DeleteDirective(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "directiveID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, fmt.Errorf("api: %w: directive id must be a positive integer", core.ErrMalformedEvent))
		return
	}

	if err := h.store.DeleteDirective(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps the error taxonomy onto HTTP statuses: usage errors are the
// caller's fault (400), state errors are not-found or stale ids (404), and
// everything else is internal (500).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	tag := core.TagOf(err)
	status := http.StatusInternalServerError
	switch tag {
	case core.TagUsage:
		status = http.StatusBadRequest
	case core.TagState:
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"tag":   string(tag),
	})
}
