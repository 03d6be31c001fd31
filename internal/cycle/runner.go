package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/baitlab/scambaiter/internal/contract"
	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/llm"
	"github.com/baitlab/scambaiter/internal/promptctx"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// Status is the terminal (or in-flight) state a run reports to the caller.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusFailed   Status = "failed"
	StatusInFlight Status = "in_flight"
)

// Reject reasons produced by the runner itself, on top of the validator's.
const (
	rejectTimeout    = "timeout"
	rejectCancelled  = "cancelled"
	rejectModelError = "model_error"
)

const maxRawExcerpt = 2000

// Result is what one run_cycle call returns.
type Result struct {
	Status         Status                 `json:"status"`
	ConversationID string                 `json:"conversation_id"`
	SuggestionID   string                 `json:"suggestion_id,omitempty"`
	TraceID        string                 `json:"trace_id,omitempty"`
	Suggestion     string                 `json:"suggestion,omitempty"`
	RejectReason   string                 `json:"reject_reason,omitempty"`
	Attempts       int                    `json:"attempts"`
	Output         *core.StructuredResult `json:"-"`
}

// Store is the persistence surface the runner needs.
type Store interface {
	SaveAttempt(ctx context.Context, a core.GenerationAttempt) (int64, error)
	SaveAnalysis(ctx context.Context, rec core.AnalysisRecord) (int64, error)
	LatestAnalysis(ctx context.Context, conversationID string) (*core.AnalysisRecord, error)
	ListDirectives(ctx context.Context, conversationID string, activeOnly bool, limit int) ([]core.Directive, error)
	DeactivateDirective(ctx context.Context, id int64) error
}

// PromptBuilder builds the bounded payload for a conversation.
type PromptBuilder interface {
	Build(ctx context.Context, conversationID string, tokenBudget int) (*promptctx.Payload, error)
}

// Metrics receives cycle outcomes. Implementations must tolerate being nil.
type Metrics interface {
	ObserveCycle(status string, attempts int)
}

// Runner drives one generation cycle per conversation: prompt build, model
// call, contract validation, a single bounded repair, attempt bookkeeping.
type Runner struct {
	store   Store
	builder PromptBuilder
	client  llm.Client

	model       string
	maxTokens   int
	tokenBudget int
	maxAttempts int
	callTimeout time.Duration

	metrics Metrics
	logger  *logging.Logger
	tracer  trace.Tracer
	now     func() time.Time

	mu     sync.Mutex
	active map[string]bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithModel sets the completion model id.
func WithModel(model string) RunnerOption {
	return func(r *Runner) { r.model = model }
}

// WithMaxTokens caps the completion size.
func WithMaxTokens(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// WithTokenBudget sets the prompt budget passed to the builder.
func WithTokenBudget(n int) RunnerOption {
	return func(r *Runner) { r.tokenBudget = n }
}

// WithMaxAttempts overrides the attempt ceiling (initial + repairs).
func WithMaxAttempts(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithCallTimeout bounds each model call.
func WithCallTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRunnerLogger attaches a logger.
func WithRunnerLogger(l *logging.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner wires a cycle runner. store, builder and client are required.
func NewRunner(store Store, builder PromptBuilder, client llm.Client, opts ...RunnerOption) *Runner {
	if store == nil {
		panic("cycle: store cannot be nil")
	}
	if builder == nil {
		panic("cycle: prompt builder cannot be nil")
	}
	if client == nil {
		panic("cycle: llm client cannot be nil")
	}
	r := &Runner{
		store:       store,
		builder:     builder,
		client:      client,
		maxTokens:   1500,
		maxAttempts: 2,
		callTimeout: 45 * time.Second,
		logger:      logging.Default(),
		tracer:      otel.Tracer("scambaiter.internal.cycle"),
		now:         func() time.Time { return time.Now().UTC() },
		active:      map[string]bool{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one generation cycle. A second concurrent call for the same
// conversation does not start a new cycle; it reports in_flight instead.
func (r *Runner) Run(ctx context.Context, conversationID, trigger string) (Result, error) {
	if conversationID == "" {
		return Result{}, fmt.Errorf("cycle: %w: empty conversation id", core.ErrMalformedEvent)
	}
	if !r.acquire(conversationID) {
		return Result{Status: StatusInFlight, ConversationID: conversationID}, nil
	}
	defer r.release(conversationID)

	ctx, span := r.tracer.Start(ctx, "cycle.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("scambaiter.conversation_id", conversationID),
		attribute.String("scambaiter.trigger", trigger),
	)
	logger := r.logger.WithConversation(conversationID)

	payload, err := r.builder.Build(ctx, conversationID, r.tokenBudget)
	if err != nil {
		span.RecordError(err)
		r.observe(string(StatusFailed), 0)
		return Result{}, fmt.Errorf("cycle: build prompt: %w", err)
	}

	messages := []llm.ChatMessage{{Role: llm.ChatRoleUser, Content: renderUserPrompt(payload)}}
	system := []string{SystemPrompt}

	result := Result{Status: StatusFailed, ConversationID: conversationID}
	for attemptNo := 1; attemptNo <= r.maxAttempts; attemptNo++ {
		phase := core.PhaseInitial
		if attemptNo > 1 {
			phase = core.PhaseRepair
		}
		result.Attempts = attemptNo

		resp, callErr := r.complete(ctx, system, messages)
		if callErr != nil {
			reason := callReason(ctx, callErr)
			r.saveAttempt(ctx, logger, core.GenerationAttempt{
				ConversationID: conversationID,
				Trigger:        trigger,
				AttemptNo:      attemptNo,
				Phase:          phase,
				RejectReason:   reason,
				Schema:         core.SchemaVersion,
			})
			span.RecordError(callErr)
			result.RejectReason = reason
			r.observe(string(StatusFailed), attemptNo)
			logger.Error("generation cycle failed at model call", "reason", reason, "error", callErr)
			return result, nil
		}

		validation := contract.Validate(resp.Text)
		attempt := core.GenerationAttempt{
			ConversationID:   conversationID,
			Trigger:          trigger,
			AttemptNo:        attemptNo,
			Phase:            phase,
			ParsedOK:         validation.RejectReason != contract.RejectParseFailed,
			Accepted:         validation.Accepted(),
			RejectReason:     validation.RejectReason,
			RawExcerpt:       clipExcerpt(resp.Text),
			Schema:           core.SchemaVersion,
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
			ReasoningTokens:  resp.Usage.ReasoningTokens,
		}

		if validation.Accepted() {
			output := validation.Output
			attempt.SuggestionID = uuid.NewString()
			attempt.TraceID = uuid.NewString()
			attempt.Suggestion = output.Suggestion()
			r.saveAttempt(ctx, logger, attempt)
			r.persistAnalysis(ctx, logger, conversationID, attempt, output)
			r.consumeOnceDirectives(ctx, logger, conversationID)

			result.Status = StatusAccepted
			result.SuggestionID = attempt.SuggestionID
			result.TraceID = attempt.TraceID
			result.Suggestion = attempt.Suggestion
			result.RejectReason = ""
			result.Output = output
			r.observe(string(StatusAccepted), attemptNo)
			return result, nil
		}

		r.saveAttempt(ctx, logger, attempt)
		result.RejectReason = validation.RejectReason
		logger.Warn("generation rejected",
			"attempt", attemptNo,
			"phase", string(phase),
			"reason", validation.RejectReason,
			"issues", validation.Issues.String())

		if attemptNo < r.maxAttempts {
			// Exactly one corrective follow-up referencing the violation.
			repair := contract.BuildRepairMessages(SystemPrompt, resp.Text, validation.RejectReason)
			system = nil
			messages = toLLMMessages(repair)
		}
	}

	r.observe(string(StatusFailed), result.Attempts)
	return result, nil
}

func (r *Runner) complete(ctx context.Context, system []string, messages []llm.ChatMessage) (llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	return r.client.Complete(callCtx, llm.Request{
		Model:     r.model,
		System:    system,
		Messages:  messages,
		MaxTokens: r.maxTokens,
	})
}

func (r *Runner) acquire(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[conversationID] {
		return false
	}
	r.active[conversationID] = true
	return true
}

func (r *Runner) release(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, conversationID)
}

func (r *Runner) saveAttempt(ctx context.Context, logger *logging.Logger, a core.GenerationAttempt) {
	if _, err := r.store.SaveAttempt(ctx, a); err != nil {
		logger.Error("failed to record generation attempt", "attempt", a.AttemptNo, "error", err)
	}
}

// persistAnalysis merges the model's analysis into the stored snapshot and
// records the accepted suggestion with its action plan.
func (r *Runner) persistAnalysis(ctx context.Context, logger *logging.Logger, conversationID string, attempt core.GenerationAttempt, output *core.StructuredResult) {
	var base core.Analysis
	var title string
	if previous, err := r.store.LatestAnalysis(ctx, conversationID); err == nil {
		base = previous.Analysis
		title = previous.Title
	} else if core.TagOf(err) != core.TagState {
		logger.Error("failed to load previous analysis", "error", err)
	}

	actions := make([]any, 0, len(output.Actions))
	for _, a := range core.EncodeActions(output.Actions) {
		actions = append(actions, a)
	}
	rec := core.AnalysisRecord{
		Chat:       conversationID,
		Title:      title,
		Suggestion: attempt.Suggestion,
		Analysis:   core.MergeAnalysis(base, output.Analysis),
		Actions:    actions,
		Metadata: map[string]any{
			"suggestion_id": attempt.SuggestionID,
			"trace_id":      attempt.TraceID,
			"schema":        core.SchemaVersion,
		},
	}
	if _, err := r.store.SaveAnalysis(ctx, rec); err != nil {
		logger.Error("failed to persist analysis snapshot", "error", err)
	}
}

// consumeOnceDirectives deactivates one-shot directives after they have
// influenced an accepted generation.
func (r *Runner) consumeOnceDirectives(ctx context.Context, logger *logging.Logger, conversationID string) {
	directives, err := r.store.ListDirectives(ctx, conversationID, true, 0)
	if err != nil {
		logger.Error("failed to list directives", "error", err)
		return
	}
	for _, d := range directives {
		if d.Scope != core.DirectiveScopeOnce {
			continue
		}
		if err := r.store.DeactivateDirective(ctx, d.ID); err != nil {
			logger.Error("failed to consume once directive", "directive_id", d.ID, "error", err)
		}
	}
}

func (r *Runner) observe(status string, attempts int) {
	if r.metrics != nil {
		r.metrics.ObserveCycle(status, attempts)
	}
}

func callReason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return rejectTimeout
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return rejectCancelled
	default:
		return rejectModelError
	}
}

func toLLMMessages(msgs []contract.ChatMessage) []llm.ChatMessage {
	out := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func clipExcerpt(s string) string {
	runes := []rune(s)
	if len(runes) <= maxRawExcerpt {
		return s
	}
	return string(runes[:maxRawExcerpt])
}
