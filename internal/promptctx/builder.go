package promptctx

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/profile"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// Source is what the builder reads from the store. Both the SQL and the
// in-memory store satisfy it.
type Source interface {
	ListEvents(ctx context.Context, conversationID string, sinceSeq int64) ([]core.Event, error)
	LatestAnalysis(ctx context.Context, conversationID string) (*core.AnalysisRecord, error)
	ListDirectives(ctx context.Context, conversationID string, activeOnly bool, limit int) ([]core.Directive, error)
	GetProfile(ctx context.Context, conversationID string) (*profile.Profile, error)
}

// ProjectionCache holds the rendered, budget-independent projection of a
// conversation so repeated builds do not re-render the full history. Get
// returns nil on a miss.
type ProjectionCache interface {
	Get(ctx context.Context, conversationID string) (*Projection, error)
	Put(ctx context.Context, conversationID string, p *Projection) error
	Invalidate(ctx context.Context, conversationID string) error
}

// Projection is the cacheable part of a payload: every event rendered, plus
// escalation annotations lifted out of event metadata.
type Projection struct {
	Lines       []Line   `json:"lines"`
	Escalations []string `json:"escalations,omitempty"`
}

// Builder assembles the bounded prompt payload for a conversation.
type Builder struct {
	source  Source
	cache   ProjectionCache
	counter TokenCounter
	minTail int
	logger  *logging.Logger
	tracer  trace.Tracer
}

// Option configures a Builder.
type Option func(*Builder)

// WithCache attaches a projection cache.
func WithCache(cache ProjectionCache) Option {
	return func(b *Builder) { b.cache = cache }
}

// WithTokenCounter replaces the default character-quotient counter.
func WithTokenCounter(c TokenCounter) Option {
	return func(b *Builder) {
		if c != nil {
			b.counter = c
		}
	}
}

// WithMinTail sets how many trailing events must survive trimming.
func WithMinTail(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.minTail = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBuilder creates a prompt context builder backed by the given store.
func NewBuilder(source Source, opts ...Option) *Builder {
	if source == nil {
		panic("promptctx: source cannot be nil")
	}
	b := &Builder{
		source:  source,
		counter: CharCounter{},
		minTail: 2,
		logger:  logging.Default(),
		tracer:  otel.Tracer("scambaiter.internal.promptctx"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build projects the conversation into a payload that fits tokenBudget.
// Trimming is strictly oldest-first and whole-event: the returned history is
// always a contiguous suffix of the stored log. A budget of zero or less
// disables the budget check. When even the minimum tail does not fit, Build
// fails with ErrBudgetExceeded instead of truncating mid-event.
func (b *Builder) Build(ctx context.Context, conversationID string, tokenBudget int) (*Payload, error) {
	ctx, span := b.tracer.Start(ctx, "promptctx.build")
	defer span.End()

	proj, err := b.projection(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	payload := &Payload{
		ConversationID: conversationID,
		TotalEvents:    len(proj.Lines),
		TokenBudget:    tokenBudget,
	}

	if p, err := b.source.GetProfile(ctx, conversationID); err == nil {
		payload.ProfileSummary = profileSummary(p)
	} else {
		b.logger.Warn("prompt build: profile unavailable", "conversation_id", conversationID, "error", err)
	}

	analysis, err := b.source.LatestAnalysis(ctx, conversationID)
	switch {
	case err == nil:
		payload.MemoryLines = memoryLines(analysis.Analysis)
	case core.TagOf(err) == core.TagState:
		// No analysis yet.
	default:
		span.RecordError(err)
		return nil, err
	}
	payload.MemoryLines = append(payload.MemoryLines, proj.Escalations...)

	directives, err := b.source.ListDirectives(ctx, conversationID, true, 0)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	for _, d := range directives {
		payload.DirectiveLines = append(payload.DirectiveLines, d.Text)
	}

	fixed := b.fixedTokens(payload)
	lineCost := make([]int, len(proj.Lines))
	total := fixed
	for i, l := range proj.Lines {
		lineCost[i] = b.counter.Count(l.Render())
		total += lineCost[i]
	}

	lines := proj.Lines
	if tokenBudget > 0 {
		for total > tokenBudget && len(lines) > b.minTail {
			total -= lineCost[0]
			lineCost = lineCost[1:]
			lines = lines[1:]
		}
		if total > tokenBudget {
			return nil, fmt.Errorf("promptctx: %w: minimum tail of %d events needs %d tokens, budget is %d",
				core.ErrBudgetExceeded, len(lines), total, tokenBudget)
		}
	}

	payload.History = lines
	payload.TrimmedEvents = payload.TotalEvents - len(lines)
	payload.TokenEstimate = total
	if payload.TrimmedEvents > 0 {
		b.logger.Debug("prompt build trimmed history",
			"conversation_id", conversationID,
			"trimmed", payload.TrimmedEvents,
			"kept", len(lines))
	}
	return payload, nil
}

func (b *Builder) projection(ctx context.Context, conversationID string) (*Projection, error) {
	if b.cache != nil {
		cached, err := b.cache.Get(ctx, conversationID)
		if err != nil {
			b.logger.Warn("prompt projection cache read failed", "conversation_id", conversationID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	events, err := b.source.ListEvents(ctx, conversationID, 0)
	if err != nil {
		return nil, fmt.Errorf("promptctx: load history: %w", err)
	}

	proj := &Projection{Lines: make([]Line, 0, len(events))}
	for _, ev := range events {
		proj.Lines = append(proj.Lines, renderLine(ev))
		if note := ev.MetaString("escalation"); note != "" {
			proj.Escalations = append(proj.Escalations, "escalation noted: "+note)
		}
	}

	if b.cache != nil {
		if err := b.cache.Put(ctx, conversationID, proj); err != nil {
			b.logger.Warn("prompt projection cache write failed", "conversation_id", conversationID, "error", err)
		}
	}
	return proj, nil
}

func (b *Builder) fixedTokens(p *Payload) int {
	total := b.counter.Count(p.ProfileSummary)
	for _, l := range p.MemoryLines {
		total += b.counter.Count(l)
	}
	for _, l := range p.DirectiveLines {
		total += b.counter.Count(l)
	}
	return total
}

func profileSummary(p *profile.Profile) string {
	if p == nil {
		return ""
	}
	var parts []string
	if name := p.DisplayName(); name != "" {
		parts = append(parts, name)
	}
	if bio := strings.TrimSpace(p.Bio.String()); bio != "" {
		parts = append(parts, "bio: "+bio)
	}
	return strings.Join(parts, "; ")
}

// memoryLines summarizes the analysis snapshot as short prompt lines.
func memoryLines(a core.Analysis) []string {
	if len(a) == 0 {
		return nil
	}
	var out []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, label+": "+value)
		}
	}
	add("claimed identity", a.String(core.AnalysisClaimedIdentity))
	add("current intent", a.String(core.AnalysisCurrentIntent))
	add("summary", a.String(core.AnalysisNarrativeSummary))
	add("facts", strings.Join(a.Strings(core.AnalysisKeyFacts), "; "))
	add("risks", strings.Join(a.Strings(core.AnalysisRiskFlags), "; "))
	add("open questions", strings.Join(a.Strings(core.AnalysisOpenQuestions), "; "))
	add("next focus", a.String(core.AnalysisNextFocus))
	add("language", a.String(core.AnalysisLanguage))
	return out
}
