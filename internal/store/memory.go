package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/profile"
)

// MemoryStore is an in-memory event store with the same behavior as
// SQLStore. It backs tests and embedded single-process deployments.
type MemoryStore struct {
	mu    sync.Mutex
	cache ProjectionCache
	now   func() time.Time

	conversations map[string]*memConversation
	analyses      []core.AnalysisRecord
	directives    []core.Directive
	attempts      []core.GenerationAttempt
	captions      map[string]string
	profiles      map[string]*profile.Profile

	nextAnalysisID  int64
	nextDirectiveID int64
	nextAttemptID   int64
}

type memConversation struct {
	id        string
	title     string
	lastSeq   int64
	updatedAt time.Time
	events    []core.Event
	sourceIDs map[string]bool
}

// NewMemoryStore creates an empty in-memory store. cache may be nil.
func NewMemoryStore(cache ProjectionCache) *MemoryStore {
	return &MemoryStore{
		cache:         cache,
		now:           func() time.Time { return time.Now().UTC() },
		conversations: map[string]*memConversation{},
		captions:      map[string]string{},
		profiles:      map[string]*profile.Profile{},
	}
}

func (m *MemoryStore) conversation(id string) *memConversation {
	c, ok := m.conversations[id]
	if !ok {
		c = &memConversation{id: id, sourceIDs: map[string]bool{}, updatedAt: m.now()}
		m.conversations[id] = c
	}
	return c
}

// EnsureConversation creates the conversation if needed.
func (m *MemoryStore) EnsureConversation(_ context.Context, conversationID, title string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("store: %w: empty conversation id", core.ErrMalformedEvent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conversation(conversationID)
	if title != "" {
		c.title = title
	}
	c.updatedAt = m.now()
	return nil
}

// AppendEvent assigns the next sequence number and stores the event.
func (m *MemoryStore) AppendEvent(ctx context.Context, conversationID string, ev core.Event) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	if strings.TrimSpace(conversationID) == "" {
		return 0, fmt.Errorf("store: %w: empty conversation id", core.ErrMalformedEvent)
	}

	m.mu.Lock()
	c := m.conversation(conversationID)
	if ev.SourceMessageID != "" && c.sourceIDs[ev.SourceMessageID] {
		m.mu.Unlock()
		return 0, fmt.Errorf("store: %w: %s", core.ErrDuplicateEvent, ev.SourceMessageID)
	}
	c.lastSeq++
	ev.Seq = c.lastSeq
	ev.ConversationID = conversationID
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now()
	}
	if ev.SourceMessageID != "" {
		c.sourceIDs[ev.SourceMessageID] = true
	}
	c.events = append(c.events, ev)
	c.updatedAt = m.now()
	seq := ev.Seq
	m.mu.Unlock()

	if m.cache != nil && ev.IsContent() {
		_ = m.cache.Invalidate(ctx, conversationID)
	}
	return seq, nil
}

// ListEvents returns events after sinceSeq in sequence order.
func (m *MemoryStore) ListEvents(_ context.Context, conversationID string, sinceSeq int64) ([]core.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	var out []core.Event
	for _, ev := range c.events {
		if ev.Seq > sinceSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

// TailEvents returns the last limit events in sequence order.
func (m *MemoryStore) TailEvents(ctx context.Context, conversationID string, limit int) ([]core.Event, error) {
	events, err := m.ListEvents(ctx, conversationID, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// ListConversations returns the conversation directory, most recent first.
func (m *MemoryStore) ListConversations(_ context.Context) ([]ConversationInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ConversationInfo
	for _, c := range m.conversations {
		out = append(out, ConversationInfo{ID: c.id, Title: c.title, LastSeq: c.lastSeq, UpdatedAt: c.updatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// SaveAnalysis appends an analysis snapshot.
func (m *MemoryStore) SaveAnalysis(ctx context.Context, rec core.AnalysisRecord) (int64, error) {
	if err := m.EnsureConversation(ctx, rec.Chat, rec.Title); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAnalysisID++
	rec.ID = m.nextAnalysisID
	rec.CreatedAt = m.now()
	m.analyses = append(m.analyses, rec)
	return rec.ID, nil
}

// LatestAnalysis returns the newest analysis snapshot.
func (m *MemoryStore) LatestAnalysis(_ context.Context, conversationID string) (*core.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.analyses) - 1; i >= 0; i-- {
		if m.analyses[i].Chat == conversationID {
			rec := m.analyses[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("store: %w: %s", core.ErrUnknownConversation, conversationID)
}

// MergeLatestAnalysis overlays a partial analysis and saves the result.
func (m *MemoryStore) MergeLatestAnalysis(ctx context.Context, conversationID string, partial core.Analysis) (*core.AnalysisRecord, error) {
	previous, err := m.LatestAnalysis(ctx, conversationID)
	var base core.Analysis
	var title, suggestion string
	switch {
	case err == nil:
		base = previous.Analysis
		title = previous.Title
		suggestion = previous.Suggestion
	case isUnknownConversation(err):
	default:
		return nil, err
	}
	merged := core.MergeAnalysis(base, partial)
	rec := core.AnalysisRecord{Chat: conversationID, Title: title, Suggestion: suggestion, Analysis: merged}
	id, err := m.SaveAnalysis(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	rec.CreatedAt = m.now()
	return &rec, nil
}

// AddDirective stores an operator directive.
func (m *MemoryStore) AddDirective(ctx context.Context, conversationID, text, scope string) (core.Directive, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.Directive{}, fmt.Errorf("store: %w: empty directive text", core.ErrMalformedEvent)
	}
	switch scope {
	case core.DirectiveScopeSession, core.DirectiveScopeChat, core.DirectiveScopeOnce:
	case "":
		scope = core.DirectiveScopeSession
	default:
		return core.Directive{}, fmt.Errorf("store: %w: unknown directive scope %q", core.ErrMalformedEvent, scope)
	}
	if err := m.EnsureConversation(ctx, conversationID, ""); err != nil {
		return core.Directive{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDirectiveID++
	now := m.now()
	d := core.Directive{
		ID:             m.nextDirectiveID,
		ConversationID: conversationID,
		Text:           text,
		Scope:          scope,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.directives = append(m.directives, d)
	return d, nil
}

// ListDirectives returns directives for a conversation in insertion order.
func (m *MemoryStore) ListDirectives(_ context.Context, conversationID string, activeOnly bool, limit int) ([]core.Directive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.Directive
	for _, d := range m.directives {
		if d.ConversationID != conversationID {
			continue
		}
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// DeactivateDirective marks a directive inactive.
func (m *MemoryStore) DeactivateDirective(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.directives {
		if m.directives[i].ID == id {
			m.directives[i].Active = false
			m.directives[i].UpdatedAt = m.now()
			return nil
		}
	}
	return fmt.Errorf("store: %w: directive %d", core.ErrUnknownConversation, id)
}

// DeleteDirective removes a directive.
func (m *MemoryStore) DeleteDirective(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.directives {
		if m.directives[i].ID == id {
			m.directives = append(m.directives[:i], m.directives[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("store: %w: directive %d", core.ErrUnknownConversation, id)
}

// SaveAttempt records a generation attempt.
func (m *MemoryStore) SaveAttempt(ctx context.Context, a core.GenerationAttempt) (int64, error) {
	if err := m.EnsureConversation(ctx, a.ConversationID, a.Title); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAttemptID++
	a.ID = m.nextAttemptID
	a.CreatedAt = m.now()
	m.attempts = append(m.attempts, a)
	return a.ID, nil
}

// ListAttempts returns the newest attempts first.
func (m *MemoryStore) ListAttempts(_ context.Context, conversationID string, limit int) ([]core.GenerationAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.GenerationAttempt
	for i := len(m.attempts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.attempts[i].ConversationID == conversationID {
			out = append(out, m.attempts[i])
		}
	}
	return out, nil
}

// AttemptBySuggestionID resolves an accepted attempt by suggestion id.
func (m *MemoryStore) AttemptBySuggestionID(_ context.Context, suggestionID string) (*core.GenerationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.attempts) - 1; i >= 0; i-- {
		a := m.attempts[i]
		if a.SuggestionID == suggestionID && a.Accepted {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("store: %w: %s", core.ErrUnknownSuggestion, suggestionID)
}

// ImageCaption returns a cached caption.
func (m *MemoryStore) ImageCaption(_ context.Context, imageHash string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	caption, ok := m.captions[imageHash]
	return caption, ok, nil
}

// SetImageCaption caches a caption by image hash.
func (m *MemoryStore) SetImageCaption(_ context.Context, imageHash, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captions[imageHash] = caption
	return nil
}

// GetProfile returns the current profile snapshot.
func (m *MemoryStore) GetProfile(_ context.Context, conversationID string) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[conversationID]; ok {
		return p.Clone(), nil
	}
	return profile.New(conversationID), nil
}

// UpsertProfile merges a partial observation through the merge engine.
func (m *MemoryStore) UpsertProfile(ctx context.Context, conversationID string, patch profile.Patch, source profile.Source) (*profile.Profile, error) {
	if patch.IsEmpty() {
		return m.GetProfile(ctx, conversationID)
	}
	if err := m.EnsureConversation(ctx, conversationID, ""); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.profiles[conversationID]
	if !ok {
		existing = profile.New(conversationID)
	}
	merged := profile.Merge(existing, patch, source, m.now())
	merged.ConversationID = conversationID
	m.profiles[conversationID] = merged
	return merged.Clone(), nil
}
