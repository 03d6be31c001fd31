package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// ProjectionCache is notified whenever new conversational content lands, so
// cached prompt projections never serve stale history.
type ProjectionCache interface {
	Invalidate(ctx context.Context, conversationID string) error
}

// SQLStore persists the append-only event log and its side tables in
// PostgreSQL. It is the only component that mutates stored state; everything
// else reads through it.
type SQLStore struct {
	db     *sql.DB
	cache  ProjectionCache
	logger *logging.Logger
	now    func() time.Time
}

// NewSQLStore creates the Postgres-backed event store. cache may be nil.
func NewSQLStore(db *sql.DB, cache ProjectionCache, logger *logging.Logger) *SQLStore {
	if db == nil {
		panic("store: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SQLStore{db: db, cache: cache, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureConversation creates the conversation row if it does not exist and
// refreshes its title when one is supplied.
func (s *SQLStore) EnsureConversation(ctx context.Context, conversationID, title string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("store: %w: empty conversation id", core.ErrMalformedEvent)
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, last_seq, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (id) DO UPDATE SET
			title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE conversations.title END,
			updated_at = EXCLUDED.updated_at
	`, conversationID, title, now)
	if err != nil {
		return fmt.Errorf("store: ensure conversation: %w", err)
	}
	return nil
}

// AppendEvent assigns the next sequence number and persists the event.
// Writes are serialized per conversation through a row lock on last_seq; a
// duplicate identity key fails with ErrDuplicateEvent and writes nothing.
func (s *SQLStore) AppendEvent(ctx context.Context, conversationID string, ev core.Event) (int64, error) {
	if err := ev.Validate(); err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	if err := s.EnsureConversation(ctx, conversationID, ""); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin append: %w", err)
	}
	defer tx.Rollback()

	var lastSeq int64
	err = tx.QueryRowContext(ctx,
		`SELECT last_seq FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&lastSeq)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("store: %w: %s", core.ErrUnknownConversation, conversationID)
	}
	if err != nil {
		return 0, fmt.Errorf("store: lock conversation: %w", err)
	}

	if ev.SourceMessageID != "" {
		var exists int
		err = tx.QueryRowContext(ctx,
			`SELECT 1 FROM events WHERE conversation_id = $1 AND source_message_id = $2 LIMIT 1`,
			conversationID, ev.SourceMessageID,
		).Scan(&exists)
		if err == nil {
			return 0, fmt.Errorf("store: %w: %s", core.ErrDuplicateEvent, ev.SourceMessageID)
		}
		if err != sql.ErrNoRows {
			return 0, fmt.Errorf("store: check duplicate: %w", err)
		}
	}

	seq := lastSeq + 1
	eventID := ev.ID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	meta, err := marshalMeta(ev.Meta)
	if err != nil {
		return 0, fmt.Errorf("store: encode meta: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (
			id, conversation_id, seq, event_type, role, ts,
			text, caption_original, caption_generated, duration_seconds,
			source_message_id, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, eventID, conversationID, seq, string(ev.Type), string(ev.Role), ts.UTC(),
		nullString(ev.Text), nullString(ev.CaptionOriginal), nullString(ev.CaptionGenerated),
		ev.DurationSeconds, nullString(ev.SourceMessageID), meta, s.now())
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("store: %w: %s", core.ErrDuplicateEvent, ev.SourceMessageID)
		}
		return 0, fmt.Errorf("store: insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET last_seq = $1, updated_at = $2 WHERE id = $3`,
		seq, s.now(), conversationID)
	if err != nil {
		return 0, fmt.Errorf("store: advance sequence: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit append: %w", err)
	}

	if s.cache != nil && ev.IsContent() {
		if err := s.cache.Invalidate(ctx, conversationID); err != nil {
			s.logger.Warn("prompt cache invalidation failed",
				"conversation_id", conversationID, "error", err)
		}
	}
	return seq, nil
}

// ListEvents returns events in ascending sequence order, optionally starting
// after sinceSeq. Wall-clock order is never consulted.
func (s *SQLStore) ListEvents(ctx context.Context, conversationID string, sinceSeq int64) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, seq, event_type, role, ts,
			   COALESCE(text, ''), COALESCE(caption_original, ''), COALESCE(caption_generated, ''),
			   duration_seconds, COALESCE(source_message_id, ''), meta
		FROM events
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq ASC
	`, conversationID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// TailEvents returns the last limit events in ascending sequence order.
func (s *SQLStore) TailEvents(ctx context.Context, conversationID string, limit int) ([]core.Event, error) {
	if limit <= 0 {
		return s.ListEvents(ctx, conversationID, 0)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, seq, event_type, role, ts,
			   COALESCE(text, ''), COALESCE(caption_original, ''), COALESCE(caption_generated, ''),
			   duration_seconds, COALESCE(source_message_id, ''), meta
		FROM (
			SELECT * FROM events
			WHERE conversation_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) tail
		ORDER BY seq ASC
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: tail events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListConversations returns known conversation ids with titles, most recently
// updated first.
func (s *SQLStore) ListConversations(ctx context.Context) ([]ConversationInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(title, ''), last_seq, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationInfo
	for rows.Next() {
		var info ConversationInfo
		if err := rows.Scan(&info.ID, &info.Title, &info.LastSeq, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// ConversationInfo is a conversation directory entry.
type ConversationInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	LastSeq   int64     `json:"last_seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

func scanEvents(rows *sql.Rows) ([]core.Event, error) {
	var out []core.Event
	for rows.Next() {
		var ev core.Event
		var metaRaw []byte
		err := rows.Scan(
			&ev.ID, &ev.ConversationID, &ev.Seq, &ev.Type, &ev.Role, &ev.Timestamp,
			&ev.Text, &ev.CaptionOriginal, &ev.CaptionGenerated,
			&ev.DurationSeconds, &ev.SourceMessageID, &metaRaw,
		)
		if err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &ev.Meta); err != nil {
				return nil, fmt.Errorf("store: decode meta: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return json.Marshal(meta)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
