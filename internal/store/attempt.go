package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/baitlab/scambaiter/internal/core"
)

// SaveAttempt records one generation attempt for offline review.
func (s *SQLStore) SaveAttempt(ctx context.Context, a core.GenerationAttempt) (int64, error) {
	if err := s.EnsureConversation(ctx, a.ConversationID, a.Title); err != nil {
		return 0, err
	}
	flagsJSON, err := json.Marshal(a.HeuristicFlags)
	if err != nil {
		return 0, fmt.Errorf("store: encode heuristic flags: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO generation_attempts (
			created_at, conversation_id, title, trigger, attempt_no, phase,
			parsed_ok, accepted, reject_reason, heuristic_score, heuristic_flags_json,
			raw_excerpt, suggestion, schema,
			prompt_tokens, completion_tokens, total_tokens, reasoning_tokens,
			suggestion_id, trace_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id
	`, s.now(), a.ConversationID, a.Title, a.Trigger, a.AttemptNo, string(a.Phase),
		a.ParsedOK, a.Accepted, nullString(a.RejectReason), a.HeuristicScore, flagsJSON,
		nullString(a.RawExcerpt), nullString(a.Suggestion), nullString(a.Schema),
		a.PromptTokens, a.CompletionTokens, a.TotalTokens, a.ReasoningTokens,
		nullString(a.SuggestionID), nullString(a.TraceID)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: save attempt: %w", err)
	}
	return id, nil
}

const attemptColumns = `
	id, created_at, conversation_id, COALESCE(title, ''), COALESCE(trigger, ''),
	attempt_no, phase, parsed_ok, accepted, COALESCE(reject_reason, ''),
	heuristic_score, heuristic_flags_json,
	COALESCE(raw_excerpt, ''), COALESCE(suggestion, ''), COALESCE(schema, ''),
	prompt_tokens, completion_tokens, total_tokens, reasoning_tokens,
	COALESCE(suggestion_id, ''), COALESCE(trace_id, '')`

// ListAttempts returns the newest attempts for a conversation, newest first.
func (s *SQLStore) ListAttempts(ctx context.Context, conversationID string, limit int) ([]core.GenerationAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM generation_attempts
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list attempts: %w", err)
	}
	defer rows.Close()

	var out []core.GenerationAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttemptBySuggestionID resolves an accepted attempt by its minted
// suggestion id. Returns ErrUnknownSuggestion when no accepted attempt
// carries the id.
func (s *SQLStore) AttemptBySuggestionID(ctx context.Context, suggestionID string) (*core.GenerationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM generation_attempts
		WHERE suggestion_id = $1 AND accepted
		ORDER BY id DESC
		LIMIT 1
	`, suggestionID)
	if err != nil {
		return nil, fmt.Errorf("store: attempt by suggestion: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("store: attempt by suggestion: %w", err)
		}
		return nil, fmt.Errorf("store: %w: %s", core.ErrUnknownSuggestion, suggestionID)
	}
	a, err := scanAttempt(rows)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (core.GenerationAttempt, error) {
	var a core.GenerationAttempt
	var flagsRaw []byte
	err := row.Scan(
		&a.ID, &a.CreatedAt, &a.ConversationID, &a.Title, &a.Trigger,
		&a.AttemptNo, &a.Phase, &a.ParsedOK, &a.Accepted, &a.RejectReason,
		&a.HeuristicScore, &flagsRaw,
		&a.RawExcerpt, &a.Suggestion, &a.Schema,
		&a.PromptTokens, &a.CompletionTokens, &a.TotalTokens, &a.ReasoningTokens,
		&a.SuggestionID, &a.TraceID,
	)
	if err != nil {
		return core.GenerationAttempt{}, fmt.Errorf("store: scan attempt: %w", err)
	}
	if len(flagsRaw) > 0 {
		if err := json.Unmarshal(flagsRaw, &a.HeuristicFlags); err != nil {
			return core.GenerationAttempt{}, fmt.Errorf("store: decode heuristic flags: %w", err)
		}
	}
	return a, nil
}
