package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/baitlab/scambaiter/internal/core"
)

// AddDirective stores an operator directive for a conversation.
func (s *SQLStore) AddDirective(ctx context.Context, conversationID, text, scope string) (core.Directive, error) {
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
	if err := s.EnsureConversation(ctx, conversationID, ""); err != nil {
		return core.Directive{}, err
	}

	now := s.now()
	d := core.Directive{
		ConversationID: conversationID,
		Text:           text,
		Scope:          scope,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO directives (conversation_id, text, scope, active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, $4, $4)
		RETURNING id
	`, conversationID, text, scope, now).Scan(&d.ID)
	if err != nil {
		return core.Directive{}, fmt.Errorf("store: add directive: %w", err)
	}
	return d, nil
}

// ListDirectives returns directives for a conversation, newest last.
func (s *SQLStore) ListDirectives(ctx context.Context, conversationID string, activeOnly bool, limit int) ([]core.Directive, error) {
	query := `
		SELECT id, conversation_id, text, scope, active, created_at, updated_at
		FROM directives
		WHERE conversation_id = $1
	`
	if activeOnly {
		query += " AND active"
	}
	query += " ORDER BY id ASC"
	args := []any{conversationID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list directives: %w", err)
	}
	defer rows.Close()

	var out []core.Directive
	for rows.Next() {
		var d core.Directive
		if err := rows.Scan(&d.ID, &d.ConversationID, &d.Text, &d.Scope, &d.Active, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan directive: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeactivateDirective marks a directive inactive. Used for "once" directives
// after the model reports applying them.
func (s *SQLStore) DeactivateDirective(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE directives SET active = FALSE, updated_at = $1 WHERE id = $2`,
		s.now(), id)
	if err != nil {
		return fmt.Errorf("store: deactivate directive: %w", err)
	}
	return directiveAffected(res, id)
}

// DeleteDirective removes a directive entirely.
func (s *SQLStore) DeleteDirective(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM directives WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete directive: %w", err)
	}
	return directiveAffected(res, id)
}

func directiveAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: read directive result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: %w: directive %d", core.ErrUnknownConversation, id)
	}
	return nil
}
