package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/baitlab/scambaiter/internal/profile"
)

// GetProfile returns the current profile snapshot for a conversation. A
// conversation without observations gets an empty profile, not an error.
func (s *SQLStore) GetProfile(ctx context.Context, conversationID string) (*profile.Profile, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM profiles WHERE conversation_id = $1`,
		conversationID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return profile.New(conversationID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get profile: %w", err)
	}

	var p profile.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("store: decode profile: %w", err)
	}
	if p.ConversationID == "" {
		p.ConversationID = conversationID
	}
	ensureGroups(&p)
	return &p, nil
}

// UpsertProfile merges a partial observation into the stored snapshot using
// the priority rules of the merge engine and persists the result. All
// profile writes route through here so priority enforcement lives in one
// place.
func (s *SQLStore) UpsertProfile(ctx context.Context, conversationID string, patch profile.Patch, source profile.Source) (*profile.Profile, error) {
	if patch.IsEmpty() {
		return s.GetProfile(ctx, conversationID)
	}
	if err := s.EnsureConversation(ctx, conversationID, ""); err != nil {
		return nil, err
	}

	existing, err := s.GetProfile(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	existing.ConversationID = conversationID

	merged := profile.Merge(existing, patch, source, s.now())
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("store: encode profile: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (conversation_id, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = EXCLUDED.updated_at
	`, conversationID, raw, s.now())
	if err != nil {
		return nil, fmt.Errorf("store: upsert profile: %w", err)
	}
	return merged, nil
}

func ensureGroups(p *profile.Profile) {
	if p.Identity == nil {
		p.Identity = map[string]profile.Field{}
	}
	if p.Account == nil {
		p.Account = map[string]profile.Field{}
	}
	if p.Presence == nil {
		p.Presence = map[string]profile.Field{}
	}
	if p.Media == nil {
		p.Media = map[string]profile.Field{}
	}
}
