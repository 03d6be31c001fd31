package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/baitlab/scambaiter/internal/core"
)

// SaveAnalysis appends a new analysis snapshot for a conversation.
func (s *SQLStore) SaveAnalysis(ctx context.Context, rec core.AnalysisRecord) (int64, error) {
	if err := s.EnsureConversation(ctx, rec.Chat, rec.Title); err != nil {
		return 0, err
	}
	analysisJSON, err := json.Marshal(rec.Analysis)
	if err != nil {
		return 0, fmt.Errorf("store: encode analysis: %w", err)
	}
	actionsJSON, err := json.Marshal(rec.Actions)
	if err != nil {
		return 0, fmt.Errorf("store: encode actions: %w", err)
	}
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return 0, fmt.Errorf("store: encode metadata: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO analyses (conversation_id, title, suggestion, analysis, actions_json, metadata_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, rec.Chat, rec.Title, rec.Suggestion, analysisJSON, actionsJSON, metadataJSON, s.now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: save analysis: %w", err)
	}
	return id, nil
}

// LatestAnalysis returns the newest analysis snapshot for a conversation, or
// ErrUnknownConversation when none exists.
func (s *SQLStore) LatestAnalysis(ctx context.Context, conversationID string) (*core.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, conversation_id, COALESCE(title, ''), COALESCE(suggestion, ''),
			   analysis, actions_json, metadata_json
		FROM analyses
		WHERE conversation_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, conversationID)

	var rec core.AnalysisRecord
	var analysisRaw, actionsRaw, metadataRaw []byte
	err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.Chat, &rec.Title, &rec.Suggestion,
		&analysisRaw, &actionsRaw, &metadataRaw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("store: %w: %s", core.ErrUnknownConversation, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest analysis: %w", err)
	}
	if len(analysisRaw) > 0 {
		if err := json.Unmarshal(analysisRaw, &rec.Analysis); err != nil {
			return nil, fmt.Errorf("store: decode analysis: %w", err)
		}
	}
	if len(actionsRaw) > 0 {
		if err := json.Unmarshal(actionsRaw, &rec.Actions); err != nil {
			return nil, fmt.Errorf("store: decode actions: %w", err)
		}
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("store: decode metadata: %w", err)
		}
	}
	return &rec, nil
}

// MergeLatestAnalysis overlays a partial analysis onto the newest snapshot
// and saves the merged object as a new snapshot.
func (s *SQLStore) MergeLatestAnalysis(ctx context.Context, conversationID string, partial core.Analysis) (*core.AnalysisRecord, error) {
	previous, err := s.LatestAnalysis(ctx, conversationID)
	var base core.Analysis
	var title string
	switch {
	case err == nil:
		base = previous.Analysis
		title = previous.Title
	case isUnknownConversation(err):
		// First analysis for this conversation.
	default:
		return nil, err
	}

	merged := core.MergeAnalysis(base, partial)
	rec := core.AnalysisRecord{Chat: conversationID, Title: title, Analysis: merged}
	if previous != nil {
		rec.Suggestion = previous.Suggestion
	}
	id, err := s.SaveAnalysis(ctx, rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	rec.CreatedAt = s.now()
	return &rec, nil
}

func isUnknownConversation(err error) bool {
	return err != nil && core.TagOf(err) == core.TagState
}
