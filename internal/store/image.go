package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ImageCaption returns the cached vision caption for an image hash.
func (s *SQLStore) ImageCaption(ctx context.Context, imageHash string) (string, bool, error) {
	var caption string
	err := s.db.QueryRowContext(ctx,
		`SELECT description FROM image_descriptions WHERE image_hash = $1`,
		imageHash,
	).Scan(&caption)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: image caption: %w", err)
	}
	return caption, true, nil
}

// SetImageCaption caches a vision caption keyed by the image content hash.
func (s *SQLStore) SetImageCaption(ctx context.Context, imageHash, caption string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO image_descriptions (image_hash, description, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (image_hash) DO UPDATE SET
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at
	`, imageHash, caption, s.now())
	if err != nil {
		return fmt.Errorf("store: set image caption: %w", err)
	}
	return nil
}
