package archive

import (
	"context"
	"fmt"

	"github.com/baitlab/scambaiter/internal/core"
	"github.com/baitlab/scambaiter/internal/cycle"
	"github.com/baitlab/scambaiter/pkg/logging"
)

// TeeStore decorates a cycle store so every saved attempt is also archived to
// S3. Archival rides behind the durable save: an S3 failure is logged and
// never fails the cycle.
type TeeStore struct {
	cycle.Store
	archive *Store
	logger  *logging.Logger
}

// Tee wraps inner with attempt archival. A nil or disabled archive store
// returns inner unchanged.
func Tee(inner cycle.Store, archive *Store, logger *logging.Logger) cycle.Store {
	if inner == nil {
		panic("archive: inner store cannot be nil")
	}
	if !archive.Enabled() {
		return inner
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TeeStore{Store: inner, archive: archive, logger: logger}
}

func (t *TeeStore) SaveAttempt(ctx context.Context, a core.GenerationAttempt) (int64, error) {
	id, err := t.Store.SaveAttempt(ctx, a)
	if err != nil {
		return id, err
	}

	record := &AttemptRecord{
		ConversationID: a.ConversationID,
		TraceID:        a.TraceID,
		SuggestionID:   a.SuggestionID,
		AttemptNo:      a.AttemptNo,
		Phase:          string(a.Phase),
		Accepted:       a.Accepted,
		RejectReason:   a.RejectReason,
		RawOutput:      a.RawExcerpt,
		Suggestion:     a.Suggestion,
		PromptTokens:   a.PromptTokens,
		TotalTokens:    a.TotalTokens,
	}
	if record.TraceID == "" {
		// Rejected attempts carry no minted trace id; key them by the
		// durable row instead so they are still reviewable.
		record.TraceID = attemptFallbackTraceID(a.ConversationID, id)
	}
	if archErr := t.archive.ArchiveAttempt(ctx, record); archErr != nil {
		t.logger.WithConversation(a.ConversationID).
			Warn("attempt archive failed", "error", archErr, "attempt_id", id)
	}
	return id, nil
}

func attemptFallbackTraceID(conversationID string, rowID int64) string {
	return fmt.Sprintf("attempt-%s-%d", conversationID, rowID)
}
