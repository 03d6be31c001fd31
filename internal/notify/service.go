package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/baitlab/scambaiter/pkg/logging"
)

// Service alerts operators when an accepted generation asks for a human.
// It fans out to every configured recipient and reports a single error when
// any send fails.
type Service struct {
	email      EmailSender
	recipients []string
	baseURL    string
	logger     *logging.Logger
	now        func() time.Time
}

// ServiceConfig holds operator alert settings.
type ServiceConfig struct {
	Recipients []string
	// BaseURL of the control surface, used to link the conversation in the
	// alert body. Optional.
	BaseURL string
}

// NewService creates a notification service.
func NewService(email EmailSender, cfg ServiceConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		recipients: cfg.Recipients,
		baseURL:    cfg.BaseURL,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// NotifyEscalation emails every configured recipient about an
// escalate_to_human action. A missing sender or empty recipient list is a
// no-op so embedded deployments can run without email at all.
func (s *Service) NotifyEscalation(ctx context.Context, conversationID, reason string) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Debug("escalation alert skipped: email not configured",
			"conversation_id", conversationID)
		return nil
	}

	subject := fmt.Sprintf("Escalation requested - conversation %s", conversationID)
	body := fmt.Sprintf(`The model asked for a human on conversation %s.

Reason: %s
Time: %s
%s
Review the conversation and take over before the next automated cycle runs.

- ScamBaiter`, conversationID, reason, s.now().Format(time.RFC3339), s.conversationLink(conversationID))

	var errs []error
	for _, recipient := range s.recipients {
		msg := EmailMessage{
			To:      recipient,
			Subject: subject,
			Body:    body,
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("escalation alert failed", "error", err, "to", recipient,
				"conversation_id", conversationID)
			errs = append(errs, err)
			continue
		}
		s.logger.Info("escalation alert sent", "to", recipient,
			"conversation_id", conversationID)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d escalation alert(s) failed", len(errs))
	}
	return nil
}

func (s *Service) conversationLink(conversationID string) string {
	if s.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("Conversation: %s/conversations/%s\n", s.baseURL, conversationID)
}
