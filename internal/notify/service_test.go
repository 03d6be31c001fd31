package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingSender struct {
	messages []EmailMessage
	err      error
}

func (r *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	r.messages = append(r.messages, msg)
	return r.err
}

func TestNotifyEscalationFansOut(t *testing.T) {
	sender := &recordingSender{}
	svc := NewService(sender, ServiceConfig{
		Recipients: []string{"ops-1@example.com", "ops-2@example.com"},
		BaseURL:    "https://bait.example.com",
	}, nil)

	err := svc.NotifyEscalation(context.Background(), "chat-1", "asked for a live phone call")
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(sender.messages) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sender.messages))
	}

	msg := sender.messages[0]
	if !strings.Contains(msg.Subject, "chat-1") {
		t.Errorf("subject missing conversation id: %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "asked for a live phone call") {
		t.Errorf("body missing reason: %q", msg.Body)
	}
	if !strings.Contains(msg.Body, "https://bait.example.com/conversations/chat-1") {
		t.Errorf("body missing conversation link: %q", msg.Body)
	}
}

func TestNotifyEscalationWithoutEmailIsNoop(t *testing.T) {
	svc := NewService(nil, ServiceConfig{Recipients: []string{"ops@example.com"}}, nil)
	if err := svc.NotifyEscalation(context.Background(), "chat-1", "reason"); err != nil {
		t.Fatalf("unconfigured service must be a no-op, got %v", err)
	}

	sender := &recordingSender{}
	svc = NewService(sender, ServiceConfig{}, nil)
	if err := svc.NotifyEscalation(context.Background(), "chat-1", "reason"); err != nil {
		t.Fatalf("empty recipient list must be a no-op, got %v", err)
	}
	if len(sender.messages) != 0 {
		t.Fatalf("no emails expected, got %d", len(sender.messages))
	}
}

func TestNotifyEscalationReportsSendFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	svc := NewService(sender, ServiceConfig{Recipients: []string{"ops@example.com"}}, nil)

	err := svc.NotifyEscalation(context.Background(), "chat-1", "reason")
	if err == nil {
		t.Fatal("expected aggregated send failure")
	}
	if !strings.Contains(err.Error(), "1 escalation alert(s) failed") {
		t.Fatalf("error message wrong: %v", err)
	}
}
