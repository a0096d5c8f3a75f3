package notifier

import (
	"context"
	"fmt"
)

const (
	subjectNotifyPrefix = "notify."
	SubjectNotifyTone   = "notify.tone"
)

// EventPublisher publishes a JSON-encodable value on a subject
type EventPublisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// NATSNotifier forwards notifications and tones to the event bus so remote
// consumers can render them
type NATSNotifier struct {
	publisher EventPublisher
}

// NewNATSNotifier creates a new event bus notifier
func NewNATSNotifier(publisher EventPublisher) *NATSNotifier {
	return &NATSNotifier{publisher: publisher}
}

// Notify implements Notifier.Notify
func (n *NATSNotifier) Notify(ctx context.Context, notification Notification) error {
	subject := subjectNotifyPrefix + string(notification.Class)
	if err := n.publisher.Publish(ctx, subject, notification); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// PlayAlertTone implements Notifier.PlayAlertTone
func (n *NATSNotifier) PlayAlertTone(ctx context.Context, tone Tone) error {
	if err := n.publisher.Publish(ctx, SubjectNotifyTone, tone); err != nil {
		return fmt.Errorf("failed to publish tone: %w", err)
	}
	return nil
}
