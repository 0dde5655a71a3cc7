package messaging

import (
	"context"
	"time"

	"ticketing/internal/models"
)

// Publisher is the part of NATSClient the notifier needs.
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// QueueNotifier hands emails to the consumers over NATS instead of talking
// SMTP in the request path.
type QueueNotifier struct {
	publisher Publisher
}

func NewQueueNotifier(publisher Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher}
}

func (n *QueueNotifier) Send(_ context.Context, to, subject, body string) error {
	return n.publisher.Publish(models.EventNotificationEmail, models.EmailNotification{
		To:        to,
		Subject:   subject,
		Body:      body,
		Timestamp: time.Now(),
	})
}
