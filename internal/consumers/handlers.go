package consumers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/nats-io/stan.go"

	"ticketing/internal/logger"
	"ticketing/internal/metrics"
	"ticketing/internal/models"
)

// Sender delivers one email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// RetryPolicy bounds email delivery attempts.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy gives SMTP roughly half a minute to recover.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      5,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

type Handlers struct {
	mail  Sender
	retry RetryPolicy
}

func NewHandlers(mail Sender, retry RetryPolicy) *Handlers {
	return &Handlers{mail: mail, retry: retry}
}

// HandleEmailNotification доставляет письмо из очереди.
// Сообщение подтверждается и после исчерпания попыток, иначе NATS будет
// возвращать его бесконечно.
func (h *Handlers) HandleEmailNotification(m *stan.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := h.deliverEmail(ctx, m.Data); err != nil {
		metrics.TrackNotificationFailure()
		logger.Get().Error("Failed to deliver email notification",
			"error", err, "sequence", m.Sequence, "redelivered", m.Redelivered)
	}
	ack(m)
}

func (h *Handlers) deliverEmail(ctx context.Context, data []byte) error {
	var n models.EmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("malformed email notification: %w", err)
	}
	if n.To == "" {
		return fmt.Errorf("email notification without recipient")
	}

	attempt := 0
	op := func() error {
		attempt++
		err := h.mail.Send(ctx, n.To, n.Subject, n.Body)
		if err != nil {
			logger.Get().Warn("Email delivery attempt failed",
				"to", n.To, "attempt", attempt, "error", err)
		}
		return err
	}

	return backoff.Retry(op, h.backOff(ctx))
}

func (h *Handlers) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.retry.InitialInterval
	b.MaxInterval = h.retry.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, h.retry.MaxRetries), ctx)
}

// HandleLifecycle логирует события жизненного цикла оформлений и билетов
func (h *Handlers) HandleLifecycle(m *stan.Msg) {
	var payload map[string]any
	if err := json.Unmarshal(m.Data, &payload); err != nil {
		logger.Get().Error("Failed to unmarshal lifecycle event", "subject", m.Subject, "error", err)
		ack(m)
		return
	}

	logger.Get().Info("Lifecycle event", "subject", m.Subject, "event", payload)
	ack(m)
}

func ack(m *stan.Msg) {
	if err := m.Ack(); err != nil {
		logger.Get().Warn("Failed to ack message", "subject", m.Subject, "sequence", m.Sequence, "error", err)
	}
}
