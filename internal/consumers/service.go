package consumers

import (
	"context"
	"fmt"

	"github.com/nats-io/stan.go"

	"ticketing/internal/logger"
	"ticketing/internal/models"
)

const queueGroup = "consumers"

// Subscriber is the part of NATSClient the consumers need.
type Subscriber interface {
	SubscribeQueue(subject, queue string, handler stan.MsgHandler) (stan.Subscription, error)
}

// LifecycleSubjects are logged by the consumers; nothing else reacts to them.
var LifecycleSubjects = []string{
	models.EventCheckoutRequested,
	models.EventCheckoutConfirmed,
	models.EventCheckoutFailed,
	models.EventCheckoutCancelled,
	models.EventReservationExpired,
	models.EventTicketCancelled,
	models.EventTicketTransferred,
}

type ConsumerService struct {
	nats   Subscriber
	routes map[string]stan.MsgHandler
	order  []string
	subs   []stan.Subscription
}

func NewConsumerService(nats Subscriber, handlers *Handlers) *ConsumerService {
	cs := &ConsumerService{nats: nats, routes: make(map[string]stan.MsgHandler)}
	cs.Handle(models.EventNotificationEmail, handlers.HandleEmailNotification)
	for _, subject := range LifecycleSubjects {
		cs.Handle(subject, handlers.HandleLifecycle)
	}
	return cs
}

// Handle registers handler for subject. It replaces an earlier registration.
func (cs *ConsumerService) Handle(subject string, handler stan.MsgHandler) {
	if _, ok := cs.routes[subject]; !ok {
		cs.order = append(cs.order, subject)
	}
	cs.routes[subject] = handler
}

func (cs *ConsumerService) Start() error {
	logger.Get().Info("Starting NATS consumers...", "subjects", len(cs.order))

	for _, subject := range cs.order {
		sub, err := cs.nats.SubscribeQueue(subject, queueGroup, cs.routes[subject])
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		cs.subs = append(cs.subs, sub)
	}

	logger.Get().Info("All consumers started successfully")
	return nil
}

// Shutdown закрывает подписки, не удаляя durable состояние
func (cs *ConsumerService) Shutdown(ctx context.Context) error {
	logger.Get().Info("Shutting down consumer service...")

	for _, sub := range cs.subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sub.Close(); err != nil {
			logger.Get().Error("Error closing subscription", "error", err)
		}
	}
	cs.subs = nil
	return nil
}
