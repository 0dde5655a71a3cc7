package service

import (
	"context"
	"time"

	"ticketing/internal/logger"
	"ticketing/internal/metrics"
	"ticketing/internal/models"
)

type CheckoutConfig struct {
	ReservationTTL        time.Duration
	Currency              string
	MaxTicketsPerCheckout int
	SweepBatchSize        int
}

// Dependencies wires the stores and collaborators shared by the services.
// Cache, Search and Publisher are optional.
type Dependencies struct {
	Ledger        Ledger
	Events        EventStore
	Tickets       TicketStore
	Checkouts     CheckoutStore
	Registrations RegistrationStore
	Payments      PaymentStore
	Users         UserStore
	Gateway       PaymentGateway
	Notifier      Notifier
	Publisher     Publisher
	Cache         ConfirmationCache
	Search        EventSearch
}

type Services struct {
	Checkouts     *CheckoutService
	Tickets       *TicketService
	Events        *EventService
	Registrations *RegistrationService
}

func NewServices(deps Dependencies, cfg CheckoutConfig) *Services {
	if deps.Publisher == nil {
		deps.Publisher = noopPublisher{}
	}

	return &Services{
		Checkouts:     NewCheckoutService(deps, cfg),
		Tickets:       NewTicketService(deps),
		Events:        NewEventService(deps),
		Registrations: NewRegistrationService(deps),
	}
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, interface{}) error { return nil }

// publish sends a domain event. Failures are logged and never fail the operation.
func publish(ctx context.Context, p Publisher, subject string, data interface{}) {
	if err := p.Publish(subject, data); err != nil {
		logger.WithContext(ctx).Error("Failed to publish event",
			"error", err,
			"event_type", subject)
	}
}

// notifyUser emails a user by id. Failures are logged and never fail the operation.
func notifyUser(ctx context.Context, users UserStore, notifier Notifier, userID int64, subject, body string) {
	if notifier == nil {
		return
	}

	user, err := users.GetByID(ctx, userID)
	if err != nil || user == nil {
		logger.WithContext(ctx).Warn("Cannot notify user, address unknown", "user_id", userID, "error", err)
		return
	}

	if err := notifier.Send(ctx, user.Email, subject, body); err != nil {
		metrics.TrackNotificationFailure()
		logger.WithContext(ctx).Error("Failed to send notification",
			"error", err,
			"user_id", userID,
			"subject", subject)
	}
}

func closedState(s models.CheckoutState) bool {
	return s == models.CheckoutExpired || s == models.CheckoutFailed || s == models.CheckoutCancelled
}

var openStates = []models.CheckoutState{models.CheckoutReserved, models.CheckoutAwaitingPayment}
