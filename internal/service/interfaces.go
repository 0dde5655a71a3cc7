package service

import (
	"context"
	"time"

	"ticketing/internal/models"
)

// Ledger is the only writer of ticket type counters.
type Ledger interface {
	Reserve(ctx context.Context, eventID int64, ticketTypeKey string, quantity int) (*models.Reservation, error)
	Release(ctx context.Context, reservationID string) (released bool, err error)
	Commit(ctx context.Context, reservationID string) error
	// ReserveForCheckout replaces the released reservation stale of a
	// confirming checkout. It returns nil when the checkout moved on.
	ReserveForCheckout(ctx context.Context, checkoutID, stale string) (*models.Reservation, error)
	// ReleaseOrphan releases the reservation only while the ticket is still
	// cancelled and held by it.
	ReleaseOrphan(ctx context.Context, ticketID int64, reservationID string) (released bool, err error)
}

type EventStore interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id int64) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.Event, error)
	ListByStatus(ctx context.Context, status models.EventStatus) ([]models.Event, error)
	UpdateStatus(ctx context.Context, id int64, status models.EventStatus, reason *string, adminID int64) (bool, error)
}

type TicketStore interface {
	CreateWithCheckout(ctx context.Context, ticket *models.Ticket, checkout *models.Checkout) error
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Ticket, error)
	SetStatus(ctx context.Context, id int64, from, to models.TicketStatus) (bool, error)
	Reinstate(ctx context.Context, id int64, from, to string) (bool, error)
	CancelPending(ctx context.Context, id int64, reservationID string) (bool, error)
	CancelBooked(ctx context.Context, id, userID int64) (bool, error)
	Transfer(ctx context.Context, id, fromUserID, toUserID int64) (bool, error)
	History(ctx context.Context, id int64) ([]models.OwnerChange, error)
	ListOrphaned(ctx context.Context, limit int) ([]models.Ticket, error)
}

type CheckoutStore interface {
	GetByID(ctx context.Context, id string) (*models.Checkout, error)
	GetBySession(ctx context.Context, sessionID string) (*models.Checkout, error)
	AttachSession(ctx context.Context, id, sessionID, paymentURL string) (bool, error)
	Transition(ctx context.Context, id string, from []models.CheckoutState, to models.CheckoutState) (bool, error)
	MarkRefunded(ctx context.Context, id, reservationID string) (bool, error)
	FindOpen(ctx context.Context, userID, eventID int64, ticketType string) (*models.Checkout, error)
	MarkConfirmed(ctx context.Context, id string, registrationID, paymentID int64, at time.Time) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Checkout, error)
	ListUnsettled(ctx context.Context, limit int) ([]models.Checkout, error)
}

type RegistrationStore interface {
	AddTicket(ctx context.Context, userID, eventID, ticketID int64) (*models.Registration, error)
	AttachPayment(ctx context.Context, registrationID, paymentID int64) error
	ListByUser(ctx context.Context, userID int64) ([]models.Registration, error)
	ListByEvent(ctx context.Context, eventID int64) ([]models.Registration, error)
	GetByID(ctx context.Context, id int64) (*models.Registration, error)
}

type PaymentStore interface {
	Record(ctx context.Context, payment *models.Payment) error
	MarkFailed(ctx context.Context, sessionID string) (bool, error)
	GetBySession(ctx context.Context, sessionID string) (*models.Payment, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	OpenSession(ctx context.Context, req models.PaymentSessionRequest) (*models.PaymentSession, error)
	RetrieveOutcome(ctx context.Context, sessionID string) (models.PaymentOutcome, error)
	CancelSession(ctx context.Context, sessionID, reason string) error
}

// Notifier delivers user-facing messages. Delivery is best effort.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Publisher interface {
	Publish(subject string, data interface{}) error
}

// ConfirmationCache short-circuits repeated confirmations and keeps two
// confirmations of one session from running at once.
type ConfirmationCache interface {
	Get(ctx context.Context, sessionID string) (*models.CheckoutResult, error)
	Set(ctx context.Context, sessionID string, result *models.CheckoutResult) error
	Lock(ctx context.Context, sessionID string) (unlock func(), acquired bool, err error)
}

type EventSearch interface {
	Search(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
}
