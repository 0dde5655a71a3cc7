package models

import "time"

// NATS subjects
const (
	EventCheckoutRequested  = "checkout.requested"
	EventCheckoutConfirmed  = "checkout.confirmed"
	EventCheckoutFailed     = "checkout.failed"
	EventCheckoutCancelled  = "checkout.cancelled"
	EventReservationExpired = "reservation.expired"
	EventTicketCancelled    = "ticket.cancelled"
	EventTicketTransferred  = "ticket.transferred"
	EventEventApproved      = "event.approved"
	EventEventRejected      = "event.rejected"
	EventNotificationEmail  = "notification.email"
)

// CheckoutRequestedEvent represents an opened checkout session
type CheckoutRequestedEvent struct {
	CheckoutID string    `json:"checkout_id"`
	SessionID  string    `json:"session_id"`
	TicketID   int64     `json:"ticket_id"`
	EventID    int64     `json:"event_id"`
	UserID     int64     `json:"user_id"`
	TicketType string    `json:"ticket_type"`
	Quantity   int       `json:"quantity"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	ExpiresAt  time.Time `json:"expires_at"`
	Timestamp  time.Time `json:"timestamp"`
}

// CheckoutConfirmedEvent represents a paid and booked checkout
type CheckoutConfirmedEvent struct {
	CheckoutID     string    `json:"checkout_id"`
	SessionID      string    `json:"session_id"`
	TicketID       int64     `json:"ticket_id"`
	EventID        int64     `json:"event_id"`
	UserID         int64     `json:"user_id"`
	RegistrationID int64     `json:"registration_id"`
	PaymentID      int64     `json:"payment_id"`
	Timestamp      time.Time `json:"timestamp"`
}

// CheckoutClosedEvent represents a checkout that ended without a booking.
// It is published on the failed, cancelled and expired subjects.
type CheckoutClosedEvent struct {
	CheckoutID string    `json:"checkout_id"`
	TicketID   int64     `json:"ticket_id"`
	EventID    int64     `json:"event_id"`
	UserID     int64     `json:"user_id"`
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// TicketCancelledEvent represents a cancelled booked ticket
type TicketCancelledEvent struct {
	TicketID  int64     `json:"ticket_id"`
	EventID   int64     `json:"event_id"`
	UserID    int64     `json:"user_id"`
	Quantity  int       `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// TicketTransferredEvent represents an ownership change
type TicketTransferredEvent struct {
	TicketID   int64     `json:"ticket_id"`
	EventID    int64     `json:"event_id"`
	FromUserID int64     `json:"from_user_id"`
	ToUserID   int64     `json:"to_user_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventModeratedEvent represents an approval or rejection decision
type EventModeratedEvent struct {
	EventID   int64       `json:"event_id"`
	Status    EventStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"`
	AdminID   int64       `json:"admin_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// EmailNotification is a queued outgoing message
type EmailNotification struct {
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}
