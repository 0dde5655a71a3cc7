package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleOrganizer Role = "organizer"
	RoleAdmin     Role = "admin"
)

type EventStatus string

const (
	EventPending  EventStatus = "pending"
	EventApproved EventStatus = "approved"
	EventRejected EventStatus = "rejected"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketBooked    TicketStatus = "booked"
	TicketCancelled TicketStatus = "cancelled"
	// TicketTransferred is accepted for records written before transfers
	// kept tickets booked under the new owner. New transfers never set it.
	TicketTransferred TicketStatus = "transferred"
)

type ReservationState string

const (
	ReservationReserved  ReservationState = "reserved"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

type CheckoutState string

const (
	CheckoutReserved        CheckoutState = "reserved"
	CheckoutAwaitingPayment CheckoutState = "awaiting_payment"
	CheckoutConfirming      CheckoutState = "confirming"
	CheckoutConfirmed       CheckoutState = "confirmed"
	CheckoutExpired         CheckoutState = "expired"
	CheckoutFailed          CheckoutState = "failed"
	CheckoutCancelled       CheckoutState = "cancelled"
	CheckoutRefunded        CheckoutState = "refunded"
)

// Open reports whether the checkout still holds an unconfirmed reservation.
func (s CheckoutState) Open() bool {
	return s == CheckoutReserved || s == CheckoutAwaitingPayment
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentOutcome is what the payment provider reports for a checkout session.
type PaymentOutcome string

const (
	OutcomePaid    PaymentOutcome = "paid"
	OutcomeUnpaid  PaymentOutcome = "unpaid"
	OutcomeUnknown PaymentOutcome = "unknown"
)

// User represents a user known to the identity provider
type User struct {
	UserID       int64     `json:"user_id" db:"user_id"`
	Email        string    `json:"email" db:"email"`
	Name         string    `json:"name" db:"name"`
	Role         Role      `json:"role" db:"role"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// Event represents an event in the system
type Event struct {
	ID              int64        `json:"id" db:"id"`
	Title           string       `json:"title" db:"title"`
	Description     *string      `json:"description,omitempty" db:"description"`
	Category        string       `json:"category" db:"category"`
	Location        string       `json:"location" db:"location"`
	StartsAt        time.Time    `json:"starts_at" db:"starts_at"`
	Status          EventStatus  `json:"status" db:"status"`
	RejectionReason *string      `json:"rejection_reason,omitempty" db:"rejection_reason"`
	OwnerID         int64        `json:"owner_id" db:"owner_id"`
	ApprovedBy      *int64       `json:"approved_by,omitempty" db:"approved_by"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
	TicketTypes     []TicketType `json:"ticket_types" db:"-"`
}

// TicketType finds a ticket type by its name, ignoring case.
func (e *Event) TicketType(key string) (*TicketType, bool) {
	for i := range e.TicketTypes {
		if strings.EqualFold(e.TicketTypes[i].Name, key) {
			return &e.TicketTypes[i], true
		}
	}
	return nil, false
}

// TicketType is a named admission category with its own price and capacity
type TicketType struct {
	ID        int64           `json:"id" db:"id"`
	EventID   int64           `json:"event_id" db:"event_id"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Capacity  int             `json:"capacity" db:"capacity"`
	Remaining int             `json:"remaining" db:"remaining"`
}

// Reservation is a provisional hold against a ticket type's remaining count
type Reservation struct {
	ID           string           `json:"id" db:"id"`
	TicketTypeID int64            `json:"ticket_type_id" db:"ticket_type_id"`
	Quantity     int              `json:"quantity" db:"quantity"`
	State        ReservationState `json:"state" db:"state"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}

// Ticket is one unit-or-bundle of purchase
type Ticket struct {
	ID             int64           `json:"id" db:"id"`
	EventID        int64           `json:"event_id" db:"event_id"`
	TicketTypeID   int64           `json:"ticket_type_id" db:"ticket_type_id"`
	TicketTypeName string          `json:"ticket_type" db:"ticket_type_name"`
	UserID         int64           `json:"user_id" db:"user_id"`
	Status         TicketStatus    `json:"status" db:"status"`
	Quantity       int             `json:"quantity" db:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price" db:"unit_price"`
	ReservationID  string          `json:"-" db:"reservation_id"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Total is the snapshot price of the whole bundle.
func (t *Ticket) Total() decimal.Decimal {
	return t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Quantity)))
}

// OwnerChange is one entry of a ticket's ownership trail
type OwnerChange struct {
	ID         int64     `json:"id" db:"id"`
	TicketID   int64     `json:"ticket_id" db:"ticket_id"`
	FromUserID int64     `json:"from_user_id" db:"from_user_id"`
	ToUserID   int64     `json:"to_user_id" db:"to_user_id"`
	ChangedAt  time.Time `json:"changed_at" db:"changed_at"`
}

// Checkout tracks one payment attempt from reservation to its terminal state
type Checkout struct {
	ID             string          `json:"id" db:"id"`
	SessionID      *string         `json:"session_id,omitempty" db:"session_id"`
	PaymentURL     *string         `json:"payment_url,omitempty" db:"payment_url"`
	TicketID       int64           `json:"ticket_id" db:"ticket_id"`
	ReservationID  string          `json:"-" db:"reservation_id"`
	UserID         int64           `json:"user_id" db:"user_id"`
	EventID        int64           `json:"event_id" db:"event_id"`
	TicketTypeName string          `json:"ticket_type" db:"ticket_type_name"`
	Quantity       int             `json:"quantity" db:"quantity"`
	Amount         decimal.Decimal `json:"amount" db:"amount"`
	Currency       string          `json:"currency" db:"currency"`
	State          CheckoutState   `json:"state" db:"state"`
	RegistrationID *int64          `json:"registration_id,omitempty" db:"registration_id"`
	PaymentID      *int64          `json:"payment_id,omitempty" db:"payment_id"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Registration links a user, an event and the tickets they hold for it
type Registration struct {
	ID           int64     `json:"id" db:"id"`
	UserID       int64     `json:"user_id" db:"user_id"`
	EventID      int64     `json:"event_id" db:"event_id"`
	PaymentID    *int64    `json:"payment_id,omitempty" db:"payment_id"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
	TicketIDs    []int64   `json:"ticket_ids" db:"-"`
}

// Payment records a settled provider session
type Payment struct {
	ID         int64           `json:"id" db:"id"`
	TicketID   int64           `json:"ticket_id" db:"ticket_id"`
	UserID     int64           `json:"user_id" db:"user_id"`
	CheckoutID string          `json:"checkout_id" db:"checkout_id"`
	SessionID  string          `json:"session_id" db:"provider_session_id"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	Currency   string          `json:"currency" db:"currency"`
	Status     PaymentStatus   `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}
