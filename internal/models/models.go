package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketTypeInput - тип билета в запросе на создание события
type TicketTypeInput struct {
	Name     string          `json:"name" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Capacity int             `json:"capacity" binding:"required"`
}

// CreateEventRequest - модель для создания события
type CreateEventRequest struct {
	Title       string            `json:"title" binding:"required"`
	Description *string           `json:"description,omitempty"`
	Category    string            `json:"category" binding:"required"`
	Location    string            `json:"location" binding:"required"`
	StartsAt    time.Time         `json:"starts_at" binding:"required"`
	TicketTypes []TicketTypeInput `json:"ticket_types" binding:"required,min=1,dive"`
}

// CreateEventResponse - модель ответа при создании события
type CreateEventResponse struct {
	ID     int64       `json:"id"`
	Status EventStatus `json:"status"`
}

// ModerateEventRequest - одобрение или отклонение события
type ModerateEventRequest struct {
	Status EventStatus `json:"status" binding:"required"`
	Reason string      `json:"reason,omitempty"`
}

// EventFilter - параметры поиска событий
type EventFilter struct {
	Keyword  string
	Category string
	Location string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

// Offset returns the row offset of the requested page.
func (f EventFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

// ListEventsResponse - страница списка событий
type ListEventsResponse struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
}

// CreateCheckoutRequest - запрос на оформление билетов
type CreateCheckoutRequest struct {
	EventID    int64  `json:"event_id" binding:"required"`
	TicketType string `json:"ticket_type" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required"`
}

// CheckoutSession is returned once a provider session has been opened
type CheckoutSession struct {
	CheckoutID string          `json:"checkout_id"`
	SessionID  string          `json:"session_id"`
	PaymentURL string          `json:"payment_url"`
	TicketID   int64           `json:"ticket_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ExpiresAt  time.Time       `json:"expires_at"`
}

// ConfirmCheckoutRequest - подтверждение оплаты по идентификатору сессии
type ConfirmCheckoutRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// CheckoutResult is the stable outcome of a confirmed checkout. Repeated
// confirmations of the same session return an equal value.
type CheckoutResult struct {
	CheckoutID     string          `json:"checkout_id"`
	SessionID      string          `json:"session_id"`
	TicketID       int64           `json:"ticket_id"`
	EventID        int64           `json:"event_id"`
	UserID         int64           `json:"user_id"`
	RegistrationID int64           `json:"registration_id"`
	PaymentID      int64           `json:"payment_id"`
	Quantity       int             `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	ConfirmedAt    time.Time       `json:"confirmed_at"`
}

// TransferTicketRequest - передача билета другому пользователю
type TransferTicketRequest struct {
	RecipientEmail string `json:"recipient_email" binding:"required,email"`
}

// PaymentNotificationPayload - модель для webhook уведомлений от платежного шлюза
type PaymentNotificationPayload struct {
	TeamSlug  string `json:"teamSlug"`
	PaymentID string `json:"paymentId"`
	OrderID   string `json:"orderId"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Timestamp string `json:"timestamp"`
	Token     string `json:"token"`
}

// Params returns the signed fields of the notification, keyed as the
// provider names them.
func (p PaymentNotificationPayload) Params() map[string]string {
	return map[string]string{
		"PaymentId": p.PaymentID,
		"OrderId":   p.OrderID,
		"Status":    p.Status,
		"Timestamp": p.Timestamp,
	}
}

// ErrorResponse - тело ответа с ошибкой
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// PaymentSessionRequest describes the hosted payment page to open
type PaymentSessionRequest struct {
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Description string
	Email       string
	Metadata    map[string]string
}

// PaymentSession is an opened provider session
type PaymentSession struct {
	ID  string
	URL string
}
