package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ticketing/internal/auth"
	apperrors "ticketing/internal/errors"
	"ticketing/internal/logger"
	"ticketing/internal/middleware"
	"ticketing/internal/models"
	"ticketing/internal/service"
)

type CheckoutUseCases interface {
	RequestCheckout(ctx context.Context, userID int64, req *models.CreateCheckoutRequest) (*models.CheckoutSession, error)
	ConfirmCheckout(ctx context.Context, sessionID string) (*models.CheckoutResult, error)
	CancelCheckout(ctx context.Context, userID int64, checkoutID string) (*models.Checkout, error)
	GetCheckout(ctx context.Context, userID int64, checkoutID string) (*models.Checkout, error)
	ExpireCheckout(ctx context.Context, checkoutID string) (*models.Checkout, error)
}

type TicketUseCases interface {
	ListTickets(ctx context.Context, userID int64) ([]models.Ticket, error)
	CancelTicket(ctx context.Context, userID, ticketID int64) (*models.Ticket, error)
	TransferTicket(ctx context.Context, userID, ticketID int64, recipientEmail string) (*models.Ticket, error)
	TicketHistory(ctx context.Context, userID, ticketID int64) ([]models.OwnerChange, error)
}

type EventUseCases interface {
	Create(ctx context.Context, ownerID int64, role models.Role, req *models.CreateEventRequest) (*models.CreateEventResponse, error)
	Get(ctx context.Context, eventID, viewerID int64, role models.Role) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) (*models.ListEventsResponse, error)
	ListMine(ctx context.Context, ownerID int64) ([]models.Event, error)
	ListPending(ctx context.Context) ([]models.Event, error)
	Moderate(ctx context.Context, adminID, eventID int64, req *models.ModerateEventRequest) (*models.Event, error)
}

type RegistrationUseCases interface {
	ListMine(ctx context.Context, userID int64) ([]models.Registration, error)
	ListForEvent(ctx context.Context, viewerID int64, role models.Role, eventID int64) ([]models.Registration, error)
	Get(ctx context.Context, viewerID int64, role models.Role, id int64) (*models.Registration, error)
}

// NotificationVerifier checks the signature of payment provider callbacks.
type NotificationVerifier interface {
	VerifyNotification(payload models.PaymentNotificationPayload) bool
}

type Handlers struct {
	checkouts     CheckoutUseCases
	tickets       TicketUseCases
	events        EventUseCases
	registrations RegistrationUseCases
	verifier      NotificationVerifier
}

func NewHandlers(services *service.Services, verifier NotificationVerifier) *Handlers {
	return &Handlers{
		checkouts:     services.Checkouts,
		tickets:       services.Tickets,
		events:        services.Events,
		registrations: services.Registrations,
		verifier:      verifier,
	}
}

// handleServiceError переводит ошибку сервиса в HTTP ответ
func handleServiceError(c *gin.Context, err error, msg string) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalid:
		status = http.StatusBadRequest
	case apperrors.KindUnauthorized:
		status = http.StatusUnauthorized
	case apperrors.KindForbidden:
		status = http.StatusForbidden
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict:
		status = http.StatusConflict
	case apperrors.KindPaymentRequired:
		status = http.StatusPaymentRequired
	case apperrors.KindTransient:
		status = http.StatusServiceUnavailable
		c.Header("Retry-After", "5")
	}

	log := logger.WithContext(c.Request.Context())
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		log.Error(msg, "error", err)
		c.JSON(status, models.ErrorResponse{Error: "Internal server error", Code: apperrors.CodeOf(err)})
		return
	}

	log.Info(msg, "error", err, "status", status)
	c.JSON(status, models.ErrorResponse{Error: err.Error(), Code: apperrors.CodeOf(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Code: apperrors.ErrInvalidRequest.Code})
}

// principal returns the authenticated caller. Routes that need it sit
// behind Authenticate, so a missing principal is a wiring error.
func principal(c *gin.Context) *auth.Principal {
	p, ok := middleware.PrincipalFromContext(c.Request.Context())
	if !ok {
		return &auth.Principal{}
	}
	return p
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid id", Code: apperrors.ErrInvalidRequest.Code})
		return 0, false
	}
	return id, true
}

// parseTime понимает RFC3339 и просто дату
func parseTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
