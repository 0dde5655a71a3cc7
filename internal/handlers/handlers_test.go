package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ticketing/internal/auth"
	apperrors "ticketing/internal/errors"
	"ticketing/internal/middleware"
	"ticketing/internal/models"
)

type mockCheckouts struct{ mock.Mock }

func (m *mockCheckouts) RequestCheckout(ctx context.Context, userID int64, req *models.CreateCheckoutRequest) (*models.CheckoutSession, error) {
	args := m.Called(userID, req)
	s, _ := args.Get(0).(*models.CheckoutSession)
	return s, args.Error(1)
}

func (m *mockCheckouts) ConfirmCheckout(ctx context.Context, sessionID string) (*models.CheckoutResult, error) {
	args := m.Called(sessionID)
	r, _ := args.Get(0).(*models.CheckoutResult)
	return r, args.Error(1)
}

func (m *mockCheckouts) CancelCheckout(ctx context.Context, userID int64, checkoutID string) (*models.Checkout, error) {
	args := m.Called(userID, checkoutID)
	c, _ := args.Get(0).(*models.Checkout)
	return c, args.Error(1)
}

func (m *mockCheckouts) GetCheckout(ctx context.Context, userID int64, checkoutID string) (*models.Checkout, error) {
	args := m.Called(userID, checkoutID)
	c, _ := args.Get(0).(*models.Checkout)
	return c, args.Error(1)
}

func (m *mockCheckouts) ExpireCheckout(ctx context.Context, checkoutID string) (*models.Checkout, error) {
	args := m.Called(checkoutID)
	c, _ := args.Get(0).(*models.Checkout)
	return c, args.Error(1)
}

type mockTickets struct{ mock.Mock }

func (m *mockTickets) ListTickets(ctx context.Context, userID int64) ([]models.Ticket, error) {
	args := m.Called(userID)
	t, _ := args.Get(0).([]models.Ticket)
	return t, args.Error(1)
}

func (m *mockTickets) CancelTicket(ctx context.Context, userID, ticketID int64) (*models.Ticket, error) {
	args := m.Called(userID, ticketID)
	t, _ := args.Get(0).(*models.Ticket)
	return t, args.Error(1)
}

func (m *mockTickets) TransferTicket(ctx context.Context, userID, ticketID int64, recipientEmail string) (*models.Ticket, error) {
	args := m.Called(userID, ticketID, recipientEmail)
	t, _ := args.Get(0).(*models.Ticket)
	return t, args.Error(1)
}

func (m *mockTickets) TicketHistory(ctx context.Context, userID, ticketID int64) ([]models.OwnerChange, error) {
	args := m.Called(userID, ticketID)
	h, _ := args.Get(0).([]models.OwnerChange)
	return h, args.Error(1)
}

type mockEvents struct{ mock.Mock }

func (m *mockEvents) Create(ctx context.Context, ownerID int64, role models.Role, req *models.CreateEventRequest) (*models.CreateEventResponse, error) {
	args := m.Called(ownerID, role, req)
	r, _ := args.Get(0).(*models.CreateEventResponse)
	return r, args.Error(1)
}

func (m *mockEvents) Get(ctx context.Context, eventID, viewerID int64, role models.Role) (*models.Event, error) {
	args := m.Called(eventID, viewerID, role)
	e, _ := args.Get(0).(*models.Event)
	return e, args.Error(1)
}

func (m *mockEvents) List(ctx context.Context, filter models.EventFilter) (*models.ListEventsResponse, error) {
	args := m.Called(filter)
	r, _ := args.Get(0).(*models.ListEventsResponse)
	return r, args.Error(1)
}

func (m *mockEvents) ListMine(ctx context.Context, ownerID int64) ([]models.Event, error) {
	args := m.Called(ownerID)
	e, _ := args.Get(0).([]models.Event)
	return e, args.Error(1)
}

func (m *mockEvents) ListPending(ctx context.Context) ([]models.Event, error) {
	args := m.Called()
	e, _ := args.Get(0).([]models.Event)
	return e, args.Error(1)
}

func (m *mockEvents) Moderate(ctx context.Context, adminID, eventID int64, req *models.ModerateEventRequest) (*models.Event, error) {
	args := m.Called(adminID, eventID, req)
	e, _ := args.Get(0).(*models.Event)
	return e, args.Error(1)
}

type mockRegistrations struct{ mock.Mock }

func (m *mockRegistrations) ListMine(ctx context.Context, userID int64) ([]models.Registration, error) {
	args := m.Called(userID)
	r, _ := args.Get(0).([]models.Registration)
	return r, args.Error(1)
}

func (m *mockRegistrations) ListForEvent(ctx context.Context, viewerID int64, role models.Role, eventID int64) ([]models.Registration, error) {
	args := m.Called(viewerID, role, eventID)
	r, _ := args.Get(0).([]models.Registration)
	return r, args.Error(1)
}

func (m *mockRegistrations) Get(ctx context.Context, viewerID int64, role models.Role, id int64) (*models.Registration, error) {
	args := m.Called(viewerID, role, id)
	r, _ := args.Get(0).(*models.Registration)
	return r, args.Error(1)
}

type stubVerifier bool

func (v stubVerifier) VerifyNotification(models.PaymentNotificationPayload) bool { return bool(v) }

type testEnv struct {
	checkouts     *mockCheckouts
	tickets       *mockTickets
	events        *mockEvents
	registrations *mockRegistrations
	router        *gin.Engine
}

// setupRouter mounts the handlers without the JWT layer; the caller
// is taken from the X-Test-User and X-Test-Role headers.
func setupRouter(t *testing.T, verifier NotificationVerifier) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		checkouts:     &mockCheckouts{},
		tickets:       &mockTickets{},
		events:        &mockEvents{},
		registrations: &mockRegistrations{},
	}
	h := &Handlers{
		checkouts:     env.checkouts,
		tickets:       env.tickets,
		events:        env.events,
		registrations: env.registrations,
		verifier:      verifier,
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			var userID int64
			fmt.Sscan(id, &userID)
			p := &auth.Principal{UserID: userID, Role: models.Role(c.GetHeader("X-Test-Role"))}
			c.Request = c.Request.WithContext(middleware.ContextWithPrincipal(c.Request.Context(), p))
		}
		c.Next()
	})

	api := r.Group("/api")
	api.GET("/events", h.ListEvents)
	api.POST("/events", h.CreateEvent)
	api.GET("/events/mine", h.ListMyEvents)
	api.GET("/events/:id", h.GetEvent)
	api.GET("/events/:id/registrations", h.ListEventRegistrations)
	api.GET("/admin/events/pending", h.ListPendingEvents)
	api.PATCH("/admin/events/:id/status", h.ModerateEvent)
	api.POST("/admin/checkouts/:id/expire", h.ExpireCheckout)
	api.POST("/checkouts", h.RequestCheckout)
	api.POST("/checkouts/confirm", h.ConfirmCheckout)
	api.GET("/checkouts/:id", h.GetCheckout)
	api.PATCH("/checkouts/:id/cancel", h.CancelCheckout)
	api.GET("/tickets", h.ListTickets)
	api.GET("/tickets/:id/history", h.TicketHistory)
	api.PATCH("/tickets/:id/cancel", h.CancelTicket)
	api.PATCH("/tickets/:id/transfer", h.TransferTicket)
	api.GET("/registrations", h.ListRegistrations)
	api.GET("/registrations/:id", h.GetRegistration)
	api.POST("/payments/notifications", h.OnPaymentUpdates)

	env.router = r
	return env
}

func (e *testEnv) do(method, path string, body any, userID int64, role models.Role) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set("X-Test-User", fmt.Sprint(userID))
		req.Header.Set("X-Test-Role", string(role))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRequestCheckout(t *testing.T) {
	env := setupRouter(t, nil)
	req := &models.CreateCheckoutRequest{EventID: 5, TicketType: "VIP", Quantity: 2}
	env.checkouts.On("RequestCheckout", int64(7), req).Return(&models.CheckoutSession{
		CheckoutID: "c-1",
		SessionID:  "sess-1",
		PaymentURL: "https://pay.example.com/sess-1",
		Amount:     decimal.NewFromInt(100),
		Currency:   "usd",
	}, nil).Once()

	w := env.do(http.MethodPost, "/api/checkouts", req, 7, models.RoleUser)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "https://pay.example.com/sess-1", w.Header().Get("Location"))
	var session models.CheckoutSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, "sess-1", session.SessionID)
	env.checkouts.AssertExpectations(t)
}

func TestRequestCheckoutErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"sold out", apperrors.ErrOutOfStock, http.StatusConflict, "OUT_OF_STOCK"},
		{"unknown event", apperrors.ErrEventNotFound, http.StatusNotFound, "EVENT_NOT_FOUND"},
		{"unknown type", apperrors.ErrTicketTypeNotFound, http.StatusBadRequest, "TICKET_TYPE_NOT_FOUND"},
		{"provider down", fmt.Errorf("%w: timeout", apperrors.ErrPaymentUnavailable), http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE"},
		{"store failure", fmt.Errorf("connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t, nil)
			env.checkouts.On("RequestCheckout", int64(7), mock.Anything).Return(nil, tt.err).Once()

			w := env.do(http.MethodPost, "/api/checkouts",
				models.CreateCheckoutRequest{EventID: 5, TicketType: "VIP", Quantity: 1}, 7, models.RoleUser)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "Internal server error", resp.Error)
			}
			if tt.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, "5", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestRequestCheckoutBadBody(t *testing.T) {
	env := setupRouter(t, nil)

	w := env.do(http.MethodPost, "/api/checkouts", map[string]any{"event_id": 5}, 7, models.RoleUser)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST", decodeError(t, w).Code)
	env.checkouts.AssertNotCalled(t, "RequestCheckout", mock.Anything, mock.Anything)
}

func TestConfirmCheckout(t *testing.T) {
	env := setupRouter(t, nil)
	confirmed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	env.checkouts.On("ConfirmCheckout", "sess-1").Return(&models.CheckoutResult{
		CheckoutID:  "c-1",
		SessionID:   "sess-1",
		TicketID:    11,
		ConfirmedAt: confirmed,
	}, nil).Once()
	env.checkouts.On("ConfirmCheckout", "sess-2").Return(nil, apperrors.ErrPaymentNotCompleted).Once()

	w := env.do(http.MethodPost, "/api/checkouts/confirm", models.ConfirmCheckoutRequest{SessionID: "sess-1"}, 0, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var result models.CheckoutResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, int64(11), result.TicketID)
	assert.True(t, confirmed.Equal(result.ConfirmedAt))

	w = env.do(http.MethodPost, "/api/checkouts/confirm", models.ConfirmCheckoutRequest{SessionID: "sess-2"}, 0, "")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "PAYMENT_NOT_COMPLETED", decodeError(t, w).Code)
}

func TestCheckoutOwnerRoutes(t *testing.T) {
	env := setupRouter(t, nil)
	env.checkouts.On("GetCheckout", int64(7), "c-1").Return(&models.Checkout{ID: "c-1", UserID: 7}, nil).Once()
	env.checkouts.On("GetCheckout", int64(8), "c-1").Return(nil, apperrors.ErrNotOwner).Once()
	env.checkouts.On("CancelCheckout", int64(7), "c-1").Return(&models.Checkout{ID: "c-1", State: models.CheckoutCancelled}, nil).Once()
	env.checkouts.On("ExpireCheckout", "c-2").Return(nil, apperrors.ErrCheckoutNotFound).Once()

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/checkouts/c-1", nil, 7, models.RoleUser).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/checkouts/c-1", nil, 8, models.RoleUser).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPatch, "/api/checkouts/c-1/cancel", nil, 7, models.RoleUser).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/admin/checkouts/c-2/expire", nil, 1, models.RoleAdmin).Code)
	env.checkouts.AssertExpectations(t)
}

func TestTicketRoutes(t *testing.T) {
	env := setupRouter(t, nil)
	env.tickets.On("ListTickets", int64(7)).Return([]models.Ticket{{ID: 11, UserID: 7}}, nil).Once()
	env.tickets.On("CancelTicket", int64(7), int64(11)).Return(&models.Ticket{ID: 11, Status: models.TicketCancelled}, nil).Once()
	env.tickets.On("CancelTicket", int64(7), int64(12)).Return(nil, apperrors.ErrNotCancellable).Once()
	env.tickets.On("TransferTicket", int64(7), int64(11), "friend@example.com").Return(&models.Ticket{ID: 11, UserID: 8}, nil).Once()
	env.tickets.On("TicketHistory", int64(7), int64(11)).Return([]models.OwnerChange{{TicketID: 11, FromUserID: 7, ToUserID: 8}}, nil).Once()

	w := env.do(http.MethodGet, "/api/tickets", nil, 7, models.RoleUser)
	assert.Equal(t, http.StatusOK, w.Code)
	var tickets []models.Ticket
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tickets))
	assert.Len(t, tickets, 1)

	assert.Equal(t, http.StatusOK, env.do(http.MethodPatch, "/api/tickets/11/cancel", nil, 7, models.RoleUser).Code)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPatch, "/api/tickets/12/cancel", nil, 7, models.RoleUser).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPatch, "/api/tickets/abc/cancel", nil, 7, models.RoleUser).Code)

	w = env.do(http.MethodPatch, "/api/tickets/11/transfer",
		models.TransferTicketRequest{RecipientEmail: "friend@example.com"}, 7, models.RoleUser)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodPatch, "/api/tickets/11/transfer",
		models.TransferTicketRequest{RecipientEmail: "not-an-email"}, 7, models.RoleUser)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/tickets/11/history", nil, 7, models.RoleUser).Code)
	env.tickets.AssertExpectations(t)
}

func TestListEvents(t *testing.T) {
	env := setupRouter(t, nil)
	env.events.On("List", mock.MatchedBy(func(f models.EventFilter) bool {
		return f.Keyword == "jazz" && f.Category == "music" && f.Page == 2 && f.Limit == 5 &&
			f.From != nil && f.From.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) && f.To == nil
	})).Return(&models.ListEventsResponse{Events: []models.Event{{ID: 1}}, Total: 6, Page: 2, Limit: 5}, nil).Once()

	w := env.do(http.MethodGet, "/api/events?query=jazz&category=music&page=2&limit=5&from=2025-06-01", nil, 0, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var resp models.ListEventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Total)
	env.events.AssertExpectations(t)
}

func TestListEventsBadQuery(t *testing.T) {
	env := setupRouter(t, nil)

	for _, query := range []string{"page=0", "limit=500", "limit=x", "from=yesterday", "to=2025-13-01"} {
		t.Run(query, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/events?"+query, nil, 0, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	env.events.AssertNotCalled(t, "List", mock.Anything)
}

func TestEventRoutes(t *testing.T) {
	env := setupRouter(t, nil)
	create := &models.CreateEventRequest{
		Title:       "Conf2025",
		Category:    "tech",
		Location:    "Almaty",
		StartsAt:    time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC),
		TicketTypes: []models.TicketTypeInput{{Name: "General", Price: decimal.NewFromInt(50), Capacity: 100}},
	}
	env.events.On("Create", int64(20), models.RoleOrganizer, mock.AnythingOfType("*models.CreateEventRequest")).
		Return(&models.CreateEventResponse{ID: 3, Status: models.EventPending}, nil).Once()
	env.events.On("Get", int64(3), int64(0), models.Role("")).Return(nil, apperrors.ErrEventNotFound).Once()
	env.events.On("Get", int64(3), int64(20), models.RoleOrganizer).Return(&models.Event{ID: 3, Status: models.EventPending}, nil).Once()
	env.events.On("ListMine", int64(20)).Return([]models.Event{{ID: 3}}, nil).Once()
	env.events.On("ListPending").Return([]models.Event{{ID: 3}}, nil).Once()
	env.events.On("Moderate", int64(1), int64(3), &models.ModerateEventRequest{Status: models.EventRejected}).
		Return(nil, apperrors.ErrInvalidRequest).Once()
	env.registrations.On("ListForEvent", int64(20), models.RoleOrganizer, int64(3)).Return([]models.Registration{}, nil).Once()
	env.registrations.On("ListMine", int64(7)).Return([]models.Registration{{ID: 1, UserID: 7}}, nil).Once()
	env.registrations.On("Get", int64(7), models.RoleUser, int64(1)).Return(&models.Registration{ID: 1, UserID: 7}, nil).Once()
	env.registrations.On("Get", int64(8), models.RoleUser, int64(1)).Return(nil, apperrors.ErrForbidden).Once()
	env.registrations.On("Get", int64(7), models.RoleUser, int64(2)).Return(nil, apperrors.ErrRegistrationNotFound).Once()

	w := env.do(http.MethodPost, "/api/events", create, 20, models.RoleOrganizer)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":3,"status":"pending"}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/events/3", nil, 0, "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/events/3", nil, 20, models.RoleOrganizer).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/events/mine", nil, 20, models.RoleOrganizer).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/admin/events/pending", nil, 1, models.RoleAdmin).Code)

	w = env.do(http.MethodPatch, "/api/admin/events/3/status", models.ModerateEventRequest{Status: models.EventRejected}, 1, models.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/events/3/registrations", nil, 20, models.RoleOrganizer).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/registrations", nil, 7, models.RoleUser).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/registrations/1", nil, 7, models.RoleUser).Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/registrations/1", nil, 8, models.RoleUser).Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/registrations/2", nil, 7, models.RoleUser).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/registrations/abc", nil, 7, models.RoleUser).Code)

	env.events.AssertExpectations(t)
	env.registrations.AssertExpectations(t)
}

func TestOnPaymentUpdates(t *testing.T) {
	notification := models.PaymentNotificationPayload{
		TeamSlug:  "ticketing",
		PaymentID: "sess-1",
		OrderID:   "c-1",
		Status:    "CONFIRMED",
		Token:     "signed",
	}

	t.Run("invalid token", func(t *testing.T) {
		env := setupRouter(t, stubVerifier(false))
		w := env.do(http.MethodPost, "/api/payments/notifications", notification, 0, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
		env.checkouts.AssertNotCalled(t, "ConfirmCheckout", mock.Anything)
	})

	t.Run("confirmed", func(t *testing.T) {
		env := setupRouter(t, stubVerifier(true))
		env.checkouts.On("ConfirmCheckout", "sess-1").Return(&models.CheckoutResult{CheckoutID: "c-1"}, nil).Once()
		w := env.do(http.MethodPost, "/api/payments/notifications", notification, 0, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
		env.checkouts.AssertExpectations(t)
	})

	t.Run("unpaid is acknowledged", func(t *testing.T) {
		env := setupRouter(t, stubVerifier(true))
		env.checkouts.On("ConfirmCheckout", "sess-1").Return(nil, apperrors.ErrPaymentNotCompleted).Once()
		w := env.do(http.MethodPost, "/api/payments/notifications", notification, 0, "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown outcome asks for retry", func(t *testing.T) {
		env := setupRouter(t, stubVerifier(true))
		env.checkouts.On("ConfirmCheckout", "sess-1").Return(nil, apperrors.ErrPaymentOutcomeUnknown).Once()
		w := env.do(http.MethodPost, "/api/payments/notifications", notification, 0, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}
