package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ticketing/internal/logger"
	"ticketing/internal/models"
)

// Options настраивают проверку развернутого API
type Options struct {
	BaseURL string
	// Token включает проверку закрытых роутов
	Token string
	// EventID и TicketType включают проверку оформления до редиректа на оплату.
	// Созданное оформление сразу отменяется.
	EventID    int64
	TicketType string
	Timeout    time.Duration
}

// APIValidator smoke-checks a running deployment.
type APIValidator struct {
	opts   Options
	client *http.Client
}

// NewAPIValidator создает новый валидатор
func NewAPIValidator(opts Options) *APIValidator {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &APIValidator{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}
}

// ValidateAll проверяет все доступные endpoints
func (v *APIValidator) ValidateAll(ctx context.Context) error {
	log := logger.Get()
	log.Info("Начинаю валидацию API", "url", v.opts.BaseURL)

	if err := v.validatePublic(ctx); err != nil {
		return fmt.Errorf("public endpoints: %w", err)
	}

	if v.opts.Token == "" {
		log.Info("Токен не задан, закрытые endpoints пропущены")
		return nil
	}

	if err := v.validateAccount(ctx); err != nil {
		return fmt.Errorf("account endpoints: %w", err)
	}

	if v.opts.EventID > 0 {
		if err := v.validateCheckout(ctx); err != nil {
			return fmt.Errorf("checkout flow: %w", err)
		}
	}

	log.Info("Все endpoints прошли валидацию успешно")
	return nil
}

func (v *APIValidator) validatePublic(ctx context.Context) error {
	if err := v.expect(ctx, http.MethodGet, "/health", nil, false, http.StatusOK, nil); err != nil {
		return err
	}

	var list models.ListEventsResponse
	if err := v.expect(ctx, http.MethodGet, "/api/events?page=1&limit=5", nil, false, http.StatusOK, &list); err != nil {
		return err
	}
	if list.Page != 1 || list.Limit != 5 {
		return fmt.Errorf("GET /api/events: unexpected paging %d/%d", list.Page, list.Limit)
	}
	for _, e := range list.Events {
		if e.Status != models.EventApproved {
			return fmt.Errorf("GET /api/events: event %d is %s", e.ID, e.Status)
		}
	}

	if err := v.expect(ctx, http.MethodGet, "/api/events?keyword=conference", nil, false, http.StatusOK, nil); err != nil {
		return err
	}
	if err := v.expect(ctx, http.MethodGet, "/api/tickets", nil, false, http.StatusUnauthorized, nil); err != nil {
		return err
	}

	logger.Get().Info("Публичные endpoints валидны", "events", list.Total)
	return nil
}

func (v *APIValidator) validateAccount(ctx context.Context) error {
	var tickets []models.Ticket
	if err := v.expect(ctx, http.MethodGet, "/api/tickets", nil, true, http.StatusOK, &tickets); err != nil {
		return err
	}
	if tickets == nil {
		return fmt.Errorf("GET /api/tickets: expected a list, got null")
	}

	if err := v.expect(ctx, http.MethodGet, "/api/registrations", nil, true, http.StatusOK, nil); err != nil {
		return err
	}

	logger.Get().Info("Закрытые endpoints валидны", "tickets", len(tickets))
	return nil
}

func (v *APIValidator) validateCheckout(ctx context.Context) error {
	req := models.CreateCheckoutRequest{EventID: v.opts.EventID, TicketType: v.opts.TicketType, Quantity: 1}

	var session models.CheckoutSession
	if err := v.expect(ctx, http.MethodPost, "/api/checkouts", req, true, http.StatusCreated, &session); err != nil {
		return err
	}
	if session.CheckoutID == "" || session.PaymentURL == "" {
		return fmt.Errorf("POST /api/checkouts: missing checkout id or payment url")
	}

	var checkout models.Checkout
	if err := v.expect(ctx, http.MethodGet, "/api/checkouts/"+session.CheckoutID, nil, true, http.StatusOK, &checkout); err != nil {
		return err
	}
	if !checkout.State.Open() {
		return fmt.Errorf("GET /api/checkouts: new checkout is %s", checkout.State)
	}

	if err := v.expect(ctx, http.MethodPatch, "/api/checkouts/"+session.CheckoutID+"/cancel", nil, true, http.StatusOK, nil); err != nil {
		return err
	}

	logger.Get().Info("Оформление валидно", "checkout_id", session.CheckoutID)
	return nil
}

// expect выполняет запрос и сверяет статус; out заполняется из тела ответа
func (v *APIValidator) expect(ctx context.Context, method, path string, body any, authorized bool, want int, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, v.opts.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorized {
		req.Header.Set("Authorization", "Bearer "+v.opts.Token)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: expected %d, got %d: %s", method, path, want, resp.StatusCode, bytes.TrimSpace(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
		}
	}
	return nil
}
