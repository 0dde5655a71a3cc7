package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ticketing/internal/logger"
	"ticketing/internal/models"
)

type PaymentClient struct {
	baseURL         string
	teamSlug        string
	password        string
	successURL      string
	cancelURL       string
	notificationURL string
	httpClient      *http.Client
}

type PaymentConfig struct {
	BaseURL         string
	TeamSlug        string
	Password        string
	SuccessURL      string
	CancelURL       string
	NotificationURL string
	Timeout         time.Duration
}

// Provider payment statuses
const (
	StatusNew             = "NEW"
	StatusFormShowed      = "FORM_SHOWED"
	StatusAuthorized      = "AUTHORIZED"
	StatusConfirmed       = "CONFIRMED"
	StatusRejected        = "REJECTED"
	StatusCancelled       = "CANCELLED"
	StatusDeadlineExpired = "DEADLINE_EXPIRED"
	StatusExpired         = "EXPIRED"
	StatusRefunded        = "REFUNDED"
)

type PaymentInitRequest struct {
	TeamSlug        string            `json:"teamSlug"`
	Token           string            `json:"token"`
	Amount          int64             `json:"amount"`
	OrderID         string            `json:"orderId"`
	Currency        string            `json:"currency"`
	Description     string            `json:"description,omitempty"`
	Email           string            `json:"email,omitempty"`
	SuccessURL      string            `json:"successURL,omitempty"`
	FailURL         string            `json:"failURL,omitempty"`
	NotificationURL string            `json:"notificationURL,omitempty"`
	Language        string            `json:"language,omitempty"`
	Data            map[string]string `json:"data,omitempty"`
}

type PaymentInitResponse struct {
	Success    bool   `json:"success"`
	PaymentID  string `json:"paymentId"`
	OrderID    string `json:"orderId"`
	Status     string `json:"status"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	PaymentURL string `json:"paymentURL"`
	ExpiresAt  string `json:"expiresAt"`
	CreatedAt  string `json:"createdAt"`
	Message    string `json:"message,omitempty"`
}

type PaymentCheckRequest struct {
	TeamSlug  string `json:"teamSlug"`
	Token     string `json:"token"`
	PaymentID string `json:"paymentId,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
}

type PaymentCheckResponse struct {
	Success    bool             `json:"success"`
	Payments   []PaymentDetails `json:"payments"`
	TotalCount int              `json:"totalCount"`
	OrderID    string           `json:"orderId"`
}

type PaymentDetails struct {
	PaymentID         string `json:"paymentId"`
	OrderID           string `json:"orderId"`
	Status            string `json:"status"`
	StatusDescription string `json:"statusDescription"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
	ExpiresAt         string `json:"expiresAt"`
	Description       string `json:"description"`
}

func NewPaymentClient(cfg PaymentConfig) *PaymentClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &PaymentClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		teamSlug:        cfg.TeamSlug,
		password:        cfg.Password,
		successURL:      cfg.SuccessURL,
		cancelURL:       cfg.CancelURL,
		notificationURL: cfg.NotificationURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// MinorUnits converts an amount to the provider's integer minor units.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (pc *PaymentClient) generateToken(params map[string]string) string {
	signed := make(map[string]string, len(params)+2)
	for k, v := range params {
		signed[k] = v
	}
	signed["TeamSlug"] = pc.teamSlug
	signed["Password"] = pc.password

	keys := make([]string, 0, len(signed))
	for k := range signed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(signed[key])
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(hash[:])
}

func (pc *PaymentClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pc.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code from %s: %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// OpenSession initialises a hosted payment page for the order.
func (pc *PaymentClient) OpenSession(ctx context.Context, r models.PaymentSessionRequest) (*models.PaymentSession, error) {
	amount := MinorUnits(r.Amount)
	currency := strings.ToUpper(r.Currency)

	token := pc.generateToken(map[string]string{
		"Amount":   strconv.FormatInt(amount, 10),
		"Currency": currency,
		"OrderId":  r.OrderID,
	})

	req := PaymentInitRequest{
		TeamSlug:        pc.teamSlug,
		Token:           token,
		Amount:          amount,
		OrderID:         r.OrderID,
		Currency:        currency,
		Description:     r.Description,
		Email:           r.Email,
		SuccessURL:      withSession(pc.successURL, r.OrderID),
		FailURL:         pc.cancelURL,
		NotificationURL: pc.notificationURL,
		Language:        "en",
		Data:            r.Metadata,
	}

	var result PaymentInitResponse
	if err := pc.post(ctx, "/api/v1/PaymentInit/init", req, &result); err != nil {
		return nil, fmt.Errorf("failed to init payment: %w", err)
	}
	if !result.Success || result.PaymentID == "" {
		return nil, fmt.Errorf("payment init failed: %s", result.Message)
	}

	return &models.PaymentSession{ID: result.PaymentID, URL: result.PaymentURL}, nil
}

func (pc *PaymentClient) CheckPayment(ctx context.Context, paymentID string) (*PaymentCheckResponse, error) {
	req := PaymentCheckRequest{
		TeamSlug:  pc.teamSlug,
		Token:     pc.generateToken(map[string]string{"PaymentId": paymentID}),
		PaymentID: paymentID,
	}

	var result PaymentCheckResponse
	if err := pc.post(ctx, "/api/v1/PaymentCheck/check", req, &result); err != nil {
		return nil, fmt.Errorf("failed to check payment: %w", err)
	}
	return &result, nil
}

// RetrieveOutcome maps the provider status of a session to paid, unpaid or
// unknown. An authorised payment is captured first; a failed capture leaves
// the outcome unknown.
func (pc *PaymentClient) RetrieveOutcome(ctx context.Context, sessionID string) (models.PaymentOutcome, error) {
	check, err := pc.CheckPayment(ctx, sessionID)
	if err != nil {
		return models.OutcomeUnknown, err
	}

	var details *PaymentDetails
	for i := range check.Payments {
		if check.Payments[i].PaymentID == sessionID {
			details = &check.Payments[i]
			break
		}
	}
	if !check.Success || details == nil {
		return models.OutcomeUnknown, nil
	}

	switch details.Status {
	case StatusConfirmed:
		return models.OutcomePaid, nil
	case StatusAuthorized:
		if err := pc.ConfirmPayment(ctx, sessionID, details.Amount); err != nil {
			logger.WithContext(ctx).Warn("Failed to capture authorized payment", "session_id", sessionID, "error", err)
			return models.OutcomeUnknown, nil
		}
		return models.OutcomePaid, nil
	case StatusRejected, StatusCancelled, StatusDeadlineExpired, StatusExpired, StatusRefunded:
		return models.OutcomeUnpaid, nil
	default:
		return models.OutcomeUnknown, nil
	}
}

func (pc *PaymentClient) ConfirmPayment(ctx context.Context, paymentID string, amount int64) error {
	token := pc.generateToken(map[string]string{
		"Amount":    strconv.FormatInt(amount, 10),
		"PaymentId": paymentID,
	})

	reqData := map[string]interface{}{
		"teamSlug":  pc.teamSlug,
		"token":     token,
		"paymentId": paymentID,
		"amount":    amount,
	}

	if err := pc.post(ctx, "/api/v1/PaymentConfirm/confirm", reqData, nil); err != nil {
		return fmt.Errorf("failed to confirm payment: %w", err)
	}
	return nil
}

// CancelSession cancels an unpaid session or refunds a paid one.
func (pc *PaymentClient) CancelSession(ctx context.Context, sessionID, reason string) error {
	reqData := map[string]interface{}{
		"teamSlug":  pc.teamSlug,
		"token":     pc.generateToken(map[string]string{"PaymentId": sessionID}),
		"paymentId": sessionID,
		"reason":    reason,
	}

	if err := pc.post(ctx, "/api/v1/PaymentCancel/cancel", reqData, nil); err != nil {
		return fmt.Errorf("failed to cancel payment: %w", err)
	}
	return nil
}

// VerifyNotification checks the token of a webhook call.
func (pc *PaymentClient) VerifyNotification(payload models.PaymentNotificationPayload) bool {
	if payload.TeamSlug != pc.teamSlug || payload.Token == "" {
		return false
	}
	expected := pc.generateToken(payload.Params())
	return subtle.ConstantTimeCompare([]byte(expected), []byte(payload.Token)) == 1
}

func withSession(target, orderID string) string {
	if target == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "checkout_id=" + orderID
}
