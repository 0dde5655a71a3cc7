package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ticketing/internal/database"
	"ticketing/internal/models"
)

type PaymentRepository struct {
	db *database.DB
}

func NewPaymentRepository(db *database.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Record upserts the payment of a provider session. A session has exactly
// one payment row; recording it again updates the status and returns the
// existing id.
func (r *PaymentRepository) Record(ctx context.Context, payment *models.Payment) error {
	err := r.db.QueryRowxContext(ctx, `
		INSERT INTO payments (ticket_id, user_id, checkout_id, provider_session_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider_session_id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		payment.TicketID,
		payment.UserID,
		payment.CheckoutID,
		payment.SessionID,
		payment.Amount,
		payment.Currency,
		payment.Status,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return fmt.Errorf("could not record payment for session %s: %w", payment.SessionID, err)
	}
	return nil
}

// MarkFailed flips a pending payment to failed. Payments that already
// succeeded or were refunded keep their status.
func (r *PaymentRepository) MarkFailed(ctx context.Context, sessionID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET status = 'failed', updated_at = NOW()
		WHERE provider_session_id = $1 AND status = 'pending'`, sessionID)
	if err != nil {
		return false, fmt.Errorf("could not mark payment of session %s failed: %w", sessionID, err)
	}
	return affectedOne(res)
}

func (r *PaymentRepository) GetBySession(ctx context.Context, sessionID string) (*models.Payment, error) {
	payment := &models.Payment{}
	err := r.db.GetContext(ctx, payment, `
		SELECT id, ticket_id, user_id, checkout_id, provider_session_id, amount, currency, status, created_at, updated_at
		FROM payments WHERE provider_session_id = $1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not get payment for session %s: %w", sessionID, err)
	}
	return payment, nil
}
