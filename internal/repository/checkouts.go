package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ticketing/internal/database"
	"ticketing/internal/models"
)

// CheckoutRepository persists checkout records. State changes are
// conditional on the current state so that concurrent confirmations, user
// cancellations and the expiry sweep never both win.
type CheckoutRepository struct {
	db *database.DB
}

func NewCheckoutRepository(db *database.DB) *CheckoutRepository {
	return &CheckoutRepository{db: db}
}

const checkoutColumns = `id, session_id, payment_url, ticket_id, reservation_id, user_id, event_id,
	ticket_type_name, quantity, amount, currency, state, registration_id, payment_id,
	expires_at, confirmed_at, created_at, updated_at`

func (r *CheckoutRepository) GetByID(ctx context.Context, id string) (*models.Checkout, error) {
	return r.getOne(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE id = $1`, id)
}

func (r *CheckoutRepository) GetBySession(ctx context.Context, sessionID string) (*models.Checkout, error) {
	return r.getOne(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE session_id = $1`, sessionID)
}

func (r *CheckoutRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Checkout, error) {
	checkout := &models.Checkout{}
	err := r.db.GetContext(ctx, checkout, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not get checkout: %w", err)
	}
	return checkout, nil
}

// AttachSession stores the provider session and moves reserved → awaiting_payment.
func (r *CheckoutRepository) AttachSession(ctx context.Context, id, sessionID, paymentURL string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkouts
		SET session_id = $2, payment_url = $3, state = 'awaiting_payment', updated_at = NOW()
		WHERE id = $1 AND state = 'reserved'`, id, sessionID, paymentURL)
	if err != nil {
		return false, fmt.Errorf("could not attach session to checkout %s: %w", id, err)
	}
	return affectedOne(res)
}

// Transition moves the checkout to `to` only if its current state is one of
// `from`. It reports whether this call made the change.
func (r *CheckoutRepository) Transition(ctx context.Context, id string, from []models.CheckoutState, to models.CheckoutState) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE checkouts SET state = $3, updated_at = NOW()
		WHERE id = $1 AND state = ANY($2)`, id, pq.Array(states), to)
	if err != nil {
		return false, fmt.Errorf("could not move checkout %s to %s: %w", id, to, err)
	}
	return affectedOne(res)
}

// MarkRefunded moves confirming → refunded while the checkout still points
// at reservationID.
func (r *CheckoutRepository) MarkRefunded(ctx context.Context, id, reservationID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkouts SET state = 'refunded', updated_at = NOW()
		WHERE id = $1 AND state = 'confirming' AND reservation_id = $2`, id, reservationID)
	if err != nil {
		return false, fmt.Errorf("could not refund checkout %s: %w", id, err)
	}
	return affectedOne(res)
}

// FindOpen returns the open checkout of a user for one ticket type, if any.
func (r *CheckoutRepository) FindOpen(ctx context.Context, userID, eventID int64, ticketType string) (*models.Checkout, error) {
	checkout := &models.Checkout{}
	err := r.db.GetContext(ctx, checkout, `
		SELECT `+checkoutColumns+` FROM checkouts
		WHERE user_id = $1 AND event_id = $2 AND lower(ticket_type_name) = lower($3)
		  AND state IN ('reserved', 'awaiting_payment')`, userID, eventID, ticketType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not find open checkout: %w", err)
	}
	return checkout, nil
}

// MarkConfirmed moves confirming → confirmed and stores the booking references.
func (r *CheckoutRepository) MarkConfirmed(ctx context.Context, id string, registrationID, paymentID int64, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE checkouts
		SET state = 'confirmed', registration_id = $2, payment_id = $3, confirmed_at = $4, updated_at = NOW()
		WHERE id = $1 AND state = 'confirming'`, id, registrationID, paymentID, at)
	if err != nil {
		return false, fmt.Errorf("could not confirm checkout %s: %w", id, err)
	}
	return affectedOne(res)
}

// ListExpired returns open checkouts whose reservation TTL has passed.
func (r *CheckoutRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.Checkout, error) {
	var checkouts []models.Checkout
	err := r.db.SelectContext(ctx, &checkouts, `
		SELECT `+checkoutColumns+` FROM checkouts
		WHERE state IN ('reserved', 'awaiting_payment') AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list expired checkouts: %w", err)
	}
	return checkouts, nil
}

// ListUnsettled returns expired or failed checkouts whose ticket was never
// cancelled, i.e. a previous run stopped half way.
func (r *CheckoutRepository) ListUnsettled(ctx context.Context, limit int) ([]models.Checkout, error) {
	var checkouts []models.Checkout
	err := r.db.SelectContext(ctx, &checkouts, `
		SELECT c.id, c.session_id, c.payment_url, c.ticket_id, c.reservation_id, c.user_id, c.event_id,
		       c.ticket_type_name, c.quantity, c.amount, c.currency, c.state, c.registration_id, c.payment_id,
		       c.expires_at, c.confirmed_at, c.created_at, c.updated_at
		FROM checkouts c
		JOIN tickets t ON t.id = c.ticket_id
		WHERE c.state IN ('expired', 'failed', 'cancelled', 'refunded') AND t.status = 'pending'
		ORDER BY c.updated_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list unsettled checkouts: %w", err)
	}
	return checkouts, nil
}
