package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ticketing/internal/database"
	apperrors "ticketing/internal/errors"
	"ticketing/internal/models"
)

// LedgerRepository owns the remaining counters of ticket types. Every
// mutation is a single conditional statement, so concurrent callers are
// arbitrated by the row lock Postgres takes on the ticket type.
type LedgerRepository struct {
	db *database.DB
}

func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Reserve(ctx context.Context, eventID int64, ticketTypeKey string, quantity int) (*models.Reservation, error) {
	if quantity <= 0 {
		return nil, apperrors.ErrInvalidRequest
	}

	query := `
		WITH dec AS (
			UPDATE ticket_types
			SET remaining = remaining - $3, updated_at = NOW()
			WHERE event_id = $1 AND lower(name) = lower($2) AND remaining >= $3
			RETURNING id
		)
		INSERT INTO reservations (id, ticket_type_id, quantity, state)
		SELECT $4, id, $3, 'reserved' FROM dec
		RETURNING id, ticket_type_id, quantity, state, created_at, updated_at`

	reservation := &models.Reservation{}
	err := r.db.GetContext(ctx, reservation, query, eventID, ticketTypeKey, quantity, uuid.NewString())
	if err == nil {
		return reservation, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("could not reserve %d of %q: %w", quantity, ticketTypeKey, err)
	}

	var exists bool
	err = r.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM ticket_types WHERE event_id = $1 AND lower(name) = lower($2))`,
		eventID, ticketTypeKey)
	if err != nil {
		return nil, fmt.Errorf("could not look up ticket type %q: %w", ticketTypeKey, err)
	}
	if !exists {
		return nil, apperrors.ErrTicketTypeNotFound
	}
	return nil, apperrors.ErrOutOfStock
}

// Release returns the reserved quantity to the counter. Only the first call
// for a reservation changes the counter; released reports whether this call
// was that one.
func (r *LedgerRepository) Release(ctx context.Context, reservationID string) (released bool, err error) {
	query := `
		WITH rel AS (
			UPDATE reservations
			SET state = 'released', updated_at = NOW()
			WHERE id = $1 AND state <> 'released'
			RETURNING ticket_type_id, quantity
		)
		UPDATE ticket_types t
		SET remaining = t.remaining + rel.quantity, updated_at = NOW()
		FROM rel
		WHERE t.id = rel.ticket_type_id
		RETURNING t.remaining`

	var remaining int
	err = r.db.GetContext(ctx, &remaining, query, reservationID)
	switch {
	case err == nil:
		return true, nil
	case isErrorCheckViolation(err):
		return false, fmt.Errorf("release of %s: %w", reservationID, apperrors.ErrInventoryIntegrity)
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("could not release reservation %s: %w", reservationID, err)
	}

	existing, err := r.Get(ctx, reservationID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, fmt.Errorf("release of %s: %w", reservationID, apperrors.ErrReservationNotFound)
	}
	return false, nil
}

// ReserveForCheckout takes a fresh reservation for a confirming checkout
// whose reservation `stale` was released, and points the checkout at it in
// the same statement. The checkout row is locked first, so of several
// callers holding the same stale handle only one reserves. It returns nil
// when the checkout no longer holds stale.
func (r *LedgerRepository) ReserveForCheckout(ctx context.Context, checkoutID, stale string) (*models.Reservation, error) {
	query := `
		WITH target AS (
			SELECT id, event_id, ticket_type_name, quantity FROM checkouts
			WHERE id = $1 AND state = 'confirming' AND reservation_id = $2
			FOR UPDATE
		), dec AS (
			UPDATE ticket_types tt
			SET remaining = tt.remaining - target.quantity, updated_at = NOW()
			FROM target
			WHERE tt.event_id = target.event_id
			  AND lower(tt.name) = lower(target.ticket_type_name)
			  AND tt.remaining >= target.quantity
			RETURNING tt.id, target.quantity
		), ins AS (
			INSERT INTO reservations (id, ticket_type_id, quantity, state)
			SELECT $3, id, quantity, 'reserved' FROM dec
			RETURNING id, ticket_type_id, quantity, state, created_at, updated_at
		), swap AS (
			UPDATE checkouts c SET reservation_id = ins.id, updated_at = NOW()
			FROM ins
			WHERE c.id = $1
		)
		SELECT id, ticket_type_id, quantity, state, created_at, updated_at FROM ins`

	reservation := &models.Reservation{}
	err := r.db.GetContext(ctx, reservation, query, checkoutID, stale, uuid.NewString())
	if err == nil {
		return reservation, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("could not reserve for checkout %s: %w", checkoutID, err)
	}

	var target struct {
		Holds      bool `db:"holds"`
		TypeExists bool `db:"type_exists"`
	}
	err = r.db.GetContext(ctx, &target, `
		SELECT c.state = 'confirming' AND c.reservation_id = $2 AS holds,
		       EXISTS (SELECT 1 FROM ticket_types tt
		               WHERE tt.event_id = c.event_id AND lower(tt.name) = lower(c.ticket_type_name)) AS type_exists
		FROM checkouts c
		WHERE c.id = $1`, checkoutID, stale)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("could not look up checkout %s: %w", checkoutID, err)
	case !target.Holds:
		return nil, nil
	case !target.TypeExists:
		return nil, apperrors.ErrTicketTypeNotFound
	default:
		return nil, apperrors.ErrOutOfStock
	}
}

// ReleaseOrphan releases the reservation of a cancelled ticket. The ticket
// row is locked by the same statement, so a ticket reinstated and booked by
// a late payment keeps its reservation.
func (r *LedgerRepository) ReleaseOrphan(ctx context.Context, ticketID int64, reservationID string) (bool, error) {
	query := `
		WITH orphan AS (
			SELECT reservation_id FROM tickets
			WHERE id = $1 AND reservation_id = $2 AND status = 'cancelled'
			FOR UPDATE
		), rel AS (
			UPDATE reservations r
			SET state = 'released', updated_at = NOW()
			FROM orphan o
			WHERE r.id = o.reservation_id AND r.state <> 'released'
			RETURNING r.ticket_type_id, r.quantity
		)
		UPDATE ticket_types t
		SET remaining = t.remaining + rel.quantity, updated_at = NOW()
		FROM rel
		WHERE t.id = rel.ticket_type_id
		RETURNING t.remaining`

	var remaining int
	err := r.db.GetContext(ctx, &remaining, query, ticketID, reservationID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case isErrorCheckViolation(err):
		return false, fmt.Errorf("release of %s: %w", reservationID, apperrors.ErrInventoryIntegrity)
	default:
		return false, fmt.Errorf("could not release orphaned reservation %s: %w", reservationID, err)
	}
}

func (r *LedgerRepository) Commit(ctx context.Context, reservationID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE reservations
		SET state = 'committed', updated_at = NOW()
		WHERE id = $1 AND state = 'reserved'`, reservationID)
	if err != nil {
		return fmt.Errorf("could not commit reservation %s: %w", reservationID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	existing, err := r.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	switch {
	case existing == nil:
		return fmt.Errorf("commit of %s: %w", reservationID, apperrors.ErrReservationNotFound)
	case existing.State == models.ReservationReleased:
		return apperrors.ErrReservationReleased
	default:
		return nil
	}
}

func (r *LedgerRepository) Get(ctx context.Context, reservationID string) (*models.Reservation, error) {
	reservation := &models.Reservation{}
	err := r.db.GetContext(ctx, reservation, `
		SELECT id, ticket_type_id, quantity, state, created_at, updated_at
		FROM reservations
		WHERE id = $1`, reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not get reservation %s: %w", reservationID, err)
	}
	return reservation, nil
}

// Remaining returns the current counter of a ticket type.
func (r *LedgerRepository) Remaining(ctx context.Context, ticketTypeID int64) (int, error) {
	var remaining int
	err := r.db.GetContext(ctx, &remaining, `SELECT remaining FROM ticket_types WHERE id = $1`, ticketTypeID)
	if err != nil {
		return 0, fmt.Errorf("could not read remaining of ticket type %d: %w", ticketTypeID, err)
	}
	return remaining, nil
}
