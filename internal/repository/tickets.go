package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"ticketing/internal/database"
	apperrors "ticketing/internal/errors"
	"ticketing/internal/models"
)

type TicketRepository struct {
	db *database.DB
}

func NewTicketRepository(db *database.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

const ticketColumns = `id, event_id, ticket_type_id, ticket_type_name, user_id, status, quantity,
	unit_price, reservation_id, created_at, updated_at`

// CreateWithCheckout inserts the pending ticket and its checkout record in
// one transaction. The checkout's ticket id is filled from the new ticket.
func (r *TicketRepository) CreateWithCheckout(ctx context.Context, ticket *models.Ticket, checkout *models.Checkout) error {
	return r.db.InTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO tickets (event_id, ticket_type_id, ticket_type_name, user_id, status, quantity, unit_price, reservation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`,
			ticket.EventID,
			ticket.TicketTypeID,
			ticket.TicketTypeName,
			ticket.UserID,
			ticket.Status,
			ticket.Quantity,
			ticket.UnitPrice,
			ticket.ReservationID,
		).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
		if err != nil {
			return fmt.Errorf("could not insert ticket: %w", err)
		}

		checkout.TicketID = ticket.ID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO checkouts (id, ticket_id, reservation_id, user_id, event_id, ticket_type_name,
			                       quantity, amount, currency, state, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING created_at, updated_at`,
			checkout.ID,
			checkout.TicketID,
			checkout.ReservationID,
			checkout.UserID,
			checkout.EventID,
			checkout.TicketTypeName,
			checkout.Quantity,
			checkout.Amount,
			checkout.Currency,
			checkout.State,
			checkout.ExpiresAt,
		).Scan(&checkout.CreatedAt, &checkout.UpdatedAt)
		if isConstraintViolation(err, "checkouts_open_per_user_idx") {
			return apperrors.ErrCheckoutAlreadyOpen
		}
		if err != nil {
			return fmt.Errorf("could not insert checkout: %w", err)
		}
		return nil
	})
}

func (r *TicketRepository) GetByID(ctx context.Context, id int64) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	err := r.db.GetContext(ctx, ticket, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not get ticket %d: %w", id, err)
	}
	return ticket, nil
}

func (r *TicketRepository) ListByUser(ctx context.Context, userID int64) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.db.SelectContext(ctx, &tickets,
		`SELECT `+ticketColumns+` FROM tickets WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("could not list tickets of user %d: %w", userID, err)
	}
	return tickets, nil
}

// SetStatus moves the ticket from one status to another. It returns false
// when the ticket was not in the expected status.
func (r *TicketRepository) SetStatus(ctx context.Context, id int64, from, to models.TicketStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("could not move ticket %d to %s: %w", id, to, err)
	}
	return affectedOne(res)
}

// Reinstate makes an unbooked ticket pending and moves it from one
// reservation to another. A ticket no longer held by `from` is left alone,
// as are booked tickets.
func (r *TicketRepository) Reinstate(ctx context.Context, id int64, from, to string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET status = 'pending', reservation_id = $3, updated_at = NOW()
		WHERE id = $1 AND reservation_id = $2 AND status IN ('pending', 'cancelled')`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("could not reinstate ticket %d: %w", id, err)
	}
	return affectedOne(res)
}

// CancelPending cancels a pending ticket that is still held by the given
// reservation. A ticket that was moved to another reservation is left alone.
func (r *TicketRepository) CancelPending(ctx context.Context, id int64, reservationID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND reservation_id = $2`, id, reservationID)
	if err != nil {
		return false, fmt.Errorf("could not cancel pending ticket %d: %w", id, err)
	}
	return affectedOne(res)
}

// CancelBooked cancels a booked ticket held by userID and removes it from
// its registration in the same transaction.
func (r *TicketRepository) CancelBooked(ctx context.Context, id, userID int64) (bool, error) {
	var cancelled bool
	err := r.db.InTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tickets SET status = 'cancelled', updated_at = NOW()
			WHERE id = $1 AND user_id = $2 AND status = 'booked'`, id, userID)
		if err != nil {
			return fmt.Errorf("could not cancel ticket %d: %w", id, err)
		}
		if cancelled, err = affectedOne(res); err != nil || !cancelled {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM registration_tickets WHERE ticket_id = $1`, id); err != nil {
			return fmt.Errorf("could not unlink ticket %d: %w", id, err)
		}
		return nil
	})
	return cancelled, err
}

// Transfer reassigns a booked ticket from one user to another, appends the
// ownership trail and moves the ticket into the recipient's registration.
func (r *TicketRepository) Transfer(ctx context.Context, id, fromUserID, toUserID int64) (bool, error) {
	var transferred bool
	err := r.db.InTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var eventID int64
		err := tx.GetContext(ctx, &eventID, `
			UPDATE tickets SET user_id = $3, updated_at = NOW()
			WHERE id = $1 AND user_id = $2 AND status = 'booked'
			RETURNING event_id`, id, fromUserID, toUserID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not reassign ticket %d: %w", id, err)
		}
		transferred = true

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ticket_owner_history (ticket_id, from_user_id, to_user_id)
			VALUES ($1, $2, $3)`, id, fromUserID, toUserID); err != nil {
			return fmt.Errorf("could not record owner change of ticket %d: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM registration_tickets WHERE ticket_id = $1`, id); err != nil {
			return fmt.Errorf("could not unlink ticket %d: %w", id, err)
		}

		_, err = linkTicket(ctx, tx, toUserID, eventID, id)
		return err
	})
	return transferred, err
}

func (r *TicketRepository) History(ctx context.Context, id int64) ([]models.OwnerChange, error) {
	var changes []models.OwnerChange
	err := r.db.SelectContext(ctx, &changes, `
		SELECT id, ticket_id, from_user_id, to_user_id, changed_at
		FROM ticket_owner_history
		WHERE ticket_id = $1
		ORDER BY changed_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("could not load history of ticket %d: %w", id, err)
	}
	return changes, nil
}

// ListOrphaned returns cancelled tickets whose reservation still holds
// inventory.
func (r *TicketRepository) ListOrphaned(ctx context.Context, limit int) ([]models.Ticket, error) {
	var tickets []models.Ticket
	err := r.db.SelectContext(ctx, &tickets, `
		SELECT t.id, t.event_id, t.ticket_type_id, t.ticket_type_name, t.user_id, t.status, t.quantity,
		       t.unit_price, t.reservation_id, t.created_at, t.updated_at
		FROM tickets t
		JOIN reservations r ON r.id = t.reservation_id
		WHERE t.status = 'cancelled' AND r.state <> 'released'
		ORDER BY t.updated_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("could not list orphaned tickets: %w", err)
	}
	return tickets, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
