package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ticketing/internal/database"
	"ticketing/internal/models"
)

type RegistrationRepository struct {
	db *database.DB
}

func NewRegistrationRepository(db *database.DB) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// AddTicket creates the (user, event) registration if needed and links the
// ticket to it. Linking an already linked ticket is a no-op.
func (r *RegistrationRepository) AddTicket(ctx context.Context, userID, eventID, ticketID int64) (*models.Registration, error) {
	var registrationID int64
	err := r.db.InTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		registrationID, err = linkTicket(ctx, tx, userID, eventID, ticketID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, registrationID)
}

// AttachPayment sets the payment reference of a registration.
func (r *RegistrationRepository) AttachPayment(ctx context.Context, registrationID, paymentID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE registrations SET payment_id = $2, updated_at = NOW()
		WHERE id = $1`, registrationID, paymentID)
	if err != nil {
		return fmt.Errorf("could not attach payment %d to registration %d: %w", paymentID, registrationID, err)
	}
	return nil
}

func (r *RegistrationRepository) GetByID(ctx context.Context, id int64) (*models.Registration, error) {
	regs, err := r.selectRegistrations(ctx, `
		SELECT id, user_id, event_id, payment_id, registered_at, updated_at
		FROM registrations WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return nil, nil
	}
	return &regs[0], nil
}

func (r *RegistrationRepository) ListByUser(ctx context.Context, userID int64) ([]models.Registration, error) {
	return r.selectRegistrations(ctx, `
		SELECT id, user_id, event_id, payment_id, registered_at, updated_at
		FROM registrations WHERE user_id = $1
		ORDER BY registered_at DESC`, userID)
}

func (r *RegistrationRepository) ListByEvent(ctx context.Context, eventID int64) ([]models.Registration, error) {
	return r.selectRegistrations(ctx, `
		SELECT id, user_id, event_id, payment_id, registered_at, updated_at
		FROM registrations WHERE event_id = $1
		ORDER BY registered_at ASC`, eventID)
}

func (r *RegistrationRepository) selectRegistrations(ctx context.Context, query string, args ...interface{}) ([]models.Registration, error) {
	var regs []models.Registration
	if err := r.db.SelectContext(ctx, &regs, query, args...); err != nil {
		return nil, fmt.Errorf("could not load registrations: %w", err)
	}
	if len(regs) == 0 {
		return regs, nil
	}

	ids := make([]int64, len(regs))
	byID := make(map[int64]*models.Registration, len(regs))
	for i := range regs {
		ids[i] = regs[i].ID
		regs[i].TicketIDs = []int64{}
		byID[regs[i].ID] = &regs[i]
	}

	var links []struct {
		RegistrationID int64 `db:"registration_id"`
		TicketID       int64 `db:"ticket_id"`
	}
	err := r.db.SelectContext(ctx, &links, `
		SELECT registration_id, ticket_id FROM registration_tickets
		WHERE registration_id = ANY($1)
		ORDER BY ticket_id`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("could not load registration tickets: %w", err)
	}
	for _, l := range links {
		byID[l.RegistrationID].TicketIDs = append(byID[l.RegistrationID].TicketIDs, l.TicketID)
	}
	return regs, nil
}

func linkTicket(ctx context.Context, tx *sqlx.Tx, userID, eventID, ticketID int64) (int64, error) {
	var registrationID int64
	err := tx.GetContext(ctx, &registrationID, `
		INSERT INTO registrations (user_id, event_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, event_id) DO UPDATE SET updated_at = NOW()
		RETURNING id`, userID, eventID)
	if err != nil {
		return 0, fmt.Errorf("could not upsert registration: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO registration_tickets (registration_id, ticket_id)
		VALUES ($1, $2)
		ON CONFLICT (ticket_id) DO NOTHING`, registrationID, ticketID)
	if err != nil {
		return 0, fmt.Errorf("could not link ticket %d: %w", ticketID, err)
	}
	return registrationID, nil
}
