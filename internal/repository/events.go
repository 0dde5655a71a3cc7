package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"ticketing/internal/database"
	apperrors "ticketing/internal/errors"
	"ticketing/internal/models"
)

type EventRepository struct {
	db *database.DB
}

func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, title, description, category, location, starts_at, status,
	rejection_reason, owner_id, approved_by, created_at, updated_at`

// Create inserts the event together with its ticket types.
func (r *EventRepository) Create(ctx context.Context, event *models.Event) error {
	return r.db.InTx(ctx, func(ctx context.Context, tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
			INSERT INTO events (title, description, category, location, starts_at, status, owner_id, approved_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at`,
			event.Title,
			event.Description,
			event.Category,
			event.Location,
			event.StartsAt,
			event.Status,
			event.OwnerID,
			event.ApprovedBy,
		).Scan(&event.ID, &event.CreatedAt, &event.UpdatedAt)
		if err != nil {
			return fmt.Errorf("could not insert event: %w", err)
		}

		for i := range event.TicketTypes {
			tt := &event.TicketTypes[i]
			tt.EventID = event.ID
			tt.Remaining = tt.Capacity
			err := tx.QueryRowxContext(ctx, `
				INSERT INTO ticket_types (event_id, name, price, capacity, remaining)
				VALUES ($1, $2, $3, $4, $4)
				RETURNING id`,
				tt.EventID, tt.Name, tt.Price, tt.Capacity,
			).Scan(&tt.ID)
			if isErrorUniqueViolation(err) {
				return apperrors.ErrInvalidRequest
			}
			if err != nil {
				return fmt.Errorf("could not insert ticket type %q: %w", tt.Name, err)
			}
		}
		return nil
	})
}

func (r *EventRepository) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	event := &models.Event{}
	err := r.db.GetContext(ctx, event, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not get event %d: %w", id, err)
	}

	if err := r.attachTicketTypes(ctx, []*models.Event{event}); err != nil {
		return nil, err
	}
	return event, nil
}

// List returns a page of approved events matching the filter and the total
// number of matches.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	where := []string{"status = 'approved'"}
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Keyword != "" {
		p := arg("%" + filter.Keyword + "%")
		where = append(where, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s)", p, p))
	}
	if filter.Category != "" {
		where = append(where, "lower(category) = lower("+arg(filter.Category)+")")
	}
	if filter.Location != "" {
		where = append(where, "location ILIKE "+arg("%"+filter.Location+"%"))
	}
	if filter.From != nil {
		where = append(where, "starts_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "starts_at <= "+arg(*filter.To))
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM events WHERE `+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("could not count events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM events WHERE ` + cond +
		` ORDER BY starts_at ASC, id ASC LIMIT ` + arg(filter.Limit) + ` OFFSET ` + arg(filter.Offset())

	events, err := r.selectEvents(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *EventRepository) ListByOwner(ctx context.Context, ownerID int64) ([]models.Event, error) {
	return r.selectEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

func (r *EventRepository) ListByStatus(ctx context.Context, status models.EventStatus) ([]models.Event, error) {
	return r.selectEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE status = $1 ORDER BY created_at ASC`, status)
}

// UpdateStatus records a moderation decision. It returns false when the
// event does not exist.
func (r *EventRepository) UpdateStatus(ctx context.Context, id int64, status models.EventStatus, reason *string, adminID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET status = $2,
		    rejection_reason = $3,
		    approved_by = CASE WHEN $2 = 'approved' THEN $4::bigint ELSE NULL END,
		    updated_at = NOW()
		WHERE id = $1`, id, status, reason, adminID)
	if err != nil {
		return false, fmt.Errorf("could not update status of event %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *EventRepository) selectEvents(ctx context.Context, query string, args ...interface{}) ([]models.Event, error) {
	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("could not list events: %w", err)
	}

	ptrs := make([]*models.Event, len(events))
	for i := range events {
		ptrs[i] = &events[i]
	}
	if err := r.attachTicketTypes(ctx, ptrs); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventRepository) attachTicketTypes(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]int64, len(events))
	byID := make(map[int64]*models.Event, len(events))
	for i, e := range events {
		ids[i] = e.ID
		e.TicketTypes = []models.TicketType{}
		byID[e.ID] = e
	}

	var types []models.TicketType
	err := r.db.SelectContext(ctx, &types, `
		SELECT id, event_id, name, price, capacity, remaining
		FROM ticket_types
		WHERE event_id = ANY($1)
		ORDER BY event_id, id`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("could not load ticket types: %w", err)
	}

	for _, tt := range types {
		if e, ok := byID[tt.EventID]; ok {
			e.TicketTypes = append(e.TicketTypes, tt)
		}
	}
	return nil
}
