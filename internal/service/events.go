package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "ticketing/internal/errors"
	"ticketing/internal/logger"
	"ticketing/internal/models"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type EventService struct {
	deps Dependencies
	now  func() time.Time
}

func NewEventService(deps Dependencies) *EventService {
	if deps.Publisher == nil {
		deps.Publisher = noopPublisher{}
	}
	return &EventService{deps: deps, now: time.Now}
}

// Create stores a new event with its ticket types. Events of organizers wait
// for moderation, events created by an admin are approved right away.
func (s *EventService) Create(ctx context.Context, ownerID int64, role models.Role, req *models.CreateEventRequest) (*models.CreateEventResponse, error) {
	if strings.TrimSpace(req.Title) == "" || len(req.TicketTypes) == 0 {
		return nil, apperrors.ErrInvalidRequest
	}

	seen := make(map[string]bool, len(req.TicketTypes))
	types := make([]models.TicketType, 0, len(req.TicketTypes))
	for _, in := range req.TicketTypes {
		name := strings.TrimSpace(in.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] || in.Price.IsNegative() || in.Capacity <= 0 {
			return nil, apperrors.ErrInvalidRequest
		}
		seen[key] = true
		types = append(types, models.TicketType{
			Name:      name,
			Price:     in.Price,
			Capacity:  in.Capacity,
			Remaining: in.Capacity,
		})
	}

	event := &models.Event{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Category:    strings.TrimSpace(req.Category),
		Location:    strings.TrimSpace(req.Location),
		StartsAt:    req.StartsAt,
		Status:      models.EventPending,
		OwnerID:     ownerID,
		TicketTypes: types,
	}
	if role == models.RoleAdmin {
		event.Status = models.EventApproved
		event.ApprovedBy = &ownerID
	}

	if err := s.deps.Events.Create(ctx, event); err != nil {
		if apperrors.KindOf(err) != apperrors.KindInternal {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	if event.Status == models.EventApproved {
		publish(ctx, s.deps.Publisher, models.EventEventApproved, models.EventModeratedEvent{
			EventID:   event.ID,
			Status:    event.Status,
			AdminID:   ownerID,
			Timestamp: s.now(),
		})
	}

	logger.WithContext(ctx).Info("Event created",
		"event_id", event.ID,
		"status", event.Status,
		"ticket_types", len(types))

	return &models.CreateEventResponse{ID: event.ID, Status: event.Status}, nil
}

// Get returns an event. Events that are not approved are only visible to
// their organizer and to admins.
func (s *EventService) Get(ctx context.Context, eventID, viewerID int64, role models.Role) (*models.Event, error) {
	event, err := s.deps.Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event == nil {
		return nil, apperrors.ErrEventNotFound
	}
	if event.Status != models.EventApproved && role != models.RoleAdmin && event.OwnerID != viewerID {
		return nil, apperrors.ErrEventNotFound
	}
	return event, nil
}

// List pages through approved events. Keyword queries go to the search
// index when one is configured.
func (s *EventService) List(ctx context.Context, filter models.EventFilter) (*models.ListEventsResponse, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, apperrors.ErrInvalidRequest
	}

	var (
		events []models.Event
		total  int
		err    error
	)
	if s.deps.Search != nil && strings.TrimSpace(filter.Keyword) != "" {
		events, total, err = s.deps.Search.Search(ctx, filter)
		if err != nil {
			logger.WithContext(ctx).Warn("Search unavailable, falling back to database", "error", err)
		}
	}
	if s.deps.Search == nil || strings.TrimSpace(filter.Keyword) == "" || err != nil {
		events, total, err = s.deps.Events.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
	}

	if events == nil {
		events = []models.Event{}
	}
	return &models.ListEventsResponse{
		Events: events,
		Total:  total,
		Page:   filter.Page,
		Limit:  filter.Limit,
	}, nil
}

func (s *EventService) ListMine(ctx context.Context, ownerID int64) ([]models.Event, error) {
	events, err := s.deps.Events.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

func (s *EventService) ListPending(ctx context.Context) ([]models.Event, error) {
	events, err := s.deps.Events.ListByStatus(ctx, models.EventPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending events: %w", err)
	}
	if events == nil {
		events = []models.Event{}
	}
	return events, nil
}

// Moderate approves or rejects an event. A rejection needs a reason.
func (s *EventService) Moderate(ctx context.Context, adminID, eventID int64, req *models.ModerateEventRequest) (*models.Event, error) {
	reason := strings.TrimSpace(req.Reason)
	var subject string
	switch req.Status {
	case models.EventApproved:
		subject = models.EventEventApproved
	case models.EventRejected:
		if reason == "" {
			return nil, apperrors.ErrInvalidRequest
		}
		subject = models.EventEventRejected
	default:
		return nil, apperrors.ErrInvalidRequest
	}

	var reasonPtr *string
	if req.Status == models.EventRejected {
		reasonPtr = &reason
	}
	updated, err := s.deps.Events.UpdateStatus(ctx, eventID, req.Status, reasonPtr, adminID)
	if err != nil {
		return nil, fmt.Errorf("failed to moderate event: %w", err)
	}
	if !updated {
		return nil, apperrors.ErrEventNotFound
	}

	event, err := s.deps.Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event == nil {
		return nil, apperrors.ErrEventNotFound
	}

	publish(ctx, s.deps.Publisher, subject, models.EventModeratedEvent{
		EventID:   eventID,
		Status:    req.Status,
		Reason:    reason,
		AdminID:   adminID,
		Timestamp: s.now(),
	})
	notifyUser(ctx, s.deps.Users, s.deps.Notifier, event.OwnerID,
		fmt.Sprintf("Your event was %s", req.Status),
		moderationBody(event, reason))

	logger.WithContext(ctx).Info("Event moderated", "event_id", eventID, "status", req.Status)
	return event, nil
}

func moderationBody(event *models.Event, reason string) string {
	if event.Status == models.EventRejected {
		return fmt.Sprintf("%q was rejected: %s", event.Title, reason)
	}
	return fmt.Sprintf("%q is approved and open for sales.", event.Title)
}
