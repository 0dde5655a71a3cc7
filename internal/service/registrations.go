package service

import (
	"context"
	"fmt"

	apperrors "ticketing/internal/errors"
	"ticketing/internal/models"
)

type RegistrationService struct {
	deps Dependencies
}

func NewRegistrationService(deps Dependencies) *RegistrationService {
	return &RegistrationService{deps: deps}
}

func (s *RegistrationService) ListMine(ctx context.Context, userID int64) ([]models.Registration, error) {
	regs, err := s.deps.Registrations.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	if regs == nil {
		regs = []models.Registration{}
	}
	return regs, nil
}

// Get returns one registration to its holder, the organizer of its event or
// an admin.
func (s *RegistrationService) Get(ctx context.Context, viewerID int64, role models.Role, id int64) (*models.Registration, error) {
	reg, err := s.deps.Registrations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	if reg == nil {
		return nil, apperrors.ErrRegistrationNotFound
	}
	if role == models.RoleAdmin || reg.UserID == viewerID {
		return reg, nil
	}

	event, err := s.deps.Events.GetByID(ctx, reg.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event == nil || event.OwnerID != viewerID {
		return nil, apperrors.ErrForbidden
	}
	return reg, nil
}

// ListForEvent returns the attendees of an event. Organizers only see their
// own events.
func (s *RegistrationService) ListForEvent(ctx context.Context, viewerID int64, role models.Role, eventID int64) ([]models.Registration, error) {
	event, err := s.deps.Events.GetByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event == nil {
		return nil, apperrors.ErrEventNotFound
	}
	if role != models.RoleAdmin && event.OwnerID != viewerID {
		return nil, apperrors.ErrForbidden
	}

	regs, err := s.deps.Registrations.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	if regs == nil {
		regs = []models.Registration{}
	}
	return regs, nil
}
