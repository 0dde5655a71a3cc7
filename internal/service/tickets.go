package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "ticketing/internal/errors"
	"ticketing/internal/logger"
	"ticketing/internal/metrics"
	"ticketing/internal/models"
)

type TicketService struct {
	deps Dependencies
	now  func() time.Time
}

func NewTicketService(deps Dependencies) *TicketService {
	if deps.Publisher == nil {
		deps.Publisher = noopPublisher{}
	}
	return &TicketService{deps: deps, now: time.Now}
}

func (s *TicketService) ListTickets(ctx context.Context, userID int64) ([]models.Ticket, error) {
	tickets, err := s.deps.Tickets.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickets: %w", err)
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, nil
}

func (s *TicketService) owned(ctx context.Context, userID, ticketID int64) (*models.Ticket, error) {
	ticket, err := s.deps.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	if ticket == nil {
		return nil, apperrors.ErrTicketNotFound
	}
	if ticket.UserID != userID {
		return nil, apperrors.ErrNotOwner
	}
	return ticket, nil
}

// CancelTicket cancels a booked ticket and returns its quantity to the
// ticket type. Payments are not refunded.
func (s *TicketService) CancelTicket(ctx context.Context, userID, ticketID int64) (*models.Ticket, error) {
	ticket, err := s.owned(ctx, userID, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketBooked {
		return nil, apperrors.ErrNotCancellable
	}

	cancelled, err := s.deps.Tickets.CancelBooked(ctx, ticket.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel ticket: %w", err)
	}
	if !cancelled {
		// Lost a race with a transfer or another cancellation.
		if _, err := s.owned(ctx, userID, ticketID); err != nil {
			return nil, err
		}
		return nil, apperrors.ErrNotCancellable
	}
	ticket.Status = models.TicketCancelled

	released, err := s.deps.Ledger.Release(ctx, ticket.ReservationID)
	if err != nil {
		// The sweep picks up cancelled tickets whose reservation still holds inventory.
		logger.WithContext(ctx).Error("Failed to release cancelled ticket",
			"error", err,
			"ticket_id", ticket.ID)
	} else if released {
		metrics.TrackRelease("ticket_cancelled")
	}

	notifyUser(ctx, s.deps.Users, s.deps.Notifier, userID,
		"Your ticket was cancelled",
		fmt.Sprintf("Ticket #%d (%d x %s) has been cancelled.", ticket.ID, ticket.Quantity, ticket.TicketTypeName))
	publish(ctx, s.deps.Publisher, models.EventTicketCancelled, models.TicketCancelledEvent{
		TicketID:  ticket.ID,
		EventID:   ticket.EventID,
		UserID:    userID,
		Quantity:  ticket.Quantity,
		Timestamp: s.now(),
	})

	logger.WithContext(ctx).Info("Ticket cancelled", "ticket_id", ticket.ID, "quantity", ticket.Quantity)
	return ticket, nil
}

// TransferTicket hands a booked ticket to the user registered under
// recipientEmail. The ticket stays booked.
func (s *TicketService) TransferTicket(ctx context.Context, userID, ticketID int64, recipientEmail string) (*models.Ticket, error) {
	recipientEmail = strings.TrimSpace(recipientEmail)
	if recipientEmail == "" {
		return nil, apperrors.ErrInvalidRequest
	}

	ticket, err := s.owned(ctx, userID, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketBooked {
		return nil, apperrors.ErrNotTransferable
	}

	recipient, err := s.deps.Users.GetByEmail(ctx, recipientEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}
	if recipient == nil || !recipient.IsActive {
		return nil, apperrors.ErrRecipientNotFound
	}
	if recipient.UserID == userID {
		return nil, apperrors.ErrInvalidRequest
	}

	transferred, err := s.deps.Tickets.Transfer(ctx, ticket.ID, userID, recipient.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to transfer ticket: %w", err)
	}
	if !transferred {
		return nil, apperrors.ErrNotTransferable
	}
	ticket.UserID = recipient.UserID

	notifyUser(ctx, s.deps.Users, s.deps.Notifier, userID,
		"Your ticket was transferred",
		fmt.Sprintf("Ticket #%d now belongs to %s.", ticket.ID, recipient.Email))
	notifyUser(ctx, s.deps.Users, s.deps.Notifier, recipient.UserID,
		"You received a ticket",
		fmt.Sprintf("Ticket #%d (%d x %s) was transferred to you.", ticket.ID, ticket.Quantity, ticket.TicketTypeName))
	publish(ctx, s.deps.Publisher, models.EventTicketTransferred, models.TicketTransferredEvent{
		TicketID:   ticket.ID,
		EventID:    ticket.EventID,
		FromUserID: userID,
		ToUserID:   recipient.UserID,
		Timestamp:  s.now(),
	})

	logger.WithContext(ctx).Info("Ticket transferred",
		"ticket_id", ticket.ID,
		"from_user_id", userID,
		"to_user_id", recipient.UserID)
	return ticket, nil
}

// TicketHistory returns the ownership trail of a ticket to its current owner.
func (s *TicketService) TicketHistory(ctx context.Context, userID, ticketID int64) ([]models.OwnerChange, error) {
	if _, err := s.owned(ctx, userID, ticketID); err != nil {
		return nil, err
	}
	changes, err := s.deps.Tickets.History(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket history: %w", err)
	}
	if changes == nil {
		changes = []models.OwnerChange{}
	}
	return changes, nil
}
