package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "ticketing/internal/errors"
	"ticketing/internal/logger"
	"ticketing/internal/metrics"
	"ticketing/internal/models"
)

// CheckoutService drives a purchase from reservation through payment to a
// booked ticket, and returns inventory when a checkout ends without one.
type CheckoutService struct {
	deps Dependencies
	cfg  CheckoutConfig
	now  func() time.Time
}

func NewCheckoutService(deps Dependencies, cfg CheckoutConfig) *CheckoutService {
	if deps.Publisher == nil {
		deps.Publisher = noopPublisher{}
	}
	if cfg.MaxTicketsPerCheckout <= 0 {
		cfg.MaxTicketsPerCheckout = 10
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	if cfg.ReservationTTL <= 0 {
		cfg.ReservationTTL = 15 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &CheckoutService{deps: deps, cfg: cfg, now: time.Now}
}

// SweepReport summarizes one pass of SweepExpired.
type SweepReport struct {
	Expired  int
	Settled  int
	Orphaned int
	Failed   int
}

func (s *CheckoutService) RequestCheckout(ctx context.Context, userID int64, req *models.CreateCheckoutRequest) (*models.CheckoutSession, error) {
	ticketType := strings.TrimSpace(req.TicketType)
	if req.EventID <= 0 || ticketType == "" || req.Quantity <= 0 || req.Quantity > s.cfg.MaxTicketsPerCheckout {
		return nil, apperrors.ErrInvalidRequest
	}

	event, err := s.deps.Events.GetByID(ctx, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	if event == nil {
		return nil, apperrors.ErrEventNotFound
	}
	if event.Status != models.EventApproved {
		return nil, apperrors.ErrEventNotApproved
	}
	tt, ok := event.TicketType(ticketType)
	if !ok {
		return nil, apperrors.ErrTicketTypeNotFound
	}
	if err := s.ensureNoOpenCheckout(ctx, userID, event.ID, tt.Name); err != nil {
		metrics.TrackCheckoutRequest(apperrors.CodeOf(err))
		return nil, err
	}

	reservation, err := s.deps.Ledger.Reserve(ctx, event.ID, tt.Name, req.Quantity)
	if err != nil {
		metrics.TrackCheckoutRequest(apperrors.CodeOf(err))
		return nil, err
	}

	ticket := &models.Ticket{
		EventID:        event.ID,
		TicketTypeID:   tt.ID,
		TicketTypeName: tt.Name,
		UserID:         userID,
		Status:         models.TicketPending,
		Quantity:       req.Quantity,
		UnitPrice:      tt.Price,
		ReservationID:  reservation.ID,
	}
	checkout := &models.Checkout{
		ID:             uuid.NewString(),
		ReservationID:  reservation.ID,
		UserID:         userID,
		EventID:        event.ID,
		TicketTypeName: tt.Name,
		Quantity:       req.Quantity,
		Amount:         ticket.Total(),
		Currency:       s.cfg.Currency,
		State:          models.CheckoutReserved,
		ExpiresAt:      s.now().UTC().Add(s.cfg.ReservationTTL),
	}

	if err := s.deps.Tickets.CreateWithCheckout(ctx, ticket, checkout); err != nil {
		s.release(ctx, reservation.ID, "rollback")
		if apperrors.Is(err, apperrors.ErrCheckoutAlreadyOpen) {
			metrics.TrackCheckoutRequest(apperrors.CodeOf(err))
			return nil, err
		}
		return nil, fmt.Errorf("failed to create checkout: %w", err)
	}

	var email string
	if user, err := s.deps.Users.GetByID(ctx, userID); err == nil && user != nil {
		email = user.Email
	}

	session, err := s.deps.Gateway.OpenSession(ctx, models.PaymentSessionRequest{
		OrderID:     checkout.ID,
		Amount:      checkout.Amount,
		Currency:    checkout.Currency,
		Description: fmt.Sprintf("%s: %d x %s", event.Title, req.Quantity, tt.Name),
		Email:       email,
		Metadata: map[string]string{
			"userId":     strconv.FormatInt(userID, 10),
			"eventId":    strconv.FormatInt(event.ID, 10),
			"ticketType": tt.Name,
			"quantity":   strconv.Itoa(req.Quantity),
			"checkoutId": checkout.ID,
		},
	})
	if err != nil {
		logger.WithContext(ctx).Error("Failed to open payment session",
			"error", err,
			"checkout_id", checkout.ID)
		if _, terr := s.deps.Checkouts.Transition(ctx, checkout.ID, openStates, models.CheckoutFailed); terr != nil {
			logger.WithContext(ctx).Error("Failed to close checkout", "error", terr, "checkout_id", checkout.ID)
		}
		s.settle(ctx, checkout, "rollback")
		metrics.TrackCheckoutRequest(apperrors.ErrPaymentUnavailable.Code)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPaymentUnavailable, err)
	}

	// The pending row exists before the session id becomes visible to
	// confirmations, which upgrade it to succeeded.
	pending := &models.Payment{
		TicketID:   ticket.ID,
		UserID:     userID,
		CheckoutID: checkout.ID,
		SessionID:  session.ID,
		Amount:     checkout.Amount,
		Currency:   checkout.Currency,
		Status:     models.PaymentPending,
	}
	if err := s.deps.Payments.Record(ctx, pending); err != nil {
		logger.WithContext(ctx).Warn("Failed to record pending payment",
			"error", err,
			"checkout_id", checkout.ID)
	}

	attached, err := s.deps.Checkouts.AttachSession(ctx, checkout.ID, session.ID, session.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to attach payment session: %w", err)
	}
	if !attached {
		return nil, apperrors.ErrCheckoutClosed
	}

	publish(ctx, s.deps.Publisher, models.EventCheckoutRequested, models.CheckoutRequestedEvent{
		CheckoutID: checkout.ID,
		SessionID:  session.ID,
		TicketID:   ticket.ID,
		EventID:    event.ID,
		UserID:     userID,
		TicketType: tt.Name,
		Quantity:   req.Quantity,
		Amount:     checkout.Amount.StringFixed(2),
		Currency:   checkout.Currency,
		ExpiresAt:  checkout.ExpiresAt,
		Timestamp:  s.now(),
	})
	metrics.TrackCheckoutRequest("opened")

	logger.WithContext(ctx).Info("Checkout opened",
		"checkout_id", checkout.ID,
		"event_id", event.ID,
		"ticket_type", tt.Name,
		"quantity", req.Quantity)

	return &models.CheckoutSession{
		CheckoutID: checkout.ID,
		SessionID:  session.ID,
		PaymentURL: session.URL,
		TicketID:   ticket.ID,
		Amount:     checkout.Amount,
		Currency:   checkout.Currency,
		ExpiresAt:  checkout.ExpiresAt,
	}, nil
}

// ensureNoOpenCheckout rejects a second open checkout of a user for the
// same ticket type. An overdue one is expired on the spot.
func (s *CheckoutService) ensureNoOpenCheckout(ctx context.Context, userID, eventID int64, ticketType string) error {
	open, err := s.deps.Checkouts.FindOpen(ctx, userID, eventID, ticketType)
	if err != nil {
		return fmt.Errorf("failed to look up open checkout: %w", err)
	}
	if open == nil {
		return nil
	}
	if open.ExpiresAt.After(s.now()) {
		return apperrors.ErrCheckoutAlreadyOpen
	}

	closed, err := s.expire(ctx, open)
	if err != nil {
		logger.WithContext(ctx).Warn("Failed to expire overdue checkout", "error", err, "checkout_id", open.ID)
	}
	if !closed {
		return apperrors.ErrCheckoutAlreadyOpen
	}
	return nil
}

// ConfirmCheckout books the ticket of a paid session. Confirming the same
// session again returns an equal result and has no further effect.
func (s *CheckoutService) ConfirmCheckout(ctx context.Context, sessionID string) (*models.CheckoutResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, apperrors.ErrInvalidRequest
	}

	if s.deps.Cache != nil {
		cached, err := s.deps.Cache.Get(ctx, sessionID)
		if err != nil {
			logger.WithContext(ctx).Warn("Confirmation cache read failed", "error", err, "session_id", sessionID)
		}
		if cached != nil {
			return cached, nil
		}

		unlock, acquired, err := s.deps.Cache.Lock(ctx, sessionID)
		switch {
		case err != nil:
			logger.WithContext(ctx).Warn("Confirmation lock unavailable", "error", err, "session_id", sessionID)
		case !acquired:
			return nil, apperrors.ErrConfirmationInProgress
		default:
			defer unlock()
		}
	}

	checkout, err := s.deps.Checkouts.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	if checkout == nil {
		return nil, apperrors.ErrSessionNotFound
	}

	result, err := s.confirm(ctx, checkout)
	if err != nil {
		return nil, err
	}

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Set(ctx, sessionID, result); err != nil {
			logger.WithContext(ctx).Warn("Confirmation cache write failed", "error", err, "session_id", sessionID)
		}
	}
	return result, nil
}

func (s *CheckoutService) confirm(ctx context.Context, c *models.Checkout) (*models.CheckoutResult, error) {
	switch c.State {
	case models.CheckoutConfirmed:
		return resultOf(c), nil
	case models.CheckoutRefunded, models.CheckoutCancelled:
		return nil, apperrors.ErrPaymentNotCompleted
	}
	if c.SessionID == nil {
		return nil, apperrors.ErrPaymentNotCompleted
	}

	outcome, err := s.deps.Gateway.RetrieveOutcome(ctx, *c.SessionID)
	if err != nil {
		logger.WithContext(ctx).Warn("Payment outcome unavailable", "error", err, "checkout_id", c.ID)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPaymentOutcomeUnknown, err)
	}

	switch outcome {
	case models.OutcomePaid:
		return s.book(ctx, c)
	case models.OutcomeUnpaid:
		return nil, s.failUnpaid(ctx, c)
	default:
		metrics.TrackConfirmation("unknown")
		return nil, apperrors.ErrPaymentOutcomeUnknown
	}
}

// failUnpaid closes a checkout whose payment was declined and returns its
// reservation.
func (s *CheckoutService) failUnpaid(ctx context.Context, c *models.Checkout) error {
	metrics.TrackConfirmation("unpaid")
	if c.State == models.CheckoutConfirming {
		return apperrors.ErrPaymentNotCompleted
	}

	moved, err := s.deps.Checkouts.Transition(ctx, c.ID, openStates, models.CheckoutFailed)
	if err != nil {
		return fmt.Errorf("failed to close checkout: %w", err)
	}
	if !moved {
		current, err := s.deps.Checkouts.GetByID(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("failed to reload checkout: %w", err)
		}
		if current == nil || !closedState(current.State) {
			return apperrors.ErrPaymentNotCompleted
		}
		c = current
	}

	s.settle(ctx, c, "unpaid")
	s.failPayment(ctx, c)
	if moved {
		s.publishClosed(ctx, models.EventCheckoutFailed, c, "unpaid")
	}
	return apperrors.ErrPaymentNotCompleted
}

// book turns a paid checkout into a booked ticket. Each step is idempotent
// so a confirmation interrupted half way is finished by the next attempt.
func (s *CheckoutService) book(ctx context.Context, c *models.Checkout) (*models.CheckoutResult, error) {
	c, err := s.claim(ctx, c)
	if err != nil {
		return nil, err
	}
	if c.State == models.CheckoutConfirmed {
		return resultOf(c), nil
	}

	if _, err := s.deps.Tickets.Reinstate(ctx, c.TicketID, c.ReservationID, c.ReservationID); err != nil {
		return nil, fmt.Errorf("failed to reinstate ticket: %w", err)
	}

	err = s.deps.Ledger.Commit(ctx, c.ReservationID)
	if apperrors.Is(err, apperrors.ErrReservationReleased) {
		// The checkout was closed before the payment landed; its quantity
		// went back to the pool and has to be taken again.
		if c, err = s.reacquire(ctx, c); err != nil {
			return nil, err
		}
		err = s.deps.Ledger.Commit(ctx, c.ReservationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	booked, err := s.deps.Tickets.SetStatus(ctx, c.TicketID, models.TicketPending, models.TicketBooked)
	if err != nil {
		return nil, fmt.Errorf("failed to book ticket: %w", err)
	}
	if !booked {
		ticket, err := s.deps.Tickets.GetByID(ctx, c.TicketID)
		if err != nil {
			return nil, fmt.Errorf("failed to get ticket: %w", err)
		}
		if ticket == nil || ticket.Status != models.TicketBooked {
			return nil, fmt.Errorf("ticket %d of checkout %s is not pending", c.TicketID, c.ID)
		}
	}

	registration, err := s.deps.Registrations.AddTicket(ctx, c.UserID, c.EventID, c.TicketID)
	if err != nil {
		return nil, fmt.Errorf("failed to register ticket: %w", err)
	}

	payment := &models.Payment{
		TicketID:   c.TicketID,
		UserID:     c.UserID,
		CheckoutID: c.ID,
		SessionID:  *c.SessionID,
		Amount:     c.Amount,
		Currency:   c.Currency,
		Status:     models.PaymentSucceeded,
	}
	if err := s.deps.Payments.Record(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	if err := s.deps.Registrations.AttachPayment(ctx, registration.ID, payment.ID); err != nil {
		return nil, fmt.Errorf("failed to attach payment: %w", err)
	}

	at := s.now().UTC().Truncate(time.Microsecond)
	flipped, err := s.deps.Checkouts.MarkConfirmed(ctx, c.ID, registration.ID, payment.ID, at)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm checkout: %w", err)
	}
	if !flipped {
		current, err := s.deps.Checkouts.GetByID(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload checkout: %w", err)
		}
		if current == nil || current.State != models.CheckoutConfirmed {
			return nil, apperrors.ErrConfirmationInProgress
		}
		return resultOf(current), nil
	}

	c.State = models.CheckoutConfirmed
	c.RegistrationID = &registration.ID
	c.PaymentID = &payment.ID
	c.ConfirmedAt = &at

	notifyUser(ctx, s.deps.Users, s.deps.Notifier, c.UserID,
		"Your tickets are booked",
		fmt.Sprintf("Payment received. %d ticket(s) of type %s are booked, ticket #%d.", c.Quantity, c.TicketTypeName, c.TicketID))
	publish(ctx, s.deps.Publisher, models.EventCheckoutConfirmed, models.CheckoutConfirmedEvent{
		CheckoutID:     c.ID,
		SessionID:      *c.SessionID,
		TicketID:       c.TicketID,
		EventID:        c.EventID,
		UserID:         c.UserID,
		RegistrationID: registration.ID,
		PaymentID:      payment.ID,
		Timestamp:      s.now(),
	})
	metrics.TrackConfirmation("paid")

	logger.WithContext(ctx).Info("Checkout confirmed",
		"checkout_id", c.ID,
		"ticket_id", c.TicketID,
		"registration_id", registration.ID)

	return resultOf(c), nil
}

// claim moves a paid checkout into confirming. Closed checkouts are claimed
// too: the customer paid, so the booking is attempted again.
func (s *CheckoutService) claim(ctx context.Context, c *models.Checkout) (*models.Checkout, error) {
	for attempt := 0; attempt < 2; attempt++ {
		switch {
		case c.State == models.CheckoutConfirming, c.State == models.CheckoutConfirmed:
			return c, nil
		case c.State == models.CheckoutCancelled, c.State == models.CheckoutRefunded:
			return nil, apperrors.ErrPaymentNotCompleted
		}

		from := openStates
		if closedState(c.State) {
			from = []models.CheckoutState{models.CheckoutExpired, models.CheckoutFailed}
		}
		moved, err := s.deps.Checkouts.Transition(ctx, c.ID, from, models.CheckoutConfirming)
		if err != nil {
			return nil, fmt.Errorf("failed to claim checkout: %w", err)
		}
		if moved {
			c.State = models.CheckoutConfirming
			return c, nil
		}

		current, err := s.deps.Checkouts.GetByID(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload checkout: %w", err)
		}
		if current == nil {
			return nil, apperrors.ErrCheckoutNotFound
		}
		c = current
	}
	return nil, apperrors.ErrConfirmationInProgress
}

// reacquire replaces a released reservation with a new one. When the ticket
// type sold out in the meantime the payment is refunded. Of concurrent
// confirmations only one reserves; the others carry on with its result.
func (s *CheckoutService) reacquire(ctx context.Context, c *models.Checkout) (*models.Checkout, error) {
	stale := c.ReservationID

	reservation, err := s.deps.Ledger.ReserveForCheckout(ctx, c.ID, stale)
	switch {
	case apperrors.Is(err, apperrors.ErrOutOfStock), apperrors.Is(err, apperrors.ErrTicketTypeNotFound):
		refunded, err := s.deps.Checkouts.MarkRefunded(ctx, c.ID, stale)
		if err != nil {
			return nil, fmt.Errorf("failed to mark checkout refunded: %w", err)
		}
		if refunded {
			return nil, s.refund(ctx, c)
		}
		return s.follow(ctx, c, stale)
	case err != nil:
		return nil, fmt.Errorf("failed to reacquire inventory: %w", err)
	case reservation == nil:
		return s.follow(ctx, c, stale)
	}

	if _, err := s.deps.Tickets.Reinstate(ctx, c.TicketID, stale, reservation.ID); err != nil {
		return nil, fmt.Errorf("failed to reinstate ticket: %w", err)
	}

	logger.WithContext(ctx).Info("Reservation reacquired after late payment",
		"checkout_id", c.ID,
		"old_reservation_id", stale,
		"reservation_id", reservation.ID)

	c.ReservationID = reservation.ID
	return c, nil
}

// follow reloads a checkout whose stale reservation was already replaced or
// refunded by another confirmation.
func (s *CheckoutService) follow(ctx context.Context, c *models.Checkout, stale string) (*models.Checkout, error) {
	current, err := s.deps.Checkouts.GetByID(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload checkout: %w", err)
	}
	switch {
	case current == nil:
		return nil, apperrors.ErrCheckoutNotFound
	case current.State == models.CheckoutRefunded:
		return nil, apperrors.ErrOutOfStock
	case current.ReservationID == stale:
		return nil, apperrors.ErrConfirmationInProgress
	}

	if _, err := s.deps.Tickets.Reinstate(ctx, c.TicketID, stale, current.ReservationID); err != nil {
		return nil, fmt.Errorf("failed to reinstate ticket: %w", err)
	}
	return current, nil
}

// refund runs after the checkout was marked refunded.
func (s *CheckoutService) refund(ctx context.Context, c *models.Checkout) error {
	c.State = models.CheckoutRefunded
	if err := s.deps.Gateway.CancelSession(ctx, *c.SessionID, "sold out"); err != nil {
		logger.WithContext(ctx).Error("Failed to refund payment session",
			"error", err,
			"checkout_id", c.ID,
			"session_id", *c.SessionID)
	}

	payment := &models.Payment{
		TicketID:   c.TicketID,
		UserID:     c.UserID,
		CheckoutID: c.ID,
		SessionID:  *c.SessionID,
		Amount:     c.Amount,
		Currency:   c.Currency,
		Status:     models.PaymentRefunded,
	}
	if err := s.deps.Payments.Record(ctx, payment); err != nil {
		return fmt.Errorf("failed to record refund: %w", err)
	}
	if _, err := s.deps.Tickets.CancelPending(ctx, c.TicketID, c.ReservationID); err != nil {
		return fmt.Errorf("failed to cancel ticket: %w", err)
	}

	s.publishClosed(ctx, models.EventCheckoutFailed, c, "refunded")
	notifyUser(ctx, s.deps.Users, s.deps.Notifier, c.UserID,
		"Your payment was refunded",
		fmt.Sprintf("Tickets of type %s sold out before your payment arrived. The payment has been refunded.", c.TicketTypeName))
	metrics.TrackConfirmation("refunded")

	return apperrors.ErrOutOfStock
}

// CancelCheckout abandons an open checkout of userID.
func (s *CheckoutService) CancelCheckout(ctx context.Context, userID int64, checkoutID string) (*models.Checkout, error) {
	c, err := s.deps.Checkouts.GetByID(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	if c == nil {
		return nil, apperrors.ErrCheckoutNotFound
	}
	if c.UserID != userID {
		return nil, apperrors.ErrNotOwner
	}
	if c.State == models.CheckoutCancelled {
		return c, nil
	}
	if !c.State.Open() {
		return nil, apperrors.ErrCheckoutClosed
	}

	if c.SessionID != nil {
		outcome, err := s.deps.Gateway.RetrieveOutcome(ctx, *c.SessionID)
		if err == nil && outcome == models.OutcomePaid {
			if _, err := s.ConfirmCheckout(ctx, *c.SessionID); err != nil {
				logger.WithContext(ctx).Warn("Paid checkout could not be confirmed on cancel",
					"error", err,
					"checkout_id", c.ID)
			}
			return nil, apperrors.ErrCheckoutClosed
		}
	}

	moved, err := s.deps.Checkouts.Transition(ctx, c.ID, openStates, models.CheckoutCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel checkout: %w", err)
	}
	if !moved {
		return nil, apperrors.ErrCheckoutClosed
	}
	c.State = models.CheckoutCancelled

	s.settle(ctx, c, "cancelled")
	s.cancelSession(ctx, c, "cancelled by user")
	s.failPayment(ctx, c)
	s.publishClosed(ctx, models.EventCheckoutCancelled, c, "cancelled")

	return c, nil
}

func (s *CheckoutService) GetCheckout(ctx context.Context, userID int64, checkoutID string) (*models.Checkout, error) {
	c, err := s.deps.Checkouts.GetByID(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	if c == nil {
		return nil, apperrors.ErrCheckoutNotFound
	}
	if c.UserID != userID {
		return nil, apperrors.ErrNotOwner
	}
	return c, nil
}

// ExpireCheckout closes one checkout whose reservation TTL has passed.
func (s *CheckoutService) ExpireCheckout(ctx context.Context, checkoutID string) (*models.Checkout, error) {
	c, err := s.deps.Checkouts.GetByID(ctx, checkoutID)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkout: %w", err)
	}
	if c == nil {
		return nil, apperrors.ErrCheckoutNotFound
	}
	if _, err := s.expire(ctx, c); err != nil {
		return nil, err
	}
	return s.deps.Checkouts.GetByID(ctx, checkoutID)
}

// expire reports whether this call closed the checkout.
func (s *CheckoutService) expire(ctx context.Context, c *models.Checkout) (bool, error) {
	switch {
	case c.State == models.CheckoutConfirmed, c.State == models.CheckoutConfirming, c.State == models.CheckoutRefunded:
		return false, nil
	case closedState(c.State):
		s.settle(ctx, c, string(c.State))
		return false, nil
	}

	if c.SessionID != nil {
		outcome, err := s.deps.Gateway.RetrieveOutcome(ctx, *c.SessionID)
		if err != nil {
			logger.WithContext(ctx).Warn("Skipping expiry, payment outcome unavailable",
				"error", err,
				"checkout_id", c.ID)
			return false, nil
		}
		if outcome == models.OutcomePaid {
			_, err := s.ConfirmCheckout(ctx, *c.SessionID)
			return false, err
		}
	}

	moved, err := s.deps.Checkouts.Transition(ctx, c.ID, openStates, models.CheckoutExpired)
	if err != nil {
		return false, fmt.Errorf("failed to expire checkout: %w", err)
	}
	if !moved {
		return false, nil
	}
	c.State = models.CheckoutExpired

	s.settle(ctx, c, "expired")
	s.cancelSession(ctx, c, "reservation expired")
	s.failPayment(ctx, c)
	s.publishClosed(ctx, models.EventReservationExpired, c, "expired")

	logger.WithContext(ctx).Info("Checkout expired",
		"checkout_id", c.ID,
		"ticket_id", c.TicketID)
	return true, nil
}

// SweepExpired expires overdue checkouts and finishes settlements that an
// earlier run left half done.
func (s *CheckoutService) SweepExpired(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	log := logger.WithContext(ctx)

	expired, err := s.deps.Checkouts.ListExpired(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		metrics.TrackSweep("error")
		return report, fmt.Errorf("failed to list expired checkouts: %w", err)
	}
	for i := range expired {
		closed, err := s.expire(ctx, &expired[i])
		if err != nil {
			report.Failed++
			log.Error("Failed to expire checkout", "error", err, "checkout_id", expired[i].ID)
			continue
		}
		if closed {
			report.Expired++
		}
	}

	unsettled, err := s.deps.Checkouts.ListUnsettled(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		metrics.TrackSweep("error")
		return report, fmt.Errorf("failed to list unsettled checkouts: %w", err)
	}
	for i := range unsettled {
		s.settle(ctx, &unsettled[i], "resettle")
		report.Settled++
	}

	orphans, err := s.deps.Tickets.ListOrphaned(ctx, s.cfg.SweepBatchSize)
	if err != nil {
		metrics.TrackSweep("error")
		return report, fmt.Errorf("failed to list orphaned tickets: %w", err)
	}
	for _, t := range orphans {
		released, err := s.deps.Ledger.ReleaseOrphan(ctx, t.ID, t.ReservationID)
		if err != nil {
			report.Failed++
			log.Error("Failed to release orphaned reservation", "error", err, "ticket_id", t.ID)
			continue
		}
		if released {
			metrics.TrackRelease("orphan")
			report.Orphaned++
		}
	}

	metrics.TrackSweep("ok")
	if report.Expired+report.Settled+report.Orphaned+report.Failed > 0 {
		log.Info("Reservation sweep finished",
			"expired", report.Expired,
			"settled", report.Settled,
			"orphaned", report.Orphaned,
			"failed", report.Failed)
	}
	return report, nil
}

// settle cancels the pending ticket of a closed checkout and returns its
// reservation. Both steps are idempotent.
func (s *CheckoutService) settle(ctx context.Context, c *models.Checkout, reason string) {
	if _, err := s.deps.Tickets.CancelPending(ctx, c.TicketID, c.ReservationID); err != nil {
		logger.WithContext(ctx).Error("Failed to cancel pending ticket",
			"error", err,
			"checkout_id", c.ID,
			"ticket_id", c.TicketID)
		return
	}
	s.release(ctx, c.ReservationID, reason)
}

func (s *CheckoutService) release(ctx context.Context, reservationID, reason string) {
	released, err := s.deps.Ledger.Release(ctx, reservationID)
	if err != nil {
		logger.WithContext(ctx).Error("Failed to release reservation",
			"error", err,
			"reservation_id", reservationID)
		return
	}
	if released {
		metrics.TrackRelease(reason)
	}
}

func (s *CheckoutService) cancelSession(ctx context.Context, c *models.Checkout, reason string) {
	if c.SessionID == nil {
		return
	}
	if err := s.deps.Gateway.CancelSession(ctx, *c.SessionID, reason); err != nil {
		logger.WithContext(ctx).Warn("Failed to cancel payment session",
			"error", err,
			"checkout_id", c.ID)
	}
}

// failPayment marks the pending payment of a checkout closed without one.
func (s *CheckoutService) failPayment(ctx context.Context, c *models.Checkout) {
	if c.SessionID == nil {
		return
	}
	if _, err := s.deps.Payments.MarkFailed(ctx, *c.SessionID); err != nil {
		logger.WithContext(ctx).Warn("Failed to mark payment failed",
			"error", err,
			"checkout_id", c.ID)
	}
}

func (s *CheckoutService) publishClosed(ctx context.Context, subject string, c *models.Checkout, reason string) {
	publish(ctx, s.deps.Publisher, subject, models.CheckoutClosedEvent{
		CheckoutID: c.ID,
		TicketID:   c.TicketID,
		EventID:    c.EventID,
		UserID:     c.UserID,
		Quantity:   c.Quantity,
		Reason:     reason,
		Timestamp:  s.now(),
	})
}

func resultOf(c *models.Checkout) *models.CheckoutResult {
	result := &models.CheckoutResult{
		CheckoutID: c.ID,
		TicketID:   c.TicketID,
		EventID:    c.EventID,
		UserID:     c.UserID,
		Quantity:   c.Quantity,
		Amount:     c.Amount,
		Currency:   c.Currency,
	}
	if c.SessionID != nil {
		result.SessionID = *c.SessionID
	}
	if c.RegistrationID != nil {
		result.RegistrationID = *c.RegistrationID
	}
	if c.PaymentID != nil {
		result.PaymentID = *c.PaymentID
	}
	if c.ConfirmedAt != nil {
		result.ConfirmedAt = c.ConfirmedAt.UTC()
	}
	return result
}
