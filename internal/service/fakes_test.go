package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "ticketing/internal/errors"
	"ticketing/internal/models"
)

// memDB is an in-memory stand-in for the Postgres repositories. Every
// method takes the same lock, which gives the conditional updates the same
// all-or-nothing behaviour as single SQL statements.
type memDB struct {
	mu            sync.Mutex
	seq           int64
	events        map[int64]*models.Event
	reservations  map[string]*models.Reservation
	tickets       map[int64]*models.Ticket
	checkouts     map[string]*models.Checkout
	registrations map[int64]*models.Registration
	payments      map[string]*models.Payment
	users         map[int64]*models.User
	history       []models.OwnerChange
}

func newMemDB() *memDB {
	return &memDB{
		events:        map[int64]*models.Event{},
		reservations:  map[string]*models.Reservation{},
		tickets:       map[int64]*models.Ticket{},
		checkouts:     map[string]*models.Checkout{},
		registrations: map[int64]*models.Registration{},
		payments:      map[string]*models.Payment{},
		users:         map[int64]*models.User{},
	}
}

func (db *memDB) nextID() int64 {
	db.seq++
	return db.seq
}

func (db *memDB) ticketType(id int64) *models.TicketType {
	for _, e := range db.events {
		for i := range e.TicketTypes {
			if e.TicketTypes[i].ID == id {
				return &e.TicketTypes[i]
			}
		}
	}
	return nil
}

func (db *memDB) addUser(id int64, email string, role models.Role) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.users[id] = &models.User{UserID: id, Email: email, Name: email, Role: role, IsActive: true}
}

func (db *memDB) remaining(t *testing.T, eventID int64, name string) int {
	t.Helper()
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.events[eventID]
	if !ok {
		t.Fatalf("event %d not seeded", eventID)
	}
	tt, ok := e.TicketType(name)
	if !ok {
		t.Fatalf("ticket type %q not seeded", name)
	}
	return tt.Remaining
}

func (db *memDB) ticket(id int64) models.Ticket {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.tickets[id]
}

func (db *memDB) checkout(id string) models.Checkout {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.checkouts[id]
}

func (db *memDB) reservation(id string) models.Reservation {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.reservations[id]
}

// reservationsIn counts the reservations of a ticket type in one state.
func (db *memDB) reservationsIn(ticketTypeID int64, state models.ReservationState) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, r := range db.reservations {
		if r.TicketTypeID == ticketTypeID && r.State == state {
			n++
		}
	}
	return n
}

func copyEvent(e *models.Event) *models.Event {
	cp := *e
	cp.TicketTypes = append([]models.TicketType(nil), e.TicketTypes...)
	return &cp
}

// ledger

type memLedger struct{ db *memDB }

func (l memLedger) Reserve(_ context.Context, eventID int64, key string, quantity int) (*models.Reservation, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	if quantity <= 0 {
		return nil, apperrors.ErrInvalidRequest
	}
	e, ok := l.db.events[eventID]
	if !ok {
		return nil, apperrors.ErrTicketTypeNotFound
	}
	tt, ok := e.TicketType(key)
	if !ok {
		return nil, apperrors.ErrTicketTypeNotFound
	}
	if tt.Remaining < quantity {
		return nil, apperrors.ErrOutOfStock
	}
	tt.Remaining -= quantity
	r := &models.Reservation{
		ID:           uuid.NewString(),
		TicketTypeID: tt.ID,
		Quantity:     quantity,
		State:        models.ReservationReserved,
	}
	l.db.reservations[r.ID] = r
	cp := *r
	return &cp, nil
}

func (l memLedger) Release(_ context.Context, id string) (bool, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	r, ok := l.db.reservations[id]
	if !ok {
		return false, apperrors.ErrReservationNotFound
	}
	if r.State == models.ReservationReleased {
		return false, nil
	}
	tt := l.db.ticketType(r.TicketTypeID)
	if tt.Remaining+r.Quantity > tt.Capacity {
		return false, apperrors.ErrInventoryIntegrity
	}
	tt.Remaining += r.Quantity
	r.State = models.ReservationReleased
	return true, nil
}

func (l memLedger) ReserveForCheckout(_ context.Context, checkoutID, stale string) (*models.Reservation, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	c, ok := l.db.checkouts[checkoutID]
	if !ok || c.State != models.CheckoutConfirming || c.ReservationID != stale {
		return nil, nil
	}
	e, ok := l.db.events[c.EventID]
	if !ok {
		return nil, apperrors.ErrTicketTypeNotFound
	}
	tt, ok := e.TicketType(c.TicketTypeName)
	if !ok {
		return nil, apperrors.ErrTicketTypeNotFound
	}
	if tt.Remaining < c.Quantity {
		return nil, apperrors.ErrOutOfStock
	}
	tt.Remaining -= c.Quantity
	r := &models.Reservation{
		ID:           uuid.NewString(),
		TicketTypeID: tt.ID,
		Quantity:     c.Quantity,
		State:        models.ReservationReserved,
	}
	l.db.reservations[r.ID] = r
	c.ReservationID = r.ID
	cp := *r
	return &cp, nil
}

func (l memLedger) ReleaseOrphan(_ context.Context, ticketID int64, id string) (bool, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	t, ok := l.db.tickets[ticketID]
	if !ok || t.Status != models.TicketCancelled || t.ReservationID != id {
		return false, nil
	}
	r, ok := l.db.reservations[id]
	if !ok || r.State == models.ReservationReleased {
		return false, nil
	}
	l.db.ticketType(r.TicketTypeID).Remaining += r.Quantity
	r.State = models.ReservationReleased
	return true, nil
}

func (l memLedger) Commit(_ context.Context, id string) error {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	r, ok := l.db.reservations[id]
	switch {
	case !ok:
		return apperrors.ErrReservationNotFound
	case r.State == models.ReservationReleased:
		return apperrors.ErrReservationReleased
	}
	r.State = models.ReservationCommitted
	return nil
}

// events

type memEvents struct{ db *memDB }

func (s memEvents) Create(_ context.Context, event *models.Event) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	event.ID = s.db.nextID()
	for i := range event.TicketTypes {
		event.TicketTypes[i].ID = s.db.nextID()
		event.TicketTypes[i].EventID = event.ID
	}
	s.db.events[event.ID] = copyEvent(event)
	return nil
}

func (s memEvents) GetByID(_ context.Context, id int64) (*models.Event, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.events[id]
	if !ok {
		return nil, nil
	}
	return copyEvent(e), nil
}

func (s memEvents) List(_ context.Context, filter models.EventFilter) ([]models.Event, int, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Event
	for _, e := range s.db.events {
		if e.Status != models.EventApproved {
			continue
		}
		if filter.Keyword != "" && !strings.Contains(strings.ToLower(e.Title), strings.ToLower(filter.Keyword)) {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(e.Category, filter.Category) {
			continue
		}
		out = append(out, *copyEvent(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	from := filter.Offset()
	if from > total {
		from = total
	}
	to := from + filter.Limit
	if to > total {
		to = total
	}
	return out[from:to], total, nil
}

func (s memEvents) filter(keep func(*models.Event) bool) []models.Event {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Event
	for _, e := range s.db.events {
		if keep(e) {
			out = append(out, *copyEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s memEvents) ListByOwner(_ context.Context, ownerID int64) ([]models.Event, error) {
	return s.filter(func(e *models.Event) bool { return e.OwnerID == ownerID }), nil
}

func (s memEvents) ListByStatus(_ context.Context, status models.EventStatus) ([]models.Event, error) {
	return s.filter(func(e *models.Event) bool { return e.Status == status }), nil
}

func (s memEvents) UpdateStatus(_ context.Context, id int64, status models.EventStatus, reason *string, adminID int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.events[id]
	if !ok {
		return false, nil
	}
	e.Status = status
	e.RejectionReason = reason
	e.ApprovedBy = &adminID
	return true, nil
}

// tickets

type memTickets struct{ db *memDB }

func (s memTickets) CreateWithCheckout(_ context.Context, ticket *models.Ticket, checkout *models.Checkout) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.checkouts {
		if c.State.Open() && c.UserID == checkout.UserID && c.EventID == checkout.EventID &&
			strings.EqualFold(c.TicketTypeName, checkout.TicketTypeName) {
			return apperrors.ErrCheckoutAlreadyOpen
		}
	}
	ticket.ID = s.db.nextID()
	checkout.TicketID = ticket.ID
	t, c := *ticket, *checkout
	s.db.tickets[t.ID] = &t
	s.db.checkouts[c.ID] = &c
	return nil
}

func (s memTickets) GetByID(_ context.Context, id int64) (*models.Ticket, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tickets[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s memTickets) ListByUser(_ context.Context, userID int64) ([]models.Ticket, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.db.tickets {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s memTickets) update(id int64, apply func(t *models.Ticket) bool) bool {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tickets[id]
	if !ok {
		return false
	}
	return apply(t)
}

func (s memTickets) SetStatus(_ context.Context, id int64, from, to models.TicketStatus) (bool, error) {
	return s.update(id, func(t *models.Ticket) bool {
		if t.Status != from {
			return false
		}
		t.Status = to
		return true
	}), nil
}

func (s memTickets) Reinstate(_ context.Context, id int64, from, to string) (bool, error) {
	return s.update(id, func(t *models.Ticket) bool {
		if t.ReservationID != from || (t.Status != models.TicketPending && t.Status != models.TicketCancelled) {
			return false
		}
		t.Status = models.TicketPending
		t.ReservationID = to
		return true
	}), nil
}

func (s memTickets) CancelPending(_ context.Context, id int64, reservationID string) (bool, error) {
	return s.update(id, func(t *models.Ticket) bool {
		if t.Status != models.TicketPending || t.ReservationID != reservationID {
			return false
		}
		t.Status = models.TicketCancelled
		return true
	}), nil
}

func (s memTickets) CancelBooked(_ context.Context, id, userID int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tickets[id]
	if !ok || t.UserID != userID || t.Status != models.TicketBooked {
		return false, nil
	}
	t.Status = models.TicketCancelled
	s.db.unlink(id)
	return true, nil
}

func (s memTickets) Transfer(_ context.Context, id, fromUserID, toUserID int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tickets[id]
	if !ok || t.UserID != fromUserID || t.Status != models.TicketBooked {
		return false, nil
	}
	t.UserID = toUserID
	s.db.history = append(s.db.history, models.OwnerChange{
		ID:         s.db.nextID(),
		TicketID:   id,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		ChangedAt:  time.Now(),
	})
	s.db.unlink(id)
	s.db.link(toUserID, t.EventID, id)
	return true, nil
}

func (s memTickets) History(_ context.Context, id int64) ([]models.OwnerChange, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.OwnerChange
	for _, h := range s.db.history {
		if h.TicketID == id {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s memTickets) ListOrphaned(_ context.Context, limit int) ([]models.Ticket, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.db.tickets {
		r, ok := s.db.reservations[t.ReservationID]
		if t.Status == models.TicketCancelled && ok && r.State != models.ReservationReleased {
			out = append(out, *t)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// registrations; callers hold the lock

func (db *memDB) unlink(ticketID int64) {
	for _, r := range db.registrations {
		for i, id := range r.TicketIDs {
			if id == ticketID {
				r.TicketIDs = append(r.TicketIDs[:i], r.TicketIDs[i+1:]...)
				break
			}
		}
	}
}

func (db *memDB) link(userID, eventID, ticketID int64) *models.Registration {
	var reg *models.Registration
	for _, r := range db.registrations {
		if r.UserID == userID && r.EventID == eventID {
			reg = r
		}
	}
	if reg == nil {
		reg = &models.Registration{ID: db.nextID(), UserID: userID, EventID: eventID, RegisteredAt: time.Now()}
		db.registrations[reg.ID] = reg
	}
	for _, id := range reg.TicketIDs {
		if id == ticketID {
			return reg
		}
	}
	reg.TicketIDs = append(reg.TicketIDs, ticketID)
	return reg
}

func copyRegistration(r *models.Registration) models.Registration {
	cp := *r
	cp.TicketIDs = append([]int64{}, r.TicketIDs...)
	return cp
}

type memRegistrations struct{ db *memDB }

func (s memRegistrations) AddTicket(_ context.Context, userID, eventID, ticketID int64) (*models.Registration, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cp := copyRegistration(s.db.link(userID, eventID, ticketID))
	return &cp, nil
}

func (s memRegistrations) AttachPayment(_ context.Context, registrationID, paymentID int64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.registrations[registrationID]
	if !ok {
		return fmt.Errorf("registration %d not found", registrationID)
	}
	r.PaymentID = &paymentID
	return nil
}

func (s memRegistrations) list(keep func(*models.Registration) bool) []models.Registration {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Registration
	for _, r := range s.db.registrations {
		if keep(r) {
			out = append(out, copyRegistration(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s memRegistrations) ListByUser(_ context.Context, userID int64) ([]models.Registration, error) {
	return s.list(func(r *models.Registration) bool { return r.UserID == userID }), nil
}

func (s memRegistrations) GetByID(_ context.Context, id int64) (*models.Registration, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	r, ok := s.db.registrations[id]
	if !ok {
		return nil, nil
	}
	cp := copyRegistration(r)
	return &cp, nil
}

func (s memRegistrations) ListByEvent(_ context.Context, eventID int64) ([]models.Registration, error) {
	return s.list(func(r *models.Registration) bool { return r.EventID == eventID }), nil
}

// checkouts

type memCheckouts struct{ db *memDB }

func (s memCheckouts) GetByID(_ context.Context, id string) (*models.Checkout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.checkouts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s memCheckouts) GetBySession(_ context.Context, sessionID string) (*models.Checkout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.checkouts {
		if c.SessionID != nil && *c.SessionID == sessionID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s memCheckouts) update(id string, apply func(c *models.Checkout) bool) bool {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	c, ok := s.db.checkouts[id]
	if !ok {
		return false
	}
	return apply(c)
}

func (s memCheckouts) AttachSession(_ context.Context, id, sessionID, paymentURL string) (bool, error) {
	return s.update(id, func(c *models.Checkout) bool {
		if c.State != models.CheckoutReserved {
			return false
		}
		c.SessionID, c.PaymentURL = &sessionID, &paymentURL
		c.State = models.CheckoutAwaitingPayment
		return true
	}), nil
}

func (s memCheckouts) Transition(_ context.Context, id string, from []models.CheckoutState, to models.CheckoutState) (bool, error) {
	return s.update(id, func(c *models.Checkout) bool {
		for _, st := range from {
			if c.State == st {
				c.State = to
				return true
			}
		}
		return false
	}), nil
}

func (s memCheckouts) MarkRefunded(_ context.Context, id, reservationID string) (bool, error) {
	return s.update(id, func(c *models.Checkout) bool {
		if c.State != models.CheckoutConfirming || c.ReservationID != reservationID {
			return false
		}
		c.State = models.CheckoutRefunded
		return true
	}), nil
}

func (s memCheckouts) FindOpen(_ context.Context, userID, eventID int64, ticketType string) (*models.Checkout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, c := range s.db.checkouts {
		if c.State.Open() && c.UserID == userID && c.EventID == eventID && strings.EqualFold(c.TicketTypeName, ticketType) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s memCheckouts) MarkConfirmed(_ context.Context, id string, registrationID, paymentID int64, at time.Time) (bool, error) {
	return s.update(id, func(c *models.Checkout) bool {
		if c.State != models.CheckoutConfirming {
			return false
		}
		c.State = models.CheckoutConfirmed
		c.RegistrationID, c.PaymentID, c.ConfirmedAt = &registrationID, &paymentID, &at
		return true
	}), nil
}

func (s memCheckouts) ListExpired(_ context.Context, now time.Time, limit int) ([]models.Checkout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Checkout
	for _, c := range s.db.checkouts {
		if c.State.Open() && c.ExpiresAt.Before(now) && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s memCheckouts) ListUnsettled(_ context.Context, limit int) ([]models.Checkout, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Checkout
	for _, c := range s.db.checkouts {
		t := s.db.tickets[c.TicketID]
		closed := closedState(c.State) || c.State == models.CheckoutRefunded
		if closed && t.Status == models.TicketPending && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

// payments

type memPayments struct{ db *memDB }

func (s memPayments) Record(_ context.Context, p *models.Payment) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if existing, ok := s.db.payments[p.SessionID]; ok {
		existing.Status = p.Status
		p.ID = existing.ID
		return nil
	}
	p.ID = s.db.nextID()
	cp := *p
	s.db.payments[p.SessionID] = &cp
	return nil
}

func (s memPayments) MarkFailed(_ context.Context, sessionID string) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[sessionID]
	if !ok || p.Status != models.PaymentPending {
		return false, nil
	}
	p.Status = models.PaymentFailed
	return true, nil
}

func (s memPayments) GetBySession(_ context.Context, sessionID string) (*models.Payment, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.payments[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// users

type memUsers struct{ db *memDB }

func (s memUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, u := range s.db.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// collaborators

type fakeGateway struct {
	mu         sync.Mutex
	seq        int
	openErr    error
	outcomeErr error
	outcomes   map[string]models.PaymentOutcome
	cancelled  []string
	opened     []models.PaymentSessionRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{outcomes: map[string]models.PaymentOutcome{}}
}

func (g *fakeGateway) OpenSession(_ context.Context, req models.PaymentSessionRequest) (*models.PaymentSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.openErr != nil {
		return nil, g.openErr
	}
	g.seq++
	id := fmt.Sprintf("sess-%d", g.seq)
	g.opened = append(g.opened, req)
	return &models.PaymentSession{ID: id, URL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) RetrieveOutcome(_ context.Context, sessionID string) (models.PaymentOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outcomeErr != nil {
		return models.OutcomeUnknown, g.outcomeErr
	}
	if o, ok := g.outcomes[sessionID]; ok {
		return o, nil
	}
	return models.OutcomeUnknown, nil
}

func (g *fakeGateway) CancelSession(_ context.Context, sessionID, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, sessionID)
	return nil
}

func (g *fakeGateway) setOutcome(sessionID string, o models.PaymentOutcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomes[sessionID] = o
}

func (g *fakeGateway) setOutcomeErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcomeErr = err
}

func (g *fakeGateway) cancelledSessions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type sentMail struct{ To, Subject string }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, to, subject, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{To: to, Subject: subject})
	return nil
}

func (n *fakeNotifier) to(addr string) []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMail
	for _, m := range n.sent {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	err      error
}

func (p *fakePublisher) Publish(subject string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return p.err
}

func (p *fakePublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fakeCache struct {
	mu      sync.Mutex
	results map[string]*models.CheckoutResult
	locks   map[string]bool
	err     error
}

func newFakeCache() *fakeCache {
	return &fakeCache{results: map[string]*models.CheckoutResult{}, locks: map[string]bool{}}
}

func (c *fakeCache) Get(_ context.Context, sessionID string) (*models.CheckoutResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return c.results[sessionID], nil
}

func (c *fakeCache) Set(_ context.Context, sessionID string, result *models.CheckoutResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.results[sessionID] = result
	return nil
}

func (c *fakeCache) Lock(_ context.Context, sessionID string) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return func() {}, false, c.err
	}
	if c.locks[sessionID] {
		return func() {}, false, nil
	}
	c.locks[sessionID] = true
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.locks, sessionID)
	}, true, nil
}

type fakeSearch struct {
	events []models.Event
	err    error
	calls  int
}

func (s *fakeSearch) Search(_ context.Context, _ models.EventFilter) ([]models.Event, int, error) {
	s.calls++
	if s.err != nil {
		return nil, 0, s.err
	}
	return s.events, len(s.events), nil
}

// fixture

const (
	buyerID     int64 = 100
	otherUserID int64 = 101
	organizerID int64 = 200
	adminID     int64 = 300
)

type fixture struct {
	db        *memDB
	gateway   *fakeGateway
	notifier  *fakeNotifier
	publisher *fakePublisher
	svc       *Services
	clock     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newMemDB()
	db.addUser(buyerID, "buyer@example.com", models.RoleUser)
	db.addUser(otherUserID, "friend@example.com", models.RoleUser)
	db.addUser(organizerID, "organizer@example.com", models.RoleOrganizer)
	db.addUser(adminID, "admin@example.com", models.RoleAdmin)

	f := &fixture{
		db:        db,
		gateway:   newFakeGateway(),
		notifier:  &fakeNotifier{},
		publisher: &fakePublisher{},
		clock:     time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewServices(f.deps(), CheckoutConfig{
		ReservationTTL:        15 * time.Minute,
		Currency:              "usd",
		MaxTicketsPerCheckout: 10,
		SweepBatchSize:        50,
	})
	f.svc.Checkouts.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) deps() Dependencies {
	return Dependencies{
		Ledger:        memLedger{f.db},
		Events:        memEvents{f.db},
		Tickets:       memTickets{f.db},
		Checkouts:     memCheckouts{f.db},
		Registrations: memRegistrations{f.db},
		Payments:      memPayments{f.db},
		Users:         memUsers{f.db},
		Gateway:       f.gateway,
		Notifier:      f.notifier,
		Publisher:     f.publisher,
	}
}

// withCache rebuilds the checkout service with a confirmation cache.
func (f *fixture) withCache(cache ConfirmationCache) {
	deps := f.deps()
	deps.Cache = cache
	f.svc.Checkouts = NewCheckoutService(deps, f.svc.Checkouts.cfg)
	f.svc.Checkouts.now = func() time.Time { return f.clock }
}

// seedEvent stores an approved event of organizerID with the given ticket
// types, each priced at 50.
func (f *fixture) seedEvent(t *testing.T, capacities map[string]int) int64 {
	t.Helper()
	event := &models.Event{
		Title:    "Conf2025",
		Category: "conference",
		Location: "Almaty",
		StartsAt: f.clock.Add(30 * 24 * time.Hour),
		Status:   models.EventApproved,
		OwnerID:  organizerID,
	}
	names := make([]string, 0, len(capacities))
	for name := range capacities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		event.TicketTypes = append(event.TicketTypes, models.TicketType{
			Name:      name,
			Price:     decimal.NewFromInt(50),
			Capacity:  capacities[name],
			Remaining: capacities[name],
		})
	}
	if err := (memEvents{f.db}).Create(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	return event.ID
}

func (f *fixture) request(t *testing.T, userID, eventID int64, ticketType string, qty int) *models.CheckoutSession {
	t.Helper()
	session, err := f.svc.Checkouts.RequestCheckout(context.Background(), userID, &models.CreateCheckoutRequest{
		EventID:    eventID,
		TicketType: ticketType,
		Quantity:   qty,
	})
	if err != nil {
		t.Fatalf("request checkout: %v", err)
	}
	return session
}

// buy runs a checkout through a successful payment.
func (f *fixture) buy(t *testing.T, userID, eventID int64, ticketType string, qty int) *models.CheckoutResult {
	t.Helper()
	session := f.request(t, userID, eventID, ticketType, qty)
	f.gateway.setOutcome(session.SessionID, models.OutcomePaid)
	result, err := f.svc.Checkouts.ConfirmCheckout(context.Background(), session.SessionID)
	if err != nil {
		t.Fatalf("confirm checkout: %v", err)
	}
	return result
}

var errTransport = errors.New("connection refused")
