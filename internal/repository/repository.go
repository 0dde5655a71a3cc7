package repository

import (
	"ticketing/internal/database"
)

type Repositories struct {
	Ledger        *LedgerRepository
	Events        *EventRepository
	Tickets       *TicketRepository
	Checkouts     *CheckoutRepository
	Registrations *RegistrationRepository
	Payments      *PaymentRepository
	Users         *UserRepository
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Ledger:        NewLedgerRepository(db),
		Events:        NewEventRepository(db),
		Tickets:       NewTicketRepository(db),
		Checkouts:     NewCheckoutRepository(db),
		Registrations: NewRegistrationRepository(db),
		Payments:      NewPaymentRepository(db),
		Users:         NewUserRepository(db),
	}
}
