package auth

import "ticketing/internal/models"

// Operation names a guarded use case.
type Operation string

const (
	OpRequestCheckout        Operation = "request_checkout"
	OpConfirmCheckout        Operation = "confirm_checkout"
	OpCancelCheckout         Operation = "cancel_checkout"
	OpViewCheckout           Operation = "view_checkout"
	OpCancelTicket           Operation = "cancel_ticket"
	OpTransferTicket         Operation = "transfer_ticket"
	OpListOwnTickets         Operation = "list_own_tickets"
	OpListOwnRegistrations   Operation = "list_own_registrations"
	OpViewRegistration       Operation = "view_registration"
	OpCreateEvent            Operation = "create_event"
	OpListOwnEvents          Operation = "list_own_events"
	OpViewEvent              Operation = "view_event"
	OpModerateEvent          Operation = "moderate_event"
	OpListPendingEvents      Operation = "list_pending_events"
	OpListEventRegistrations Operation = "list_event_registrations"
	OpExpireCheckout         Operation = "expire_checkout"
)

var attendeeOps = []Operation{
	OpRequestCheckout,
	OpConfirmCheckout,
	OpCancelCheckout,
	OpViewCheckout,
	OpCancelTicket,
	OpTransferTicket,
	OpListOwnTickets,
	OpListOwnRegistrations,
	OpViewRegistration,
	OpViewEvent,
}

// policy is the complete role table. Anything not listed is denied.
var policy = map[models.Role]map[Operation]bool{
	models.RoleUser: set(attendeeOps...),
	models.RoleOrganizer: set(append([]Operation{
		OpCreateEvent,
		OpListOwnEvents,
		OpListEventRegistrations,
	}, attendeeOps...)...),
	models.RoleAdmin: set(append([]Operation{
		OpCreateEvent,
		OpListOwnEvents,
		OpModerateEvent,
		OpListPendingEvents,
		OpListEventRegistrations,
		OpExpireCheckout,
	}, attendeeOps...)...),
}

func set(ops ...Operation) map[Operation]bool {
	m := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return m
}

// Allowed reports whether role may perform op. Unknown roles are denied.
func Allowed(role models.Role, op Operation) bool {
	return policy[role][op]
}

// ValidRole reports whether role appears in the policy table.
func ValidRole(role models.Role) bool {
	_, ok := policy[role]
	return ok
}
