package errors

import "errors"

// Kind partitions failures by how a caller should react to them.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalid
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindPaymentRequired
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPaymentRequired:
		return "payment_required"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified domain error. Values are compared by identity, so
// wrapping with fmt.Errorf("...: %w") keeps errors.Is working.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrUnauthorized = newError(KindUnauthorized, "UNAUTHORIZED", "user is not authorized")
	ErrForbidden    = newError(KindForbidden, "FORBIDDEN", "operation is forbidden for user")

	// client input
	ErrInvalidRequest       = newError(KindInvalid, "INVALID_REQUEST", "invalid request")
	ErrEventNotFound        = newError(KindNotFound, "EVENT_NOT_FOUND", "event not found")
	ErrTicketTypeNotFound   = newError(KindInvalid, "TICKET_TYPE_NOT_FOUND", "ticket type not found")
	ErrTicketNotFound       = newError(KindNotFound, "TICKET_NOT_FOUND", "ticket not found")
	ErrSessionNotFound      = newError(KindNotFound, "SESSION_NOT_FOUND", "checkout session not found")
	ErrCheckoutNotFound     = newError(KindNotFound, "CHECKOUT_NOT_FOUND", "checkout not found")
	ErrRecipientNotFound    = newError(KindNotFound, "RECIPIENT_NOT_FOUND", "recipient user not found")
	ErrRegistrationNotFound = newError(KindNotFound, "REGISTRATION_NOT_FOUND", "registration not found")
	ErrNotOwner             = newError(KindForbidden, "NOT_OWNER", "ticket belongs to another user")

	// state conflict
	ErrOutOfStock          = newError(KindConflict, "OUT_OF_STOCK", "not enough tickets available")
	ErrEventNotApproved    = newError(KindConflict, "EVENT_NOT_APPROVED", "event is not approved")
	ErrNotCancellable      = newError(KindConflict, "NOT_CANCELLABLE", "ticket is not booked")
	ErrNotTransferable     = newError(KindConflict, "NOT_TRANSFERABLE", "ticket is not booked")
	ErrCheckoutClosed      = newError(KindConflict, "CHECKOUT_CLOSED", "checkout is no longer open")
	ErrCheckoutAlreadyOpen = newError(KindConflict, "CHECKOUT_ALREADY_OPEN", "an open checkout for this ticket type already exists")
	ErrReservationReleased = newError(KindConflict, "RESERVATION_RELEASED", "reservation already released")
	ErrPaymentNotCompleted = newError(KindPaymentRequired, "PAYMENT_NOT_COMPLETED", "payment not completed")

	// collaborator transient
	ErrPaymentOutcomeUnknown  = newError(KindTransient, "PAYMENT_OUTCOME_UNKNOWN", "payment outcome is not known yet")
	ErrPaymentUnavailable     = newError(KindTransient, "PAYMENT_UNAVAILABLE", "payment provider is unavailable")
	ErrConfirmationInProgress = newError(KindTransient, "CONFIRMATION_IN_PROGRESS", "checkout confirmation is in progress")

	// integrity
	ErrReservationNotFound = newError(KindInternal, "RESERVATION_NOT_FOUND", "reservation handle is unknown")
	ErrInventoryIntegrity  = newError(KindInternal, "INVENTORY_INTEGRITY", "inventory counter out of bounds")
)

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine readable code of err, or INTERNAL.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Code
	}
	return "INTERNAL"
}

// Is reports whether err matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
