package models

import "errors"

// Domain errors returned by entity methods and the repositories. Handlers
// translate these to HTTP status codes; the core never formats user-facing
// messages.
var (
	// ErrPermissionDenied is returned when the acting user's role does not
	// grant the attempted operation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrPriceNotSet is returned when a supply is valued before any paddy
	// price has been recorded.
	ErrPriceNotSet = errors.New("paddy price has not been set")

	// ErrInsufficientInventory is returned when a transfer would drive an
	// inventory counter below zero.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrInvalidStateTransition is returned when an order is moved to a
	// status its current status does not permit.
	ErrInvalidStateTransition = errors.New("invalid order state transition")

	// ErrAlreadyApproved is returned when payment approval is attempted on a
	// supply that has already been paid.
	ErrAlreadyApproved = errors.New("supply payment already approved")

	// ErrTransactionExists is returned when a second transaction code is
	// submitted for the same order.
	ErrTransactionExists = errors.New("transaction already submitted for this order")

	// ErrPersonnelUnavailable is returned when a delivery assignment targets
	// personnel already occupied with an undelivered order.
	ErrPersonnelUnavailable = errors.New("delivery personnel unavailable")

	// ErrValidation wraps input validation failures rejected before any
	// persistence.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
)
