package model

import "errors"

// Domain failure taxonomy. Services wrap these with context via fmt.Errorf("%w: ...")
// and handlers translate them to HTTP status codes. Anything outside this set is
// treated as an internal fault and reported generically to the client.
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrConcurrencyConflict    = errors.New("concurrent update conflict")
	ErrInvalidStateTransition = errors.New("invalid status transition")
)
