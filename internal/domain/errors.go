package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrValidation        = errors.New("validation failed")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrLockHeld          = errors.New("lock already held")
	ErrLockUnavailable   = errors.New("row lock unavailable, retry later")
)

// StateTransitionError reports an attempted transition that is not in the
// position transition matrix. It matches ErrInvalidTransition via errors.Is.
type StateTransitionError struct {
	From PositionState
	To   PositionState
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// Validationf returns an error wrapping ErrValidation with a formatted reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether err is transient and the caller may retry the
// same request (with the same idempotency key).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockUnavailable)
}
