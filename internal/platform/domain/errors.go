package domain

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. DomainError unwraps to one of these.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)

// DomainError carries a machine-readable code and a human-readable message.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %s not found", entity, id),
		Err:     ErrNotFound,
	}
}

// NewConflictError reports a concurrent modification or uniqueness clash.
func NewConflictError(message string) *DomainError {
	return &DomainError{Code: "CONFLICT", Message: message, Err: ErrConflict}
}

// NewValidationError reports bad input.
func NewValidationError(message string) *DomainError {
	return &DomainError{Code: "VALIDATION", Message: message, Err: ErrValidation}
}

// NewInvalidStateError reports a disallowed state transition.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{
		Code:    "INVALID_STATE",
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Err:     ErrInvalidState,
	}
}
