package chat

import (
	"errors"
	"fmt"
)

// The error taxonomy of the messaging core. Handlers map these onto transport
// status codes; everything else is treated as internal.

// PersistenceError marks a write that did not durably commit. A failed send is
// never partially applied: no subscriber sees an event for it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: %s did not persist: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewPersistenceError wraps err as a persistence failure for op.
func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// ValidationError marks input rejected before submission (empty message,
// oversize attachment, cross-conversation reply).
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps err as a validation failure on field.
func NewValidationError(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// TransportError marks a non-fatal, retryable channel condition (reconnect in
// progress, subscription unavailable).
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("chat: transport: %v", e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is a persistence failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransport reports whether err is a retryable transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
