package chat

import (
	"errors"
	"fmt"
)

// Domain-level errors for chat behaviors
var (
	ErrValidation     = errors.New("chat: validation failed")
	ErrConflict       = errors.New("chat: conflicting write")
	ErrTransient      = errors.New("chat: transient store failure")
	ErrNotFound       = errors.New("chat: not found")
	ErrNotParticipant = errors.New("chat: user is not a participant in the conversation")
	ErrOutboxFull     = errors.New("chat: outbox is full, retry manually")
)

// ValidationError describes malformed input. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "chat: invalid input: " + e.Reason
	}
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Transient marks err as retryable. Nil stays nil.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }
