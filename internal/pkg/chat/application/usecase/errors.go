package usecase

import (
	"errors"
	"fmt"

	chat "chatcore/internal/pkg/chat/application/domain"
)

// ErrPersistence indicates an infrastructure/repository failure inside a use case
var ErrPersistence = errors.New("chat use case persistence error")

// persistence wraps repository failures. Domain sentinels pass through and
// ErrTransient stays matchable for retry classification.
func persistence(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chat.ErrNotFound),
		errors.Is(err, chat.ErrValidation),
		errors.Is(err, chat.ErrNotParticipant):
		return err
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}
