package repository

import "context"

// UserRepository resolves user profile data owned by the identity service.
// Only the display name is needed by the core.
type UserRepository interface {
	// DisplayName returns the user's display name, or chat.ErrNotFound.
	DisplayName(ctx context.Context, userID string) (string, error)
}
