package port

import (
	"context"
	"time"
)

// Session is one open socket of a user, on any instance.
type Session struct {
	UserID string
	ConnID string
}

// SessionSet tracks open sockets per user across processes. Every member
// carries its own expiry; owners refresh it and a dead owner's sessions lapse.
type SessionSet interface {
	// Add registers or refreshes s until now+ttl and returns the user's live count.
	Add(ctx context.Context, s Session, now time.Time, ttl time.Duration) (int64, error)

	// Remove drops s and returns the user's remaining live count.
	Remove(ctx context.Context, s Session, now time.Time) (int64, error)

	// Count returns the user's sessions that have not expired at now.
	Count(ctx context.Context, userID string, now time.Time) (int64, error)

	// Reap removes sessions expired at now. Each one is returned to exactly
	// one caller, even with several processes reaping.
	Reap(ctx context.Context, now time.Time) ([]Session, error)
}
