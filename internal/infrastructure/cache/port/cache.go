package port

import (
	"context"
	"errors"
	"time"
)

// Cache is the key-value contract for ephemeral state such as the typing
// table. Implementations must be safe for concurrent use and honour ctx.
type Cache interface {
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key. A non-positive ttl means no expiration.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Scan returns the live entries whose key starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss, distinct from transport errors.
var ErrMiss = errors.New("cache: miss")
