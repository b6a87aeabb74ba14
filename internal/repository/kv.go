package repository

import (
	"context"
	"time"
)

// KV is the profile-scoped key-value cache the draft store is built on.
// Every Set fully replaces the stored value.  ttl is a backstop expiry; zero
// means keep until deleted.  Implementations must be safe for concurrent use.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
