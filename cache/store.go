package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Store is a TTL key-value store with a few atomic primitives. A ttl of zero
// means the key never expires.
//
// Implementations: MemoryStore (this package), redis.Store and bolt.Store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// GetDel atomically reads and removes key. Of concurrent callers at most
	// one observes the value.
	GetDel(ctx context.Context, key string) (string, error)
	// CompareAndDelete removes key only when it still holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// Incr increments a counter. The ttl is applied only when the counter is
	// created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// AddToSet adds member and resets the expiry of the whole set to ttl.
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	RemoveFromSet(ctx context.Context, key string, members ...string) error
	Close() error
}
