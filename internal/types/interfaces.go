// internal/types/interfaces.go
package types

import (
	"context"
	"errors"
	"time"
)

// ErrKeyNotFound is returned by Backend.Get when the key is absent or expired.
var ErrKeyNotFound = errors.New("key not found")

// Backend is the durable store the memory engine persists sessions into.
// It exposes plain values with optional TTL and Redis-style ordered lists.
// List indexes follow LRANGE semantics: negative values count from the end.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Keys returns keys matching a glob pattern such as "messages:*".
	Keys(ctx context.Context, pattern string) ([]string, error)

	LPush(ctx context.Context, key string, values ...[]byte) error
	RPush(ctx context.Context, key string, values ...[]byte) error
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	LLen(ctx context.Context, key string) (int64, error)

	// Expire sets a TTL on an existing key. A zero ttl removes any expiry.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}
