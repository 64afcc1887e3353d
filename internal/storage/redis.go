package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/recall/internal/types"
)

// RedisClient is the subset of *redis.Client the backend uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Keys(ctx context.Context, pattern string) *redis.StringSliceCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Persist(ctx context.Context, key string) *redis.BoolCmd
	Close() error
}

// RedisBackend stores keys in Redis, optionally under a key prefix.
type RedisBackend struct {
	client RedisClient
	prefix string
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithPrefix namespaces every key, e.g. "recall:".
func WithPrefix(prefix string) RedisOption {
	return func(b *RedisBackend) { b.prefix = prefix }
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client RedisClient, opts ...RedisOption) *RedisBackend {
	b := &RedisBackend{client: client}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DialRedis connects to the server at url (redis://[:password@]host:port/db)
// and verifies it answers PING.
func DialRedis(ctx context.Context, url, password string, opts ...RedisOption) (*RedisBackend, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		ropts.Password = password
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisBackend(client, opts...), nil
}

func (b *RedisBackend) key(k string) string { return b.prefix + k }

// redisErr maps go-redis errors onto the backend contract.
func redisErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return types.ErrKeyNotFound
	case strings.HasPrefix(err.Error(), "WRONGTYPE"):
		return fmt.Errorf("%w: %v", ErrWrongType, err)
	}
	return err
}

func toArgs(values [][]byte) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		return nil, redisErr(err)
	}
	return data, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return redisErr(b.client.Set(ctx, b.key(key), value, max(ttl, 0)).Err())
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	return redisErr(b.client.Del(ctx, full...).Err())
}

func (b *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := b.client.Keys(ctx, b.key(pattern)).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, b.prefix)
	}
	return keys, nil
}

func (b *RedisBackend) LPush(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	return redisErr(b.client.LPush(ctx, b.key(key), toArgs(values)...).Err())
}

func (b *RedisBackend) RPush(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	return redisErr(b.client.RPush(ctx, b.key(key), toArgs(values)...).Err())
}

func (b *RedisBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	items, err := b.client.LRange(ctx, b.key(key), start, stop).Result()
	if err != nil {
		return nil, redisErr(err)
	}
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = []byte(it)
	}
	return out, nil
}

func (b *RedisBackend) LLen(ctx context.Context, key string) (int64, error) {
	n, err := b.client.LLen(ctx, b.key(key)).Result()
	return n, redisErr(err)
}

// Expire sets a TTL on an existing key. A non-positive ttl removes it.
func (b *RedisBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return redisErr(b.client.Persist(ctx, b.key(key)).Err())
	}
	return redisErr(b.client.Expire(ctx, b.key(key), ttl).Err())
}

func (b *RedisBackend) Close() error { return b.client.Close() }
