package storage

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/user/recall/internal/types"
)

// RetryPolicy controls how failed backend calls are retried with
// exponential backoff.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 100ms initial delay, 2x multiplier
// and 2s max delay.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     2 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not exceeded MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return p.isRetryable(err)
}

// isRetryable treats missing keys, type errors and cancellation as
// permanent; connection trouble and unknown errors are retried.
func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrKeyNotFound) || errors.Is(err, ErrWrongType) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") {
		return true
	}

	if strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "noauth") ||
		strings.Contains(msg, "wrongpass") {
		return false
	}

	return true
}

// NextDelay returns the backoff delay for the given attempt number
// (1-indexed), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times, sleeping between retries. It
// stops early on a permanent error or when ctx is done.
func (p *RetryPolicy) Execute(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		delay := p.NextDelay(attempt)
		slog.Debug("retrying backend call", "op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
	}
	return lastErr
}

// RetryBackend retries transient failures of the wrapped backend.
type RetryBackend struct {
	next   types.Backend
	policy *RetryPolicy
}

// WithRetry wraps b so each call follows policy. A nil policy uses
// DefaultRetryPolicy.
func WithRetry(b types.Backend, policy *RetryPolicy) *RetryBackend {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &RetryBackend{next: b, policy: policy}
}

func (r *RetryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := r.policy.Execute(ctx, "get", func() (err error) {
		out, err = r.next.Get(ctx, key)
		return err
	})
	return out, err
}

func (r *RetryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.policy.Execute(ctx, "set", func() error { return r.next.Set(ctx, key, value, ttl) })
}

func (r *RetryBackend) Delete(ctx context.Context, keys ...string) error {
	return r.policy.Execute(ctx, "delete", func() error { return r.next.Delete(ctx, keys...) })
}

func (r *RetryBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	err := r.policy.Execute(ctx, "keys", func() (err error) {
		out, err = r.next.Keys(ctx, pattern)
		return err
	})
	return out, err
}

// LPush is not retried: a failure after a partial write would duplicate
// elements.
func (r *RetryBackend) LPush(ctx context.Context, key string, values ...[]byte) error {
	return r.next.LPush(ctx, key, values...)
}

// RPush is not retried for the same reason as LPush.
func (r *RetryBackend) RPush(ctx context.Context, key string, values ...[]byte) error {
	return r.next.RPush(ctx, key, values...)
}

func (r *RetryBackend) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	var out [][]byte
	err := r.policy.Execute(ctx, "lrange", func() (err error) {
		out, err = r.next.LRange(ctx, key, start, stop)
		return err
	})
	return out, err
}

func (r *RetryBackend) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := r.policy.Execute(ctx, "llen", func() (err error) {
		n, err = r.next.LLen(ctx, key)
		return err
	})
	return n, err
}

func (r *RetryBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.policy.Execute(ctx, "expire", func() error { return r.next.Expire(ctx, key, ttl) })
}

func (r *RetryBackend) Close() error { return r.next.Close() }
