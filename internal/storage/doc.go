// Package storage provides the key/value and list backends sessions are
// persisted to.
package storage

import (
	"errors"

	"github.com/user/recall/internal/types"
)

// Compile-time interface compliance checks.
var _ types.Backend = (*MemoryBackend)(nil)
var _ types.Backend = (*FileBackend)(nil)
var _ types.Backend = (*RedisBackend)(nil)
var _ types.Backend = (*PostgresBackend)(nil)
var _ types.Backend = (*RetryBackend)(nil)

// ErrWrongType is returned when a value operation hits a list key or the
// other way round.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// listBounds converts inclusive Redis-style indexes (negative counts from
// the end) into a half-open range over a list of length n.
func listBounds(n, start, stop int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	start = max(start, 0)
	stop = min(stop, n-1)
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}
