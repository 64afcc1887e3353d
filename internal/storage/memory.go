// internal/storage/memory.go
package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/match"

	"github.com/user/recall/internal/types"
)

type memItem struct {
	value   []byte
	list    [][]byte
	isList  bool
	expires time.Time
}

func (it *memItem) expired(now time.Time) bool {
	return !it.expires.IsZero() && !now.Before(it.expires)
}

// MemoryBackend keeps everything in process memory. Expired keys are
// dropped lazily when touched.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]*memItem
	now   func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]*memItem), now: time.Now}
}

// item returns the live item for key. Caller must hold mu.
func (b *MemoryBackend) item(key string) *memItem {
	it, ok := b.items[key]
	if !ok {
		return nil
	}
	if it.expired(b.now()) {
		delete(b.items, key)
		return nil
	}
	return it
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	it := b.item(key)
	if it == nil {
		return nil, types.ErrKeyNotFound
	}
	if it.isList {
		return nil, ErrWrongType
	}
	return slices.Clone(it.value), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	it := &memItem{value: slices.Clone(value)}
	if ttl > 0 {
		it.expires = b.now().Add(ttl)
	}
	b.items[key] = it
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, k := range keys {
		delete(b.items, k)
	}
	return nil
}

func (b *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for k := range b.items {
		if b.item(k) != nil && match.Match(k, pattern) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// list returns the list item for key, creating it when create is set.
// Caller must hold mu.
func (b *MemoryBackend) list(key string, create bool) (*memItem, error) {
	it := b.item(key)
	if it == nil {
		if !create {
			return nil, nil
		}
		it = &memItem{isList: true}
		b.items[key] = it
	}
	if !it.isList {
		return nil, ErrWrongType
	}
	return it, nil
}

// LPush prepends values one at a time, so the last value ends up first.
func (b *MemoryBackend) LPush(_ context.Context, key string, values ...[]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	it, err := b.list(key, true)
	if err != nil {
		return err
	}
	head := make([][]byte, 0, len(values)+len(it.list))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, slices.Clone(values[i]))
	}
	it.list = append(head, it.list...)
	return nil
}

func (b *MemoryBackend) RPush(_ context.Context, key string, values ...[]byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	it, err := b.list(key, true)
	if err != nil {
		return err
	}
	for _, v := range values {
		it.list = append(it.list, slices.Clone(v))
	}
	return nil
}

func (b *MemoryBackend) LRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	it, err := b.list(key, false)
	if err != nil || it == nil {
		return nil, err
	}
	lo, hi, ok := listBounds(int64(len(it.list)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, hi-lo)
	for _, v := range it.list[lo:hi] {
		out = append(out, slices.Clone(v))
	}
	return out, nil
}

func (b *MemoryBackend) LLen(_ context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	it, err := b.list(key, false)
	if err != nil || it == nil {
		return 0, err
	}
	return int64(len(it.list)), nil
}

// Expire sets a TTL on an existing key. A non-positive ttl removes it.
func (b *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	it := b.item(key)
	if it == nil {
		return nil
	}
	if ttl <= 0 {
		it.expires = time.Time{}
		return nil
	}
	it.expires = b.now().Add(ttl)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
