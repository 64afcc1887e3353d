// Package tokenizer counts model tokens for history budgeting.
package tokenizer

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/pkoukk/tiktoken-go"

	"github.com/user/recall/internal/memory"
)

// DefaultCacheEntries is the number of token counts kept in memory.
const DefaultCacheEntries = 10_000

// Counter counts tokens with the encoding of a model and caches the results
// by a hash of the text. It is safe for concurrent use.
type Counter struct {
	enc   *tiktoken.Tiktoken
	cache *ristretto.Cache
}

// New creates a counter for model. Unknown models fall back to
// cl100k_base. cacheEntries <= 0 uses DefaultCacheEntries.
func New(model string, cacheEntries int64) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	if cacheEntries <= 0 {
		cacheEntries = DefaultCacheEntries
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheEntries * 10,
		MaxCost:     cacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	return &Counter{enc: enc, cache: cache}, nil
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	key := xxhash.Sum64String(text)
	if v, ok := c.cache.Get(key); ok {
		return v.(int)
	}
	n := len(c.enc.Encode(text, nil, nil))
	c.cache.Set(key, n, 1)
	return n
}

// CountMessages sums the tokens of msgs including tool call names and
// arguments.
func (c *Counter) CountMessages(msgs []memory.Message) int {
	total := 0
	for _, m := range msgs {
		total += memory.MessageTokens(m, c.Count)
	}
	return total
}

// Budget returns a processor keeping history within maxTokens minus
// reserve.
func (c *Counter) Budget(maxTokens, reserve int) memory.Processor {
	return memory.TokenBudget(maxTokens, c.Count, reserve)
}

// Close releases the cache.
func (c *Counter) Close() {
	c.cache.Close()
}
