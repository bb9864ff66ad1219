package engine

import (
	"fmt"

	"github.com/23skdu/longbow-parley/internal/metrics"
)

// KVCache records the tokens an engine has already processed for the
// current context, in order.
type KVCache interface {
	Append(token int) error
	Tokens() []int
	Len() int
	Size() int
	Truncate(n int)
	Reset()
}

// SliceKVCache is the contiguous implementation, bounded by the context
// window.
type SliceKVCache struct {
	tokens []int
	size   int
}

func NewSliceKVCache(size int) *SliceKVCache {
	if size <= 0 {
		size = 2048
	}
	return &SliceKVCache{size: size}
}

func (c *SliceKVCache) Append(token int) error {
	if len(c.tokens) >= c.size {
		metrics.RecordKVCacheOutOfBounds()
		return fmt.Errorf("position out of bounds: %d (max %d)", len(c.tokens), c.size)
	}
	c.tokens = append(c.tokens, token)
	metrics.RecordKVCacheUsage(len(c.tokens))
	return nil
}

// Tokens returns the cached tokens. The slice is only valid until the next
// mutation.
func (c *SliceKVCache) Tokens() []int { return c.tokens }

func (c *SliceKVCache) Len() int { return len(c.tokens) }

// Size returns the configured context length
func (c *SliceKVCache) Size() int { return c.size }

// Truncate drops everything from position n on.
func (c *SliceKVCache) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(c.tokens) {
		return
	}
	metrics.RecordKVCacheEviction(len(c.tokens) - n)
	c.tokens = c.tokens[:n]
	metrics.RecordKVCacheUsage(n)
}

func (c *SliceKVCache) Reset() { c.Truncate(0) }
