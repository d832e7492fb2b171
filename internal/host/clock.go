package host

import (
	"sync"
	"time"

	"arkavo.org/accesscore/internal/chain"
)

// BlockClock tracks the block currently being produced. Transactions execute
// in the open block; Seal closes it and opens the next one.
type BlockClock struct {
	mu      sync.RWMutex
	current chain.Block
	now     func() time.Time
}

// NewBlockClock opens block start. A zero timestamp is filled from now.
func NewBlockClock(start chain.Block, now func() time.Time) *BlockClock {
	if now == nil {
		now = time.Now
	}
	if start.Number == 0 {
		start.Number = 1
	}
	if start.Timestamp == 0 {
		start.Timestamp = uint64(now().UnixMilli())
	}
	return &BlockClock{current: start, now: now}
}

// Current returns the open block.
func (c *BlockClock) Current() chain.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Seal opens the next block. Timestamps never go backwards.
func (c *BlockClock) Seal() chain.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := uint64(c.now().UnixMilli())
	if ts < c.current.Timestamp {
		ts = c.current.Timestamp
	}
	c.current = chain.Block{Number: c.current.Number + 1, Timestamp: ts}
	return c.current
}

func (c *BlockClock) set(b chain.Block) {
	c.mu.Lock()
	c.current = b
	c.mu.Unlock()
}
