package watchdog

import (
	"context"
	"sync"
	"time"
)

// entry is one watchdog bit under active confirmation, shared across every
// clone of the buffer it backs. refs tracks how many live clones reference
// it; the confirmator stops reasserting it once refs drops to zero.
type entry struct {
	view   View
	bitpos uint8
	refs   int
}

// Confirmator periodically reasserts every watchdog bit its owning process
// currently holds, so a live validator elsewhere does not mistake a slow
// but alive owner for a dead one.
type Confirmator struct {
	period time.Duration

	mu      sync.Mutex
	entries map[Descriptor]*entry
}

// NewConfirmator creates a confirmator that reasserts every registered bit
// once per period. Call Run to start its background loop.
func NewConfirmator(period time.Duration) *Confirmator {
	return &Confirmator{period: period, entries: make(map[Descriptor]*entry)}
}

// Add registers a watchdog bit for periodic confirmation, confirming it
// immediately so it survives until the next pass. A second Add for the
// same descriptor (a buffer clone sharing the same chunk) increments a
// refcount instead of creating a duplicate timer entry.
func (c *Confirmator) Add(d Descriptor, v View, bitpos uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[d]; ok {
		e.refs++
		return
	}
	v.Confirm(bitpos)
	c.entries[d] = &entry{view: v, bitpos: bitpos, refs: 1}
}

// Remove decrements a descriptor's refcount, dropping it from the active
// set once the last clone releases it.
func (c *Confirmator) Remove(d Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[d]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(c.entries, d)
	}
}

// confirmAll asserts every currently-registered bit.
func (c *Confirmator) confirmAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.view.Confirm(e.bitpos)
	}
}

// Run blocks, reasserting registered bits every period until ctx is
// canceled. The Provider launches it on the runtime's Application pool.
func (c *Confirmator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.confirmAll()
		}
	}
}
