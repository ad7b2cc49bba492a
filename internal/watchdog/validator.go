package watchdog

import (
	"context"
	"sync"
	"time"
)

// InvalidateFunc is invoked once, on the validation pass immediately after
// a watchdog bit is found unconfirmed, with the descriptor that went dead.
type InvalidateFunc func(Descriptor)

type trackedEntry struct {
	view    View
	bitpos  uint8
	invalid bool // set on the pass that first observed a missed confirmation
	expired bool // set one pass later; Run drops the entry next sweep
}

// Validator periodically clears every tracked watchdog bit and reports any
// that its owner failed to reassert since the previous pass. A flagged
// descriptor is kept for one extra pass (so late callbacks still see it
// via Track) before being dropped automatically; callers that need the
// entry to persist longer must not rely on this and should call Untrack
// themselves once they act on the invalidation.
type Validator struct {
	period   time.Duration
	onInvalid InvalidateFunc

	mu      sync.Mutex
	entries map[Descriptor]*trackedEntry
}

func NewValidator(period time.Duration, onInvalid InvalidateFunc) *Validator {
	return &Validator{period: period, onInvalid: onInvalid, entries: make(map[Descriptor]*trackedEntry)}
}

// Track begins validating a watchdog bit. It is the counterpart to
// Confirmator.Add and is normally called alongside it for the same
// descriptor.
func (v *Validator) Track(d Descriptor, view View, bitpos uint8) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.entries[d]; ok {
		return
	}
	v.entries[d] = &trackedEntry{view: view, bitpos: bitpos}
}

// Untrack stops validating a descriptor immediately, e.g. because the
// owner dropped its buffer in an orderly fashion.
func (v *Validator) Untrack(d Descriptor) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, d)
}

func (v *Validator) sweep() {
	v.mu.Lock()
	var toInvalidate []Descriptor
	for d, e := range v.entries {
		if e.expired {
			delete(v.entries, d)
			continue
		}
		if e.invalid {
			e.expired = true
			continue
		}
		wasConfirmed := e.view.ClearAndTest(e.bitpos)
		if !wasConfirmed {
			e.invalid = true
			toInvalidate = append(toInvalidate, d)
		}
	}
	v.mu.Unlock()

	if v.onInvalid == nil {
		return
	}
	for _, d := range toInvalidate {
		v.onInvalid(d)
	}
}

// Run blocks, sweeping every period until ctx is canceled. The Provider
// launches it on the runtime's Net pool.
func (v *Validator) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			v.sweep()
		}
	}
}
