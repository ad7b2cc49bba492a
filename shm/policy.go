package shm

import (
	"context"
	"time"

	"github.com/tpaschalis/goshm/internal/constants"
)

// AllocPolicy is a composable retry strategy layered over a backend
// allocation. Implementations wrap an Inner policy (and sometimes an Alt
// policy to retry with after a remediation step) and must propagate any
// error kind they do not specifically handle, never swallowing it.
type AllocPolicy interface {
	Alloc(ctx context.Context, p *Provider, layout MemoryLayout) (AllocatedChunk, error)
}

// JustAlloc makes exactly one call to the backend.
type JustAlloc struct{}

func (JustAlloc) Alloc(ctx context.Context, p *Provider, layout MemoryLayout) (AllocatedChunk, error) {
	return p.backendAlloc(layout)
}

// GarbageCollect tries Inner; on ErrCodeOutOfMemory it runs
// Provider.GarbageCollect, and if that reclaimed at least layout.Size
// bytes it retries with Alt. Any other error from Inner, or an
// insufficient reclaim, surfaces the original error untouched.
type GarbageCollect struct {
	Inner AllocPolicy
	Alt   AllocPolicy
}

func NewGarbageCollect(inner, alt AllocPolicy) GarbageCollect {
	return GarbageCollect{Inner: inner, Alt: alt}
}

func (g GarbageCollect) Alloc(ctx context.Context, p *Provider, layout MemoryLayout) (AllocatedChunk, error) {
	chunk, err := g.Inner.Alloc(ctx, p, layout)
	if err == nil || !IsCode(err, ErrCodeOutOfMemory) {
		return chunk, err
	}
	reclaimed, gcErr := p.GarbageCollect()
	if gcErr != nil || reclaimed < layout.Size {
		return AllocatedChunk{}, err
	}
	return g.Alt.Alloc(ctx, p, layout)
}

// Defragment tries Inner; on ErrCodeNeedDefragment it runs
// Provider.Defragment, and if that produced a run of at least
// layout.Size bytes it retries with Alt.
type Defragment struct {
	Inner AllocPolicy
	Alt   AllocPolicy
}

func NewDefragment(inner, alt AllocPolicy) Defragment {
	return Defragment{Inner: inner, Alt: alt}
}

func (d Defragment) Alloc(ctx context.Context, p *Provider, layout MemoryLayout) (AllocatedChunk, error) {
	chunk, err := d.Inner.Alloc(ctx, p, layout)
	if err == nil || !IsCode(err, ErrCodeNeedDefragment) {
		return chunk, err
	}
	largest, dErr := p.Defragment()
	if dErr != nil || largest < layout.Size {
		return AllocatedChunk{}, err
	}
	return d.Alt.Alloc(ctx, p, layout)
}

// ForceDeallocPolicy picks a victim index out of a busy list of the given
// length, reporting ok=false when there is nothing to evict.
type ForceDeallocPolicy interface {
	PickVictim(busyLen int) (idx int, ok bool)
}

// DeallocOptimal evicts index 1 when present (avoiding both the
// often-most-contended front and the newest entry at the back), falling
// back to the front when the list has at most one entry.
type DeallocOptimal struct{}

func (DeallocOptimal) PickVictim(n int) (int, bool) {
	if n == 0 {
		return 0, false
	}
	if n > 1 {
		return 1, true
	}
	return 0, true
}

// DeallocEldest always evicts the front of the busy list.
type DeallocEldest struct{}

func (DeallocEldest) PickVictim(n int) (int, bool) {
	if n == 0 {
		return 0, false
	}
	return 0, true
}

// DeallocYoungest always evicts the back of the busy list.
type DeallocYoungest struct{}

func (DeallocYoungest) PickVictim(n int) (int, bool) {
	if n == 0 {
		return 0, false
	}
	return n - 1, true
}

// Deallocate retries Inner; on ErrCodeOutOfMemory/ErrCodeNeedDefragment it
// forces up to N evictions via Force, retrying with Alt between attempts.
// A force attempt that evicts nothing ends the retry immediately with the
// last error observed.
type Deallocate struct {
	N     int
	Inner AllocPolicy
	Alt   AllocPolicy
	Force ForceDeallocPolicy
}

func NewDeallocate(n int, inner, alt AllocPolicy, force ForceDeallocPolicy) Deallocate {
	return Deallocate{N: n, Inner: inner, Alt: alt, Force: force}
}

func (d Deallocate) Alloc(ctx context.Context, p *Provider, layout MemoryLayout) (AllocatedChunk, error) {
	chunk, err := d.Inner.Alloc(ctx, p, layout)
	if err == nil {
		return chunk, nil
	}
	if !IsCode(err, ErrCodeOutOfMemory) && !IsCode(err, ErrCodeNeedDefragment) {
		return AllocatedChunk{}, err
	}

	for i := 0; i < d.N; i++ {
		if !p.forceEvictOne(d.Force) {
			return AllocatedChunk{}, err
		}
		chunk, retryErr := d.Alt.Alloc(ctx, p, layout)
		if retryErr == nil {
			return chunk, nil
		}
		err = retryErr
		if !IsCode(err, ErrCodeOutOfMemory) && !IsCode(err, ErrCodeNeedDefragment) {
			return AllocatedChunk{}, err
		}
	}
	return AllocatedChunk{}, err
}

// BlockOn retries Inner until it succeeds or fails with a code other than
// ErrCodeOutOfMemory/ErrCodeNeedDefragment. Between attempts it waits on
// the Provider's free-notification signal, falling back to a short sleep
// if that signal is missed, so a retry always eventually happens even if
// a notification races with the subscribe. ctx cancellation is honored at
// each wait; a canceled context surfaces as ctx.Err() wrapped as Other.
type BlockOn struct {
	Inner AllocPolicy
}

func NewBlockOn(inner AllocPolicy) BlockOn {
	return BlockOn{Inner: inner}
}

func (b BlockOn) Alloc(ctx context.Context, p *Provider, layout MemoryLayout) (AllocatedChunk, error) {
	for {
		chunk, err := b.Inner.Alloc(ctx, p, layout)
		if err == nil {
			return chunk, nil
		}
		if !IsCode(err, ErrCodeOutOfMemory) && !IsCode(err, ErrCodeNeedDefragment) {
			return AllocatedChunk{}, err
		}

		select {
		case <-ctx.Done():
			return AllocatedChunk{}, WrapError("shm.BlockOn", ErrCodeOther, ctx.Err())
		case <-p.freeSignal():
		case <-time.After(constants.BlockOnNotifyTimeout):
		}
	}
}
