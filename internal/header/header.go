// Package header implements the fixed-layout, per-buffer header records
// held in a dedicated shared segment: refcount, generation, and the
// watchdog-invalidated flag that the validator flips when a chunk's owner
// stops confirming liveness.
package header

import (
	"sync/atomic"
	"unsafe"

	"github.com/tpaschalis/goshm/internal/segment"
)

// recordSize is the byte footprint of one Header record in the segment:
// refcount(4) + generation(4) + invalidated(4) + padding(4) = 16 bytes.
const recordSize = 16

// Descriptor names one header record: the segment it lives in and its
// index within that segment's fixed array.
type Descriptor struct {
	SegmentID uint32
	Index     uint32
}

// View is a handle onto one live Header record, backed by a raw pointer
// into the owning segment's mapping. All field access goes through
// sync/atomic with sequentially-consistent semantics, since the same
// memory may be mutated concurrently by another process.
type View struct {
	ptr unsafe.Pointer
}

func recordAt(seg *segment.Segment, slot uint32) View {
	off := uintptr(slot) * recordSize
	return View{ptr: unsafe.Pointer(&seg.Bytes()[off])}
}

func (v View) refcount() *atomic.Uint32 {
	return (*atomic.Uint32)(v.ptr)
}

func (v View) generation() *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(uintptr(v.ptr) + 4))
}

func (v View) invalidated() *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(uintptr(v.ptr) + 8))
}

// Refcount returns the number of live references across all processes.
func (v View) Refcount() uint32 { return v.refcount().Load() }

// Generation returns the current recycle generation of this slot.
func (v View) Generation() uint32 { return v.generation().Load() }

// Invalidated reports whether the validator has observed a missed
// confirmation on this chunk's watchdog since the last reset.
func (v View) Invalidated() bool { return v.invalidated().Load() != 0 }

// SetInvalidated is called by the validator's callback when it observes a
// cleared watchdog bit.
func (v View) SetInvalidated(b bool) {
	var n uint32
	if b {
		n = 1
	}
	v.invalidated().Store(n)
}

// IncRef bumps the refcount on buffer clone and returns the new value.
func (v View) IncRef() uint32 { return v.refcount().Add(1) }

// DecRef drops the refcount on buffer drop and returns the new value. The
// caller recycles the slot once this reaches zero.
func (v View) DecRef() uint32 {
	return v.refcount().Add(^uint32(0))
}

// Recycle resets a slot for reuse after it has been fully freed: clears
// invalidated, resets refcount to 1 for the new owner, and advances the
// generation so stale remote descriptors can detect staleness. Generation
// is monotonically increasing across the slot's lifetime (it is never
// reset, only ever incremented).
func (v View) Recycle() uint32 {
	v.invalidated().Store(0)
	v.refcount().Store(1)
	return v.generation().Add(1)
}
