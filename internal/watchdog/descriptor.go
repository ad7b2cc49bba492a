// Package watchdog implements the cross-process liveness mechanism used to
// reclaim buffers whose owner died without an orderly drop: each allocated
// chunk is assigned one bit in a shared bitmap; the owner periodically
// "confirms" (sets) its bits, and a validator periodically clears every bit
// and flags any that a confirmer failed to reassert before the clear.
package watchdog

import (
	"sync/atomic"
	"unsafe"

	"github.com/tpaschalis/goshm/internal/segment"
)

// wordBits is the number of liveness slots packed into one atomic word.
const wordBits = 64

// Descriptor names one watchdog bit: the segment holding its word and the
// bit-packed (word index, bit position) pair within that segment.
//
// indexAndBitpos packs as (index << 6) | bitpos, bitpos in [0,63]: the low
// 6 bits select the bit within the word, the remaining high bits select
// which 64-bit word in the segment.
type Descriptor struct {
	ID             uint32
	IndexAndBitpos uint32
}

func packIndexAndBitpos(index uint32, bitpos uint8) uint32 {
	return (index << 6) | uint32(bitpos&0x3f)
}

func (d Descriptor) wordIndex() uint32 { return d.IndexAndBitpos >> 6 }
func (d Descriptor) bitpos() uint8     { return uint8(d.IndexAndBitpos & 0x3f) }

// View is a handle onto one live watchdog word within a segment's mapping.
type View struct {
	ptr unsafe.Pointer
}

func wordAt(seg *segment.Segment, wordIndex uint32) View {
	off := uintptr(wordIndex) * 8
	return View{ptr: unsafe.Pointer(&seg.Bytes()[off])}
}

func (v View) word() *atomic.Uint64 { return (*atomic.Uint64)(v.ptr) }

// Confirm sets the given bit, asserting liveness for this round.
func (v View) Confirm(bitpos uint8) {
	w := v.word()
	mask := uint64(1) << bitpos
	for {
		old := w.Load()
		if old&mask != 0 {
			return
		}
		if w.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// Test reports whether the given bit is currently set.
func (v View) Test(bitpos uint8) bool {
	return v.word().Load()&(uint64(1)<<bitpos) != 0
}

// ClearAndTest atomically clears the given bit and returns whether it was
// set beforehand. The validator uses this every validation pass: a bit
// still set from the previous pass was confirmed in time; clearing it now
// arms the next pass.
func (v View) ClearAndTest(bitpos uint8) bool {
	w := v.word()
	mask := uint64(1) << bitpos
	for {
		old := w.Load()
		if old&mask == 0 {
			return false
		}
		if w.CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}
