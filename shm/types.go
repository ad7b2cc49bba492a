package shm

import (
	"math/bits"
	"unsafe"

	"github.com/tpaschalis/goshm/codec"
	"github.com/tpaschalis/goshm/internal/header"
	"github.com/tpaschalis/goshm/internal/watchdog"
)

// ChunkDescriptor names one allocated chunk: the segment it lives in, its
// offset/index within that segment, and its length in bytes.
type ChunkDescriptor = codec.ChunkDescriptor

// BufInfo is the on-wire descriptor of a buffer, letting a remote process
// re-attach it.
type BufInfo = codec.BufInfo

// AllocAlignment is a power-of-two alignment, stored as its log2 exponent
// (so 0 == 1-byte, 3 == 8-byte, and so on).
type AllocAlignment struct {
	Exponent uint8
}

// defaultAlignExponent is the platform's natural pointer alignment,
// computed once at package init. This replaces a buggy upstream default
// that evaluated to a smaller alignment; see DESIGN.md.
var defaultAlignExponent = uint8(bits.TrailingZeros(uint(unsafe.Alignof(uintptr(0)))))

// DefaultAlignment returns the platform's natural pointer alignment.
func DefaultAlignment() AllocAlignment {
	return AllocAlignment{Exponent: defaultAlignExponent}
}

// Bytes returns the alignment as a byte count (2^Exponent).
func (a AllocAlignment) Bytes() uint64 {
	return uint64(1) << a.Exponent
}

// MemoryLayout is a validated (size, alignment) pair: size must be a
// multiple of alignment's byte value.
type MemoryLayout struct {
	Size      uint64
	Alignment AllocAlignment
}

// NewMemoryLayout validates and constructs a layout, returning
// ErrCodeBadLayout if size is not a multiple of alignment.
func NewMemoryLayout(size uint64, alignment AllocAlignment) (MemoryLayout, error) {
	if size%alignment.Bytes() != 0 {
		return MemoryLayout{}, NewError("shm.NewMemoryLayout", ErrCodeBadLayout)
	}
	return MemoryLayout{Size: size, Alignment: alignment}, nil
}

// AllocatedChunk is a ChunkDescriptor plus a raw view into the owner's
// mapping of that segment. It exists only on the owning side; a remote
// attacher reconstructs its own mapping from the descriptor instead.
type AllocatedChunk struct {
	Descriptor ChunkDescriptor
	Data       []byte
}

// BusyChunk links a live buffer to the allocations backing it. Provider
// keeps these in a FIFO-ordered list; the force-evict policies pick
// victims from it.
type BusyChunk struct {
	Chunk    ChunkDescriptor
	Header   header.Descriptor
	Watchdog watchdog.Descriptor
	// headerView and watchdogView are the owning process's live handles
	// onto the header record and watchdog bit, used by garbage_collect to
	// inspect refcount/invalidated without a second lookup.
	headerView   header.View
	watchdogView watchdog.View
	watchdogBit  uint8
}
