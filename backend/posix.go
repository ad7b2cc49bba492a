// Package backend provides the reference POSIX shared-memory Backend: a
// free-list allocator over a single internal/segment.Segment.
package backend

import (
	"sort"

	"github.com/tpaschalis/goshm/internal/constants"
	"github.com/tpaschalis/goshm/internal/segment"
	"github.com/tpaschalis/goshm/shm"
)

type run struct {
	offset uint64
	length uint64
}

// Posix is a free-list allocator over one dedicated data segment. It is
// not internally thread-safe; callers (normally shm.Provider) must
// serialize Alloc/Free/Defragment/Available against each other.
type Posix struct {
	seg  *segment.Segment
	size uint64

	free      []run
	busy      map[uint32]run
	nextChunk uint32
}

// NewPosix dedicates a fresh data segment of size bytes under prefix and
// wraps it in a Posix backend, starting as one single free run.
func NewPosix(prefix string, size uint64) (*Posix, error) {
	seg, err := segment.Create(int(size), prefix, constants.SegmentDedicateTries)
	if err != nil {
		return nil, shm.WrapError("backend.NewPosix", shm.ErrCodeOther, err)
	}
	return &Posix{
		seg:  seg,
		size: size,
		free: []run{{offset: 0, length: size}},
		busy: make(map[uint32]run),
	}, nil
}

// OpenPosix attaches to an existing data segment by (prefix, id), for a
// process that receives chunks allocated by another process's Posix
// backend rather than allocating itself.
func OpenPosix(prefix string, id uint32) (*Posix, error) {
	seg, err := segment.Open(prefix, id)
	if err != nil {
		return nil, shm.WrapError("backend.OpenPosix", shm.ErrCodeSegmentNotFound, err)
	}
	size := uint64(seg.Len())
	return &Posix{
		seg:  seg,
		size: size,
		free: []run{{offset: 0, length: size}},
		busy: make(map[uint32]run),
	}, nil
}

// SegmentID returns the OS-visible id of the backing data segment, carried
// in a ChunkDescriptor's Segment field.
func (p *Posix) SegmentID() uint32 { return p.seg.ID }

func alignUp(v, align uint64) uint64 {
	if align <= 1 {
		return v
	}
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + (align - rem)
}

// Alloc finds the smallest free run that, once its start is rounded up to
// layout.Alignment, still fits layout.Size bytes, splitting off any
// leftover head and tail padding as new free runs.
func (p *Posix) Alloc(layout shm.MemoryLayout) (shm.AllocatedChunk, error) {
	align := layout.Alignment.Bytes()

	bestIdx := -1
	var bestWaste uint64
	for i, r := range p.free {
		start := alignUp(r.offset, align)
		if start+layout.Size > r.offset+r.length {
			continue
		}
		waste := r.length - layout.Size
		if bestIdx == -1 || waste < bestWaste {
			bestIdx, bestWaste = i, waste
		}
	}

	if bestIdx == -1 {
		if p.Available() >= layout.Size {
			return shm.AllocatedChunk{}, shm.NewError("backend.Posix.Alloc", shm.ErrCodeNeedDefragment)
		}
		return shm.AllocatedChunk{}, shm.NewError("backend.Posix.Alloc", shm.ErrCodeOutOfMemory)
	}

	r := p.free[bestIdx]
	p.free = append(p.free[:bestIdx], p.free[bestIdx+1:]...)

	start := alignUp(r.offset, align)
	if head := start - r.offset; head > 0 {
		p.free = append(p.free, run{offset: r.offset, length: head})
	}
	if tail := (r.offset + r.length) - (start + layout.Size); tail > 0 {
		p.free = append(p.free, run{offset: start + layout.Size, length: tail})
	}

	id := p.nextChunk
	p.nextChunk++
	used := run{offset: start, length: layout.Size}
	p.busy[id] = used

	return shm.AllocatedChunk{
		Descriptor: shm.ChunkDescriptor{Segment: p.seg.ID, Chunk: id, Len: used.length},
		Data:       p.seg.Bytes()[used.offset : used.offset+used.length],
	}, nil
}

// Free returns a busy chunk to the free list. It is a no-op for a
// descriptor this backend did not hand out.
func (p *Posix) Free(d shm.ChunkDescriptor) error {
	r, ok := p.busy[d.Chunk]
	if !ok {
		return nil
	}
	delete(p.busy, d.Chunk)
	p.free = append(p.free, r)
	return nil
}

// Defragment coalesces adjacent free runs. It cannot relocate live chunks
// (their offsets are already published to remote peers as
// ChunkDescriptors), so it only improves runs that are free at the moment
// it is called.
func (p *Posix) Defragment() (uint64, error) {
	if len(p.free) == 0 {
		return 0, nil
	}
	sort.Slice(p.free, func(i, j int) bool { return p.free[i].offset < p.free[j].offset })

	merged := make([]run, 0, len(p.free))
	cur := p.free[0]
	for _, r := range p.free[1:] {
		if cur.offset+cur.length == r.offset {
			cur.length += r.length
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	p.free = merged

	var largest uint64
	for _, r := range p.free {
		if r.length > largest {
			largest = r.length
		}
	}
	return largest, nil
}

// Available sums the free list.
func (p *Posix) Available() uint64 {
	var total uint64
	for _, r := range p.free {
		total += r.length
	}
	return total
}

// MaxAlign reports the page-aligned ceiling a shared-memory mapping can
// honor; POSIX mmap pages are always at least 4 KiB aligned.
func (p *Posix) MaxAlign() shm.AllocAlignment {
	return shm.AllocAlignment{Exponent: 12}
}

// LayoutFor returns layout unchanged: this backend has no minimum chunk
// size or alignment bump of its own.
func (p *Posix) LayoutFor(layout shm.MemoryLayout) shm.MemoryLayout {
	return layout
}

// Close unmaps (and, if owning, unlinks) the backing data segment.
func (p *Posix) Close() error {
	return p.seg.Close()
}

var _ shm.Backend = (*Posix)(nil)
