package header

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tpaschalis/goshm/internal/constants"
	"github.com/tpaschalis/goshm/internal/segment"
)

// ErrExhausted names header-slot exhaustion. Storage.Allocate does not
// return it: when the free stack is empty it grows by a new segment, and a
// failed growth surfaces the wrapped segment error instead.
var ErrExhausted = errors.New("header: storage exhausted")

const slotsPerSegment = constants.HeaderSlotsPerSegment

// Storage owns the set of header segments backing one provider instance
// and hands out slots from a free stack, growing by one segment at a time
// when the stack runs dry. It is safe for concurrent use.
type Storage struct {
	prefix string

	mu       sync.Mutex
	segments []*segment.Segment
	free     []uint64 // global slot indices, segment*slotsPerSegment+local
}

// NewStorage creates a header storage rooted at the given OS name prefix
// (e.g. "goshm_hdr"). The first backing segment is allocated lazily on
// first use.
func NewStorage(prefix string) *Storage {
	return &Storage{prefix: prefix}
}

// Allocated is a live handle returned by Allocate. Free returns the slot
// to the pool; it must be called exactly once, after the header's
// refcount has reached zero.
type Allocated struct {
	Descriptor Descriptor
	View       View
}

func (s *Storage) growLocked() error {
	seg, err := segment.Create(slotsPerSegment*recordSize, s.prefix, constants.SegmentDedicateTries)
	if err != nil {
		return errors.Wrap(err, "header: grow storage")
	}
	segIdx := uint64(len(s.segments))
	s.segments = append(s.segments, seg)
	base := segIdx * uint64(slotsPerSegment)
	// Push in descending order so low indices are handed out first,
	// keeping the live working set compact for better locality.
	for i := slotsPerSegment - 1; i >= 0; i-- {
		s.free = append(s.free, base+uint64(i))
	}
	return nil
}

// Allocate pops a free slot, recycling it (refcount=1, generation++,
// invalidated=false) before handing it back.
func (s *Storage) Allocate() (Allocated, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.free) == 0 {
		if err := s.growLocked(); err != nil {
			return Allocated{}, err
		}
	}

	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	segIdx := idx / uint64(slotsPerSegment)
	local := uint32(idx % uint64(slotsPerSegment))
	seg := s.segments[segIdx]

	v := recordAt(seg, local)
	v.Recycle()

	return Allocated{
		Descriptor: Descriptor{SegmentID: seg.ID, Index: local},
		View:       v,
	}, nil
}

// Lookup resolves a Descriptor (as received over the wire from another
// process) back into a View, opening the backing segment on first sight.
func (s *Storage) Lookup(d Descriptor) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seg := range s.segments {
		if seg.ID == d.SegmentID {
			return recordAt(seg, d.Index), nil
		}
	}

	seg, err := segment.Open(s.prefix, d.SegmentID)
	if err != nil {
		return View{}, errors.Wrap(err, "header: lookup")
	}
	s.segments = append(s.segments, seg)
	return recordAt(seg, d.Index), nil
}

// Free returns a slot to the free stack once its refcount has reached
// zero. It does not validate the refcount; callers (the provider) are
// responsible for calling this exactly once per allocation.
func (s *Storage) Free(d Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for segIdx, seg := range s.segments {
		if seg.ID == d.SegmentID {
			idx := uint64(segIdx)*uint64(slotsPerSegment) + uint64(d.Index)
			s.free = append(s.free, idx)
			return
		}
	}
}

// Close unmaps every backing segment. Only the owning process's Storage
// (the one that called growLocked) unlinks the files on close.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, seg := range s.segments {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.segments = nil
	s.free = nil
	return firstErr
}
