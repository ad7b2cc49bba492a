package watchdog

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tpaschalis/goshm/internal/constants"
	"github.com/tpaschalis/goshm/internal/segment"
)

const wordsPerSegment = constants.WatchdogWordsPerSegment
const slotsPerSegment = wordsPerSegment * wordBits

// Storage owns the set of watchdog bitmap segments for one provider
// instance and hands out individual bit slots from a free stack, growing
// by one segment (wordsPerSegment words, slotsPerSegment bits) at a time.
type Storage struct {
	prefix string

	mu       sync.Mutex
	segments []*segment.Segment
	free     []uint64 // global bit indices: segIdx*slotsPerSegment + local bit
}

func NewStorage(prefix string) *Storage {
	return &Storage{prefix: prefix}
}

// Allocated is a live watchdog bit handle.
type Allocated struct {
	Descriptor Descriptor
	View       View
	Bitpos     uint8
}

func (s *Storage) growLocked() error {
	seg, err := segment.Create(wordsPerSegment*8, s.prefix, constants.SegmentDedicateTries)
	if err != nil {
		return errors.Wrap(err, "watchdog: grow storage")
	}
	segIdx := uint64(len(s.segments))
	s.segments = append(s.segments, seg)
	base := segIdx * uint64(slotsPerSegment)
	for i := slotsPerSegment - 1; i >= 0; i-- {
		s.free = append(s.free, base+uint64(i))
	}
	return nil
}

// Allocate pops a free bit slot and returns a confirmable handle to it.
// The bit starts cleared; the caller must Confirm it at least once before
// the validator's first pass or it will be reported dead immediately.
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
	localBit := uint32(idx % uint64(slotsPerSegment))
	wordIdx := localBit / wordBits
	bitpos := uint8(localBit % wordBits)

	seg := s.segments[segIdx]
	v := wordAt(seg, wordIdx)
	// Clear defensively in case this word slot is being recycled from a
	// prior occupant within the same process lifetime.
	v.ClearAndTest(bitpos)

	return Allocated{
		Descriptor: Descriptor{ID: seg.ID, IndexAndBitpos: packIndexAndBitpos(wordIdx, bitpos)},
		View:       v,
		Bitpos:     bitpos,
	}, nil
}

// Lookup resolves a wire Descriptor into a View, opening the backing
// segment on first sight.
func (s *Storage) Lookup(d Descriptor) (View, uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seg := range s.segments {
		if seg.ID == d.ID {
			return wordAt(seg, d.wordIndex()), d.bitpos(), nil
		}
	}

	seg, err := segment.Open(s.prefix, d.ID)
	if err != nil {
		return View{}, 0, errors.Wrap(err, "watchdog: lookup")
	}
	s.segments = append(s.segments, seg)
	return wordAt(seg, d.wordIndex()), d.bitpos(), nil
}

// Free returns a bit slot to the pool.
func (s *Storage) Free(d Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for segIdx, seg := range s.segments {
		if seg.ID == d.ID {
			localBit := uint64(d.wordIndex())*wordBits + uint64(d.bitpos())
			idx := uint64(segIdx)*uint64(slotsPerSegment) + localBit
			s.free = append(s.free, idx)
			return
		}
	}
}

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
