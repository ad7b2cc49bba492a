// Package auth implements the four-way shared-memory capability handshake
// two peers run during session establishment: each side proves it can
// read the other's private challenge out of a shared-memory segment
// before they agree to exchange buffers by reference instead of by copy.
package auth

import (
	"encoding/binary"
	"math/rand/v2"

	"github.com/tpaschalis/goshm/internal/segment"
)

// AuthSegment is a tiny shared-memory region holding a single randomly
// generated challenge, written once at creation time and read by any peer
// that attaches to it during the handshake.
type AuthSegment struct {
	seg *segment.Segment
}

// NewAuthSegment dedicates a fresh segment under prefix and writes a
// random challenge into it.
func NewAuthSegment(prefix string) (*AuthSegment, error) {
	seg, err := segment.Create(8, prefix, 100)
	if err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(seg.Bytes(), rand.Uint64())
	return &AuthSegment{seg: seg}, nil
}

// OpenAuthSegment attaches to an existing auth segment by (prefix, id), to
// read a peer's challenge.
func OpenAuthSegment(prefix string, id uint32) (*AuthSegment, error) {
	seg, err := segment.Open(prefix, id)
	if err != nil {
		return nil, err
	}
	return &AuthSegment{seg: seg}, nil
}

// ID returns the segment id to send to a peer so it can attach.
func (a *AuthSegment) ID() uint32 { return a.seg.ID }

// Challenge reads the 8-byte challenge out of the segment.
func (a *AuthSegment) Challenge() uint64 {
	return binary.LittleEndian.Uint64(a.seg.Bytes())
}

// Close unmaps (and, if owning, unlinks) the segment.
func (a *AuthSegment) Close() error { return a.seg.Close() }
