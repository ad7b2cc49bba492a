package auth

// AuthUnicast is one peer's side of the shared-memory handshake: it owns
// a private AuthSegment holding the challenge it will ask the remote peer
// to read back correctly.
type AuthUnicast struct {
	segment *AuthSegment
}

// NewAuthUnicast creates a fresh auth segment under prefix for this peer.
func NewAuthUnicast(prefix string) (*AuthUnicast, error) {
	seg, err := NewAuthSegment(prefix)
	if err != nil {
		return nil, err
	}
	return &AuthUnicast{segment: seg}, nil
}

// ID returns this peer's auth segment id, sent in InitSyn/InitAck.
func (a *AuthUnicast) ID() uint32 { return a.segment.ID() }

// Challenge returns this peer's own challenge, as read from its segment.
func (a *AuthUnicast) Challenge() uint64 { return a.segment.Challenge() }

// Close releases the underlying auth segment.
func (a *AuthUnicast) Close() error { return a.segment.Close() }
