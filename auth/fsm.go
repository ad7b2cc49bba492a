package auth

import (
	"io"

	"github.com/tpaschalis/goshm/internal/logging"
)

// StateOpen tracks one side's progress through the handshake it initiated.
// It starts false and only ever flips to true, at the very end of a
// successful exchange; any verification failure along the way leaves it
// false and the extension is silently dropped — no error reaches the
// transport layer, matching the defined protocol behavior for a failed or
// absent peer capability.
type StateOpen struct {
	negotiatedToUseShm bool
}

// NewStateOpen returns a fresh, unnegotiated state.
func NewStateOpen() *StateOpen { return &StateOpen{} }

// NegotiatedToUseShm reports whether this session agreed to exchange
// buffers by shared-memory reference.
func (s *StateOpen) NegotiatedToUseShm() bool { return s.negotiatedToUseShm }

// StateAccept is the accepting side's equivalent of StateOpen; the two are
// structurally identical, as in the protocol they mirror.
type StateAccept = StateOpen

// NewStateAccept returns a fresh, unnegotiated state.
func NewStateAccept() *StateAccept { return &StateAccept{} }

// OpenFsm drives the initiating ("Alice") side of the handshake.
type OpenFsm struct {
	self *AuthUnicast
	log  *logging.Logger
}

// NewOpenFsm wraps self's auth segment for the open side of a handshake.
func NewOpenFsm(self *AuthUnicast) *OpenFsm {
	return &OpenFsm{self: self, log: logging.Default()}
}

// SendInitSyn produces the wire bytes advertising this side's segment id.
func (f *OpenFsm) SendInitSyn() ([]byte, error) {
	return marshal(func(w io.Writer) error {
		return EncodeInitSyn(w, InitSyn{AliceSegment: f.self.ID()})
	})
}

// RecvInitAck verifies the peer echoed this side's challenge correctly and,
// if so, attaches to the peer's auth segment. A decode failure or
// challenge mismatch returns (nil, nil): the extension is silently
// dropped, not an error.
func (f *OpenFsm) RecvInitAck(buf []byte, peerPrefix string) (*AuthSegment, error) {
	ack, _, err := DecodeInitAck(buf)
	if err != nil {
		f.log.Debug("shm auth: InitAck decode failed, dropping extension")
		return nil, nil
	}

	if ack.AliceChallenge != f.self.Challenge() {
		f.log.Debug("shm auth: challenge mismatch in InitAck, dropping extension")
		return nil, nil
	}

	bobSegment, err := OpenAuthSegment(peerPrefix, ack.BobSegment)
	if err != nil {
		f.log.Debug("shm auth: could not open peer segment, dropping extension")
		return nil, nil
	}
	return bobSegment, nil
}

// SendOpenSyn echoes the peer's challenge back, proving this side read it.
// bobSegment is nil if RecvInitAck already dropped the extension.
func (f *OpenFsm) SendOpenSyn(bobSegment *AuthSegment) ([]byte, error) {
	if bobSegment == nil {
		return nil, nil
	}
	return marshal(func(w io.Writer) error {
		return EncodeOpenSyn(w, OpenSyn{BobChallenge: bobSegment.Challenge()})
	})
}

// RecvOpenAck flips state to negotiated on success. A decode failure or a
// non-1 ack byte leaves state untouched (still false).
func (f *OpenFsm) RecvOpenAck(state *StateOpen, buf []byte) {
	ack, _, err := DecodeOpenAck(buf)
	if err != nil || ack.Ack != 1 {
		f.log.Debug("shm auth: OpenAck missing or invalid, extension stays unnegotiated")
		return
	}
	state.negotiatedToUseShm = true
}

// AcceptFsm drives the accepting ("Bob") side of the handshake.
type AcceptFsm struct {
	self *AuthUnicast
	log  *logging.Logger
}

// NewAcceptFsm wraps self's auth segment for the accept side.
func NewAcceptFsm(self *AuthUnicast) *AcceptFsm {
	return &AcceptFsm{self: self, log: logging.Default()}
}

// RecvInitSyn attaches to the initiator's segment, so its challenge can be
// echoed back in InitAck. A decode or attach failure returns nil: the
// extension is dropped silently.
func (f *AcceptFsm) RecvInitSyn(buf []byte, peerPrefix string) *AuthSegment {
	syn, _, err := DecodeInitSyn(buf)
	if err != nil {
		f.log.Debug("shm auth: InitSyn decode failed, dropping extension")
		return nil
	}
	aliceSegment, err := OpenAuthSegment(peerPrefix, syn.AliceSegment)
	if err != nil {
		f.log.Debug("shm auth: could not open peer segment, dropping extension")
		return nil
	}
	return aliceSegment
}

// SendInitAck echoes the initiator's challenge and advertises this side's
// segment id. aliceSegment is nil if RecvInitSyn already dropped the
// extension.
func (f *AcceptFsm) SendInitAck(aliceSegment *AuthSegment) ([]byte, error) {
	if aliceSegment == nil {
		return nil, nil
	}
	return marshal(func(w io.Writer) error {
		return EncodeInitAck(w, InitAck{AliceChallenge: aliceSegment.Challenge(), BobSegment: f.self.ID()})
	})
}

// RecvOpenSyn verifies the initiator correctly echoed this side's
// challenge and flips state to negotiated if so.
func (f *AcceptFsm) RecvOpenSyn(state *StateAccept, buf []byte) {
	syn, _, err := DecodeOpenSyn(buf)
	if err != nil {
		f.log.Debug("shm auth: OpenSyn decode failed, dropping extension")
		return
	}
	if syn.BobChallenge != f.self.Challenge() {
		f.log.Debug("shm auth: challenge mismatch in OpenSyn, dropping extension")
		return
	}
	state.negotiatedToUseShm = true
}

// SendOpenAck produces the success byte once RecvOpenSyn has negotiated.
func (f *AcceptFsm) SendOpenAck(state *StateAccept) ([]byte, error) {
	if !state.negotiatedToUseShm {
		return nil, nil
	}
	return marshal(func(w io.Writer) error {
		return EncodeOpenAck(w, OpenAck{Ack: 1})
	})
}
