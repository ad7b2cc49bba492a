package auth

import (
	"bytes"
	"io"

	"github.com/tpaschalis/goshm/codec"
)

// InitSyn is sent Alice -> Bob: Alice's auth segment id, so Bob can attach
// and read the challenge Alice is asking him to echo back.
type InitSyn struct {
	AliceSegment uint32
}

// EncodeInitSyn writes the wire form of an InitSyn.
func EncodeInitSyn(w io.Writer, m InitSyn) error {
	return codec.EncodeUvarint(w, uint64(m.AliceSegment))
}

// DecodeInitSyn reads a value written by EncodeInitSyn.
func DecodeInitSyn(buf []byte) (InitSyn, int, error) {
	v, n, err := codec.DecodeUvarint(buf)
	if err != nil {
		return InitSyn{}, 0, err
	}
	return InitSyn{AliceSegment: uint32(v)}, n, nil
}

// InitAck is sent Bob -> Alice: the challenge Bob read out of Alice's
// segment (so Alice can verify Bob read it correctly), followed by Bob's
// own auth segment id.
type InitAck struct {
	AliceChallenge uint64
	BobSegment     uint32
}

// EncodeInitAck writes the wire form of an InitAck.
func EncodeInitAck(w io.Writer, m InitAck) error {
	if err := codec.EncodeUvarint(w, m.AliceChallenge); err != nil {
		return err
	}
	return codec.EncodeUvarint(w, uint64(m.BobSegment))
}

// DecodeInitAck reads a value written by EncodeInitAck.
func DecodeInitAck(buf []byte) (InitAck, int, error) {
	challenge, n, err := codec.DecodeUvarint(buf)
	if err != nil {
		return InitAck{}, 0, err
	}
	segID, n2, err := codec.DecodeUvarint(buf[n:])
	if err != nil {
		return InitAck{}, 0, err
	}
	return InitAck{AliceChallenge: challenge, BobSegment: uint32(segID)}, n + n2, nil
}

// OpenSyn is sent Alice -> Bob: the challenge Alice read out of Bob's
// segment, so Bob can verify Alice read it correctly.
type OpenSyn struct {
	BobChallenge uint64
}

// EncodeOpenSyn writes the wire form of an OpenSyn.
func EncodeOpenSyn(w io.Writer, m OpenSyn) error {
	return codec.EncodeUvarint(w, m.BobChallenge)
}

// DecodeOpenSyn reads a value written by EncodeOpenSyn.
func DecodeOpenSyn(buf []byte) (OpenSyn, int, error) {
	v, n, err := codec.DecodeUvarint(buf)
	if err != nil {
		return OpenSyn{}, 0, err
	}
	return OpenSyn{BobChallenge: v}, n, nil
}

// OpenAck carries the single success byte Bob -> Alice: 1 on success.
type OpenAck struct {
	Ack byte
}

// EncodeOpenAck writes the wire form of an OpenAck.
func EncodeOpenAck(w io.Writer, m OpenAck) error {
	_, err := w.Write([]byte{m.Ack})
	return err
}

// DecodeOpenAck reads a value written by EncodeOpenAck.
func DecodeOpenAck(buf []byte) (OpenAck, int, error) {
	if len(buf) < 1 {
		return OpenAck{}, 0, codec.ErrTruncated
	}
	return OpenAck{Ack: buf[0]}, 1, nil
}

// EncodeState writes negotiated_to_use_shm as a single byte: 1 for true,
// 0 for false.
func EncodeState(w io.Writer, negotiated bool) error {
	var b byte
	if negotiated {
		b = 1
	}
	_, err := w.Write([]byte{b})
	return err
}

// DecodeState reads a value written by EncodeState.
func DecodeState(buf []byte) (bool, int, error) {
	if len(buf) < 1 {
		return false, 0, codec.ErrTruncated
	}
	return buf[0] == 1, 1, nil
}

// marshal is a small convenience wrapper used by the FSM to turn an Encode
// function into a byte slice without each call site repeating the
// bytes.Buffer boilerplate.
func marshal(encode func(w io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
