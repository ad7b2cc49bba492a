// Package codec implements the wire encoding for shared-memory buffer
// descriptors: little-endian, variable-length-integer fields in a fixed
// order per type, matching the layout every peer in a session must agree
// on byte-for-byte.
package codec

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/tpaschalis/goshm/internal/header"
	"github.com/tpaschalis/goshm/internal/watchdog"
)

// ErrTruncated is returned by any Decode function when the input ends
// before a complete value could be read.
var ErrTruncated = errors.New("codec: truncated input")

// ChunkDescriptor names one allocated chunk within a backend: the
// segment it lives in, its offset/index within that segment, and its
// length in bytes.
type ChunkDescriptor struct {
	Segment uint32
	Chunk   uint32
	Len     uint64
}

// BufInfo is everything a remote peer needs to attach to, and safely
// track the liveness of, a shared-memory buffer: the watchdog and header
// descriptors backing it, the generation it was allocated under, the
// chunk holding its bytes, the backend protocol id that produced it, and
// the buffer's logical length (which may be <= the chunk's capacity).
type BufInfo struct {
	WatchdogDescriptor watchdog.Descriptor
	HeaderDescriptor   header.Descriptor
	Generation         uint32
	DataDescriptor     ChunkDescriptor
	ShmProtocol        uint64
	DataLen            uint64
}

// EncodeUvarint writes a single little-endian varint, exported for callers
// outside this package (e.g. the auth handshake) that need the same
// primitive for their own fixed-order records.
func EncodeUvarint(w io.Writer, v uint64) error {
	return putUvarint(w, v)
}

// DecodeUvarint reads a single varint written by EncodeUvarint, returning
// the number of bytes consumed.
func DecodeUvarint(buf []byte) (uint64, int, error) {
	r := &byteReader{buf: buf}
	v, err := readUvarint(r)
	if err != nil {
		return 0, 0, err
	}
	return v, r.pos, nil
}

func putUvarint(w io.Writer, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := w.Write(buf[:n])
	return err
}

func readUvarint(r io.ByteReader) (uint64, error) {
	v, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, ErrTruncated
		}
		return 0, err
	}
	return v, nil
}

// byteReader adapts a []byte cursor to io.ByteReader, used by the Decode
// functions below.
type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// EncodeWatchdogDescriptor writes id then index_and_bitpos, in that order.
func EncodeWatchdogDescriptor(w io.Writer, d watchdog.Descriptor) error {
	if err := putUvarint(w, uint64(d.ID)); err != nil {
		return err
	}
	return putUvarint(w, uint64(d.IndexAndBitpos))
}

// DecodeWatchdogDescriptor reads a value written by EncodeWatchdogDescriptor.
func DecodeWatchdogDescriptor(buf []byte) (watchdog.Descriptor, int, error) {
	r := &byteReader{buf: buf}
	id, err := readUvarint(r)
	if err != nil {
		return watchdog.Descriptor{}, 0, err
	}
	idxBitpos, err := readUvarint(r)
	if err != nil {
		return watchdog.Descriptor{}, 0, err
	}
	return watchdog.Descriptor{ID: uint32(id), IndexAndBitpos: uint32(idxBitpos)}, r.pos, nil
}

// EncodeHeaderDescriptor writes id then index, in that order.
func EncodeHeaderDescriptor(w io.Writer, d header.Descriptor) error {
	if err := putUvarint(w, uint64(d.SegmentID)); err != nil {
		return err
	}
	return putUvarint(w, uint64(d.Index))
}

// DecodeHeaderDescriptor reads a value written by EncodeHeaderDescriptor.
func DecodeHeaderDescriptor(buf []byte) (header.Descriptor, int, error) {
	r := &byteReader{buf: buf}
	id, err := readUvarint(r)
	if err != nil {
		return header.Descriptor{}, 0, err
	}
	idx, err := readUvarint(r)
	if err != nil {
		return header.Descriptor{}, 0, err
	}
	return header.Descriptor{SegmentID: uint32(id), Index: uint32(idx)}, r.pos, nil
}

// EncodeChunkDescriptor writes segment, chunk, then len, in that order.
func EncodeChunkDescriptor(w io.Writer, d ChunkDescriptor) error {
	if err := putUvarint(w, uint64(d.Segment)); err != nil {
		return err
	}
	if err := putUvarint(w, uint64(d.Chunk)); err != nil {
		return err
	}
	return putUvarint(w, d.Len)
}

// DecodeChunkDescriptor reads a value written by EncodeChunkDescriptor.
func DecodeChunkDescriptor(buf []byte) (ChunkDescriptor, int, error) {
	r := &byteReader{buf: buf}
	seg, err := readUvarint(r)
	if err != nil {
		return ChunkDescriptor{}, 0, err
	}
	chunk, err := readUvarint(r)
	if err != nil {
		return ChunkDescriptor{}, 0, err
	}
	length, err := readUvarint(r)
	if err != nil {
		return ChunkDescriptor{}, 0, err
	}
	return ChunkDescriptor{Segment: uint32(seg), Chunk: uint32(chunk), Len: length}, r.pos, nil
}

// EncodeBufInfo writes watchdog_descriptor, header_descriptor, generation,
// data_descriptor, shm_protocol, then data_len, in that fixed order.
func EncodeBufInfo(w io.Writer, b BufInfo) error {
	if err := EncodeWatchdogDescriptor(w, b.WatchdogDescriptor); err != nil {
		return err
	}
	if err := EncodeHeaderDescriptor(w, b.HeaderDescriptor); err != nil {
		return err
	}
	if err := putUvarint(w, uint64(b.Generation)); err != nil {
		return err
	}
	if err := EncodeChunkDescriptor(w, b.DataDescriptor); err != nil {
		return err
	}
	if err := putUvarint(w, b.ShmProtocol); err != nil {
		return err
	}
	return putUvarint(w, b.DataLen)
}

// DecodeBufInfo reads a value written by EncodeBufInfo, returning the
// number of bytes consumed.
func DecodeBufInfo(buf []byte) (BufInfo, int, error) {
	var total int

	wd, n, err := DecodeWatchdogDescriptor(buf)
	if err != nil {
		return BufInfo{}, 0, err
	}
	total += n

	hd, n, err := DecodeHeaderDescriptor(buf[total:])
	if err != nil {
		return BufInfo{}, 0, err
	}
	total += n

	r := &byteReader{buf: buf[total:]}
	gen, err := readUvarint(r)
	if err != nil {
		return BufInfo{}, 0, err
	}
	total += r.pos

	cd, n, err := DecodeChunkDescriptor(buf[total:])
	if err != nil {
		return BufInfo{}, 0, err
	}
	total += n

	r = &byteReader{buf: buf[total:]}
	proto, err := readUvarint(r)
	if err != nil {
		return BufInfo{}, 0, err
	}
	total += r.pos

	r = &byteReader{buf: buf[total:]}
	dataLen, err := readUvarint(r)
	if err != nil {
		return BufInfo{}, 0, err
	}
	total += r.pos

	return BufInfo{
		WatchdogDescriptor: wd,
		HeaderDescriptor:   hd,
		Generation:         uint32(gen),
		DataDescriptor:     cd,
		ShmProtocol:        proto,
		DataLen:            dataLen,
	}, total, nil
}
