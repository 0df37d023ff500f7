package transport

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Opcode identifies the frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return fmt.Sprintf("opcode(0x%x)", byte(o))
}

// IsControl reports whether o is a close, ping or pong opcode.
func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

// DefaultMaxFrameLength bounds a single frame payload.
const DefaultMaxFrameLength = 64 << 20

// ErrFrameTooLarge is returned when a frame header announces a payload above
// the codec's limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum length")

// Frame is a decoded frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	Payload []byte
}

// FrameCodec turns payloads into wire frames and back.
type FrameCodec interface {
	// Encode returns one complete frame carrying payload.
	Encode(op Opcode, payload []byte) ([]byte, error)
	// Decode parses one frame from the front of buf. It returns the number
	// of bytes consumed; 0 with a nil error means buf does not yet hold a
	// whole frame.
	Decode(buf []byte) (Frame, int, error)
}

// Codec is the client-side FrameCodec. Outbound frames are always masked
// with a fresh key read from Rand.
type Codec struct {
	Rand           io.Reader
	MaxFrameLength uint64
}

// NewCodec returns a Codec using crypto/rand for mask keys.
func NewCodec(maxFrameLength uint64) *Codec {
	if maxFrameLength == 0 {
		maxFrameLength = DefaultMaxFrameLength
	}
	return &Codec{Rand: rand.Reader, MaxFrameLength: maxFrameLength}
}

// Encode implements FrameCodec.
func (c *Codec) Encode(op Opcode, payload []byte) ([]byte, error) {
	n := len(payload)
	header := make([]byte, 0, 14)
	header = append(header, 0x80|byte(op))

	switch {
	case n <= 125:
		header = append(header, 0x80|byte(n))
	case n <= math.MaxUint16:
		header = append(header, 0x80|126)
		header = binary.BigEndian.AppendUint16(header, uint16(n))
	default:
		header = append(header, 0x80|127)
		header = binary.BigEndian.AppendUint64(header, uint64(n))
	}

	var key [4]byte
	r := c.Rand
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return nil, fmt.Errorf("generate mask key: %w", err)
	}
	header = append(header, key[:]...)

	out := make([]byte, len(header)+n)
	copy(out, header)
	masked := out[len(header):]
	for i, b := range payload {
		masked[i] = b ^ key[i%4]
	}
	return out, nil
}

// Decode implements FrameCodec.
func (c *Codec) Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, nil
	}
	f := Frame{
		Fin:    buf[0]&0x80 != 0,
		Opcode: Opcode(buf[0] & 0x0F),
		Masked: buf[1]&0x80 != 0,
	}

	length := uint64(buf[1] & 0x7F)
	offset := 2
	switch length {
	case 126:
		if len(buf) < 4 {
			return Frame{}, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[2:4]))
		offset = 4
	case 127:
		if len(buf) < 10 {
			return Frame{}, 0, nil
		}
		length = decodeLength64(buf[2:10])
		offset = 10
	}

	limit := c.MaxFrameLength
	if limit == 0 {
		limit = DefaultMaxFrameLength
	}
	if length > limit {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes announced, limit %d", ErrFrameTooLarge, length, limit)
	}

	var key []byte
	if f.Masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, nil
		}
		key = buf[offset : offset+4]
		offset += 4
	}

	end := offset + int(length)
	if len(buf) < end {
		return Frame{}, 0, nil
	}

	f.Payload = make([]byte, length)
	copy(f.Payload, buf[offset:end])
	if key != nil {
		for i := range f.Payload {
			f.Payload[i] ^= key[i%4]
		}
	}
	return f, end, nil
}

// decodeLength64 reads the 64-bit extended length. A value whose high 32
// bits are set is clamped to the largest signed length instead of wrapping;
// the frame limit then rejects it.
func decodeLength64(b []byte) uint64 {
	high := binary.BigEndian.Uint32(b[0:4])
	low := binary.BigEndian.Uint32(b[4:8])
	if high > 0 {
		return math.MaxInt64
	}
	return uint64(low)
}
