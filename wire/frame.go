// Package wire implements the on-wire frame header: parsing, emission, and
// the bounds checks that must pass before a frame is handed to the session
// layer for AEAD processing. Grounded on the Frame/FrameType shape in
// stream/stream.go, generalized to the full frame header described below.
package wire

import (
	"encoding/binary"
)

// HeaderSize is the fixed, unencrypted-shape size of a frame header:
// type(1) + flags(1) + stream id(4) + sequence(8) + offset(8) + payload length(2).
const HeaderSize = 24

// DefaultMTU bounds a single frame's total wire size.
const DefaultMTU = 1472

// DefaultMaxStreamSize bounds a stream offset to 1 GiB.
const DefaultMaxStreamSize = 1 << 30

// Type enumerates frame types. Values are on-wire.
type Type uint8

const (
	TypeHandshake Type = iota
	TypeStreamData
	TypeStreamFin
	TypeAck
	TypePing
	TypePong
	TypePathChallenge
	TypePathResponse
	TypeNewCID
	TypeClose
	TypePadding
	TypeRatchet
	typeCount
)

func (t Type) Valid() bool { return t < typeCount }

func (t Type) String() string {
	switch t {
	case TypeHandshake:
		return "HANDSHAKE"
	case TypeStreamData:
		return "STREAM_DATA"
	case TypeStreamFin:
		return "STREAM_FIN"
	case TypeAck:
		return "ACK"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypePathChallenge:
		return "PATH_CHALLENGE"
	case TypePathResponse:
		return "PATH_RESPONSE"
	case TypeNewCID:
		return "NEW_CID"
	case TypeClose:
		return "CLOSE"
	case TypePadding:
		return "PADDING"
	case TypeRatchet:
		return "RATCHET"
	default:
		return "UNKNOWN"
	}
}

// Flag bits.
const (
	FlagNone uint8 = 0
)

// ControlStreamID is the reserved stream id for control frames.
const ControlStreamID uint32 = 0

// streamIDReservedBit is the high-order bit of the 4-byte, 31-bit stream id
// field; it must always be zero on the wire.
const streamIDReservedBit uint32 = 1 << 31

// Header is a parsed frame header. Payload bytes are referenced, not copied,
// by the caller (Parse returns a slice into the original buffer).
type Header struct {
	Type      Type
	Flags     uint8
	StreamID  uint32
	Sequence  uint64
	Offset    uint64
	PayloadLen uint16
}

// ParseError identifies why Parse rejected a buffer. Every case here is
// recoverable at the frame layer: the caller drops the frame and feeds the
// reputation tracker, it never panics.
type ParseError struct {
	Kind string
}

func (e *ParseError) Error() string { return "wire: " + e.Kind }

var (
	ErrTooShort          = &ParseError{"too short"}
	ErrTooLarge          = &ParseError{"too large"}
	ErrInvalidType       = &ParseError{"invalid type"}
	ErrReservedStreamID  = &ParseError{"reserved stream id used by non-control frame"}
	ErrOffsetOutOfRange  = &ParseError{"offset out of range"}
	ErrLengthMismatch    = &ParseError{"payload length mismatch"}
)

// Limits bounds frame validation; zero values fall back to the package
// defaults.
type Limits struct {
	MTU           int
	MaxStreamSize uint64
}

func (l Limits) withDefaults() Limits {
	if l.MTU <= 0 {
		l.MTU = DefaultMTU
	}
	if l.MaxStreamSize == 0 {
		l.MaxStreamSize = DefaultMaxStreamSize
	}
	return l
}

// Parse validates and decodes a frame header from buf, returning the header
// and the payload slice (a sub-slice of buf — no copy). buf is the frame's
// plaintext: header || payload, already stripped of AEAD framing and
// protocol-mimicry wrapping by the caller.
//
// On architectures with 128/256-bit SIMD the header load can be done as a
// single unaligned vector read; this implementation is the mandatory scalar
// fallback and is always correct, just not vectorized.
func Parse(buf []byte, limits Limits) (Header, []byte, error) {
	limits = limits.withDefaults()

	if len(buf) < 3 {
		return Header{}, nil, ErrTooShort
	}
	if len(buf) > limits.MTU {
		return Header{}, nil, ErrTooLarge
	}

	h, err := ParseHeaderOnly(buf, limits)
	if err != nil {
		return h, nil, err
	}

	payload := buf[HeaderSize:]
	if int(h.PayloadLen) != len(payload) {
		return h, nil, ErrLengthMismatch
	}

	return h, payload, nil
}

// ParseHeaderOnly decodes and validates just the 24-byte header, without
// checking that PayloadLen matches any trailing bytes. Session uses this
// to read the cleartext sequence counter out of a still-encrypted frame
// (the header is AEAD associated data, not ciphertext) before it can know
// the plaintext payload's length.
func ParseHeaderOnly(buf []byte, limits Limits) (Header, error) {
	limits = limits.withDefaults()

	var h Header
	if len(buf) < HeaderSize {
		return h, ErrTooShort
	}

	h.Type = Type(buf[0])
	if !h.Type.Valid() {
		return h, ErrInvalidType
	}
	h.Flags = buf[1]
	rawStreamID := binary.BigEndian.Uint32(buf[2:6])
	h.Sequence = binary.BigEndian.Uint64(buf[6:14])
	h.Offset = binary.BigEndian.Uint64(buf[14:22])
	h.PayloadLen = binary.BigEndian.Uint16(buf[22:24])

	if rawStreamID&streamIDReservedBit != 0 {
		return h, ErrReservedStreamID
	}
	h.StreamID = rawStreamID

	if h.StreamID == ControlStreamID && !isControlType(h.Type) {
		return h, ErrReservedStreamID
	}

	if h.Offset > limits.MaxStreamSize {
		return h, ErrOffsetOutOfRange
	}

	return h, nil
}

// Emit appends the wire encoding of header and payload to out and returns
// the extended slice. Emit never copies payload into an intermediate
// buffer; it is appended directly.
func Emit(out []byte, h Header, payload []byte) ([]byte, error) {
	if !h.Type.Valid() {
		return out, ErrInvalidType
	}
	if h.StreamID&streamIDReservedBit != 0 {
		return out, ErrReservedStreamID
	}
	if h.StreamID == ControlStreamID && !isControlType(h.Type) {
		return out, ErrReservedStreamID
	}
	if len(payload) > 1<<16-1 {
		return out, ErrTooLarge
	}

	var hdr [HeaderSize]byte
	hdr[0] = byte(h.Type)
	hdr[1] = h.Flags
	binary.BigEndian.PutUint32(hdr[2:6], h.StreamID)
	binary.BigEndian.PutUint64(hdr[6:14], h.Sequence)
	binary.BigEndian.PutUint64(hdr[14:22], h.Offset)
	binary.BigEndian.PutUint16(hdr[22:24], uint16(len(payload)))

	out = append(out, hdr[:]...)
	out = append(out, payload...)
	return out, nil
}

func isControlType(t Type) bool {
	switch t {
	case TypeHandshake, TypePing, TypePong, TypePathChallenge, TypePathResponse, TypeNewCID, TypeClose, TypePadding, TypeRatchet:
		return true
	default:
		return false
	}
}
