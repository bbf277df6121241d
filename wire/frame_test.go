package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitParseRoundTrip(t *testing.T) {
	h := Header{
		Type:     TypeStreamData,
		Flags:    FlagNone,
		StreamID: 7,
		Sequence: 42,
		Offset:   1024,
	}
	payload := []byte("hello wraith")

	buf, err := Emit(nil, h, payload)
	require.NoError(t, err)

	got, gotPayload, err := Parse(buf, Limits{})
	require.NoError(t, err)
	require.Equal(t, h.Type, got.Type)
	require.Equal(t, h.StreamID, got.StreamID)
	require.Equal(t, h.Sequence, got.Sequence)
	require.Equal(t, h.Offset, got.Offset)
	require.Equal(t, payload, gotPayload)
}

func TestParseRejectsTooShort(t *testing.T) {
	_, _, err := Parse([]byte{0, 0}, Limits{})
	require.Equal(t, ErrTooShort, err)

	_, _, err = Parse(make([]byte, HeaderSize-1), Limits{})
	require.Equal(t, ErrTooShort, err)
}

func TestParseRejectsTooLarge(t *testing.T) {
	buf := make([]byte, HeaderSize+10)
	_, _, err := Parse(buf, Limits{MTU: HeaderSize})
	require.Equal(t, ErrTooLarge, err)
}

func TestParseRejectsInvalidType(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = 0xFF
	_, _, err := Parse(buf, Limits{})
	require.Equal(t, ErrInvalidType, err)
}

func TestParseRejectsReservedStreamIDHighBit(t *testing.T) {
	h := Header{Type: TypeStreamData, StreamID: 1}
	buf, err := Emit(nil, h, nil)
	require.NoError(t, err)
	buf[2] |= 0x80 // set the reserved high bit directly on the wire

	_, _, err = Parse(buf, Limits{})
	require.Equal(t, ErrReservedStreamID, err)
}

func TestParseRejectsControlStreamIDOnDataFrame(t *testing.T) {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(TypeStreamData)
	_, _, err := Parse(buf, Limits{})
	require.Equal(t, ErrReservedStreamID, err)
}

func TestControlFrameMayUseStreamZero(t *testing.T) {
	h := Header{Type: TypePing, StreamID: ControlStreamID}
	buf, err := Emit(nil, h, nil)
	require.NoError(t, err)

	got, _, err := Parse(buf, Limits{})
	require.NoError(t, err)
	require.Equal(t, TypePing, got.Type)
}

func TestParseRejectsOffsetOutOfRange(t *testing.T) {
	h := Header{Type: TypeStreamData, StreamID: 1, Offset: DefaultMaxStreamSize + 1}
	buf, err := Emit(nil, h, nil)
	require.NoError(t, err)

	_, _, err = Parse(buf, Limits{})
	require.Equal(t, ErrOffsetOutOfRange, err)
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	h := Header{Type: TypeStreamData, StreamID: 1}
	buf, err := Emit(nil, h, []byte("abc"))
	require.NoError(t, err)

	// Truncate the payload without updating the declared length.
	buf = buf[:len(buf)-1]
	_, _, err = Parse(buf, Limits{})
	require.Equal(t, ErrLengthMismatch, err)
}

func TestEmitRejectsReservedStreamID(t *testing.T) {
	h := Header{Type: TypeStreamData, StreamID: streamIDReservedBit | 1}
	_, err := Emit(nil, h, nil)
	require.Equal(t, ErrReservedStreamID, err)
}

func TestEmitAppendsToExistingBuffer(t *testing.T) {
	prefix := []byte{1, 2, 3}
	h := Header{Type: TypePing, StreamID: ControlStreamID}
	buf, err := Emit(prefix, h, nil)
	require.NoError(t, err)
	require.Equal(t, prefix, buf[:3])
	require.Len(t, buf, 3+HeaderSize)
}

func TestBoundaryFrameSizesDoNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		Parse(make([]byte, 3), Limits{})
		Parse(make([]byte, DefaultMTU), Limits{})
		Parse(make([]byte, DefaultMTU+1), Limits{})
	})
}
