package obfuscate

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTLSRecordRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, tlsMaxRecordLen+500)
	wrapped := WrapTLSRecord(payload)
	got, err := UnwrapTLSRecord(wrapped)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWebSocketFrameRoundTrip(t *testing.T) {
	payload := []byte("opaque ciphertext bytes")
	wrapped := WrapWebSocketFrame(payload)
	got, err := UnwrapWebSocketFrame(wrapped)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWebSocketFrameRoundTripLongPayload(t *testing.T) {
	payload := bytes.Repeat([]byte{0x42}, 70000)
	wrapped := WrapWebSocketFrame(payload)
	got, err := UnwrapWebSocketFrame(wrapped)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDoHRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0x11}, 600)
	wrapped := WrapDoH(payload)
	got, err := UnwrapDoH(wrapped)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestWrapUnwrapDispatchByMode(t *testing.T) {
	payload := []byte("frame")
	for _, mode := range []MimicryMode{MimicryNone, MimicryTLSRecord, MimicryWebSocket, MimicryDoH} {
		wrapped := Wrap(mode, payload)
		got, err := Unwrap(mode, wrapped)
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}
}
