package obfuscate

import (
	"encoding/binary"
	"errors"

	"github.com/gorilla/websocket"
)

// MimicryMode selects an alternate on-wire framing used to make WRAITH
// traffic resemble a more common protocol at a passive glance.
type MimicryMode int

const (
	MimicryNone MimicryMode = iota
	MimicryTLSRecord
	MimicryWebSocket
	MimicryDoH
)

const (
	tlsContentTypeApplicationData = 0x17
	tlsVersion12                  = 0x0303
	tlsMaxRecordLen               = 16384
)

var ErrNotMimicked = errors.New("obfuscate: buffer is not a recognized mimicry framing")

// WrapTLSRecord emits payload as one or more TLS 1.3 application-data
// records, splitting any frame longer than tlsMaxRecordLen across
// multiple records.
func WrapTLSRecord(payload []byte) []byte {
	var out []byte
	for len(payload) > 0 {
		n := len(payload)
		if n > tlsMaxRecordLen {
			n = tlsMaxRecordLen
		}
		var hdr [5]byte
		hdr[0] = tlsContentTypeApplicationData
		binary.BigEndian.PutUint16(hdr[1:3], tlsVersion12)
		binary.BigEndian.PutUint16(hdr[3:5], uint16(n))
		out = append(out, hdr[:]...)
		out = append(out, payload[:n]...)
		payload = payload[n:]
	}
	return out
}

// UnwrapTLSRecord reverses WrapTLSRecord, concatenating every record's
// payload back into one buffer.
func UnwrapTLSRecord(buf []byte) ([]byte, error) {
	var out []byte
	for len(buf) > 0 {
		if len(buf) < 5 {
			return nil, ErrNotMimicked
		}
		if buf[0] != tlsContentTypeApplicationData {
			return nil, ErrNotMimicked
		}
		n := int(binary.BigEndian.Uint16(buf[3:5]))
		if len(buf) < 5+n {
			return nil, ErrNotMimicked
		}
		out = append(out, buf[5:5+n]...)
		buf = buf[5+n:]
	}
	return out, nil
}

// WrapWebSocketFrame emits payload as one RFC 6455 binary frame with no
// masking, since WRAITH frames are already opaque ciphertext and
// masking exists to defeat cache-poisoning proxies, irrelevant to a
// direct peer-to-peer socket. Uses gorilla/websocket's wire constants
// rather than hand-rolling the frame bit layout.
func WrapWebSocketFrame(payload []byte) []byte {
	var out []byte
	out = append(out, 0x80|byte(websocket.BinaryMessage))
	n := len(payload)
	switch {
	case n < 126:
		out = append(out, byte(n))
	case n <= 0xFFFF:
		out = append(out, 126)
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(n))
		out = append(out, lenBuf[:]...)
	default:
		out = append(out, 127)
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(n))
		out = append(out, lenBuf[:]...)
	}
	out = append(out, payload...)
	return out
}

// UnwrapWebSocketFrame reverses WrapWebSocketFrame for one unmasked
// binary frame.
func UnwrapWebSocketFrame(buf []byte) ([]byte, error) {
	if len(buf) < 2 {
		return nil, ErrNotMimicked
	}
	opcode := buf[0] & 0x0F
	if opcode != byte(websocket.BinaryMessage) {
		return nil, ErrNotMimicked
	}
	masked := buf[1]&0x80 != 0
	n := int(buf[1] & 0x7F)
	off := 2
	switch n {
	case 126:
		if len(buf) < 4 {
			return nil, ErrNotMimicked
		}
		n = int(binary.BigEndian.Uint16(buf[2:4]))
		off = 4
	case 127:
		if len(buf) < 10 {
			return nil, ErrNotMimicked
		}
		n = int(binary.BigEndian.Uint64(buf[2:10]))
		off = 10
	}
	var maskKey [4]byte
	if masked {
		if len(buf) < off+4 {
			return nil, ErrNotMimicked
		}
		copy(maskKey[:], buf[off:off+4])
		off += 4
	}
	if len(buf) < off+n {
		return nil, ErrNotMimicked
	}
	payload := append([]byte(nil), buf[off:off+n]...)
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	return payload, nil
}

// dohContentType is the header value a real HTTP/2 POST carrier would use;
// recorded here for WrapDoH's header-shaped length framing even though no
// real HTTP/2 transport sits underneath a raw datagram obfuscation layer.
const dohContentType = "application/dns-message"

// WrapDoH frames payload as a length-prefixed DNS-message-shaped record,
// approximating the chunking a real DoH POST body would carry (one
// length-delimited "TXT answer" per chunk, default 255-byte chunks
// matching a DNS TXT record's max character-string length).
func WrapDoH(payload []byte) []byte {
	const chunkLen = 255
	var out []byte
	for len(payload) > 0 {
		n := len(payload)
		if n > chunkLen {
			n = chunkLen
		}
		out = append(out, byte(n))
		out = append(out, payload[:n]...)
		payload = payload[n:]
	}
	return out
}

// UnwrapDoH reverses WrapDoH.
func UnwrapDoH(buf []byte) ([]byte, error) {
	var out []byte
	for len(buf) > 0 {
		n := int(buf[0])
		if len(buf) < 1+n {
			return nil, ErrNotMimicked
		}
		out = append(out, buf[1:1+n]...)
		buf = buf[1+n:]
	}
	return out, nil
}

// Wrap applies the configured mimicry framing to a padded, encrypted
// frame before it reaches the datagram socket.
func Wrap(mode MimicryMode, payload []byte) []byte {
	switch mode {
	case MimicryTLSRecord:
		return WrapTLSRecord(payload)
	case MimicryWebSocket:
		return WrapWebSocketFrame(payload)
	case MimicryDoH:
		return WrapDoH(payload)
	default:
		return payload
	}
}

// Unwrap reverses Wrap.
func Unwrap(mode MimicryMode, buf []byte) ([]byte, error) {
	switch mode {
	case MimicryTLSRecord:
		return UnwrapTLSRecord(buf)
	case MimicryWebSocket:
		return UnwrapWebSocketFrame(buf)
	case MimicryDoH:
		return UnwrapDoH(buf)
	default:
		return buf, nil
	}
}
