// Handshake implements a three-message Noise_XX-pattern mutual
// authentication exchange: ephemeral X25519 values are carried through an
// EphemeralCodec (Elligator2 in production), static Ed25519 identities are
// exchanged encrypted-then-authenticated, and the transcript hash binds
// every message so no byte can be replayed out of context. A Kyber768X25519
// hybrid KEM encapsulation rides alongside the X25519 ephemeral exchange,
// mixed into the same chaining key, so the session key schedule survives a
// break of either primitive alone. Grounded on the DH-mixing idiom in
// ratchet.go's CompleteKeyExchange, generalized to Noise's three-message
// pattern and its running transcript hash.
package session

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/hybrid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/wraithnet/wraith/identity"
)

// pqScheme is the post-quantum/classical hybrid KEM mixed into the
// handshake's key schedule alongside the X25519 DH exchange, so a future
// break of X25519 alone does not recover the session's transcript.
var pqScheme = hybrid.Kyber768X25519()

const protocolName = "Noise_XX_25519_ChaChaPoly_SHA256_WRAITH"

// symmetricState tracks the Noise chaining key and transcript hash shared
// by both sides as the handshake progresses.
type symmetricState struct {
	ck  [32]byte
	h   [32]byte
	key *[32]byte // nil until the first DH mixes in key material
}

func newSymmetricState() *symmetricState {
	s := &symmetricState{}
	s.h = sha256.Sum256([]byte(protocolName))
	copy(s.ck[:], s.h[:])
	return s
}

func (s *symmetricState) mixHash(data []byte) {
	h := sha256.New()
	h.Write(s.h[:])
	h.Write(data)
	copy(s.h[:], h.Sum(nil))
}

func (s *symmetricState) mixKey(ikm []byte) {
	r := hkdf.New(sha256.New, ikm, s.ck[:], nil)
	var newCK, newKey [32]byte
	io.ReadFull(r, newCK[:])
	io.ReadFull(r, newKey[:])
	s.ck = newCK
	s.key = &newKey
}

func (s *symmetricState) encryptAndHash(plaintext []byte) ([]byte, error) {
	if s.key == nil {
		s.mixHash(plaintext)
		return append([]byte{}, plaintext...), nil
	}
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	var nonce [12]byte // Noise convention: zero nonce, key is single-use per message.
	ct := aead.Seal(nil, nonce[:], plaintext, s.h[:])
	s.mixHash(ct)
	return ct, nil
}

func (s *symmetricState) decryptAndHash(ciphertext []byte) ([]byte, error) {
	if s.key == nil {
		s.mixHash(ciphertext)
		return append([]byte{}, ciphertext...), nil
	}
	aead, err := chacha20poly1305.New(s.key[:])
	if err != nil {
		return nil, err
	}
	var nonce [12]byte
	pt, err := aead.Open(nil, nonce[:], ciphertext, s.h[:])
	if err != nil {
		return nil, ErrHandshakeAuthFailed
	}
	s.mixHash(ciphertext)
	return pt, nil
}

// Handshake drives one side of the three-message exchange.
type Handshake struct {
	rand        io.Reader
	codec       EphemeralCodec
	id          *identity.Identity
	initiator   bool
	state       *symmetricState
	ePriv       [keySize]byte
	ePub        [keySize]byte
	peerE       [keySize]byte
	peerStatic  identity.NodeID
	peerDHStatic [keySize]byte

	pqPriv    kem.PrivateKey // initiator only, kept until ReadMsg2 decapsulates
	pqPub     kem.PublicKey  // initiator only, sent in msg1
	peerPQPub kem.PublicKey  // responder only, learned from msg1
}

// NewHandshake begins a handshake as either initiator or responder.
func NewHandshake(rand io.Reader, codec EphemeralCodec, id *identity.Identity, initiator bool) (*Handshake, error) {
	if codec == nil {
		codec = DefaultEphemeralCodec
	}
	hs := &Handshake{rand: rand, codec: codec, id: id, initiator: initiator, state: newSymmetricState()}
	if _, err := io.ReadFull(rand, hs.ePriv[:]); err != nil {
		return nil, err
	}
	curve25519.ScalarBaseMult(&hs.ePub, &hs.ePriv)

	if initiator {
		pub, priv, err := pqScheme.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		hs.pqPub, hs.pqPriv = pub, priv
	}
	return hs, nil
}

// ChainKey returns the handshake's current Noise chaining key, the
// material CompleteHandshake needs to derive the session's key
// schedule. Only meaningful once the three-message exchange has
// finished on this side.
func (hs *Handshake) ChainKey() []byte {
	return append([]byte(nil), hs.state.ck[:]...)
}

// PeerEphemeral returns the peer's ephemeral public value learned
// during the exchange, the "peer ratchet public" CompleteHandshake
// expects.
func (hs *Handshake) PeerEphemeral() [keySize]byte {
	return hs.peerE
}

// EphemeralPrivate returns our own ephemeral private value from the
// exchange, the "our ratchet private" CompleteHandshake expects. It seeds
// the ratchet so our first DH step lines up with what the peer already
// holds as our current known public (hs.ePub, sent in the handshake).
func (hs *Handshake) EphemeralPrivate() [keySize]byte {
	return hs.ePriv
}

// PeerStatic returns the peer's authenticated long-term NodeId, valid
// once the peer's static payload has been verified (after ReadMsg2 for
// the initiator, after ReadMsg3 for the responder).
func (hs *Handshake) PeerStatic() identity.NodeID {
	return hs.peerStatic
}

// WriteMsg1 (initiator only): -> e, pqPub
func (hs *Handshake) WriteMsg1() ([]byte, error) {
	if !hs.initiator {
		return nil, errors.New("session: WriteMsg1 called by responder")
	}
	repr := hs.codec.Encode(hs.ePub)
	hs.state.mixHash(repr[:])

	pqPubBytes, err := hs.pqPub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := append([]byte{}, repr[:]...)
	out = append(out, pqPubBytes...)
	return out, nil
}

// ReadMsg1 (responder only): <- e, pqPub
func (hs *Handshake) ReadMsg1(msg []byte) error {
	if hs.initiator || len(msg) <= keySize {
		return ErrMalformedHandshake
	}
	var repr [keySize]byte
	copy(repr[:], msg[:keySize])
	e, ok := hs.codec.Decode(repr)
	if !ok {
		return ErrMalformedHandshake
	}
	hs.peerE = e
	hs.state.mixHash(repr[:])

	peerPQPub, err := pqScheme.UnmarshalBinaryPublicKey(msg[keySize:])
	if err != nil {
		return ErrMalformedHandshake
	}
	hs.peerPQPub = peerPQPub
	return nil
}

// WriteMsg2 (responder only): -> e, ee, s, es
func (hs *Handshake) WriteMsg2() ([]byte, error) {
	if hs.initiator {
		return nil, errors.New("session: WriteMsg2 called by initiator")
	}
	repr := hs.codec.Encode(hs.ePub)
	hs.state.mixHash(repr[:])

	var ee [keySize]byte
	curve25519.ScalarMult(&ee, &hs.ePriv, &hs.peerE)
	hs.state.mixKey(ee[:])

	pqCt, pqSS, err := pqScheme.Encapsulate(hs.peerPQPub)
	if err != nil {
		return nil, err
	}
	hs.state.mixKey(pqSS)

	dhPriv, err := hs.id.DHPrivateBytes()
	if err != nil {
		return nil, err
	}
	var dhPrivArr [keySize]byte
	copy(dhPrivArr[:], dhPriv)

	payload, err := hs.staticPayload(hs.state.h)
	if err != nil {
		return nil, err
	}
	ciphertext, err := hs.state.encryptAndHash(payload)
	if err != nil {
		return nil, err
	}

	var es [keySize]byte
	curve25519.ScalarMult(&es, &dhPrivArr, &hs.peerE)
	hs.state.mixKey(es[:])

	var ctLen [2]byte
	binary.BigEndian.PutUint16(ctLen[:], uint16(len(pqCt)))

	out := append([]byte{}, repr[:]...)
	out = append(out, ctLen[:]...)
	out = append(out, pqCt...)
	out = append(out, ciphertext...)
	return out, nil
}

// ReadMsg2 (initiator only).
func (hs *Handshake) ReadMsg2(msg []byte) error {
	if !hs.initiator || len(msg) < keySize+2 {
		return ErrMalformedHandshake
	}
	var repr [keySize]byte
	copy(repr[:], msg[:keySize])
	e, ok := hs.codec.Decode(repr)
	if !ok {
		return ErrMalformedHandshake
	}
	hs.peerE = e
	hs.state.mixHash(repr[:])

	var ee [keySize]byte
	curve25519.ScalarMult(&ee, &hs.ePriv, &hs.peerE)
	hs.state.mixKey(ee[:])

	ctLen := int(binary.BigEndian.Uint16(msg[keySize : keySize+2]))
	rest := msg[keySize+2:]
	if ctLen > len(rest) {
		return ErrMalformedHandshake
	}
	pqCt := rest[:ctLen]
	pqSS, err := pqScheme.Decapsulate(hs.pqPriv, pqCt)
	if err != nil {
		return ErrMalformedHandshake
	}
	hs.state.mixKey(pqSS)

	preHash := hs.state.h
	plaintext, err := hs.state.decryptAndHash(rest[ctLen:])
	if err != nil {
		return err
	}
	if err := hs.acceptStaticPayload(plaintext, preHash); err != nil {
		return err
	}

	var se [keySize]byte
	curve25519.ScalarMult(&se, &hs.ePriv, &hs.peerDHStatic)
	hs.state.mixKey(se[:])
	return nil
}

// WriteMsg3 (initiator only): -> s, se
func (hs *Handshake) WriteMsg3() ([]byte, error) {
	if !hs.initiator {
		return nil, errors.New("session: WriteMsg3 called by responder")
	}
	payload, err := hs.staticPayload(hs.state.h)
	if err != nil {
		return nil, err
	}
	ciphertext, err := hs.state.encryptAndHash(payload)
	if err != nil {
		return nil, err
	}

	dhPriv, err := hs.id.DHPrivateBytes()
	if err != nil {
		return nil, err
	}
	var dhPrivArr [keySize]byte
	copy(dhPrivArr[:], dhPriv)

	var se [keySize]byte
	curve25519.ScalarMult(&se, &dhPrivArr, &hs.peerE)
	hs.state.mixKey(se[:])

	return ciphertext, nil
}

// ReadMsg3 (responder only).
func (hs *Handshake) ReadMsg3(msg []byte) error {
	if hs.initiator {
		return ErrMalformedHandshake
	}
	preHash := hs.state.h
	plaintext, err := hs.state.decryptAndHash(msg)
	if err != nil {
		return err
	}
	if err := hs.acceptStaticPayload(plaintext, preHash); err != nil {
		return err
	}
	var se [keySize]byte
	curve25519.ScalarMult(&se, &hs.ePriv, &hs.peerDHStatic)
	hs.state.mixKey(se[:])
	return nil
}

// staticPayload packs our signing public key and our static DH public key,
// plus a signature over (signHash || dhPublic) — signHash is the
// transcript hash as it stood before this payload's ciphertext is mixed
// in, so the peer can authenticate both our long-term identity and the DH
// value it's about to use against a value both sides independently derive.
func (hs *Handshake) staticPayload(signHash [32]byte) ([]byte, error) {
	signed := append(append([]byte{}, signHash[:]...), hs.id.DHPublic[:]...)
	sig, err := hs.id.Sign(signed)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, identity.NodeIDSize+keySize+2+len(sig))
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(sig)))
	out = append(out, hs.id.SigningPublic...)
	out = append(out, hs.id.DHPublic[:]...)
	out = append(out, l[:]...)
	out = append(out, sig...)
	return out, nil
}

func (hs *Handshake) acceptStaticPayload(payload []byte, signHash [32]byte) error {
	if len(payload) < identity.NodeIDSize+keySize+2 {
		return ErrMalformedHandshake
	}
	var nodeID identity.NodeID
	copy(nodeID[:], payload[:identity.NodeIDSize])
	var dhPub [keySize]byte
	copy(dhPub[:], payload[identity.NodeIDSize:identity.NodeIDSize+keySize])

	sigOffset := identity.NodeIDSize + keySize
	sigLen := int(binary.BigEndian.Uint16(payload[sigOffset : sigOffset+2]))
	rest := payload[sigOffset+2:]
	if sigLen > len(rest) {
		return ErrMalformedHandshake
	}
	sig := rest[:sigLen]

	signed := append(append([]byte{}, signHash[:]...), dhPub[:]...)
	if !identity.Verify(nodeID, signed, sig) {
		return ErrHandshakeAuthFailed
	}
	hs.peerStatic = nodeID
	hs.peerDHStatic = dhPub
	return nil
}
