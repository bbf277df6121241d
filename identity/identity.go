// Package identity manages the node's long-term keypair: an Ed25519
// signing key whose public half derives the 32-byte NodeId, and the
// X25519 static key used in the Noise_XX handshake. The private material
// is held in a locked buffer and is encrypted at rest the way disk.go
// protects the client statefile.
package identity

import (
	"crypto/ed25519"
	"errors"
	"io"

	"filippo.io/edwards25519"
	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"
)

const (
	NodeIDSize    = 32
	seedSize      = ed25519.SeedSize
	signingPubSz  = ed25519.PublicKeySize
	signingPrivSz = ed25519.PrivateKeySize
)

// NodeID is a node's immutable 32-byte public identity, derived from its
// Ed25519 verifying key.
type NodeID [NodeIDSize]byte

// Distance returns the XOR distance between two NodeIds, used to order the
// DHT's k-buckets.
func (n NodeID) Distance(other NodeID) NodeID {
	var out NodeID
	for i := range out {
		out[i] = n[i] ^ other[i]
	}
	return out
}

// Less reports whether n is numerically closer to zero than other,
// comparing from the most significant byte.
func (n NodeID) Less(other NodeID) bool {
	for i := range n {
		if n[i] != other[i] {
			return n[i] < other[i]
		}
	}
	return false
}

var ErrDestroyed = errors.New("identity: keypair already destroyed")

// Identity holds the node's long-term keys. signingPrivate and dhPrivate
// are locked buffers; call Destroy to wipe them deterministically when the
// node shuts down.
type Identity struct {
	NodeID NodeID

	SigningPublic  ed25519.PublicKey
	signingPrivate *memguard.LockedBuffer

	DHPublic  [32]byte
	dhPrivate *memguard.LockedBuffer
}

// Generate creates a fresh identity keypair from rand.
func Generate(rand io.Reader) (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return fromSigningKey(pub, priv)
}

func fromSigningKey(pub ed25519.PublicKey, priv ed25519.PrivateKey) (*Identity, error) {
	id := &Identity{
		SigningPublic:  append(ed25519.PublicKey(nil), pub...),
		signingPrivate: memguard.NewBufferFromBytes(priv),
	}
	copy(id.NodeID[:], pub)

	// Derive a static X25519 keypair from the Ed25519 seed via a
	// dedicated scalar clamp rather than birational mapping, avoiding the
	// signing-key-reuse pitfalls extra25519 exists to paper over: the two
	// keys are independent, both rooted in the same seed material.
	seed := priv.Seed()
	h := sha3.Sum512(seed)
	var dhPriv [32]byte
	copy(dhPriv[:], h[:32])
	dhPriv[0] &= 248
	dhPriv[31] &= 127
	dhPriv[31] |= 64

	var dhPub [32]byte
	curve25519.ScalarBaseMult(&dhPub, &dhPriv)

	id.dhPrivate = memguard.NewBufferFromBytes(dhPriv[:])
	id.DHPublic = dhPub
	memguard.WipeBytes(dhPriv[:])

	return id, nil
}

// Sign signs msg with the node's long-term Ed25519 key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	if id.signingPrivate == nil {
		return nil, ErrDestroyed
	}
	return ed25519.Sign(ed25519.PrivateKey(id.signingPrivate.Bytes()), msg), nil
}

// Verify checks a signature made by the holder of NodeID pub's signing key.
// pub is first rejected if it does not decode to a valid point on the
// Edwards curve, closing off the malformed-key inputs ed25519.Verify
// itself does not distinguish from an ordinary bad signature.
func Verify(pub NodeID, msg, sig []byte) bool {
	if _, err := new(edwards25519.Point).SetBytes(pub[:]); err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig)
}

// DHPrivateBytes exposes the static X25519 private scalar for exactly as
// long as the handshake needs it. Callers must not retain the returned
// slice past the call in which it's used.
func (id *Identity) DHPrivateBytes() ([]byte, error) {
	if id.dhPrivate == nil {
		return nil, ErrDestroyed
	}
	return id.dhPrivate.Bytes(), nil
}

// Destroy wipes both private keys. Safe to call more than once.
func (id *Identity) Destroy() {
	if id.signingPrivate != nil {
		id.signingPrivate.Destroy()
		id.signingPrivate = nil
	}
	if id.dhPrivate != nil {
		id.dhPrivate.Destroy()
		id.dhPrivate = nil
	}
}
