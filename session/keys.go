package session

import (
	"crypto/hmac"
	"io"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/sha3"
)

const (
	keySize = 32

	// RotationInterval is the elapsed-time trigger for a ratchet step.
	RotationInterval = 2 * time.Minute
	// RotationCounterLimit is the packet-counter trigger for a ratchet step.
	RotationCounterLimit = 1_000_000
	// KeyOverlapWindow is how long a superseded key schedule remains
	// valid for decrypting frames that were in flight at rotation time.
	KeyOverlapWindow = RotationInterval
)

var (
	txKeyLabel    = []byte("wraith tx key")
	rxKeyLabel    = []byte("wraith rx key")
	chainKeyLabel = []byte("wraith chain key")
)

// deriveKey computes HMAC-SHA3-256(chainKey, label) into a fresh locked
// buffer, mirroring ratchet.go's deriveKey but keyed by label rather than
// accumulated into a running hash.Hash, since the schedule here rotates
// per-connection rather than per-message.
func deriveKey(chainKey []byte, label []byte) *memguard.LockedBuffer {
	h := hmac.New(sha3.New256, chainKey)
	h.Write(label)
	out := h.Sum(nil)
	buf := memguard.NewBufferFromBytes(out)
	memguard.WipeBytes(out)
	return buf
}

// KeySchedule holds the live and previous-generation symmetric keys for
// one session, plus the DH ratchet state used to rotate them.
type KeySchedule struct {
	chainKey *memguard.LockedBuffer

	txKey, rxKey         *memguard.LockedBuffer
	prevTxKey, prevRxKey *memguard.LockedBuffer
	prevValidUntil       time.Time

	ratchetPrivate    *memguard.LockedBuffer
	peerRatchetPublic [keySize]byte

	lastRotation time.Time
	rand         io.Reader
}

// NewKeySchedule builds the initial schedule from the handshake's shared
// chaining key, our own ephemeral private from that handshake, and the
// peer's first ratchet public value. Seeding our side from the same
// ephemeral private the handshake already DH'd against the peer's
// ephemeral (rather than a fresh, peer-unrelated value) is what lets the
// first rotation step land on a shared secret both sides can reproduce.
func NewKeySchedule(rand io.Reader, chainKey []byte, ourRatchetPrivate, peerRatchetPublic [keySize]byte, weAreInitiator bool) (*KeySchedule, error) {
	ratchetPriv := memguard.NewBufferFromBytes(append([]byte{}, ourRatchetPrivate[:]...))

	ks := &KeySchedule{
		chainKey:          memguard.NewBufferFromBytes(chainKey),
		ratchetPrivate:    ratchetPriv,
		peerRatchetPublic: peerRatchetPublic,
		lastRotation:      time.Now(),
		rand:              rand,
	}

	if weAreInitiator {
		ks.txKey = deriveKey(ks.chainKey.Bytes(), txKeyLabel)
		ks.rxKey = deriveKey(ks.chainKey.Bytes(), rxKeyLabel)
	} else {
		// The responder's tx/rx are the initiator's rx/tx.
		ks.rxKey = deriveKey(ks.chainKey.Bytes(), txKeyLabel)
		ks.txKey = deriveKey(ks.chainKey.Bytes(), rxKeyLabel)
	}

	return ks, nil
}

// ShouldRotate reports whether elapsed time or the packet counter demands
// a ratchet step.
func (ks *KeySchedule) ShouldRotate(counter uint64, now time.Time) bool {
	return now.Sub(ks.lastRotation) >= RotationInterval || counter >= RotationCounterLimit
}

// rotateKeys mixes shared into the chain key, stashes the superseded
// tx/rx keys for KeyOverlapWindow so frames already in flight still
// decrypt, and re-derives the directional keys from the new chain key.
// Shared is wiped before return; it is not retained past this call.
func (ks *KeySchedule) rotateKeys(shared []byte, weAreInitiator bool) {
	mixed := append(append([]byte{}, ks.chainKey.Bytes()...), shared...)
	h := hmac.New(sha3.New256, mixed)
	h.Write(chainKeyLabel)
	newChain := h.Sum(nil)
	memguard.WipeBytes(mixed)

	ks.prevTxKey = ks.txKey
	ks.prevRxKey = ks.rxKey
	ks.prevValidUntil = time.Now().Add(KeyOverlapWindow)

	ks.chainKey.Melt()
	ks.chainKey.Wipe()
	ks.chainKey.Copy(newChain)
	ks.chainKey.Freeze()
	memguard.WipeBytes(newChain)

	if weAreInitiator {
		ks.txKey = deriveKey(ks.chainKey.Bytes(), txKeyLabel)
		ks.rxKey = deriveKey(ks.chainKey.Bytes(), rxKeyLabel)
	} else {
		ks.rxKey = deriveKey(ks.chainKey.Bytes(), txKeyLabel)
		ks.txKey = deriveKey(ks.chainKey.Bytes(), rxKeyLabel)
	}

	ks.lastRotation = time.Now()
}

// Rotate performs our side's own ratchet step: a fresh ephemeral keypair
// is generated and DH'd against the peer's still-current ratchet public,
// and the result is mixed into the chain key. The peer is expected to
// mirror this via AbsorbPeerRotation once the returned public reaches it,
// using its own unchanged ratchet private against our fresh public —
// scalar multiplication commutes, so both sides land on the same shared
// secret without the peer needing to generate anything new itself.
func (ks *KeySchedule) Rotate(weAreInitiator bool) ([keySize]byte, error) {
	newPriv, err := memguard.NewBufferFromReader(ks.rand, keySize)
	if err != nil {
		return [keySize]byte{}, err
	}

	var newPrivArr, newPub [keySize]byte
	copy(newPrivArr[:], newPriv.Bytes())
	curve25519.ScalarBaseMult(&newPub, &newPrivArr)

	var shared [keySize]byte
	curve25519.ScalarMult(&shared, &newPrivArr, &ks.peerRatchetPublic)
	memguard.WipeBytes(newPrivArr[:])

	ks.rotateKeys(shared[:], weAreInitiator)
	memguard.WipeBytes(shared[:])

	ks.ratchetPrivate.Destroy()
	ks.ratchetPrivate = newPriv
	return newPub, nil
}

// AbsorbPeerRotation applies a ratchet step announced by the peer: our
// own still-current ratchet private is DH'd against the peer's freshly
// announced public, mixed into the chain key the same way Rotate does,
// and peerRatchetPublic is updated so our own next Rotate call steps
// forward from here. Our ratchet private is left untouched — it is not
// our turn to replace it.
func (ks *KeySchedule) AbsorbPeerRotation(peerNewPublic [keySize]byte, weAreInitiator bool) {
	var ourPriv [keySize]byte
	copy(ourPriv[:], ks.ratchetPrivate.Bytes())

	var shared [keySize]byte
	curve25519.ScalarMult(&shared, &ourPriv, &peerNewPublic)
	memguard.WipeBytes(ourPriv[:])

	ks.rotateKeys(shared[:], weAreInitiator)
	memguard.WipeBytes(shared[:])

	ks.peerRatchetPublic = peerNewPublic
}

// RatchetPublic returns our current ratchet public value to send to the
// peer so it can perform its matching DH step.
func (ks *KeySchedule) RatchetPublic() [keySize]byte {
	var priv, pub [keySize]byte
	copy(priv[:], ks.ratchetPrivate.Bytes())
	curve25519.ScalarBaseMult(&pub, &priv)
	memguard.WipeBytes(priv[:])
	return pub
}

// TxKey returns the active transmit key bytes.
func (ks *KeySchedule) TxKey() []byte { return ks.txKey.Bytes() }

// RxKeys returns the active receive key and, if still within the overlap
// window, the previous-generation receive key to try as a fallback.
func (ks *KeySchedule) RxKeys() (current []byte, previous []byte) {
	current = ks.rxKey.Bytes()
	if ks.prevRxKey != nil && time.Now().Before(ks.prevValidUntil) {
		previous = ks.prevRxKey.Bytes()
	}
	return
}

// Destroy wipes all key material.
func (ks *KeySchedule) Destroy() {
	ks.chainKey.Destroy()
	ks.txKey.Destroy()
	ks.rxKey.Destroy()
	if ks.prevTxKey != nil {
		ks.prevTxKey.Destroy()
	}
	if ks.prevRxKey != nil {
		ks.prevRxKey.Destroy()
	}
	ks.ratchetPrivate.Destroy()
}
