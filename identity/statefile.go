package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"

	"github.com/ugorji/go/codec"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
	"gopkg.in/op/go-logging.v1"
)

const (
	argonTime    = 3
	argonMemory  = 32 * 1024
	argonThreads = 4
	boxKeySize   = 32
	boxNonceSize = 24
)

var cborHandle = &codec.CborHandle{}

var log = logging.MustGetLogger("wraith/identity")

// statefile is the plaintext shape persisted to disk: the minimum needed
// to reconstruct an Identity without regenerating the DH derivation.
type statefile struct {
	SigningPublic  []byte
	SigningPrivate []byte
}

// Load decrypts path with passphrase and reconstructs the Identity.
func Load(path string, passphrase []byte) (*Identity, error) {
	key := deriveKey(passphrase)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < boxNonceSize {
		return nil, errors.New("identity: statefile truncated")
	}

	var nonce [boxNonceSize]byte
	copy(nonce[:], raw[:boxNonceSize])
	ciphertext := raw[boxNonceSize:]

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &key)
	if !ok {
		return nil, errors.New("identity: failed to decrypt statefile")
	}

	sf := &statefile{}
	if err := codec.NewDecoderBytes(plaintext, cborHandle).Decode(sf); err != nil {
		return nil, err
	}
	if len(sf.SigningPrivate) != signingPrivSz || len(sf.SigningPublic) != signingPubSz {
		return nil, errors.New("identity: malformed key lengths in statefile")
	}
	return fromSigningKey(ed25519.PublicKey(sf.SigningPublic), ed25519.PrivateKey(sf.SigningPrivate))
}

// Save encrypts id's signing keypair under passphrase and writes it to
// path, following the .tmp → rename-old-to-~ → rename-tmp-to-final →
// remove-~ dance so a crash mid-write never corrupts the prior statefile.
func Save(path string, passphrase []byte, id *Identity) error {
	if id.signingPrivate == nil {
		return ErrDestroyed
	}

	sf := &statefile{
		SigningPublic:  append([]byte(nil), id.SigningPublic...),
		SigningPrivate: append([]byte(nil), id.signingPrivate.Bytes()...),
	}
	plaintext, err := encodeCBOR(sf)
	if err != nil {
		return err
	}

	key := deriveKey(passphrase)
	var nonce [boxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return err
	}
	ciphertext := secretbox.Seal(nonce[:], plaintext, &nonce, &key)

	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := out.Write(ciphertext); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := os.Remove(path + "~"); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(path, path+"~"); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	if err := os.Remove(path + "~"); err != nil && !os.IsNotExist(err) {
		return err
	}
	log.Debugf("identity: statefile written to %s", path)
	return nil
}

func deriveKey(passphrase []byte) [boxKeySize]byte {
	secret := argon2.IDKey(passphrase, nil, argonTime, argonMemory, argonThreads, boxKeySize)
	var key [boxKeySize]byte
	copy(key[:], secret)
	return key
}

func encodeCBOR(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, cborHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}
