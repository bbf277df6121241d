package identity

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateDerivesNodeIDFromSigningPublic(t *testing.T) {
	id, err := Generate(rand.Reader)
	require.NoError(t, err)
	require.Equal(t, []byte(id.SigningPublic), id.NodeID[:])
}

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := Generate(rand.Reader)
	require.NoError(t, err)

	msg := []byte("wraith handshake transcript")
	sig, err := id.Sign(msg)
	require.NoError(t, err)
	require.True(t, Verify(id.NodeID, msg, sig))
	require.False(t, Verify(id.NodeID, []byte("tampered"), sig))
}

func TestVerifyRejectsMalformedPublicKeyPoint(t *testing.T) {
	msg := []byte("wraith handshake transcript")
	id, err := Generate(rand.Reader)
	require.NoError(t, err)
	sig, err := id.Sign(msg)
	require.NoError(t, err)

	var bad NodeID
	copy(bad[:], id.NodeID[:])
	bad[31] = 0xFF
	bad[0] = 0xFF
	require.False(t, Verify(bad, msg, sig))
}

func TestDestroyPreventsFurtherUse(t *testing.T) {
	id, err := Generate(rand.Reader)
	require.NoError(t, err)
	id.Destroy()

	_, err = id.Sign([]byte("x"))
	require.ErrorIs(t, err, ErrDestroyed)

	_, err = id.DHPrivateBytes()
	require.ErrorIs(t, err, ErrDestroyed)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.dat")
	passphrase := []byte("correct horse battery staple")

	id, err := Generate(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, Save(path, passphrase, id))

	loaded, err := Load(path, passphrase)
	require.NoError(t, err)
	require.Equal(t, id.NodeID, loaded.NodeID)
	require.Equal(t, id.DHPublic, loaded.DHPublic)
}

func TestLoadRejectsWrongPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.dat")

	id, err := Generate(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, Save(path, []byte("right"), id))

	_, err = Load(path, []byte("wrong"))
	require.Error(t, err)
}

func TestNodeIDDistanceAndLess(t *testing.T) {
	var a, b NodeID
	a[0] = 0x0F
	b[0] = 0xF0
	d := a.Distance(b)
	require.Equal(t, byte(0xFF), d[0])

	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
}

func TestSaveOverwriteLeavesNoStrayTmp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.dat")
	passphrase := []byte("pw")

	id1, err := Generate(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, Save(path, passphrase, id1))

	id2, err := Generate(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, Save(path, passphrase, id2))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + "~")
	require.True(t, os.IsNotExist(err))

	loaded, err := Load(path, passphrase)
	require.NoError(t, err)
	require.Equal(t, id2.NodeID, loaded.NodeID)
}
