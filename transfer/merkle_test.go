package transfer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func chunksOf(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

func TestMerkleTreeVerifiesEachChunk(t *testing.T) {
	data := bytes.Repeat([]byte("wraith"), 1000)
	chunks := chunksOf(data, 64)
	tree := BuildMerkleTree(chunks)

	require.Equal(t, len(chunks), tree.NumChunks())
	for i, c := range chunks {
		require.True(t, tree.VerifyChunk(i, c))
	}
}

func TestMerkleTreeRejectsTamperedChunk(t *testing.T) {
	chunks := chunksOf(bytes.Repeat([]byte("x"), 300), 64)
	tree := BuildMerkleTree(chunks)

	tampered := append([]byte(nil), chunks[0]...)
	tampered[0] ^= 0xFF
	require.False(t, tree.VerifyChunk(0, tampered))
}

func TestMerkleRootStableAcrossRebuild(t *testing.T) {
	chunks := chunksOf(bytes.Repeat([]byte("abc"), 500), 64)
	t1 := BuildMerkleTree(chunks)
	t2 := BuildMerkleTree(chunks)
	require.Equal(t, t1.Root(), t2.Root())
}

func TestMerkleRootChangesWithOddChunkCount(t *testing.T) {
	chunks := chunksOf(bytes.Repeat([]byte("y"), 5*64+10), 64)
	require.Equal(t, 6, len(chunks))
	tree := BuildMerkleTree(chunks)
	require.NotEqual(t, [32]byte{}, tree.Root())
}

func TestChunkCountAndBounds(t *testing.T) {
	require.Equal(t, 0, ChunkCount(0, 256))
	require.Equal(t, 1, ChunkCount(100, 256))
	require.Equal(t, 2, ChunkCount(300, 256))

	start, end := ChunkBounds(1, 300, 256)
	require.Equal(t, int64(256), start)
	require.Equal(t, int64(300), end)
}

func TestKeyedHashDiffersFromPlainHash(t *testing.T) {
	data := []byte("file root bytes")
	plain := hashBytes(data)

	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x7}, 32))
	keyed, err := KeyedHash(key, data)
	require.NoError(t, err)
	require.NotEqual(t, plain, keyed)
}
