package transport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilePreallocateAndReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Preallocate(1024))
	require.NoError(t, f.PwriteAt(100, []byte("payload")))
	require.NoError(t, f.Sync())

	got, err := f.PreadAt(100, 7)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), got)
}

func TestFileReadPastEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.PwriteAt(0, []byte("ab")))
	got, err := f.PreadAt(0, 10)
	require.Error(t, err)
	require.Equal(t, []byte("ab"), got)
}
