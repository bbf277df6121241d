package discovery

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wraithnet/wraith/identity"
)

func TestBoltPersisterSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.db")
	p, err := OpenBoltPersister(path)
	require.NoError(t, err)
	defer p.Close()

	var id identity.NodeID
	id[0] = 42
	rec := &PeerRecord{ID: id, Addr: "203.0.113.5:9000", LastSeen: time.Now().Truncate(time.Second)}
	require.NoError(t, p.SavePeer(rec))

	loaded, err := p.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, rec.ID, loaded[0].ID)
	require.Equal(t, rec.Addr, loaded[0].Addr)
	require.True(t, rec.LastSeen.Equal(loaded[0].LastSeen))
}

func TestBoltPersisterReopenPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.db")
	p, err := OpenBoltPersister(path)
	require.NoError(t, err)

	var id identity.NodeID
	id[1] = 7
	require.NoError(t, p.SavePeer(&PeerRecord{ID: id, Addr: "198.51.100.1:1", LastSeen: time.Now()}))
	require.NoError(t, p.Close())

	p2, err := OpenBoltPersister(path)
	require.NoError(t, err)
	defer p2.Close()

	loaded, err := p2.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
}
