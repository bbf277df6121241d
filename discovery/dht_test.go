package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wraithnet/wraith/identity"
)

func idWithPrefix(zeroBits int, tail byte) identity.NodeID {
	var id identity.NodeID
	checked := 0
	for i := range id {
		for bit := 7; bit >= 0; bit-- {
			if checked >= zeroBits {
				id[i] |= tail & (1 << uint(bit))
			}
			checked++
		}
	}
	return id
}

func TestHasProofOfWorkRequiresLeadingZeroBits(t *testing.T) {
	good := idWithPrefix(DefaultPoWBits, 0xFF)
	require.True(t, HasProofOfWork(good, DefaultPoWBits))

	var bad identity.NodeID
	bad[0] = 0xFF
	require.False(t, HasProofOfWork(bad, DefaultPoWBits))
}

func TestTableAddRejectsWeakIdentity(t *testing.T) {
	var self identity.NodeID
	self[0] = 1
	table := NewTable(self, DefaultPoWBits)

	var weak identity.NodeID
	weak[0] = 0xFF
	ok := table.Add(&PeerRecord{ID: weak, Addr: "10.0.0.1:9000", LastSeen: time.Now()})
	require.False(t, ok)
}

func TestTableAddAndNearest(t *testing.T) {
	var self identity.NodeID
	self[0] = 1
	table := NewTable(self, 0)

	peers := make([]identity.NodeID, 5)
	for i := range peers {
		var p identity.NodeID
		p[0] = byte(2 + i)
		peers[i] = p
		require.True(t, table.Add(&PeerRecord{ID: p, Addr: "peer", LastSeen: time.Now()}))
	}

	nearest := table.Nearest(self, 3)
	require.Len(t, nearest, 3)
}

func TestTableAddUpdatesExisting(t *testing.T) {
	var self identity.NodeID
	self[0] = 1
	table := NewTable(self, 0)

	var p identity.NodeID
	p[0] = 9
	require.True(t, table.Add(&PeerRecord{ID: p, Addr: "old", LastSeen: time.Now()}))
	require.True(t, table.Add(&PeerRecord{ID: p, Addr: "new", LastSeen: time.Now()}))

	nearest := table.Nearest(p, 1)
	require.Len(t, nearest, 1)
	require.Equal(t, "new", nearest[0].Addr)
}

func TestTableMarkStaleAllowsEviction(t *testing.T) {
	var self identity.NodeID
	self[0] = 1
	table := NewTable(self, 0)

	idx := table.bucketIndex(identity.NodeID{1: 1})
	b := table.buckets[idx]
	for len(b.peers) < BucketSize {
		var p identity.NodeID
		p[1] = byte(len(b.peers) + 1)
		table.Add(&PeerRecord{ID: p, Addr: "x", LastSeen: time.Now()})
	}
	require.Len(t, b.peers, BucketSize)

	table.MarkStale(b.peers[0].ID)

	var fresh identity.NodeID
	fresh[1] = 200
	ok := table.Add(&PeerRecord{ID: fresh, Addr: "fresh", LastSeen: time.Now()})
	require.True(t, ok)
}

func TestStorePutGet(t *testing.T) {
	s := NewStore()
	key := [32]byte{1, 2, 3}
	_, ok := s.Get(key)
	require.False(t, ok)

	s.Put(key, []byte("hello"))
	v, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)
}
