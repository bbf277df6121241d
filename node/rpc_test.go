package node

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wraithnet/wraith/discovery"
	"github.com/wraithnet/wraith/identity"
)

// loopbackDialer answers a find_node RPC directly against an in-memory
// table, standing in for a real network round trip.
type loopbackDialer struct {
	table *discovery.Table
}

func (d *loopbackDialer) Roundtrip(ctx context.Context, addr string, request []byte) ([]byte, error) {
	return HandleFindNode(d.table, request)
}

func TestFindNodeRPCRoundTrip(t *testing.T) {
	var self identity.NodeID
	table := discovery.NewTable(self, 0)

	peerA := powSatisfyingID(0x01)
	peerB := powSatisfyingID(0x02)
	require.True(t, table.Add(&discovery.PeerRecord{ID: peerA, Addr: "10.0.0.1:9000"}))
	require.True(t, table.Add(&discovery.PeerRecord{ID: peerB, Addr: "10.0.0.2:9000"}))

	query := NewFindNodeQuery(&loopbackDialer{table: table})

	target, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	results, err := query(context.Background(), &discovery.PeerRecord{Addr: "10.0.0.1:9000"}, target.NodeID)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

type failingDialer struct{}

func (failingDialer) Roundtrip(ctx context.Context, addr string, request []byte) ([]byte, error) {
	return nil, context.DeadlineExceeded
}

func TestFindNodeRPCWrapsDialFailure(t *testing.T) {
	query := NewFindNodeQuery(failingDialer{})
	_, err := query(context.Background(), &discovery.PeerRecord{Addr: "10.0.0.1:9000"}, identity.NodeID{})
	require.ErrorIs(t, err, ErrRPCDialFailed)
}
