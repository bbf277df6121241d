package node

import (
	"context"
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/wraithnet/wraith/discovery"
	"github.com/wraithnet/wraith/identity"
)

// ErrRPCDialFailed wraps any transport-level failure reaching a peer for
// a DHT RPC, distinct from a peer reachably answering "nothing found".
var ErrRPCDialFailed = errors.New("node: dht rpc dial failed")

// findNodeRequest/findNodeResponse are the CBOR-encoded wire messages
// for one find_node round trip, the RPC half of discovery.Lookup's
// iterative algorithm.
type findNodeRequest struct {
	Target identity.NodeID
}

type findNodeResponse struct {
	Peers []discovery.PeerRecord
}

// RPCDialer reaches one peer address with an already-encoded request
// and returns its already-encoded response. A real implementation backs
// this with transport.Datagram request/response framing; tests back it
// with an in-memory peer map.
type RPCDialer interface {
	Roundtrip(ctx context.Context, addr string, request []byte) ([]byte, error)
}

// NewFindNodeQuery builds a discovery.QueryFunc that encodes a
// find_node request as CBOR, round-trips it through dialer, and decodes
// the response, giving discovery.Lookup's iterative fan-out an actual
// wire format to drive.
func NewFindNodeQuery(dialer RPCDialer) discovery.QueryFunc {
	return func(ctx context.Context, peer *discovery.PeerRecord, target identity.NodeID) ([]*discovery.PeerRecord, error) {
		reqBytes, err := cbor.Marshal(findNodeRequest{Target: target})
		if err != nil {
			return nil, err
		}

		respBytes, err := dialer.Roundtrip(ctx, peer.Addr, reqBytes)
		if err != nil {
			return nil, errors.Join(ErrRPCDialFailed, err)
		}

		var resp findNodeResponse
		if err := cbor.Unmarshal(respBytes, &resp); err != nil {
			return nil, err
		}

		out := make([]*discovery.PeerRecord, len(resp.Peers))
		for i := range resp.Peers {
			p := resp.Peers[i]
			out[i] = &p
		}
		return out, nil
	}
}

// HandleFindNode decodes an inbound find_node request, answers it from
// table's own view, and returns the CBOR-encoded response — the
// responder side of NewFindNodeQuery's RPC.
func HandleFindNode(table *discovery.Table, requestBytes []byte) ([]byte, error) {
	var req findNodeRequest
	if err := cbor.Unmarshal(requestBytes, &req); err != nil {
		return nil, err
	}

	nearest := table.Nearest(req.Target, discovery.BucketSize)
	resp := findNodeResponse{Peers: make([]discovery.PeerRecord, len(nearest))}
	for i, p := range nearest {
		resp.Peers[i] = *p
	}

	return cbor.Marshal(resp)
}
