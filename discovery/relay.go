package discovery

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	quic "github.com/quic-go/quic-go"
)

// RelaySelection picks which relay to use among several candidates.
type RelaySelection int

const (
	RelayLowestLatency RelaySelection = iota
	RelayLowestLoad
	RelayHighestPriority
	RelayBalanced
)

// RelayCandidate is one known relay server, carrying the metrics a
// Selection strategy weighs.
type RelayCandidate struct {
	Addr      string
	LatencyMS float64
	LoadPct   float64
	Priority  int
}

// PickRelay selects one candidate from candidates per strategy. Balanced
// combines latency and load with equal weight, favoring low values of
// both.
func PickRelay(candidates []RelayCandidate, strategy RelaySelection) (RelayCandidate, bool) {
	if len(candidates) == 0 {
		return RelayCandidate{}, false
	}

	best := candidates[0]
	bestScore := relayScore(best, strategy)
	for _, c := range candidates[1:] {
		score := relayScore(c, strategy)
		if score < bestScore {
			best = c
			bestScore = score
		}
	}
	return best, true
}

func relayScore(c RelayCandidate, strategy RelaySelection) float64 {
	switch strategy {
	case RelayLowestLatency:
		return c.LatencyMS
	case RelayLowestLoad:
		return c.LoadPct
	case RelayHighestPriority:
		return -float64(c.Priority)
	default: // RelayBalanced
		return 0.5*c.LatencyMS + 0.5*c.LoadPct
	}
}

// RelayClient forwards stream bytes through a relay server over QUIC
// when direct connectivity and hole punching both fail. Generalized
// from sockatz's QUICProxyConn dial/accept idiom, simplified to operate
// over an ordinary net.PacketConn rather than a custom in-process one.
type RelayClient struct {
	packetConn net.PacketConn
	tlsConf    *tls.Config
	qcfg       *quic.Config
}

// NewRelayClient builds a client bound to an already-opened UDP socket.
func NewRelayClient(packetConn net.PacketConn, tlsConf *tls.Config) *RelayClient {
	return &RelayClient{packetConn: packetConn, tlsConf: tlsConf, qcfg: &quic.Config{}}
}

// ErrRelayAddrRequired is returned when Connect is called without a
// target relay address.
var ErrRelayAddrRequired = errors.New("discovery: relay address required")

// Connect dials the relay at addr and opens one stream used to forward
// one peer-to-peer session's bytes.
func (r *RelayClient) Connect(ctx context.Context, addr net.Addr) (quicStream, error) {
	if addr == nil {
		return quicStream{}, ErrRelayAddrRequired
	}
	conn, err := quic.Dial(ctx, r.packetConn, addr, r.tlsConf, r.qcfg)
	if err != nil {
		return quicStream{}, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return quicStream{}, err
	}
	return quicStream{conn: conn, Stream: stream}, nil
}

// Listen accepts relayed connections on the local socket, used by a
// relay server (or a peer acting as a rendezvous point) to accept
// forwarded sessions.
func (r *RelayClient) Listen(ctx context.Context) (*quic.Listener, error) {
	return quic.Listen(r.packetConn, r.tlsConf, r.qcfg)
}

// quicStream bundles a QUIC stream with its parent connection so the
// caller can close both together.
type quicStream struct {
	conn quic.Connection
	quic.Stream
}

// Close closes the stream and its underlying connection.
func (s quicStream) Close() error {
	err := s.Stream.Close()
	if s.conn != nil {
		_ = s.conn.CloseWithError(0, "done")
	}
	return err
}
