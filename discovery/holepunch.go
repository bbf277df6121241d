package discovery

import (
	"context"
	"errors"
	"net"
	"time"
)

// Candidate is one address a peer might be reachable at, gathered from
// its local socket, its STUN-reflected mapping, or a relay-learned
// observation. ICE-lite here means we don't negotiate a full candidate
// pair priority table — we just try every candidate at once and keep
// whichever answers first.
type Candidate struct {
	Addr string
	Kind string // "host", "srflx", "relay"
}

// ErrNoCandidates is returned when punch is given nothing to try.
var ErrNoCandidates = errors.New("discovery: no hole-punch candidates")

// Puncher drives simultaneous-open UDP hole punching: both sides learn
// each other's candidates out of band (typically via the DHT or a
// relay-mediated signaling exchange) and fire packets at all of them at
// once, since a NAT's outbound packet opens the return path needed for
// the peer's reply to arrive.
type Puncher struct {
	conn    *net.UDPConn
	probe   []byte
	timeout time.Duration
}

// NewPuncher builds a Puncher bound to an already-open UDP socket. probe
// is the marker payload sent to each candidate and expected back from
// whichever one answers.
func NewPuncher(conn *net.UDPConn, probe []byte) *Puncher {
	return &Puncher{conn: conn, probe: probe, timeout: 2 * time.Second}
}

// Punch transmits the probe to every candidate concurrently, then
// listens for a probe-matching reply, returning whichever candidate
// address answered. If no candidate is reachable within ctx's deadline,
// it returns a timeout error so the caller can fall back to relay.
func (p *Puncher) Punch(ctx context.Context, candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrNoCandidates
	}

	resolved := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		addr, err := net.ResolveUDPAddr("udp", c.Addr)
		if err != nil {
			continue
		}
		resolved[addr.String()] = c
		p.conn.WriteTo(p.probe, addr)
	}
	if len(resolved) == 0 {
		return Candidate{}, ErrNoCandidates
	}

	deadline := time.Now().Add(p.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	p.conn.SetReadDeadline(deadline)

	buf := make([]byte, len(p.probe))
	for {
		n, raddr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			return Candidate{}, err
		}
		if n != len(p.probe) {
			continue
		}
		if c, ok := resolved[raddr.String()]; ok {
			return c, nil
		}
	}
}

// Respond answers every probe received on conn with the same payload,
// the simultaneous-open handshake's second half. It runs until ctx is
// canceled.
func Respond(ctx context.Context, conn *net.UDPConn, probe []byte) {
	buf := make([]byte, len(probe)+64)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		conn.WriteTo(buf[:n], raddr)
	}
}
