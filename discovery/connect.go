package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/charmbracelet/log"
)

// ConnectMethod names which fallback tier actually produced a
// connection, for logging and metrics.
type ConnectMethod int

const (
	MethodDirect ConnectMethod = iota
	MethodDHTSupplied
	MethodHolePunch
	MethodRelay
)

func (m ConnectMethod) String() string {
	switch m {
	case MethodDirect:
		return "direct"
	case MethodDHTSupplied:
		return "dht"
	case MethodHolePunch:
		return "holepunch"
	case MethodRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// ErrAllMethodsFailed is returned when direct, DHT, hole punch, and
// relay all fail to establish reachability.
var ErrAllMethodsFailed = errors.New("discovery: direct, DHT, hole-punch and relay all failed")

// Connector tries each reachability method in order, each bounded by its
// own timeout, stopping at the first success. It is the component that
// implements the direct -> DHT-supplied -> hole-punch -> relay ordering.
type Connector struct {
	log *log.Logger

	// DirectAddr is a known, previously-successful address to try first,
	// if any.
	DirectAddr string

	Table      *Table
	Puncher    *Puncher
	RelayAddrs []RelayCandidate

	DirectTimeout    time.Duration
	DHTTimeout       time.Duration
	HolePunchTimeout time.Duration
	RelayTimeout     time.Duration
}

// NewConnector builds a Connector with conservative per-tier timeouts.
func NewConnector(table *Table) *Connector {
	return &Connector{
		log:              log.Default().With("component", "connector"),
		Table:            table,
		DirectTimeout:    2 * time.Second,
		DHTTimeout:       3 * time.Second,
		HolePunchTimeout: 2 * time.Second,
		RelayTimeout:     5 * time.Second,
	}
}

// tryDirect attempts a plain UDP round trip to DirectAddr.
func (c *Connector) tryDirect(ctx context.Context) (net.Addr, bool) {
	if c.DirectAddr == "" {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, c.DirectTimeout)
	defer cancel()

	addr, err := net.ResolveUDPAddr("udp", c.DirectAddr)
	if err != nil {
		return nil, false
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, false
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	conn.SetDeadline(deadline)
	if _, err := conn.Write([]byte("ping")); err != nil {
		return nil, false
	}
	buf := make([]byte, 4)
	if _, err := conn.Read(buf); err != nil {
		return nil, false
	}
	return addr, true
}

// Connect runs the fallback ladder for target, returning whichever
// address and method succeeded first.
func (c *Connector) Connect(ctx context.Context, target DialTarget) (net.Addr, ConnectMethod, error) {
	if addr, ok := c.tryDirect(ctx); ok {
		return addr, MethodDirect, nil
	}

	if target.DHTAddr != "" {
		dctx, cancel := context.WithTimeout(ctx, c.DHTTimeout)
		addr, err := net.ResolveUDPAddr("udp", target.DHTAddr)
		cancel()
		if err == nil {
			if c.pingable(dctx, addr) {
				return addr, MethodDHTSupplied, nil
			}
		}
	}

	if c.Puncher != nil && len(target.Candidates) > 0 {
		pctx, cancel := context.WithTimeout(ctx, c.HolePunchTimeout)
		cand, err := c.Puncher.Punch(pctx, target.Candidates)
		cancel()
		if err == nil {
			addr, resolveErr := net.ResolveUDPAddr("udp", cand.Addr)
			if resolveErr == nil {
				return addr, MethodHolePunch, nil
			}
		}
	}

	if len(c.RelayAddrs) > 0 {
		relay, ok := PickRelay(c.RelayAddrs, RelayBalanced)
		if ok {
			addr, err := net.ResolveUDPAddr("udp", relay.Addr)
			if err == nil {
				return addr, MethodRelay, nil
			}
		}
	}

	return nil, 0, ErrAllMethodsFailed
}

func (c *Connector) pingable(ctx context.Context, addr *net.UDPAddr) bool {
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return false
	}
	defer conn.Close()
	deadline, ok := ctx.Deadline()
	if ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte("ping")); err != nil {
		return false
	}
	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	return err == nil
}

// DialTarget bundles every address hint known about a peer before
// connecting: an address the DHT returned for it, and a set of
// hole-punch candidates gathered during rendezvous.
type DialTarget struct {
	DHTAddr    string
	Candidates []Candidate
}
