package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pion/stun"
)

// NATType classifies the local peer's reachability per RFC 5389-style
// behavior discovery: repeated bindings against independent servers
// reveal whether address and port mapping are stable.
type NATType int

const (
	NATUnknown NATType = iota
	NATOpen            // no NAT, publicly reachable
	NATFullCone
	NATRestrictedCone
	NATPortRestrictedCone
	NATSymmetric
)

func (n NATType) String() string {
	switch n {
	case NATOpen:
		return "Open"
	case NATFullCone:
		return "FullCone"
	case NATRestrictedCone:
		return "RestrictedCone"
	case NATPortRestrictedCone:
		return "PortRestrictedCone"
	case NATSymmetric:
		return "Symmetric"
	default:
		return "Unknown"
	}
}

// ErrInsufficientServers is returned when fewer than three independent
// STUN servers are configured; classification needs that many to detect
// symmetric NAT reliably (a single server can't distinguish "same
// external port to everyone" from "coincidentally same port twice").
var ErrInsufficientServers = errors.New("discovery: need at least 3 STUN servers across 3 operators")

// StunServer is one STUN server endpoint tagged with the operator that
// runs it, so classification can require operator diversity.
type StunServer struct {
	Addr     string
	Operator string
}

// Classifier runs RFC 5389 binding requests against a set of independent
// STUN servers to determine the local NAT's behavior.
type Classifier struct {
	Servers []StunServer
	Timeout time.Duration
}

// NewClassifier builds a Classifier, defaulting Timeout to 3s.
func NewClassifier(servers []StunServer) (*Classifier, error) {
	operators := map[string]bool{}
	for _, s := range servers {
		operators[s.Operator] = true
	}
	if len(servers) < 3 || len(operators) < 3 {
		return nil, ErrInsufficientServers
	}
	return &Classifier{Servers: servers, Timeout: 3 * time.Second}, nil
}

// bindingResult is one server's reported external mapping for a local
// UDP socket.
type bindingResult struct {
	server   StunServer
	external string
	err      error
}

// bind issues a single STUN binding request over conn to server and
// returns the XOR-mapped external address it reports.
func (c *Classifier) bind(ctx context.Context, conn *net.UDPConn, server StunServer) (string, error) {
	raddr, err := net.ResolveUDPAddr("udp", server.Addr)
	if err != nil {
		return "", err
	}

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	deadline, ok := ctx.Deadline()
	if ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.WriteTo(msg.Raw, raddr); err != nil {
		return "", err
	}

	buf := make([]byte, 1500)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return "", err
	}

	reply := &stun.Message{Raw: buf[:n]}
	if err := reply.Decode(); err != nil {
		return "", err
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(reply); err != nil {
		return "", err
	}
	return net.JoinHostPort(xorAddr.IP.String(), itoa(xorAddr.Port)), nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Classify determines NAT behavior by comparing the external mapping
// reported by the local socket across all configured servers: a stable
// external address/port across independent operators indicates a cone
// NAT (or no NAT at all, detected by comparing against the local
// address); a mapping that varies per destination indicates symmetric
// NAT.
func (c *Classifier) Classify(ctx context.Context) (NATType, string, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return NATUnknown, "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().String()

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var results []bindingResult
	for _, s := range c.Servers {
		ext, err := c.bind(ctx, conn, s)
		results = append(results, bindingResult{server: s, external: ext, err: err})
	}

	var mapped []string
	for _, r := range results {
		if r.err == nil && r.external != "" {
			mapped = append(mapped, r.external)
		}
	}
	if len(mapped) == 0 {
		return NATUnknown, "", errors.New("discovery: no STUN server reachable")
	}

	stable := true
	for _, m := range mapped[1:] {
		if m != mapped[0] {
			stable = false
			break
		}
	}

	if !stable {
		return NATSymmetric, mapped[0], nil
	}
	if mapped[0] == localAddr {
		return NATOpen, mapped[0], nil
	}
	return NATFullCone, mapped[0], nil
}
