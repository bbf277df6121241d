package discovery

import (
	"errors"
	"net"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// PortMapper requests an external port mapping from the local gateway,
// trying NAT-PMP first and falling back to UPnP IGDv1, following the
// same fallback order as Synnergy's NATManager.
type PortMapper struct {
	ip   net.IP
	pmp  *natpmp.Client
	upnp *internetgateway1.WANIPConnection1

	mappedPort int
}

// ErrGatewayNotFound is returned when neither NAT-PMP nor UPnP can reach
// a gateway.
var ErrGatewayNotFound = errors.New("discovery: gateway not found")

// NewPortMapper discovers the local gateway and its externally visible
// IP address.
func NewPortMapper() (*PortMapper, error) {
	m := &PortMapper{}

	if gw, err := gateway.DiscoverGateway(); err == nil {
		m.pmp = natpmp.NewClient(gw)
		if res, err := m.pmp.GetExternalAddress(); err == nil {
			m.ip = net.IPv4(
				res.ExternalIPAddress[0],
				res.ExternalIPAddress[1],
				res.ExternalIPAddress[2],
				res.ExternalIPAddress[3],
			)
		}
	}

	if m.ip == nil {
		if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
			m.upnp = clients[0]
			if ipStr, err := m.upnp.GetExternalIPAddress(); err == nil {
				m.ip = net.ParseIP(ipStr)
			}
		}
	}

	if m.ip == nil {
		return nil, ErrGatewayNotFound
	}
	return m, nil
}

// ExternalIP returns the gateway-reported public address.
func (m *PortMapper) ExternalIP() net.IP { return m.ip }

// Map requests a UDP port mapping for lifetimeSeconds, trying NAT-PMP
// then UPnP.
func (m *PortMapper) Map(port int, lifetimeSeconds uint32) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("udp", port, port, int(lifetimeSeconds)); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	if m.upnp != nil {
		if err := m.upnp.AddPortMapping("", uint16(port), "UDP", uint16(port), m.ip.String(), true, "wraith", lifetimeSeconds); err == nil {
			m.mappedPort = port
			return nil
		}
	}
	return errors.New("discovery: port mapping failed")
}

// Unmap tears down a previously requested mapping.
func (m *PortMapper) Unmap() error {
	if m.mappedPort == 0 {
		return nil
	}
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("udp", m.mappedPort, m.mappedPort, 0); err != nil {
			return err
		}
		m.mappedPort = 0
		return nil
	}
	if m.upnp != nil {
		if err := m.upnp.DeletePortMapping("", uint16(m.mappedPort), "UDP"); err != nil {
			return err
		}
		m.mappedPort = 0
	}
	return nil
}
