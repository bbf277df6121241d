// Package transport provides reference implementations of the two
// interfaces the core protocol packages consume but never construct
// themselves: a batched datagram transport and a file I/O backend.
// Kernel-bypass (AF_XDP/io_uring) backends would satisfy the same
// interfaces; only the ordinary-syscall path is implemented here.
// Generalized from sockatz/common/conn.go's net.PacketConn-shaped
// wrapper, narrowed to plain UDP.
package transport

import (
	"net"
	"time"
)

// Packet is one datagram with its peer address, the unit recv_batch and
// send_batch operate on.
type Packet struct {
	Addr net.Addr
	Data []byte
}

// Datagram is the transport interface the session/streammux layer
// consumes: recv_batch/send_batch/local_addr, independent of whether the
// implementation is ordinary UDP or a kernel-bypass UMEM ring.
type Datagram interface {
	RecvBatch(into []Packet) (int, error)
	SendBatch(from []Packet) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// UDPTransport is the ordinary-socket reference implementation.
type UDPTransport struct {
	conn *net.UDPConn
}

// ListenUDP opens a UDP socket at addr ("" for any interface, ":0" for
// any interface with an ephemeral port).
func ListenUDP(addr string) (*UDPTransport, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &UDPTransport{conn: conn}, nil
}

// RecvBatch reads up to len(into) datagrams, blocking until at least one
// arrives or the read deadline (if any) elapses.
func (t *UDPTransport) RecvBatch(into []Packet) (int, error) {
	if len(into) == 0 {
		return 0, nil
	}

	buf := make([]byte, 65507)
	n, addr, err := t.conn.ReadFrom(buf)
	if err != nil {
		return 0, err
	}
	into[0] = Packet{Addr: addr, Data: append([]byte(nil), buf[:n]...)}
	count := 1

	for count < len(into) {
		t.conn.SetReadDeadline(time.Now())
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			break
		}
		into[count] = Packet{Addr: addr, Data: append([]byte(nil), buf[:n]...)}
		count++
	}
	t.conn.SetReadDeadline(time.Time{})
	return count, nil
}

// SendBatch writes each packet in from in order, stopping at the first
// error and returning how many were sent successfully.
func (t *UDPTransport) SendBatch(from []Packet) (int, error) {
	for i, p := range from {
		if _, err := t.conn.WriteTo(p.Data, p.Addr); err != nil {
			return i, err
		}
	}
	return len(from), nil
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// Close releases the underlying socket.
func (t *UDPTransport) Close() error { return t.conn.Close() }
