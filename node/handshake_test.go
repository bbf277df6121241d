package node

import (
	"context"
	"crypto/rand"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wraithnet/wraith/identity"
	"github.com/wraithnet/wraith/session"
)

// pipeTransport is an in-memory HandshakeTransport pairing two directional
// channels, standing in for a real discovery-resolved Datagram.
type pipeTransport struct {
	send chan<- []byte
	recv <-chan []byte
}

func (p *pipeTransport) Send(ctx context.Context, msg []byte) error {
	select {
	case p.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-p.recv:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newPipePair() (*pipeTransport, *pipeTransport) {
	ab := make(chan []byte, 4)
	ba := make(chan []byte, 4)
	return &pipeTransport{send: ab, recv: ba}, &pipeTransport{send: ba, recv: ab}
}

func newAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestHandshakeRoundTripProducesMatchingActiveSessions(t *testing.T) {
	initID, err := identity.Generate(rand.Reader)
	require.NoError(t, err)
	respID, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	initT, respT := newPipePair()

	type result struct {
		sess *session.Session
		err  error
	}
	initCh := make(chan result, 1)
	respCh := make(chan result, 1)

	go func() {
		s, err := runInitiatorHandshake(context.Background(), initID, respID.NodeID, session.Config{}, newAddr(1), initT)
		initCh <- result{s, err}
	}()
	go func() {
		s, err := runResponderHandshake(context.Background(), respID, session.Config{}, newAddr(2), respT)
		respCh <- result{s, err}
	}()

	initRes := <-initCh
	respRes := <-respCh

	require.NoError(t, initRes.err)
	require.NoError(t, respRes.err)

	require.Equal(t, session.Active, initRes.sess.State())
	require.Equal(t, session.Active, respRes.sess.State())
	require.Equal(t, initRes.sess.CID, respRes.sess.CID)
}
