package node

import (
	"context"
	"crypto/rand"
	"net"

	"github.com/wraithnet/wraith/identity"
	"github.com/wraithnet/wraith/session"
)

// HandshakeTransport is the minimal send/receive surface establish_session
// needs to drive the three-message exchange; a real caller backs it with
// a discovery-resolved address over transport.Datagram, a test backs it
// with an in-memory pipe.
type HandshakeTransport interface {
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// runInitiatorHandshake drives the full msg1/msg2/msg3 exchange as the
// initiating side and returns a Session in Active state.
func runInitiatorHandshake(ctx context.Context, id *identity.Identity, peerID identity.NodeID, cfg session.Config, addr net.Addr, t HandshakeTransport) (*session.Session, error) {
	hs, err := session.NewHandshake(rand.Reader, nil, id, true)
	if err != nil {
		return nil, err
	}

	msg1, err := hs.WriteMsg1()
	if err != nil {
		return nil, err
	}
	if err := t.Send(ctx, msg1); err != nil {
		return nil, err
	}

	msg2, err := t.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if err := hs.ReadMsg2(msg2); err != nil {
		return nil, err
	}

	msg3, err := hs.WriteMsg3()
	if err != nil {
		return nil, err
	}
	if err := t.Send(ctx, msg3); err != nil {
		return nil, err
	}

	sess := session.NewSession(cfg, peerID, addr, true)
	if err := sess.BeginHandshake(); err != nil {
		return nil, err
	}
	if err := sess.CompleteHandshake(hs, hs.ChainKey(), hs.EphemeralPrivate(), hs.PeerEphemeral()); err != nil {
		return nil, err
	}
	sess.CID = session.DeriveCID(hs.ChainKey())
	return sess, nil
}

// runResponderHandshake drives the exchange as the responding side.
func runResponderHandshake(ctx context.Context, id *identity.Identity, cfg session.Config, addr net.Addr, t HandshakeTransport) (*session.Session, error) {
	hs, err := session.NewHandshake(rand.Reader, nil, id, false)
	if err != nil {
		return nil, err
	}

	msg1, err := t.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if err := hs.ReadMsg1(msg1); err != nil {
		return nil, err
	}

	msg2, err := hs.WriteMsg2()
	if err != nil {
		return nil, err
	}
	if err := t.Send(ctx, msg2); err != nil {
		return nil, err
	}

	msg3, err := t.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if err := hs.ReadMsg3(msg3); err != nil {
		return nil, err
	}

	sess := session.NewSession(cfg, hs.PeerStatic(), addr, false)
	if err := sess.BeginHandshake(); err != nil {
		return nil, err
	}
	if err := sess.CompleteHandshake(hs, hs.ChainKey(), hs.EphemeralPrivate(), hs.PeerEphemeral()); err != nil {
		return nil, err
	}
	sess.CID = session.DeriveCID(hs.ChainKey())
	return sess, nil
}
