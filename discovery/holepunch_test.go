package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPunchFindsRespondingCandidate(t *testing.T) {
	responder, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer responder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Respond(ctx, responder, []byte("ping-probe"))

	puncher, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer puncher.Close()

	p := NewPuncher(puncher, []byte("ping-probe"))
	decoy := net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	candidates := []Candidate{
		{Addr: decoy.String(), Kind: "host"},
		{Addr: responder.LocalAddr().String(), Kind: "host"},
	}

	pctx, pcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer pcancel()
	got, err := p.Punch(pctx, candidates)
	require.NoError(t, err)
	require.Equal(t, responder.LocalAddr().String(), got.Addr)
}

func TestPunchNoCandidates(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	p := NewPuncher(conn, []byte("x"))
	_, err = p.Punch(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoCandidates)
}
