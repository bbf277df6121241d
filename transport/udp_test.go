package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUDPTransportSendRecvRoundTrip(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	n, err := a.SendBatch([]Packet{{Addr: b.LocalAddr(), Data: []byte("hello")}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	into := make([]Packet, 4)
	count, err := b.RecvBatch(into)
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 1)
	require.Equal(t, []byte("hello"), into[0].Data)
}

func TestUDPTransportLocalAddr(t *testing.T) {
	tr, err := ListenUDP("127.0.0.1:0")
	require.NoError(t, err)
	defer tr.Close()
	require.NotEmpty(t, tr.LocalAddr().String())
}
