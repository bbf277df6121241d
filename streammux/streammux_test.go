package streammux

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wraithnet/wraith/wire"
)

func TestOpenStreamIDParity(t *testing.T) {
	initMux := NewMux(true)
	respMux := NewMux(false)

	a := initMux.OpenStream(PriorityBulk)
	b := initMux.OpenStream(PriorityBulk)
	require.Equal(t, uint32(2), a.ID())
	require.Equal(t, uint32(4), b.ID())

	c := respMux.OpenStream(PriorityBulk)
	require.Equal(t, uint32(1), c.ID())
}

func TestWriteFragmentsAndSchedules(t *testing.T) {
	m := NewMux(true)
	s := m.OpenStream(PriorityInteractive)

	payload := make([]byte, 3000)
	n, err := s.Write(payload)
	require.NoError(t, err)
	require.Equal(t, 3000, n)

	total := 0
	for {
		f, ok := m.popFrom(PriorityInteractive)
		if !ok {
			break
		}
		total += len(f.payload)
		require.Equal(t, wire.TypeStreamData, f.header.Type)
	}
	require.Equal(t, 3000, total)
}

func TestWriteRejectsOverWindow(t *testing.T) {
	m := NewMux(true)
	s := m.OpenStream(PriorityBulk)
	_, err := s.Write(make([]byte, DefaultStreamWindow+1))
	require.ErrorIs(t, err, ErrWindowExceeded)
}

func TestSchedulerPrefersHigherPriority(t *testing.T) {
	m := NewMux(true)
	bulk := m.OpenStream(PriorityBulk)
	ctrl := m.OpenStream(PriorityControl)

	_, err := bulk.Write([]byte("bulk"))
	require.NoError(t, err)
	_, err = ctrl.Write([]byte("ctrl"))
	require.NoError(t, err)

	f, ok := m.Next()
	require.True(t, ok)
	require.Equal(t, ctrl.ID(), f.streamID)

	f, ok = m.Next()
	require.True(t, ok)
	require.Equal(t, bulk.ID(), f.streamID)
}

func TestDeliverInOrder(t *testing.T) {
	m := NewMux(false)
	m.HandleFrame(wire.Header{Type: wire.TypeStreamData, StreamID: 2, Offset: 0}, []byte("hello "))
	m.HandleFrame(wire.Header{Type: wire.TypeStreamData, StreamID: 2, Offset: 6}, []byte("world"))

	buf := make([]byte, 32)
	n, err := m.Stream(2).Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestDeliverOutOfOrderReassembles(t *testing.T) {
	m := NewMux(false)
	m.HandleFrame(wire.Header{Type: wire.TypeStreamData, StreamID: 2, Offset: 6}, []byte("world"))
	m.HandleFrame(wire.Header{Type: wire.TypeStreamData, StreamID: 2, Offset: 0}, []byte("hello "))

	buf := make([]byte, 32)
	n, err := m.Stream(2).Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(buf[:n]))
}

func TestFinBothSidesClosesStream(t *testing.T) {
	m := NewMux(true)
	s := m.OpenStream(PriorityBulk)
	require.NoError(t, s.CloseWrite())
	require.Equal(t, StreamHalfClosedLocal, s.State())

	s.handleFin()
	require.Equal(t, StreamClosed, s.State())
}

func TestAckGrantsCredit(t *testing.T) {
	m := NewMux(true)
	s := m.OpenStream(PriorityBulk)
	_, err := s.Write(make([]byte, DefaultStreamWindow))
	require.NoError(t, err)

	_, err = s.Write([]byte("x"))
	require.ErrorIs(t, err, ErrWindowExceeded)

	m.HandleAck(s.ID(), 10)
	_, err = s.Write([]byte("x"))
	require.NoError(t, err)
}
