package tqueue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpiredOrdering(t *testing.T) {
	q := New()
	q.Push(30, "c")
	q.Push(10, "a")
	q.Push(20, "b")

	got := q.Expired(25)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].Value)
	require.Equal(t, "b", got[1].Value)
	require.Equal(t, 1, q.Len())

	rest := q.Expired(100)
	require.Len(t, rest, 1)
	require.Equal(t, "c", rest[0].Value)
	require.Equal(t, 0, q.Len())
}

func TestCancelPreventsExpiry(t *testing.T) {
	q := New()
	e := q.Push(10, "a")
	q.Cancel(e)
	require.Equal(t, 0, q.Len())
	require.Empty(t, q.Expired(100))
}
