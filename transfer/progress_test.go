package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressFractionAndSpeed(t *testing.T) {
	p := NewProgress(1000)
	now := time.Now()
	p.Add(now, 100)
	require.InDelta(t, 0.1, p.Fraction(), 0.0001)

	p.Add(now.Add(1100*time.Millisecond), 400)
	require.Greater(t, p.Speed(), 0.0)
}

func TestProgressETAUnknownWithoutSpeed(t *testing.T) {
	p := NewProgress(1000)
	_, ok := p.ETA()
	require.False(t, ok)
}

func TestProgressETAComputedOnceSpeedKnown(t *testing.T) {
	p := NewProgress(1000)
	now := time.Now()
	p.Add(now, 100)
	p.Add(now.Add(2*time.Second), 300)

	eta, ok := p.ETA()
	require.True(t, ok)
	require.Greater(t, eta, time.Duration(0))
}
