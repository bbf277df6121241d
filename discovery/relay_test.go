package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPickRelayLowestLatency(t *testing.T) {
	candidates := []RelayCandidate{
		{Addr: "a", LatencyMS: 50, LoadPct: 10, Priority: 1},
		{Addr: "b", LatencyMS: 10, LoadPct: 90, Priority: 1},
	}
	best, ok := PickRelay(candidates, RelayLowestLatency)
	require.True(t, ok)
	require.Equal(t, "b", best.Addr)
}

func TestPickRelayHighestPriority(t *testing.T) {
	candidates := []RelayCandidate{
		{Addr: "a", Priority: 1},
		{Addr: "b", Priority: 9},
	}
	best, ok := PickRelay(candidates, RelayHighestPriority)
	require.True(t, ok)
	require.Equal(t, "b", best.Addr)
}

func TestPickRelayEmpty(t *testing.T) {
	_, ok := PickRelay(nil, RelayBalanced)
	require.False(t, ok)
}

func TestPickRelayBalanced(t *testing.T) {
	candidates := []RelayCandidate{
		{Addr: "a", LatencyMS: 100, LoadPct: 100},
		{Addr: "b", LatencyMS: 20, LoadPct: 20},
	}
	best, ok := PickRelay(candidates, RelayBalanced)
	require.True(t, ok)
	require.Equal(t, "b", best.Addr)
}
