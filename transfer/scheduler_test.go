package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundRobinAlternatesPeers(t *testing.T) {
	s := NewScheduler(RoundRobin, []int{0, 1, 2, 3}, time.Second)
	s.AddPeer("a")
	s.AddPeer("b")

	now := time.Now()
	_, p1, ok := s.NextAssignment(now)
	require.True(t, ok)
	_, p2, ok := s.NextAssignment(now)
	require.True(t, ok)
	require.NotEqual(t, p1, p2)
}

func TestNoAssignmentWhenPoolEmpty(t *testing.T) {
	s := NewScheduler(RoundRobin, nil, time.Second)
	s.AddPeer("a")
	_, _, ok := s.NextAssignment(time.Now())
	require.False(t, ok)
}

func TestCompleteNeverReassigns(t *testing.T) {
	s := NewScheduler(RoundRobin, []int{0}, time.Second)
	s.AddPeer("a")
	idx, peer, ok := s.NextAssignment(time.Now())
	require.True(t, ok)
	s.Complete(idx)
	require.True(t, s.Done())
	require.Equal(t, "a", peer)
}

func TestFailReturnsChunkToPool(t *testing.T) {
	s := NewScheduler(RoundRobin, []int{0}, time.Second)
	s.AddPeer("a")
	idx, _, ok := s.NextAssignment(time.Now())
	require.True(t, ok)
	s.Fail(idx)
	require.False(t, s.Done())

	_, _, ok = s.NextAssignment(time.Now())
	require.True(t, ok)
}

func TestExpirePendingReassignsTimedOutChunks(t *testing.T) {
	s := NewScheduler(RoundRobin, []int{0}, 10*time.Millisecond)
	s.AddPeer("a")
	now := time.Now()
	idx, _, ok := s.NextAssignment(now)
	require.True(t, ok)

	expired := s.ExpirePending(now.Add(20 * time.Millisecond))
	require.Equal(t, []int{idx}, expired)
	require.False(t, s.Done())
}

func TestMaxParallelChunksLimitsOutstanding(t *testing.T) {
	missing := make([]int, DefaultMaxParallelChunks+5)
	for i := range missing {
		missing[i] = i
	}
	s := NewScheduler(RoundRobin, missing, time.Minute)
	s.AddPeer("a")

	assigned := 0
	for i := 0; i < DefaultMaxParallelChunks+5; i++ {
		_, _, ok := s.NextAssignment(time.Now())
		if !ok {
			break
		}
		assigned++
	}
	require.Equal(t, DefaultMaxParallelChunks, assigned)
}

func TestFastestFirstPrefersHigherThroughput(t *testing.T) {
	s := NewScheduler(FastestFirst, []int{0, 1}, time.Second)
	s.AddPeer("slow")
	s.AddPeer("fast")
	s.peers["slow"].ThroughputBps = 100
	s.peers["fast"].ThroughputBps = 10000

	_, peer, ok := s.NextAssignment(time.Now())
	require.True(t, ok)
	require.Equal(t, "fast", peer)
}

func TestRemovePeerReturnsInFlightToPool(t *testing.T) {
	s := NewScheduler(RoundRobin, []int{0}, time.Second)
	s.AddPeer("a")
	idx, _, ok := s.NextAssignment(time.Now())
	require.True(t, ok)

	s.RemovePeer("a")
	require.True(t, s.pool[idx])
}
