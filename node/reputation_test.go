package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReputationStartsAtMax(t *testing.T) {
	rt := NewReputationTable()
	require.Equal(t, ReputationMax, rt.Score("1.2.3.4", time.Now()))
	require.True(t, rt.Allowed("1.2.3.4", time.Now()))
}

func TestReputationAuthFailurePenalty(t *testing.T) {
	rt := NewReputationTable()
	now := time.Now()
	got := rt.RecordAuthFailure("1.2.3.4", now)
	require.Equal(t, ReputationMax-15, got)
}

func TestReputationDropsBelowThresholdRefusesIP(t *testing.T) {
	rt := NewReputationTable()
	now := time.Now()
	for i := 0; i < 6; i++ {
		rt.RecordAuthFailure("1.2.3.4", now)
	}
	require.False(t, rt.Allowed("1.2.3.4", now))
}

func TestReputationScoreFloorsAtMin(t *testing.T) {
	rt := NewReputationTable()
	now := time.Now()
	for i := 0; i < 20; i++ {
		rt.RecordAuthFailure("1.2.3.4", now)
	}
	require.Equal(t, ReputationMin, rt.Score("1.2.3.4", now))
}

func TestReputationRestoresOverTime(t *testing.T) {
	rt := NewReputationTable()
	now := time.Now()
	rt.RecordAuthFailure("1.2.3.4", now)
	later := now.Add(30 * time.Second)
	score := rt.Score("1.2.3.4", later)
	require.Equal(t, ReputationMax-15+3, score)
}

func TestReputationIndependentPerIP(t *testing.T) {
	rt := NewReputationTable()
	now := time.Now()
	rt.RecordAuthFailure("1.2.3.4", now)
	require.Equal(t, ReputationMax, rt.Score("5.6.7.8", now))
}
