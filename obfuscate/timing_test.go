package obfuscate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimingNoneIsZeroDelay(t *testing.T) {
	s := &Scheduler{Mode: TimingNone}
	require.Equal(t, time.Duration(0), s.Delay())
}

func TestTimingFixedReturnsConfiguredDelay(t *testing.T) {
	s := &Scheduler{Mode: TimingFixed, Fixed: 50 * time.Millisecond}
	require.Equal(t, 50*time.Millisecond, s.Delay())
}

func TestTimingUniformWithinBounds(t *testing.T) {
	s := &Scheduler{Mode: TimingUniform, UniformLo: 10 * time.Millisecond, UniformHi: 20 * time.Millisecond}
	for i := 0; i < 20; i++ {
		d := s.Delay()
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

func TestTimingExponentialNonNegative(t *testing.T) {
	s := &Scheduler{Mode: TimingExponential, ExpLambda: 10}
	for i := 0; i < 20; i++ {
		require.GreaterOrEqual(t, s.Delay(), time.Duration(0))
	}
}

func TestDeadlineTakesMaxOfPacerAndObfuscator(t *testing.T) {
	now := time.Now()
	s := &Scheduler{Mode: TimingFixed, Fixed: time.Second}
	pacer := now.Add(100 * time.Millisecond)
	got := s.Deadline(now, pacer)
	require.True(t, got.After(pacer))
}
