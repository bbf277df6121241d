// Package congestion implements BBR-style congestion control and pacing:
// delivery-rate sampling, windowed max bandwidth and min RTT tracking, the
// Startup/Drain/ProbeBW/ProbeRTT phase cycle, and the classical
// dup-ACK/RTO loss-recovery path that runs alongside it. BBR does not
// treat loss as a congestion signal; the retransmission timer here only
// drives retransmission, never cwnd. The RTT-sampling and
// retransmission-timer idiom follows client2/arq.go's resend/ReplyETA
// handling.
package congestion

import (
	"sync"
	"time"
)

// Phase is one of BBR's four operating phases.
type Phase int

const (
	Startup Phase = iota
	Drain
	ProbeBW
	ProbeRTT
)

func (p Phase) String() string {
	switch p {
	case Startup:
		return "Startup"
	case Drain:
		return "Drain"
	case ProbeBW:
		return "ProbeBW"
	case ProbeRTT:
		return "ProbeRTT"
	default:
		return "Unknown"
	}
}

const (
	startupGain = 2.89
	drainGain   = 0.75
	probeRTTGain = 0.75

	bwWindowRTTs    = 10
	rtPropWindow    = 10 * time.Second
	probeRTTInterval = 10 * time.Second
	probeRTTDuration = 200 * time.Millisecond

	minCwndBytes uint64 = 4 * 1024
	maxCwndBytes uint64 = 64 << 20

	initialRTO   = 200 * time.Millisecond
	minRTO       = 100 * time.Millisecond
	maxRTO       = 10 * time.Second
	dupAckThresh = 3
)

// ProbeBW's cyclic gain schedule, averaging 1.0 across the cycle: one
// up-probe, one down-drain, six cruise phases.
var probeBWGains = [8]float64{1.25, 0.75, 1.0, 1.0, 1.0, 1.0, 1.0, 1.0}

// deliverySample is one bandwidth observation: bytes acked over the
// interval they were in flight.
type deliverySample struct {
	bytes    uint64
	interval time.Duration
	at       time.Time
}

func (d deliverySample) rate() float64 {
	if d.interval <= 0 {
		return 0
	}
	return float64(d.bytes) / d.interval.Seconds()
}

// Controller is one connection's BBR state machine plus its classical
// loss-recovery bookkeeping (dup-ACK fast retransmit, RTO).
type Controller struct {
	mu sync.Mutex

	phase      Phase
	cycleIndex int
	phaseStart time.Time

	bwMax       float64 // bytes/sec, windowed max delivery rate
	bwSamples   []deliverySample
	rtProp      time.Duration
	rtPropAt    time.Time
	lastProbeRTT time.Time

	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration

	dupAcks     int
	lastAckedSeq uint64

	inflight uint64
}

// NewController builds a Controller starting in Startup with an
// unconditioned RTO.
func NewController(now time.Time) *Controller {
	return &Controller{
		phase:      Startup,
		phaseStart: now,
		rtProp:     -1,
		rtPropAt:   now,
		rto:        initialRTO,
	}
}

// Phase returns the controller's current BBR phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// OnAck records one delivery sample (ackedBytes delivered after having
// been in flight for rtt) and updates bandwidth, RTT, the phase state
// machine, and the RTO estimator. seq is the highest frame sequence this
// ACK covers, used for dup-ACK detection.
func (c *Controller) OnAck(now time.Time, ackedBytes uint64, rtt time.Duration, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recordSample(now, ackedBytes, rtt)
	c.updateRTProp(now, rtt)
	c.updateRTO(rtt)
	c.advancePhase(now)

	if seq == c.lastAckedSeq {
		c.dupAcks++
	} else {
		c.dupAcks = 0
		c.lastAckedSeq = seq
	}

	if ackedBytes <= c.inflight {
		c.inflight -= ackedBytes
	} else {
		c.inflight = 0
	}
}

// OnSend records bytes placed in flight, needed to compute cwnd headroom.
func (c *Controller) OnSend(bytes uint64) {
	c.mu.Lock()
	c.inflight += bytes
	c.mu.Unlock()
}

func (c *Controller) recordSample(now time.Time, bytes uint64, rtt time.Duration) {
	s := deliverySample{bytes: bytes, interval: rtt, at: now}
	c.bwSamples = append(c.bwSamples, s)

	cutoff := now.Add(-time.Duration(bwWindowRTTs) * maxDuration(rtt, time.Millisecond))
	kept := c.bwSamples[:0]
	max := 0.0
	for _, sample := range c.bwSamples {
		if sample.at.Before(cutoff) {
			continue
		}
		kept = append(kept, sample)
		if r := sample.rate(); r > max {
			max = r
		}
	}
	c.bwSamples = kept
	c.bwMax = max
}

func (c *Controller) updateRTProp(now time.Time, rtt time.Duration) {
	if c.rtProp < 0 || rtt < c.rtProp || now.Sub(c.rtPropAt) > rtPropWindow {
		c.rtProp = rtt
		c.rtPropAt = now
	}
}

// updateRTO applies the classical SRTT/RTTVAR estimator (RFC 6298 shape),
// matching client2/arq.go's ReplyETA-driven retransmit timing, clamped to
// a [100ms, 10s] bound.
func (c *Controller) updateRTO(rtt time.Duration) {
	if c.srtt == 0 {
		c.srtt = rtt
		c.rttvar = rtt / 2
	} else {
		delta := rtt - c.srtt
		if delta < 0 {
			delta = -delta
		}
		c.rttvar = (3*c.rttvar + delta) / 4
		c.srtt = (7*c.srtt + rtt) / 8
	}
	rto := c.srtt + 4*c.rttvar
	if rto < minRTO {
		rto = minRTO
	}
	if rto > maxRTO {
		rto = maxRTO
	}
	c.rto = rto
}

func (c *Controller) advancePhase(now time.Time) {
	elapsed := now.Sub(c.phaseStart)
	switch c.phase {
	case Startup:
		// Startup exits once more than three RTprop intervals have
		// elapsed in the phase; bwMax growth is not examined.
		if c.rtProp > 0 && elapsed > 3*c.rtProp {
			c.phase = Drain
			c.phaseStart = now
		}
	case Drain:
		if c.inflight <= c.cwndLocked() {
			c.phase = ProbeBW
			c.phaseStart = now
			c.cycleIndex = 0
		}
	case ProbeBW:
		if now.Sub(c.lastProbeRTT) > probeRTTInterval {
			c.phase = ProbeRTT
			c.phaseStart = now
			c.lastProbeRTT = now
			break
		}
		cycleRTT := c.rtProp
		if cycleRTT <= 0 {
			cycleRTT = initialRTO
		}
		if elapsed > cycleRTT {
			c.cycleIndex = (c.cycleIndex + 1) % len(probeBWGains)
			c.phaseStart = now
		}
	case ProbeRTT:
		if elapsed > probeRTTDuration {
			c.phase = ProbeBW
			c.phaseStart = now
			c.cycleIndex = 0
		}
	}
}

func (c *Controller) gain() float64 {
	switch c.phase {
	case Startup:
		return startupGain
	case Drain:
		return drainGain
	case ProbeRTT:
		return probeRTTGain
	case ProbeBW:
		return probeBWGains[c.cycleIndex]
	default:
		return 1.0
	}
}

// PacingRate returns the current pacing rate in bytes per second:
// gain x BW_max.
func (c *Controller) PacingRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gain() * c.bwMax
}

// Cwnd returns the current congestion window in bytes: gain_cwnd x BW_max
// x RTprop, clamped to [min_cwnd, max_cwnd].
func (c *Controller) Cwnd() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwndLocked()
}

func (c *Controller) cwndLocked() uint64 {
	if c.rtProp <= 0 || c.bwMax <= 0 {
		return minCwndBytes
	}
	cwnd := uint64(c.gain() * c.bwMax * c.rtProp.Seconds())
	if cwnd < minCwndBytes {
		cwnd = minCwndBytes
	}
	if cwnd > maxCwndBytes {
		cwnd = maxCwndBytes
	}
	return cwnd
}

// RTO returns the current retransmission timeout.
func (c *Controller) RTO() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rto == 0 {
		return initialRTO
	}
	return c.rto
}

// ShouldFastRetransmit reports whether dup-ACK count has reached the
// threshold (3) that triggers retransmitting the oldest unacknowledged
// frame on the affected stream.
func (c *Controller) ShouldFastRetransmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dupAcks >= dupAckThresh {
		c.dupAcks = 0
		return true
	}
	return false
}

// TransmitTime computes the scheduled send time for a frame of the given
// size, given the current pacing rate. This is the primary timing source;
// the obfuscation pipeline may only add delay on top of it.
func (c *Controller) TransmitTime(now time.Time, frameBytes int) time.Time {
	rate := c.PacingRate()
	if rate <= 0 {
		return now
	}
	delay := time.Duration(float64(frameBytes) / rate * float64(time.Second))
	return now.Add(delay)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
