package session

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// NeedsPing reports whether the session has been idle long enough to send
// a liveness PING.
func (s *Session) NeedsPing(now time.Time) bool {
	s.liveness.mu.Lock()
	defer s.liveness.mu.Unlock()
	return now.Sub(s.liveness.LastActivity) >= s.cfg.IdleLivenessInterval
}

// SendPing generates a fresh PING sequence, recording it so the matching
// PONG can be correlated for an RTT sample.
func (s *Session) SendPing() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	seq := binary.BigEndian.Uint64(buf[:])

	s.liveness.mu.Lock()
	s.liveness.PendingPing = seq
	s.liveness.pingPending = true
	s.liveness.LastActivity = time.Now()
	s.liveness.mu.Unlock()

	return seq, nil
}

// ObservePong matches a received PONG sequence against the outstanding
// PING and updates RTT. An unmatched PONG is ignored. Three consecutive
// unanswered pings, discovered by the caller's scheduler noticing no PONG
// arrived before the next idle check, mark the session Dead via
// MarkPingTimedOut.
func (s *Session) ObservePong(seq uint64, rtt time.Duration) bool {
	s.liveness.mu.Lock()
	defer s.liveness.mu.Unlock()
	if !s.liveness.pingPending || seq != s.liveness.PendingPing {
		return false
	}
	s.liveness.pingPending = false
	s.liveness.MissedPings = 0
	s.liveness.RTT = rtt
	return true
}

// MarkPingTimedOut is called by the caller's liveness scheduler when a
// sent PING goes unanswered past its deadline. After MaxMissedPings
// consecutive timeouts the session transitions to Dead.
func (s *Session) MarkPingTimedOut() {
	s.liveness.mu.Lock()
	s.liveness.pingPending = false
	s.liveness.MissedPings++
	dead := s.liveness.MissedPings >= MaxMissedPings
	s.liveness.mu.Unlock()

	if dead {
		_ = s.transition(Dead)
	}
}
