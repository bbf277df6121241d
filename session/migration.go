package session

import (
	"crypto/rand"
	"crypto/subtle"
	"net"
	"sync"
	"time"
)

// DefaultPathValidationDeadline bounds how long a PATH_CHALLENGE may go
// unanswered before the candidate address is abandoned.
const DefaultPathValidationDeadline = 5 * time.Second

// migrationState tracks an in-flight address validation. Only an address
// that returns the matching PATH_RESPONSE is ever promoted to peerAddr;
// until then data keeps flowing on the existing path (invariant 8).
type migrationState struct {
	mu sync.Mutex

	epoch uint64

	pending     bool
	candidate   net.Addr
	challenge   [8]byte
	deadline    time.Time
}

// BeginMigration issues a fresh PATH_CHALLENGE for candidate and returns
// the challenge bytes to send. The session moves to Migrating while
// validation is outstanding; data continues to flow on the current path.
func (s *Session) BeginMigration(candidate net.Addr) ([8]byte, error) {
	var challenge [8]byte
	if _, err := rand.Read(challenge[:]); err != nil {
		return challenge, err
	}

	s.migration.mu.Lock()
	s.migration.epoch++
	s.migration.pending = true
	s.migration.candidate = candidate
	s.migration.challenge = challenge
	s.migration.deadline = time.Now().Add(DefaultPathValidationDeadline)
	s.migration.mu.Unlock()

	if err := s.transition(Migrating); err != nil {
		return challenge, err
	}
	return challenge, nil
}

// AcceptPathResponse checks a received PATH_RESPONSE value against the
// outstanding challenge. Only a match before the deadline promotes
// candidate to the session's peer address; anything else — wrong value,
// stale epoch, or timeout — leaves the current path untouched.
func (s *Session) AcceptPathResponse(response [8]byte, from net.Addr) error {
	s.migration.mu.Lock()
	defer s.migration.mu.Unlock()

	if !s.migration.pending {
		return ErrStaleMigrationEpoch
	}
	if time.Now().After(s.migration.deadline) {
		s.migration.pending = false
		return ErrNoMatchingResponse
	}
	if subtle.ConstantTimeCompare(response[:], s.migration.challenge[:]) != 1 {
		return ErrNoMatchingResponse
	}

	s.mu.Lock()
	s.peerAddr = s.migration.candidate
	s.mu.Unlock()
	s.migration.pending = false
	return s.transition(Active)
}

// PeerAddr returns the session's current validated peer address.
func (s *Session) PeerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerAddr
}
