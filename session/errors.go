package session

import "errors"

var (
	ErrHandshakeTimeout     = errors.New("session: handshake timed out")
	ErrHandshakeAuthFailed  = errors.New("session: handshake authentication failed")
	ErrAlreadyHandshaking   = errors.New("session: handshake already in progress")
	ErrNotActive            = errors.New("session: operation requires an Active session")
	ErrInvalidTransition    = errors.New("session: invalid state transition")
	ErrReplayedCounter      = errors.New("session: counter already seen or too old")
	ErrAuthFailureThreshold = errors.New("session: too many AEAD authentication failures")
	ErrCounterExhausted     = errors.New("session: packet counter exhausted, refusing to emit")
	ErrNoMatchingResponse   = errors.New("session: PATH_RESPONSE value did not match challenge")
	ErrStaleMigrationEpoch  = errors.New("session: migration epoch is stale")
	ErrMalformedHandshake   = errors.New("session: malformed handshake message")
)
