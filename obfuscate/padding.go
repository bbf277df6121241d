// Package obfuscate implements the egress pipeline layered between AEAD
// sealing and the datagram socket: pad, optionally wrap in a protocol
// mimicry framing, then delay for timing cover. Ingress reverses the same
// steps. The lambda-rate sampling idiom follows client2/rates.go, and the
// cover traffic generator's wake loop follows the same halt-channel
// worker shape used throughout this codebase.
package obfuscate

import (
	"crypto/rand"
	"errors"
	"math"
)

// PaddingMode selects how a frame's wire length is rounded up before
// transmission.
type PaddingMode int

const (
	PaddingNone PaddingMode = iota
	PaddingPowerOfTwo
	PaddingSizeClasses
	PaddingConstantRate
	PaddingStatistical
)

// DefaultSizeClasses is the bucket set SizeClasses rounds into.
var DefaultSizeClasses = []int{128, 256, 512, 1024, 1472}

// ErrFrameExceedsClasses is returned when a frame is already larger than
// every configured size class.
var ErrFrameExceedsClasses = errors.New("obfuscate: frame exceeds largest size class")

// Padder pads and unpads frames per the configured mode. Padding bytes
// are random and become part of the AEAD plaintext, so the receiver must
// know the original length to strip them — carried as a 2-byte
// big-endian original length in the last two bytes of the padded frame,
// a fixed position independent of target length or frame contents.
type Padder struct {
	Mode        PaddingMode
	SizeClasses []int
	ConstantLen int
	Lambda      float64 // for Statistical: mean pad length = 1/Lambda
}

// NewPadder builds a Padder for mode with sane defaults for the
// size-class and statistical parameters.
func NewPadder(mode PaddingMode) *Padder {
	return &Padder{
		Mode:        mode,
		SizeClasses: DefaultSizeClasses,
		ConstantLen: DefaultSizeClasses[len(DefaultSizeClasses)-1],
		Lambda:      1.0 / 64.0,
	}
}

// Pad fills frame out to the target length for the configured mode with
// random bytes and appends a 2-byte original-length trailer at the very
// end, so Unpad always knows exactly where to read it regardless of
// target length or what bytes the frame itself contains. unpad(pad(x))
// always recovers x exactly.
func (p *Padder) Pad(frame []byte) ([]byte, error) {
	origLen := len(frame)
	if origLen > 1<<16-1 {
		return nil, errors.New("obfuscate: frame too large to pad")
	}

	target, err := p.targetLength(origLen + 2)
	if err != nil {
		return nil, err
	}

	out := make([]byte, target)
	copy(out, frame)
	if _, err := rand.Read(out[origLen : target-2]); err != nil {
		return nil, err
	}
	out[target-2] = byte(origLen >> 8)
	out[target-1] = byte(origLen)
	return out, nil
}

// Unpad strips padding added by Pad, recovering the original frame. The
// original length always sits in the last two bytes, so this is a
// direct read rather than a search.
func (p *Padder) Unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, errors.New("obfuscate: padded frame too short")
	}
	trailer := len(padded) - 2
	origLen := int(padded[trailer])<<8 | int(padded[trailer+1])
	if origLen > trailer {
		return nil, errors.New("obfuscate: malformed padding trailer")
	}
	return append([]byte(nil), padded[:origLen]...), nil
}

func (p *Padder) targetLength(minLen int) (int, error) {
	switch p.Mode {
	case PaddingNone:
		return minLen, nil
	case PaddingPowerOfTwo:
		n := 1
		for n < minLen {
			n <<= 1
		}
		return n, nil
	case PaddingSizeClasses:
		classes := p.SizeClasses
		if len(classes) == 0 {
			classes = DefaultSizeClasses
		}
		for _, c := range classes {
			if c >= minLen {
				return c, nil
			}
		}
		return 0, ErrFrameExceedsClasses
	case PaddingConstantRate:
		if p.ConstantLen < minLen {
			return 0, errors.New("obfuscate: frame exceeds constant rate length")
		}
		return p.ConstantLen, nil
	case PaddingStatistical:
		lambda := p.Lambda
		if lambda <= 0 {
			lambda = 1.0 / 64.0
		}
		extra := sampleExponential(lambda)
		return minLen + extra, nil
	default:
		return minLen, nil
	}
}

// sampleExponential draws a non-negative integer pad length from a
// geometric approximation to the exponential distribution with rate
// lambda, matching client2/rates.go's LambdaP-style sampling.
func sampleExponential(lambda float64) int {
	var buf [8]byte
	rand.Read(buf[:])
	u := 0.0
	for _, b := range buf {
		u = u*256 + float64(b)
	}
	u /= math.MaxUint64
	if u <= 0 {
		u = 1e-9
	}
	return int(-math.Log(u) / lambda)
}
