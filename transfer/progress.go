package transfer

import (
	"sync"
	"time"
)

// Progress tracks byte-level completion for one transfer: total bytes,
// bytes delivered so far, and an EMA speed sample updated roughly once a
// second, from which ETA is derived.
type Progress struct {
	mu sync.Mutex

	totalBytes     int64
	deliveredBytes int64
	speedBps       float64
	lastSampleAt   time.Time
	lastSampleBytes int64
}

// NewProgress builds a tracker for a transfer of the given total size.
func NewProgress(totalBytes int64) *Progress {
	return &Progress{totalBytes: totalBytes, lastSampleAt: time.Time{}}
}

// Add records newly delivered bytes and, once a second has elapsed since
// the last sample, refreshes the EMA speed estimate.
func (p *Progress) Add(now time.Time, n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.deliveredBytes += n
	if p.lastSampleAt.IsZero() {
		p.lastSampleAt = now
		p.lastSampleBytes = p.deliveredBytes
		return
	}

	elapsed := now.Sub(p.lastSampleAt)
	if elapsed < time.Second {
		return
	}
	sample := float64(p.deliveredBytes-p.lastSampleBytes) / elapsed.Seconds()
	const emaAlpha = 0.3
	if p.speedBps == 0 {
		p.speedBps = sample
	} else {
		p.speedBps = emaAlpha*sample + (1-emaAlpha)*p.speedBps
	}
	p.lastSampleAt = now
	p.lastSampleBytes = p.deliveredBytes
}

// Fraction returns delivered/total in [0, 1].
func (p *Progress) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.totalBytes <= 0 {
		return 0
	}
	return float64(p.deliveredBytes) / float64(p.totalBytes)
}

// Speed returns the current EMA throughput in bytes/sec.
func (p *Progress) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speedBps
}

// ETA returns missing_bytes / speed; zero speed yields an infinite
// (zero-value) ETA, signaled by returning false.
func (p *Progress) ETA() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.speedBps <= 0 {
		return 0, false
	}
	missing := p.totalBytes - p.deliveredBytes
	if missing <= 0 {
		return 0, true
	}
	seconds := float64(missing) / p.speedBps
	return time.Duration(seconds * float64(time.Second)), true
}
