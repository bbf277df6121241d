package node

import (
	"sync"
	"time"
)

const (
	// ReputationMax/ReputationMin bound the 0..100 score.
	ReputationMax = 100
	ReputationMin = 0

	// ReputationThreshold is the floor below which an IP is refused at
	// frame ingress.
	ReputationThreshold = 20

	authFailurePenalty   = 15
	invalidFramePenalty  = 10
	rateLimitHitPenalty  = 5
	restoreInterval      = 10 * time.Second
	restorePerInterval   = 1
)

type reputationEntry struct {
	score      int
	lastRestor time.Time
}

// ReputationTable tracks a decrementing, slowly-restoring 0..100 score
// per IP, sharded the same way RateLimiter is to avoid one global lock.
type ReputationTable struct {
	shards [shardCount]reputationShard
}

type reputationShard struct {
	mu      sync.Mutex
	entries map[string]*reputationEntry
}

// NewReputationTable builds an empty table; unknown IPs default to a
// perfect score on first touch.
func NewReputationTable() *ReputationTable {
	rt := &ReputationTable{}
	for i := range rt.shards {
		rt.shards[i].entries = make(map[string]*reputationEntry)
	}
	return rt
}

func (rt *ReputationTable) entry(ip string, now time.Time) *reputationEntry {
	shard := &rt.shards[shardFor(ip)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	e, ok := shard.entries[ip]
	if !ok {
		e = &reputationEntry{score: ReputationMax, lastRestor: now}
		shard.entries[ip] = e
	}
	return e
}

func (rt *ReputationTable) adjust(ip string, now time.Time, delta int) int {
	shard := &rt.shards[shardFor(ip)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	e, ok := shard.entries[ip]
	if !ok {
		e = &reputationEntry{score: ReputationMax, lastRestor: now}
		shard.entries[ip] = e
	}
	rt.restoreLocked(e, now)
	e.score += delta
	if e.score > ReputationMax {
		e.score = ReputationMax
	}
	if e.score < ReputationMin {
		e.score = ReputationMin
	}
	return e.score
}

// restoreLocked applies slow score recovery proportional to elapsed
// restoreInterval periods, assuming the caller holds the shard's lock.
func (rt *ReputationTable) restoreLocked(e *reputationEntry, now time.Time) {
	elapsed := now.Sub(e.lastRestor)
	periods := int(elapsed / restoreInterval)
	if periods <= 0 {
		return
	}
	e.score += periods * restorePerInterval
	if e.score > ReputationMax {
		e.score = ReputationMax
	}
	e.lastRestor = e.lastRestor.Add(time.Duration(periods) * restoreInterval)
}

// RecordAuthFailure penalizes ip for a failed handshake/AEAD
// authentication and returns its new score.
func (rt *ReputationTable) RecordAuthFailure(ip string, now time.Time) int {
	return rt.adjust(ip, now, -authFailurePenalty)
}

// RecordInvalidFrame penalizes ip for a malformed frame.
func (rt *ReputationTable) RecordInvalidFrame(ip string, now time.Time) int {
	return rt.adjust(ip, now, -invalidFramePenalty)
}

// RecordRateLimitHit penalizes ip for exhausting its rate-limit budget.
func (rt *ReputationTable) RecordRateLimitHit(ip string, now time.Time) int {
	return rt.adjust(ip, now, -rateLimitHitPenalty)
}

// Score returns ip's current score, applying any pending slow recovery.
func (rt *ReputationTable) Score(ip string, now time.Time) int {
	shard := &rt.shards[shardFor(ip)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	e, ok := shard.entries[ip]
	if !ok {
		return ReputationMax
	}
	rt.restoreLocked(e, now)
	return e.score
}

// Allowed reports whether ip's score is at or above ReputationThreshold.
func (rt *ReputationTable) Allowed(ip string, now time.Time) bool {
	return rt.Score(ip, now) >= ReputationThreshold
}
