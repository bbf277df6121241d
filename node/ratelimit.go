// Package node implements the orchestrator that owns identity, sessions,
// transfers, and discovery, and exposes the small public operation set
// clients call. Session establishment makes one handshake attempt per
// call, without retry or backoff.
package node

import (
	"sync"

	"golang.org/x/time/rate"
)

// Scope names which budget a rate-limit check is evaluated against.
type Scope int

const (
	ScopePerIP Scope = iota
	ScopePerSession
	ScopeSTUN
	ScopeRelay
)

// LimiterConfig bounds one scope's token bucket: rate in events/sec and
// burst capacity.
type LimiterConfig struct {
	RatePerSec float64
	Burst      int
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.RatePerSec == 0 {
		c.RatePerSec = 100
	}
	if c.Burst == 0 {
		c.Burst = 200
	}
	return c
}

// RateLimiter shards per-key token buckets (one per IP, one per session,
// plus fixed subsystem-wide buckets for STUN and relay) behind a sharded
// map so no single lock serializes every check, per spec's
// "concurrent maps (sharded) to avoid global locks" requirement.
type RateLimiter struct {
	shards [shardCount]rateShard

	perIP      LimiterConfig
	perSession LimiterConfig
	stun       *rate.Limiter
	relay      *rate.Limiter
}

const shardCount = 16

type rateShard struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter builds a limiter with the given per-IP and per-session
// budgets; STUN and relay get their own fixed global buckets since those
// subsystems are shared, not per-peer.
func NewRateLimiter(perIP, perSession LimiterConfig, stunCfg, relayCfg LimiterConfig) *RateLimiter {
	perIP = perIP.withDefaults()
	perSession = perSession.withDefaults()
	stunCfg = stunCfg.withDefaults()
	relayCfg = relayCfg.withDefaults()

	rl := &RateLimiter{
		perIP:      perIP,
		perSession: perSession,
		stun:       rate.NewLimiter(rate.Limit(stunCfg.RatePerSec), stunCfg.Burst),
		relay:      rate.NewLimiter(rate.Limit(relayCfg.RatePerSec), relayCfg.Burst),
	}
	for i := range rl.shards {
		rl.shards[i].limiters = make(map[string]*rate.Limiter)
	}
	return rl
}

func shardFor(key string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % shardCount)
}

func (rl *RateLimiter) limiterFor(key string, cfg LimiterConfig) *rate.Limiter {
	shard := &rl.shards[shardFor(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	lim, ok := shard.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
		shard.limiters[key] = lim
	}
	return lim
}

// AllowIP reports whether the named IP has budget remaining, consuming
// one token if so.
func (rl *RateLimiter) AllowIP(ip string) bool {
	return rl.limiterFor("ip:"+ip, rl.perIP).Allow()
}

// AllowSession reports whether the named session has budget remaining.
func (rl *RateLimiter) AllowSession(cid string) bool {
	return rl.limiterFor("sess:"+cid, rl.perSession).Allow()
}

// AllowSTUN reports whether the STUN subsystem's shared budget allows
// another outbound binding request.
func (rl *RateLimiter) AllowSTUN() bool { return rl.stun.Allow() }

// AllowRelay reports whether the relay subsystem's shared budget allows
// another relayed frame.
func (rl *RateLimiter) AllowRelay() bool { return rl.relay.Allow() }
