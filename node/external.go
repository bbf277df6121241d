package node

import (
	"context"
	"errors"
	"time"

	"github.com/wraithnet/wraith/discovery"
	"github.com/wraithnet/wraith/identity"
)

// ErrBreakerOpenDHT/Relay/STUN are returned when the matching circuit
// breaker is fast-failing a call.
var (
	ErrBreakerOpenDHT   = errors.New("node: dht circuit breaker open")
	ErrBreakerOpenRelay = errors.New("node: relay circuit breaker open")
	ErrBreakerOpenSTUN  = errors.New("node: stun circuit breaker open")
)

// LookupPeer runs a DHT find_node lookup guarded by the DHT circuit
// breaker: open breakers fast-fail without touching the network, closed
// or half-open breakers proceed and record the outcome.
func (n *Node) LookupPeer(ctx context.Context, target identity.NodeID, query discovery.QueryFunc) ([]*discovery.PeerRecord, error) {
	now := time.Now()
	if !n.dhtBreaker.Allow(now) {
		return nil, ErrBreakerOpenDHT
	}

	results := discovery.Lookup(ctx, n.table, target, query)
	if len(results) == 0 {
		n.dhtBreaker.RecordFailure(time.Now())
		return nil, errors.New("node: dht lookup found nothing")
	}
	n.dhtBreaker.RecordSuccess()
	return results, nil
}

// ClassifyNAT runs STUN-based NAT classification guarded by the STUN
// circuit breaker and the STUN subsystem's shared rate-limit budget.
func (n *Node) ClassifyNAT(ctx context.Context, classifier *discovery.Classifier) (discovery.NATType, string, error) {
	now := time.Now()
	if !n.stunBreaker.Allow(now) {
		return discovery.NATUnknown, "", ErrBreakerOpenSTUN
	}
	if !n.limiter.AllowSTUN() {
		return discovery.NATUnknown, "", ErrRateLimited
	}

	natType, addr, err := classifier.Classify(ctx)
	if err != nil {
		n.stunBreaker.RecordFailure(time.Now())
		return discovery.NATUnknown, "", err
	}
	n.stunBreaker.RecordSuccess()
	return natType, addr, nil
}

// ConnectViaRelay picks a relay from candidates, guarded by the relay
// circuit breaker and the relay subsystem's shared rate-limit budget. It
// returns the chosen candidate without dialing it; client is not used.
func (n *Node) ConnectViaRelay(ctx context.Context, client *discovery.RelayClient, candidates []discovery.RelayCandidate) (discovery.RelayCandidate, error) {
	now := time.Now()
	if !n.relayBreaker.Allow(now) {
		return discovery.RelayCandidate{}, ErrBreakerOpenRelay
	}
	if !n.limiter.AllowRelay() {
		return discovery.RelayCandidate{}, ErrRateLimited
	}

	best, ok := discovery.PickRelay(candidates, discovery.RelayBalanced)
	if !ok {
		n.relayBreaker.RecordFailure(time.Now())
		return discovery.RelayCandidate{}, errors.New("node: no relay candidates available")
	}
	n.relayBreaker.RecordSuccess()
	return best, nil
}
