package transfer

import (
	"sort"
	"sync"
	"time"
)

// Strategy selects how missing chunks are assigned across concurrent
// peers known to offer the same root hash.
type Strategy int

const (
	RoundRobin Strategy = iota
	FastestFirst
	LoadBalanced
	Adaptive
)

// DefaultMaxParallelChunks bounds outstanding requests per peer.
const DefaultMaxParallelChunks = 16

// Adaptive strategy score weights: score = 0.4 * reliability + 0.4 *
// speed + 0.2 * latency-inverse.
const (
	adaptiveReliabilityWeight = 0.4
	adaptiveSpeedWeight       = 0.4
	adaptiveLatencyWeight     = 0.2
)

// PeerStats tracks one peer's observed transfer behavior, feeding
// FastestFirst/LoadBalanced/Adaptive scoring.
type PeerStats struct {
	PeerID string

	BytesInFlight uint64
	ThroughputBps float64 // EMA, bytes/sec
	RTT           time.Duration
	Successes     uint64
	Failures      uint64
}

func (p *PeerStats) reliability() float64 {
	total := p.Successes + p.Failures
	if total == 0 {
		return 0.5
	}
	return float64(p.Successes) / float64(total)
}

func (p *PeerStats) latencyInverse() float64 {
	if p.RTT <= 0 {
		return 0
	}
	return 1.0 / p.RTT.Seconds()
}

// adaptiveScore combines reliability, normalized speed, and normalized
// latency-inverse into one ranking score.
func adaptiveScore(p *PeerStats, maxSpeed, maxLatInv float64) float64 {
	speed := 0.0
	if maxSpeed > 0 {
		speed = p.ThroughputBps / maxSpeed
	}
	latInv := 0.0
	if maxLatInv > 0 {
		latInv = p.latencyInverse() / maxLatInv
	}
	return adaptiveReliabilityWeight*p.reliability() + adaptiveSpeedWeight*speed + adaptiveLatencyWeight*latInv
}

// chunkRequest tracks one outstanding request to a peer, with a deadline
// used by the caller's expiry sweep.
type chunkRequest struct {
	ChunkIndex int
	PeerID     string
	Deadline   time.Time
}

// Scheduler assigns missing chunks to peers per the configured Strategy
// and tracks in-flight requests, returning a chunk to the pool on
// timeout: no chunk retires until one copy verifies.
type Scheduler struct {
	mu sync.Mutex

	strategy Strategy
	peers    map[string]*PeerStats
	pending  map[int]*chunkRequest // chunkIndex -> request
	pool     map[int]bool          // missing, unassigned chunks
	rrOrder  []string
	rrNext   int

	maxParallel int
	timeout     time.Duration
}

// NewScheduler builds a Scheduler over the given missing chunk indices.
func NewScheduler(strategy Strategy, missing []int, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pool := make(map[int]bool, len(missing))
	for _, i := range missing {
		pool[i] = true
	}
	return &Scheduler{
		strategy:    strategy,
		peers:       make(map[string]*PeerStats),
		pending:     make(map[int]*chunkRequest),
		pool:        pool,
		maxParallel: DefaultMaxParallelChunks,
		timeout:     timeout,
	}
}

// AddPeer registers a peer as a candidate source.
func (s *Scheduler) AddPeer(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[peerID]; !ok {
		s.peers[peerID] = &PeerStats{PeerID: peerID}
		s.rrOrder = append(s.rrOrder, peerID)
	}
}

// RemovePeer drops a peer and returns its in-flight chunks to the pool.
func (s *Scheduler) RemovePeer(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, peerID)
	for i, order := range s.rrOrder {
		if order == peerID {
			s.rrOrder = append(s.rrOrder[:i], s.rrOrder[i+1:]...)
			break
		}
	}
	for idx, req := range s.pending {
		if req.PeerID == peerID {
			delete(s.pending, idx)
			s.pool[idx] = true
		}
	}
}

// outstandingFor counts a peer's current in-flight requests.
func (s *Scheduler) outstandingFor(peerID string) int {
	n := 0
	for _, req := range s.pending {
		if req.PeerID == peerID {
			n++
		}
	}
	return n
}

// NextAssignment picks one peer with spare capacity and one pool chunk
// for it, per the configured strategy. Returns false if no peer has
// capacity or the pool is empty.
func (s *Scheduler) NextAssignment(now time.Time) (chunkIndex int, peerID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pool) == 0 {
		return 0, "", false
	}

	peerID, ok = s.pickPeer()
	if !ok {
		return 0, "", false
	}

	chunkIndex, ok = s.popFromPool()
	if !ok {
		return 0, "", false
	}

	s.pending[chunkIndex] = &chunkRequest{ChunkIndex: chunkIndex, PeerID: peerID, Deadline: now.Add(s.timeout)}
	s.peers[peerID].BytesInFlight++
	return chunkIndex, peerID, true
}

func (s *Scheduler) popFromPool() (int, bool) {
	for idx := range s.pool {
		delete(s.pool, idx)
		return idx, true
	}
	return 0, false
}

func (s *Scheduler) pickPeer() (string, bool) {
	switch s.strategy {
	case RoundRobin:
		return s.pickRoundRobin()
	case FastestFirst:
		return s.pickByScore(func(p *PeerStats, _, _ float64) float64 { return p.ThroughputBps })
	case LoadBalanced:
		return s.pickLeastLoaded()
	case Adaptive:
		maxSpeed, maxLatInv := 0.0, 0.0
		for _, p := range s.peers {
			if p.ThroughputBps > maxSpeed {
				maxSpeed = p.ThroughputBps
			}
			if li := p.latencyInverse(); li > maxLatInv {
				maxLatInv = li
			}
		}
		return s.pickByScore(func(p *PeerStats, ms, ml float64) float64 { return adaptiveScore(p, ms, ml) }, maxSpeed, maxLatInv)
	default:
		return s.pickRoundRobin()
	}
}

func (s *Scheduler) pickRoundRobin() (string, bool) {
	n := len(s.rrOrder)
	for i := 0; i < n; i++ {
		idx := (s.rrNext + i) % n
		peerID := s.rrOrder[idx]
		if s.outstandingFor(peerID) < s.maxParallel {
			s.rrNext = (idx + 1) % n
			return peerID, true
		}
	}
	return "", false
}

func (s *Scheduler) pickByScore(score func(p *PeerStats, a, b float64) float64, args ...float64) (string, bool) {
	var a, b float64
	if len(args) >= 2 {
		a, b = args[0], args[1]
	}
	type candidate struct {
		id    string
		score float64
	}
	var candidates []candidate
	for id, p := range s.peers {
		if s.outstandingFor(id) >= s.maxParallel {
			continue
		}
		candidates = append(candidates, candidate{id, score(p, a, b)})
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return candidates[0].id, true
}

func (s *Scheduler) pickLeastLoaded() (string, bool) {
	var best string
	bestLoad := uint64(0)
	found := false
	for id, p := range s.peers {
		if s.outstandingFor(id) >= s.maxParallel {
			continue
		}
		if !found || p.BytesInFlight < bestLoad {
			best = id
			bestLoad = p.BytesInFlight
			found = true
		}
	}
	return best, found
}

// Complete marks a chunk as successfully verified, removing it from the
// pending set permanently (never returned to the pool again).
func (s *Scheduler) Complete(chunkIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[chunkIndex]
	if !ok {
		return
	}
	if p, ok := s.peers[req.PeerID]; ok {
		p.Successes++
	}
	delete(s.pending, chunkIndex)
}

// Fail returns a chunk to the pool after a verification failure or
// explicit peer error, incrementing that peer's failure counter.
func (s *Scheduler) Fail(chunkIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[chunkIndex]
	if !ok {
		return
	}
	if p, ok := s.peers[req.PeerID]; ok {
		p.Failures++
	}
	delete(s.pending, chunkIndex)
	s.pool[chunkIndex] = true
}

// ExpirePending sweeps pending requests past their deadline, returning
// each expired chunk to the pool for reassignment elsewhere.
func (s *Scheduler) ExpirePending(now time.Time) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []int
	for idx, req := range s.pending {
		if now.After(req.Deadline) {
			expired = append(expired, idx)
		}
	}
	for _, idx := range expired {
		delete(s.pending, idx)
		s.pool[idx] = true
	}
	return expired
}

// Done reports whether the pool is empty and nothing is pending.
func (s *Scheduler) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pool) == 0 && len(s.pending) == 0
}

// UpdateThroughput applies an EMA update to a peer's observed throughput,
// following the congestion controller's own sampled-rate idiom.
func (s *Scheduler) UpdateThroughput(peerID string, bytes uint64, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[peerID]
	if !ok || elapsed <= 0 {
		return
	}
	sample := float64(bytes) / elapsed.Seconds()
	const emaAlpha = 0.2
	if p.ThroughputBps == 0 {
		p.ThroughputBps = sample
	} else {
		p.ThroughputBps = emaAlpha*sample + (1-emaAlpha)*p.ThroughputBps
	}
	if p.BytesInFlight >= bytes {
		p.BytesInFlight -= bytes
	} else {
		p.BytesInFlight = 0
	}
}
