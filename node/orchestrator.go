package node

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wraithnet/wraith/discovery"
	"github.com/wraithnet/wraith/identity"
	"github.com/wraithnet/wraith/session"
	"github.com/wraithnet/wraith/transfer"
)

// TransferID names one tracked transfer, returned by SendFile.
type TransferID string

var (
	ErrNotRunning       = errors.New("node: orchestrator not running")
	ErrAlreadyRunning   = errors.New("node: orchestrator already running")
	ErrUnknownTransfer  = errors.New("node: unknown transfer id")
	ErrUnknownSession   = errors.New("node: unknown session")
	ErrIPRefused        = errors.New("node: ip refused by reputation policy")
	ErrRateLimited      = errors.New("node: rate limit exhausted")
)

// Config bounds the orchestrator's tunables; zero-value fields take the
// sensible defaults used by the component they configure.
type Config struct {
	Session         session.Config
	PerIPLimit      LimiterConfig
	PerSessionLimit LimiterConfig
	STUNLimit       LimiterConfig
	RelayLimit      LimiterConfig

	DrainTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 30 * time.Second
	}
	return c
}

// PeerStatus is the plain record returned by status queries, per spec's
// "status queries return plain records" requirement.
type PeerStatus struct {
	NodeID       identity.NodeID
	Addr         string
	Reputation   int
	SessionState string
}

// TransferStatus is the plain record describing one tracked transfer.
type TransferStatus struct {
	ID       TransferID
	PeerID   identity.NodeID
	State    string
	Fraction float64
}

// Node is the orchestrator: it owns identity, the routing table, every
// active session and transfer, and the shared rate-limit/reputation/
// circuit-breaker infrastructure those depend on. Session establishment
// makes a single handshake attempt per call; it does not retry.
type Node struct {
	log *log.Logger
	cfg Config

	identity *identity.Identity
	table    *discovery.Table

	limiter    *RateLimiter
	reputation *ReputationTable
	metrics    *Metrics

	dhtBreaker   *CircuitBreaker
	relayBreaker *CircuitBreaker
	stunBreaker  *CircuitBreaker

	mu           sync.Mutex
	running      bool
	sessions     map[session.CID]*session.Session
	transfers    map[TransferID]*transfer.Transfer
	transferPeer map[TransferID]identity.NodeID
	stopCh       chan struct{}
}

// New builds an orchestrator for id, bound to its own routing table.
func New(id *identity.Identity, cfg Config) *Node {
	cfg = cfg.withDefaults()
	return &Node{
		log:          log.Default().With("component", "node"),
		cfg:          cfg,
		identity:     id,
		table:        discovery.NewTable(id.NodeID, discovery.DefaultPoWBits),
		limiter:      NewRateLimiter(cfg.PerIPLimit, cfg.PerSessionLimit, cfg.STUNLimit, cfg.RelayLimit),
		reputation:   NewReputationTable(),
		metrics:      NewMetrics(),
		dhtBreaker:   NewCircuitBreaker("dht", 5, 10*time.Second),
		relayBreaker: NewCircuitBreaker("relay", 5, 10*time.Second),
		stunBreaker:  NewCircuitBreaker("stun", 5, 10*time.Second),
		sessions:     make(map[session.CID]*session.Session),
		transfers:    make(map[TransferID]*transfer.Transfer),
		transferPeer: make(map[TransferID]identity.NodeID),
	}
}

// Start transitions the orchestrator into the running state. Calling
// Start twice without an intervening Stop is an error.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return ErrAlreadyRunning
	}
	n.running = true
	n.stopCh = make(chan struct{})
	n.log.Info("node started", "node_id", n.identity.NodeID)
	return nil
}

// Stop propagates cancellation to every owned session, closing each and
// waiting up to DrainTimeout for them to reach Closed (or Dead) before
// returning, per spec's graceful-drain requirement.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return ErrNotRunning
	}
	n.running = false
	close(n.stopCh)
	sessions := make([]*session.Session, 0, len(n.sessions))
	for _, s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.mu.Unlock()

	deadline := time.Now().Add(n.cfg.DrainTimeout)
	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		for s.State() != session.Closed && s.State() != session.Dead && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}
	n.log.Info("node stopped")
	return nil
}

// EstablishSession drives the full Noise handshake to a peer over t and
// registers the resulting session under its CID, implementing
// establish_session.
func (n *Node) EstablishSession(ctx context.Context, peerID identity.NodeID, addr net.Addr, t HandshakeTransport) (*session.Session, error) {
	n.mu.Lock()
	running := n.running
	n.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		if !n.reputation.Allowed(host, time.Now()) {
			return nil, ErrIPRefused
		}
		if !n.limiter.AllowIP(host) {
			n.reputation.RecordRateLimitHit(host, time.Now())
			return nil, ErrRateLimited
		}
	}

	sess, err := runInitiatorHandshake(ctx, n.identity, peerID, n.cfg.Session, addr, t)
	if err != nil {
		if host, _, splitErr := net.SplitHostPort(addr.String()); splitErr == nil {
			n.reputation.RecordAuthFailure(host, time.Now())
		}
		n.metrics.authFailures.Inc()
		return nil, err
	}

	n.mu.Lock()
	n.sessions[sess.CID] = sess
	n.mu.Unlock()
	n.metrics.sessionsActive.Inc()

	n.table.Add(&discovery.PeerRecord{ID: peerID, Addr: addr.String(), LastSeen: time.Now()})
	return sess, nil
}

// AcceptSession drives the responder side of the handshake, for an
// inbound connection attempt.
func (n *Node) AcceptSession(ctx context.Context, addr net.Addr, t HandshakeTransport) (*session.Session, error) {
	n.mu.Lock()
	running := n.running
	n.mu.Unlock()
	if !running {
		return nil, ErrNotRunning
	}

	sess, err := runResponderHandshake(ctx, n.identity, n.cfg.Session, addr, t)
	if err != nil {
		n.metrics.authFailures.Inc()
		return nil, err
	}

	n.mu.Lock()
	n.sessions[sess.CID] = sess
	n.mu.Unlock()
	n.metrics.sessionsActive.Inc()

	n.table.Add(&discovery.PeerRecord{ID: sess.PeerID, Addr: addr.String(), LastSeen: time.Now()})
	return sess, nil
}

// SendFile registers a new outbound transfer of localPath's already-
// chunked contents to peerID over file, implementing send_file. The
// caller supplies chunks and a FileIO backend (ordinarily
// transport.File over localPath) since the orchestrator does not read
// the filesystem itself.
func (n *Node) SendFile(peerID identity.NodeID, localPath string, chunks [][]byte, file transfer.FileIO) (TransferID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return "", ErrNotRunning
	}

	id := newTransferID()
	tr := transfer.NewSender(string(id), localPath, chunks, file)
	if err := tr.Start(); err != nil {
		return "", err
	}
	n.transfers[id] = tr
	n.transferPeer[id] = peerID
	n.metrics.transfersActive.Inc()
	return id, nil
}

// ReceiveFile registers a new inbound transfer expecting a file matching
// tree, implementing the receiving half of a file transfer.
func (n *Node) ReceiveFile(peerID identity.NodeID, localPath string, tree *transfer.MerkleTree, fileSize int64, chunkSize int, existing *transfer.ResumeRecord, file transfer.FileIO) (TransferID, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		return "", ErrNotRunning
	}

	id := newTransferID()
	tr := transfer.NewReceiver(string(id), localPath, tree, fileSize, chunkSize, existing, file)
	if err := tr.Start(); err != nil {
		return "", err
	}
	n.transfers[id] = tr
	n.transferPeer[id] = peerID
	n.metrics.transfersActive.Inc()
	return id, nil
}

// CancelTransfer removes a transfer from tracking. A canceled transfer's
// FileIO is left for the caller to close.
func (n *Node) CancelTransfer(id TransferID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.transfers[id]; !ok {
		return ErrUnknownTransfer
	}
	delete(n.transfers, id)
	delete(n.transferPeer, id)
	n.metrics.transfersActive.Dec()
	return nil
}

// PauseTransfer suspends an in-progress transfer.
func (n *Node) PauseTransfer(id TransferID) error {
	n.mu.Lock()
	tr, ok := n.transfers[id]
	n.mu.Unlock()
	if !ok {
		return ErrUnknownTransfer
	}
	return tr.Pause()
}

// ResumeTransfer continues a paused transfer.
func (n *Node) ResumeTransfer(id TransferID) error {
	n.mu.Lock()
	tr, ok := n.transfers[id]
	n.mu.Unlock()
	if !ok {
		return ErrUnknownTransfer
	}
	return tr.Resume()
}

// TransferStatusOf returns a plain status record for id.
func (n *Node) TransferStatusOf(id TransferID) (TransferStatus, error) {
	n.mu.Lock()
	tr, ok := n.transfers[id]
	peerID := n.transferPeer[id]
	n.mu.Unlock()
	if !ok {
		return TransferStatus{}, ErrUnknownTransfer
	}
	return TransferStatus{
		ID:       id,
		PeerID:   peerID,
		State:    tr.State().String(),
		Fraction: tr.Progress().Fraction(),
	}, nil
}

// Peers returns a plain status record for every peer in the routing
// table's widest bucket sweep, for status queries.
func (n *Node) Peers() []PeerStatus {
	now := time.Now()
	records := n.table.Nearest(n.identity.NodeID, discovery.BucketSize*discovery.BucketCount)
	out := make([]PeerStatus, 0, len(records))
	for _, r := range records {
		host, _, _ := net.SplitHostPort(r.Addr)
		out = append(out, PeerStatus{
			NodeID:     r.ID,
			Addr:       r.Addr,
			Reputation: n.reputation.Score(host, now),
		})
	}
	return out
}

// Session looks up a tracked session by CID.
func (n *Node) Session(cid session.CID) (*session.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sessions[cid]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// Metrics exposes the orchestrator's Prometheus registry.
func (n *Node) Metrics() *Metrics { return n.metrics }

// Table exposes the routing table for the discovery subsystem to share.
func (n *Node) Table() *discovery.Table { return n.table }

func newTransferID() TransferID {
	var b [16]byte
	rand.Read(b[:])
	const hex = "0123456789abcdef"
	out := make([]byte, 32)
	for i, c := range b {
		out[i*2] = hex[c>>4]
		out[i*2+1] = hex[c&0xF]
	}
	return TransferID(out)
}
