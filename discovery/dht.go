// Package discovery implements peer discovery and NAT traversal: a
// Kademlia-variant DHT over identity.NodeID, STUN-based NAT
// classification, ICE-lite hole punching, NAT-PMP/UPnP port mapping, and
// QUIC-based relay fallback. The DHT's bucket/distance shape is
// generalized from Synnergy's core/kademlia.go (160 SHA-256
// buckets) to WRAITH's own 256-bit NodeId and k=20 bucket capacity, with
// S/Kademlia proof-of-work admission and keyed info-hash privacy layered
// on top.
package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/wraithnet/wraith/identity"
)

const (
	// BucketCount is one bucket per bit of NodeId length.
	BucketCount = identity.NodeIDSize * 8
	// BucketSize (k) is each bucket's maximum peer capacity.
	BucketSize = 20
	// Alpha is the concurrent-query fan-out per lookup iteration.
	Alpha = 3
	// DefaultPoWBits is the required proof-of-work prefix length (in
	// bits) an identity hash must satisfy to be admitted to the table.
	DefaultPoWBits = 20
)

// PeerRecord is one DHT-known peer: its identity and last confirmed
// network address.
type PeerRecord struct {
	ID       identity.NodeID
	Addr     string
	LastSeen time.Time
	stale    bool
}

type bucket struct {
	mu    sync.Mutex
	peers []*PeerRecord
}

// Table is the Kademlia-variant routing table keyed by XOR distance from
// the local NodeId.
type Table struct {
	self    identity.NodeID
	buckets [BucketCount]*bucket
	powBits int
}

// NewTable builds a routing table for the local identity. powBits is the
// number of leading zero bits Add requires of a peer id: zero admits
// every id, and a negative value selects DefaultPoWBits.
func NewTable(self identity.NodeID, powBits int) *Table {
	if powBits < 0 {
		powBits = DefaultPoWBits
	}
	t := &Table{self: self, powBits: powBits}
	for i := range t.buckets {
		t.buckets[i] = &bucket{}
	}
	return t
}

// bucketIndex returns which bucket id belongs in: the index of the
// highest set bit in the XOR distance, counted from the most
// significant bit.
func (t *Table) bucketIndex(id identity.NodeID) int {
	d := t.self.Distance(id)
	for i, b := range d {
		if b == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if b&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return BucketCount - 1
}

// HasProofOfWork reports whether id's leading powBits are zero, the
// S/Kademlia Sybil-defense admission check.
func HasProofOfWork(id identity.NodeID, powBits int) bool {
	checked := 0
	for _, b := range id {
		for bit := 7; bit >= 0; bit-- {
			if checked >= powBits {
				return true
			}
			if b&(1<<uint(bit)) != 0 {
				return false
			}
			checked++
		}
	}
	return checked >= powBits
}

// Add inserts a peer into its bucket if it passes the proof-of-work
// admission check. Stale entries are evicted before fresh ones on
// overflow; a fresh entry never displaces a live one outright — that
// requires a failed liveness probe first (MarkStale, after which Add
// replaces the stale entry).
func (t *Table) Add(p *PeerRecord) bool {
	if p.ID == t.self {
		return false
	}
	if !HasProofOfWork(p.ID, t.powBits) {
		return false
	}

	idx := t.bucketIndex(p.ID)
	b := t.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.peers {
		if existing.ID == p.ID {
			existing.Addr = p.Addr
			existing.LastSeen = p.LastSeen
			existing.stale = false
			return true
		}
	}

	if len(b.peers) < BucketSize {
		b.peers = append(b.peers, p)
		return true
	}

	for i, existing := range b.peers {
		if existing.stale {
			b.peers[i] = p
			return true
		}
	}
	return false
}

// MarkStale flags a peer as a liveness-probe-failure candidate for
// eviction, without removing it immediately.
func (t *Table) MarkStale(id identity.NodeID) {
	idx := t.bucketIndex(id)
	b := t.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.peers {
		if p.ID == id {
			p.stale = true
			return
		}
	}
}

// Nearest returns up to count peers closest to target by XOR distance,
// searched outward from target's own bucket across neighboring buckets.
func (t *Table) Nearest(target identity.NodeID, count int) []*PeerRecord {
	idx := t.bucketIndex(target)

	var candidates []*PeerRecord
	for radius := 0; radius < BucketCount && len(candidates) < count*4; radius++ {
		for j, i := range []int{idx - radius, idx + radius} {
			if i < 0 || i >= BucketCount || (radius == 0 && j == 1) {
				continue
			}
			b := t.buckets[i]
			b.mu.Lock()
			candidates = append(candidates, b.peers...)
			b.mu.Unlock()
		}
		if radius == 0 {
			continue
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := target.Distance(candidates[i].ID)
		dj := target.Distance(candidates[j].ID)
		return di.Less(dj)
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// Store is the DHT's local key-value store for the store/find_value
// operations, keyed by a 32-byte (possibly keyed-hash) identifier.
type Store struct {
	mu   sync.Mutex
	data map[[32]byte][]byte
}

// NewStore builds an empty value store.
func NewStore() *Store {
	return &Store{data: make(map[[32]byte][]byte)}
}

// Put implements the DHT's store operation.
func (s *Store) Put(key [32]byte, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
}

// Get implements the DHT's find_value operation against the local store.
func (s *Store) Get(key [32]byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}
