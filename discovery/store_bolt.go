package discovery

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

var routingBucket = []byte("routing_table")

// BoltPersister durably mirrors routing-table entries to a bbolt file so
// a restarted node can seed its table without a cold bootstrap. Unlike
// Table itself it is not the hot path: it is written to opportunistically
// and read once at startup.
type BoltPersister struct {
	db *bolt.DB
}

// OpenBoltPersister opens (creating if absent) a bbolt database at path.
func OpenBoltPersister(path string) (*BoltPersister, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(routingBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltPersister{db: db}, nil
}

// Close closes the underlying database file.
func (p *BoltPersister) Close() error {
	return p.db.Close()
}

// SavePeer persists one peer record keyed by its NodeId.
func (p *BoltPersister) SavePeer(rec *PeerRecord) error {
	return p.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(routingBucket)
		return b.Put(rec.ID[:], encodePeerRecord(rec))
	})
}

// LoadAll returns every persisted peer record, for seeding a fresh
// Table at startup.
func (p *BoltPersister) LoadAll() ([]*PeerRecord, error) {
	var out []*PeerRecord
	err := p.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(routingBucket)
		return b.ForEach(func(k, v []byte) error {
			rec, ok := decodePeerRecord(k, v)
			if ok {
				out = append(out, rec)
			}
			return nil
		})
	})
	return out, err
}

// encodePeerRecord serializes a PeerRecord as
// [2-byte addr length][addr][8-byte unix nano timestamp].
func encodePeerRecord(rec *PeerRecord) []byte {
	addr := []byte(rec.Addr)
	out := make([]byte, 2+len(addr)+8)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(addr)))
	copy(out[2:], addr)
	binary.BigEndian.PutUint64(out[2+len(addr):], uint64(rec.LastSeen.UnixNano()))
	return out
}

func decodePeerRecord(key, value []byte) (*PeerRecord, bool) {
	if len(key) != 32 || len(value) < 2 {
		return nil, false
	}
	addrLen := int(binary.BigEndian.Uint16(value[0:2]))
	if len(value) < 2+addrLen+8 {
		return nil, false
	}
	addr := string(value[2 : 2+addrLen])
	nanos := int64(binary.BigEndian.Uint64(value[2+addrLen:]))

	var rec PeerRecord
	copy(rec.ID[:], key)
	rec.Addr = addr
	rec.LastSeen = time.Unix(0, nanos)
	return &rec, true
}
