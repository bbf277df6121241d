package discovery

import (
	"context"
	"sync"

	"github.com/wraithnet/wraith/identity"
)

// QueryFunc issues one find_node RPC to peer and returns the peers it
// claims are closest to target. Implementations carry the actual wire
// round-trip; Lookup itself only drives the iterative algorithm.
type QueryFunc func(ctx context.Context, peer *PeerRecord, target identity.NodeID) ([]*PeerRecord, error)

// Lookup performs the iterative find_node procedure: at each round it
// queries up to Alpha of the closest not-yet-queried peers concurrently,
// merges their answers into the candidate set, and stops once a round
// learns no peer that was not already known. This
// mirrors Synnergy's iterative bucket-walk but parallelizes the fan-out.
func Lookup(ctx context.Context, table *Table, target identity.NodeID, query QueryFunc) []*PeerRecord {
	queried := make(map[identity.NodeID]bool)
	known := make(map[identity.NodeID]*PeerRecord)

	for _, p := range table.Nearest(target, BucketSize) {
		known[p.ID] = p
	}

	for {
		candidates := closestUnqueried(known, queried, target, Alpha)
		if len(candidates) == 0 {
			break
		}

		var mu sync.Mutex
		var wg sync.WaitGroup
		improved := false

		for _, c := range candidates {
			queried[c.ID] = true
			wg.Add(1)
			go func(c *PeerRecord) {
				defer wg.Done()
				found, err := query(ctx, c, target)
				if err != nil {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				for _, f := range found {
					if _, ok := known[f.ID]; !ok {
						known[f.ID] = f
						improved = true
					}
				}
			}(c)
		}
		wg.Wait()

		if !improved {
			break
		}
	}

	return sortedByDistance(known, target, BucketSize)
}

func closestUnqueried(known map[identity.NodeID]*PeerRecord, queried map[identity.NodeID]bool, target identity.NodeID, count int) []*PeerRecord {
	var remaining []*PeerRecord
	for id, p := range known {
		if !queried[id] {
			remaining = append(remaining, p)
		}
	}
	return sortedSliceByDistance(remaining, target, count)
}

func sortedByDistance(known map[identity.NodeID]*PeerRecord, target identity.NodeID, count int) []*PeerRecord {
	all := make([]*PeerRecord, 0, len(known))
	for _, p := range known {
		all = append(all, p)
	}
	return sortedSliceByDistance(all, target, count)
}

func sortedSliceByDistance(peers []*PeerRecord, target identity.NodeID, count int) []*PeerRecord {
	out := append([]*PeerRecord(nil), peers...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			di := target.Distance(out[j].ID)
			dj := target.Distance(out[j-1].ID)
			if di.Less(dj) {
				out[j], out[j-1] = out[j-1], out[j]
			} else {
				break
			}
		}
	}
	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out
}
