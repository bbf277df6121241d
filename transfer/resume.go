package transfer

import (
	"encoding/json"
	"math/bits"
	"os"
)

// PresentBitset is a dense bitset of chunk indices already written,
// giving O(1) membership and mark operations regardless of chunk count.
// It marshals as a plain array of uint64 words, so resume files stay
// ordinary JSON rather than needing a custom encoding.
type PresentBitset []uint64

// newPresentBitset allocates a bitset with room for total chunk indices,
// all initially unset.
func newPresentBitset(total int) PresentBitset {
	return make(PresentBitset, (total+63)/64)
}

// fullPresentBitset allocates a bitset with every index in [0, total) set.
func fullPresentBitset(total int) PresentBitset {
	b := newPresentBitset(total)
	for i := 0; i < total; i++ {
		b.Set(i)
	}
	return b
}

// Has reports whether chunk i is marked present.
func (b PresentBitset) Has(i int) bool {
	word := i / 64
	if i < 0 || word >= len(b) {
		return false
	}
	return b[word]&(1<<uint(i%64)) != 0
}

// Set marks chunk i present. No-op if i is out of range for the bitset's
// allocated size.
func (b PresentBitset) Set(i int) {
	word := i / 64
	if i < 0 || word >= len(b) {
		return
	}
	b[word] |= 1 << uint(i%64)
}

// Count returns the number of set bits.
func (b PresentBitset) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// ResumeRecord is the JSON-persisted state of one in-progress or paused
// transfer. Present is a dense bitset for O(1) membership; Missing stays
// a sparse slice of not-yet-received indices, kept in sync by
// MarkPresent so "which chunks are missing" never needs a full scan of
// Present.
type ResumeRecord struct {
	RootHash  [32]byte      `json:"root_hash"`
	FileSize  int64         `json:"file_size"`
	ChunkSize int           `json:"chunk_size"`
	Present   PresentBitset `json:"present"`
	Missing   []int         `json:"missing"`
}

// NewResumeRecord builds a fresh record for a transfer with totalChunks
// chunks, all missing.
func NewResumeRecord(root [32]byte, fileSize int64, chunkSize, totalChunks int) *ResumeRecord {
	missing := make([]int, totalChunks)
	for i := range missing {
		missing[i] = i
	}
	return &ResumeRecord{
		RootHash:  root,
		FileSize:  fileSize,
		ChunkSize: chunkSize,
		Present:   newPresentBitset(totalChunks),
		Missing:   missing,
	}
}

// NewCompleteResumeRecord builds a record for a transfer with totalChunks
// chunks that are all already present, e.g. the sending side of a
// transfer whose chunks already exist on disk in full.
func NewCompleteResumeRecord(root [32]byte, fileSize int64, chunkSize, totalChunks int) *ResumeRecord {
	return &ResumeRecord{
		RootHash:  root,
		FileSize:  fileSize,
		ChunkSize: chunkSize,
		Present:   fullPresentBitset(totalChunks),
		Missing:   []int{},
	}
}

// Total returns the record's total chunk count: |present| + |missing|.
func (r *ResumeRecord) Total() int {
	return r.Present.Count() + len(r.Missing)
}

// MarkPresent moves chunk i from missing to present. No-op if already
// present.
func (r *ResumeRecord) MarkPresent(i int) {
	if r.Present.Has(i) {
		return
	}
	for idx, m := range r.Missing {
		if m == i {
			r.Missing = append(r.Missing[:idx], r.Missing[idx+1:]...)
			break
		}
	}
	r.Present.Set(i)
}

// IsComplete reports whether every chunk is present.
func (r *ResumeRecord) IsComplete() bool {
	return len(r.Missing) == 0
}

// Save writes the record as JSON to path.
func (r *ResumeRecord) Save(path string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadResumeRecord reads a record previously written by Save. The caller
// must separately verify the root hash against a freshly built Merkle
// tree before trusting the record; a mismatch means resume is invalid
// and a fresh transfer must start (spec's own resume-invalidation rule).
func LoadResumeRecord(path string) (*ResumeRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r ResumeRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// VerifyAgainst checks that the record's recorded root hash matches tree.
func (r *ResumeRecord) VerifyAgainst(tree *MerkleTree) error {
	if tree.Root() != r.RootHash {
		return ErrRootMismatch
	}
	return nil
}
