package transfer

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// State is a transfer's explicit lifecycle state.
type State int

const (
	Initializing State = iota
	Handshaking
	Transferring
	Paused
	Completing
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "Initializing"
	case Handshaking:
		return "Handshaking"
	case Transferring:
		return "Transferring"
	case Paused:
		return "Paused"
	case Completing:
		return "Completing"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var (
	ErrInvalidTransition = errors.New("transfer: invalid state transition")
	ErrChunkVerifyFailed = errors.New("transfer: chunk failed verification")
)

// FileIO is the file I/O surface the transfer engine consumes. The core
// does not care whether an implementation is backed by io_uring or
// ordinary blocking syscalls (spec's own "consumed" boundary) — only a
// reference os.File-backed implementation lives in this module, in
// transport.
type FileIO interface {
	PreadAt(offset int64, length int) ([]byte, error)
	PwriteAt(offset int64, buf []byte) error
	Preallocate(size int64) error
	Sync() error
	Close() error
}

// Transfer is one file transmission, tracking state, the present/missing
// chunk sets, per-peer assignment via Scheduler, and progress.
type Transfer struct {
	mu sync.Mutex

	log *log.Logger

	ID        string
	Direction string // "send" or "receive"
	LocalPath string

	tree      *MerkleTree
	resume    *ResumeRecord
	scheduler *Scheduler
	progress  *Progress

	file FileIO

	state State
}

// NewSender builds a Transfer for the sending side: the tree is built
// from the file's chunks up front, and every chunk starts present.
func NewSender(id, localPath string, chunks [][]byte, file FileIO) *Transfer {
	tree := BuildMerkleTree(chunks)
	var total int64
	for _, c := range chunks {
		total += int64(len(c))
	}
	chunkSize := DefaultChunkSize
	if len(chunks) > 0 {
		chunkSize = len(chunks[0])
	}
	resume := NewCompleteResumeRecord(tree.Root(), total, chunkSize, len(chunks))
	return &Transfer{
		log:       log.Default().With("transfer", id),
		ID:        id,
		Direction: "send",
		LocalPath: localPath,
		tree:      tree,
		resume:    resume,
		progress:  NewProgress(total),
		file:      file,
		state:     Initializing,
	}
}

// NewReceiver builds a Transfer for the receiving side from an
// advertised Merkle tree (leaf hashes, exchanged out of band before the
// transfer starts), file size, and chunk size. If an existing
// ResumeRecord is supplied and its root matches the tree's root, it
// resumes; otherwise a fresh all-missing record is used.
func NewReceiver(id, localPath string, tree *MerkleTree, fileSize int64, chunkSize int, existing *ResumeRecord, file FileIO) *Transfer {
	root := tree.Root()
	total := ChunkCount(fileSize, chunkSize)
	var resume *ResumeRecord
	if existing != nil && existing.RootHash == root {
		resume = existing
	} else {
		resume = NewResumeRecord(root, fileSize, chunkSize, total)
	}

	strategy := Adaptive
	sched := NewScheduler(strategy, append([]int(nil), resume.Missing...), 30*time.Second)

	return &Transfer{
		log:       log.Default().With("transfer", id),
		ID:        id,
		Direction: "receive",
		LocalPath: localPath,
		tree:      tree,
		resume:    resume,
		scheduler: sched,
		progress:  NewProgress(fileSize),
		file:      file,
		state:     Initializing,
	}
}

// State returns the transfer's current lifecycle state.
func (t *Transfer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transfer) transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ok := false
	switch t.state {
	case Initializing:
		ok = to == Handshaking || to == Failed
	case Handshaking:
		ok = to == Transferring || to == Failed
	case Transferring:
		ok = to == Paused || to == Completing || to == Failed
	case Paused:
		ok = to == Transferring || to == Failed
	case Completing:
		ok = to == Complete || to == Failed
	case Complete, Failed:
		ok = false
	}
	if !ok {
		return ErrInvalidTransition
	}
	t.state = to
	return nil
}

// Start moves a transfer from Initializing through Handshaking into
// Transferring.
func (t *Transfer) Start() error {
	if err := t.transition(Handshaking); err != nil {
		return err
	}
	return t.transition(Transferring)
}

// Pause suspends an in-progress transfer without losing scheduler state.
func (t *Transfer) Pause() error { return t.transition(Paused) }

// Resume continues a paused transfer.
func (t *Transfer) Resume() error { return t.transition(Transferring) }

// ReceiveChunk verifies and stores one received chunk. A hash mismatch
// discards the chunk, increments the peer's failure counter via the
// scheduler, and returns ErrChunkVerifyFailed so the caller re-requests
// from a different peer; the chunk is returned to the scheduler's pool
// rather than retired.
func (t *Transfer) ReceiveChunk(peerID string, index int, data []byte) error {
	t.mu.Lock()
	tree := t.tree
	t.mu.Unlock()

	if tree != nil && !tree.VerifyChunk(index, data) {
		if t.scheduler != nil {
			t.scheduler.Fail(index)
		}
		return ErrChunkVerifyFailed
	}

	start, _ := ChunkBounds(int64(index), t.resume.FileSize, t.resume.ChunkSize)
	if t.file != nil {
		if err := t.file.PwriteAt(start, data); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.resume.MarkPresent(index)
	t.mu.Unlock()

	if t.scheduler != nil {
		t.scheduler.Complete(index)
	}
	t.progress.Add(time.Now(), int64(len(data)))

	if t.resume.IsComplete() {
		return t.transition(Completing)
	}
	return nil
}

// ResumeRecord exposes the transfer's persisted resume state.
func (t *Transfer) ResumeRecord() *ResumeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resume
}

// Scheduler exposes the multi-peer chunk scheduler (nil on the sending
// side, which has nothing to schedule against).
func (t *Transfer) Scheduler() *Scheduler {
	return t.scheduler
}

// Progress exposes the transfer's byte-level progress tracker.
func (t *Transfer) Progress() *Progress {
	return t.progress
}

// ReadChunk reads chunk index's bytes from the local file, for the
// sending side to serve a chunk request.
func (t *Transfer) ReadChunk(index int) ([]byte, error) {
	t.mu.Lock()
	chunkSize := t.resume.ChunkSize
	fileSize := t.resume.FileSize
	t.mu.Unlock()

	start, end := ChunkBounds(int64(index), fileSize, chunkSize)
	return t.file.PreadAt(start, int(end-start))
}
