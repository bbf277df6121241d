// Package streammux multiplexes ordered byte streams over one session.
// Writes are fragmented into STREAM_DATA frames with contiguous offsets;
// reads reassemble out-of-order frames keyed by (stream id, offset).
// Generalized from stream/stream.go's single-stream Frame/ACK/window
// model to a multi-stream, multi-priority shape.
package streammux

import (
	"bytes"
	"container/list"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/wraithnet/wraith/wire"
)

const (
	// DefaultStreamWindow is the per-stream receive window in bytes.
	DefaultStreamWindow = 1 << 20
	// DefaultConnectionWindow is the per-connection receive window in bytes.
	DefaultConnectionWindow = 16 << 20
	// DefaultMaxParallelChunks bounds outstanding per-peer chunk requests.
	// The transfer package declares its own constant of the same name and
	// does not read this one.
	DefaultMaxParallelChunks = 16
)

// Priority is a stream's scheduling class. Control always preempts
// interactive, which always preempts bulk.
type Priority uint8

const (
	PriorityBulk Priority = iota
	PriorityInteractive
	PriorityControl
)

// State is a stream's half-duplex-aware lifecycle state.
type State uint8

const (
	StreamOpen State = iota
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
	StreamReset
)

var (
	ErrStreamClosed   = errors.New("streammux: stream closed")
	ErrWindowExceeded = errors.New("streammux: send window exceeded")
	ErrUnknownStream  = errors.New("streammux: unknown stream id")
	ErrMuxClosed      = errors.New("streammux: multiplexer closed")
)

// pendingFrame is one fragment queued for the wire, keyed by priority for
// the scheduler's round robin.
type pendingFrame struct {
	streamID uint32
	header   wire.Header
	payload  []byte
}

// Stream is one ordered, flow-controlled byte stream within a session.
type Stream struct {
	mu sync.Mutex

	id       uint32
	priority Priority
	mux      *Mux

	state State

	// send side
	sendWindow  uint64 // remaining credit granted by the peer
	nextOffset  uint64
	writeBuf    bytes.Buffer

	// receive side
	recvWindow    uint64 // remaining credit we have advertised
	recvWindowMax uint64
	deliverOffset uint64
	reassembly    map[uint64][]byte // offset -> payload, out-of-order
	readBuf       bytes.Buffer

	closed chan struct{}
}

// ID returns the stream's wire identifier.
func (s *Stream) ID() uint32 { return s.id }

// Priority returns the stream's scheduling class.
func (s *Stream) Priority() Priority { return s.priority }

// State returns the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Write fragments p into STREAM_DATA frames and enqueues them with the
// mux's scheduler. It blocks only in the sense of returning
// ErrWindowExceeded immediately rather than buffering unbounded writes;
// callers retry once credit arrives via an ACK.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StreamOpen && s.state != StreamHalfClosedRemote {
		return 0, ErrStreamClosed
	}
	if uint64(len(p)) > s.sendWindow {
		return 0, ErrWindowExceeded
	}

	const maxFragment = 1200 // leaves room for header + AEAD tag under MTU
	written := 0
	for written < len(p) {
		end := written + maxFragment
		if end > len(p) {
			end = len(p)
		}
		chunk := p[written:end]

		h := wire.Header{
			Type:     wire.TypeStreamData,
			StreamID: s.id,
			Offset:   s.nextOffset,
		}
		s.mux.enqueue(pendingFrame{streamID: s.id, header: h, payload: append([]byte(nil), chunk...)}, s.priority)

		s.nextOffset += uint64(len(chunk))
		written += len(chunk)
	}
	s.sendWindow -= uint64(len(p))
	return len(p), nil
}

// CloseWrite sends STREAM_FIN, signaling no more bytes will be written in
// this direction.
func (s *Stream) CloseWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StreamClosed || s.state == StreamReset {
		return nil
	}

	h := wire.Header{Type: wire.TypeStreamFin, StreamID: s.id, Offset: s.nextOffset}
	s.mux.enqueue(pendingFrame{streamID: s.id, header: h}, s.priority)

	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedLocal
	case StreamHalfClosedRemote:
		s.state = StreamClosed
		close(s.closed)
		s.mux.forget(s.id)
	}
	return nil
}

// Read delivers in-order bytes reassembled from received frames, blocking
// until data is available, the stream is FIN'd with nothing left to
// deliver, or it is reset.
func (s *Stream) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		if s.readBuf.Len() > 0 {
			n, _ := s.readBuf.Read(p)
			s.mu.Unlock()
			return n, nil
		}
		if s.state == StreamClosed || s.state == StreamHalfClosedRemote && s.readBuf.Len() == 0 {
			closedRemote := s.state == StreamHalfClosedRemote
			s.mu.Unlock()
			if closedRemote {
				return 0, errStreamEOF
			}
			return 0, ErrStreamClosed
		}
		if s.state == StreamReset {
			s.mu.Unlock()
			return 0, ErrStreamClosed
		}
		s.mu.Unlock()

		select {
		case <-s.mux.dataReady(s.id):
		case <-s.closed:
		}
	}
}

var errStreamEOF = errors.New("streammux: stream EOF")

// deliver handles one received STREAM_DATA frame: in-order bytes are
// appended to readBuf immediately; out-of-order bytes buffer in
// reassembly until the gap closes.
func (s *Stream) deliver(offset uint64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if offset < s.deliverOffset {
		return // duplicate, already delivered
	}
	if offset == s.deliverOffset {
		s.readBuf.Write(payload)
		s.deliverOffset += uint64(len(payload))
		for {
			next, ok := s.reassembly[s.deliverOffset]
			if !ok {
				break
			}
			delete(s.reassembly, s.deliverOffset)
			s.readBuf.Write(next)
			s.deliverOffset += uint64(len(next))
		}
	} else {
		s.reassembly[offset] = append([]byte(nil), payload...)
	}

	consumed := uint64(len(payload))
	if consumed <= s.recvWindow {
		s.recvWindow -= consumed
	} else {
		s.recvWindow = 0
	}
	s.mux.notifyData(s.id)
}

func (s *Stream) handleFin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StreamOpen:
		s.state = StreamHalfClosedRemote
	case StreamHalfClosedLocal:
		s.state = StreamClosed
		close(s.closed)
		s.mux.forget(s.id)
	}
	s.mux.notifyData(s.id)
}

// grantCredit raises the stream's send window, as carried by an ACK's
// credit field.
func (s *Stream) grantCredit(n uint64) {
	s.mu.Lock()
	s.sendWindow += n
	s.mu.Unlock()
}

// Mux multiplexes streams over one session-level transport with the
// class/round-robin scheduler. It counts received STREAM_DATA bytes
// against the per-connection receive window, clamping it at zero; the
// window is not replenished and frames beyond it are still delivered.
type Mux struct {
	log *log.Logger

	mu            sync.Mutex
	streams       map[uint32]*Stream
	nextStreamID  uint32
	isInitiator   bool
	connRecvWindow uint64
	connRecvMax    uint64

	queues  [3]*list.List // indexed by Priority
	rrNext  [3]uint32
	readyCh chan struct{}

	dataCh map[uint32]chan struct{}

	halted chan struct{}
}

// NewMux constructs a multiplexer. isInitiator decides stream id parity:
// initiator-opened streams use even ids, responder-opened use odd, so
// both sides can open streams without colliding.
func NewMux(isInitiator bool) *Mux {
	m := &Mux{
		log:            log.Default().With("component", "streammux"),
		streams:        make(map[uint32]*Stream),
		isInitiator:    isInitiator,
		connRecvWindow: DefaultConnectionWindow,
		connRecvMax:    DefaultConnectionWindow,
		readyCh:        make(chan struct{}, 1),
		dataCh:         make(map[uint32]chan struct{}),
		halted:         make(chan struct{}),
	}
	for i := range m.queues {
		m.queues[i] = list.New()
	}
	if isInitiator {
		m.nextStreamID = 2
	} else {
		m.nextStreamID = 1
	}
	return m
}

// OpenStream allocates a new locally-initiated stream with the given
// priority class.
func (m *Mux) OpenStream(priority Priority) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextStreamID
	m.nextStreamID += 2

	s := &Stream{
		id:            id,
		priority:      priority,
		mux:           m,
		state:         StreamOpen,
		sendWindow:    DefaultStreamWindow,
		recvWindow:    DefaultStreamWindow,
		recvWindowMax: DefaultStreamWindow,
		reassembly:    make(map[uint64][]byte),
		closed:        make(chan struct{}),
	}
	m.streams[id] = s
	m.dataCh[id] = make(chan struct{}, 1)
	return s
}

// Stream returns an existing stream by id, creating it (as peer-opened)
// if this is the first frame seen for it.
func (m *Mux) Stream(id uint32) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.streams[id]; ok {
		return s
	}
	s := &Stream{
		id:            id,
		priority:      PriorityBulk,
		mux:           m,
		state:         StreamOpen,
		sendWindow:    DefaultStreamWindow,
		recvWindow:    DefaultStreamWindow,
		recvWindowMax: DefaultStreamWindow,
		reassembly:    make(map[uint64][]byte),
		closed:        make(chan struct{}),
	}
	m.streams[id] = s
	m.dataCh[id] = make(chan struct{}, 1)
	return s
}

// HandleFrame routes one received frame to its stream, handling
// STREAM_DATA and STREAM_FIN. ACK credit frames are handled by
// HandleAck. Any other frame type is the caller's concern.
func (m *Mux) HandleFrame(h wire.Header, payload []byte) {
	switch h.Type {
	case wire.TypeStreamData:
		m.mu.Lock()
		if uint64(len(payload)) > m.connRecvWindow {
			m.connRecvWindow = 0
		} else {
			m.connRecvWindow -= uint64(len(payload))
		}
		m.mu.Unlock()
		m.Stream(h.StreamID).deliver(h.Offset, payload)
	case wire.TypeStreamFin:
		m.Stream(h.StreamID).handleFin()
	}
}

// HandleAck applies a per-stream credit grant carried by an ACK frame.
func (m *Mux) HandleAck(streamID uint32, credit uint64) {
	m.mu.Lock()
	s, ok := m.streams[streamID]
	m.mu.Unlock()
	if ok {
		s.grantCredit(credit)
	}
}

// enqueue places a frame on its priority queue and wakes the scheduler.
func (m *Mux) enqueue(f pendingFrame, p Priority) {
	m.mu.Lock()
	m.queues[p].PushBack(f)
	m.mu.Unlock()
	select {
	case m.readyCh <- struct{}{}:
	default:
	}
}

// Next blocks until a frame is available or ctx-like halt fires, then
// returns the next frame per the class/round-robin schedule: highest
// non-empty priority class wins, round-robin within the class.
func (m *Mux) Next() (pendingFrame, bool) {
	for {
		m.mu.Lock()
		for p := PriorityControl; ; p-- {
			if f, ok := m.popFrom(p); ok {
				m.mu.Unlock()
				return f, true
			}
			if p == PriorityBulk {
				break
			}
		}
		m.mu.Unlock()

		select {
		case <-m.readyCh:
		case <-m.halted:
			return pendingFrame{}, false
		}
	}
}

func (m *Mux) popFrom(p Priority) (pendingFrame, bool) {
	q := m.queues[p]
	if q.Len() == 0 {
		return pendingFrame{}, false
	}
	// Round-robin across streams: serve the lowest stream id above the
	// last one served in this class, wrapping to the lowest id overall.
	var pick, wrap *list.Element
	for e := q.Front(); e != nil; e = e.Next() {
		id := e.Value.(pendingFrame).streamID
		if id > m.rrNext[p] && (pick == nil || id < pick.Value.(pendingFrame).streamID) {
			pick = e
		}
		if wrap == nil || id < wrap.Value.(pendingFrame).streamID {
			wrap = e
		}
	}
	if pick == nil {
		pick = wrap
	}
	q.Remove(pick)
	f := pick.Value.(pendingFrame)
	m.rrNext[p] = f.streamID
	return f, true
}

// Halt stops Next from blocking further.
func (m *Mux) Halt() {
	close(m.halted)
}

func (m *Mux) dataReady(id uint32) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dataCh[id]
}

func (m *Mux) notifyData(id uint32) {
	m.mu.Lock()
	ch, ok := m.dataCh[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *Mux) forget(id uint32) {
	m.mu.Lock()
	delete(m.streams, id)
	delete(m.dataCh, id)
	m.mu.Unlock()
}
