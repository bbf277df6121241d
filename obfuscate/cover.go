package obfuscate

import (
	"math"
	"math/rand"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/wraithnet/wraith/internal/lifecycle"
	"github.com/wraithnet/wraith/wire"
)

var log = logging.MustGetLogger("wraith/obfuscate")

// CoverDistribution selects how wake intervals between synthetic
// PADDING frames are drawn, mirroring decoy.go's worker loop.
type CoverDistribution int

const (
	CoverConstantRate CoverDistribution = iota
	CoverPoisson
	CoverUniform
)

// CoverConfig parameterizes the cover traffic generator.
type CoverConfig struct {
	Distribution CoverDistribution
	Interval     time.Duration // for CoverConstantRate
	Lambda       float64       // events/sec, for CoverPoisson
	UniformLo    time.Duration
	UniformHi    time.Duration
	PaddingLen   int
}

func (c CoverConfig) withDefaults() CoverConfig {
	if c.Interval == 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.Lambda == 0 {
		c.Lambda = 2.0
	}
	if c.UniformHi == 0 {
		c.UniformLo, c.UniformHi = 100*time.Millisecond, 1*time.Second
	}
	if c.PaddingLen == 0 {
		c.PaddingLen = 128
	}
	return c
}

// CoverGenerator emits authenticated PADDING frames on cfg's schedule
// until halted. Emitted frames are handed to emit, which is responsible
// for sealing and sending them exactly like any real frame — cover
// traffic is indistinguishable from genuine traffic to an observer or to
// the peer's frame parser, which discards PADDING on receipt.
type CoverGenerator struct {
	lifecycle.Worker

	cfg  CoverConfig
	emit func(h wire.Header, payload []byte)
}

// NewCoverGenerator builds a generator; emit is called once per
// synthetic frame on the generator's own goroutine.
func NewCoverGenerator(cfg CoverConfig, emit func(h wire.Header, payload []byte)) *CoverGenerator {
	return &CoverGenerator{cfg: cfg.withDefaults(), emit: emit}
}

// Start runs the wake loop in a tracked goroutine, following decoy.go's
// worker shape: sleep for a sampled interval, emit, repeat until halted.
func (g *CoverGenerator) Start() {
	g.Go(func() {
		timer := time.NewTimer(g.nextInterval())
		defer timer.Stop()
		for {
			select {
			case <-g.HaltCh():
				return
			case <-timer.C:
				payload := make([]byte, g.cfg.PaddingLen)
				rand.Read(payload)
				g.emit(wire.Header{Type: wire.TypePadding, StreamID: wire.ControlStreamID}, payload)
				log.Debugf("emitted cover padding frame, %d bytes", g.cfg.PaddingLen)
				timer.Reset(g.nextInterval())
			}
		}
	})
}

func (g *CoverGenerator) nextInterval() time.Duration {
	switch g.cfg.Distribution {
	case CoverConstantRate:
		return g.cfg.Interval
	case CoverPoisson:
		lambda := g.cfg.Lambda
		if lambda <= 0 {
			lambda = 2.0
		}
		u := rand.Float64()
		if u <= 0 {
			u = 1e-9
		}
		seconds := -math.Log(u) / lambda
		return time.Duration(seconds * float64(time.Second))
	case CoverUniform:
		lo, hi := g.cfg.UniformLo, g.cfg.UniformHi
		if hi <= lo {
			return lo
		}
		return lo + time.Duration(rand.Int63n(int64(hi-lo)))
	default:
		return g.cfg.Interval
	}
}

// Stop halts the generator and waits for its goroutine to exit.
func (g *CoverGenerator) Stop() {
	g.Halt()
	g.Wait()
}
