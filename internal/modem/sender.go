package modem

import (
	"math"

	"github.com/shermpay/sofi/internal/codec"
	"github.com/shermpay/sofi/internal/ring"
)

type senderState int

const (
	senderIdle senderState = iota
	senderTransmitting
	senderGap
)

// Sender is the real-time sender modulator described in spec.md §4.3.
// Process is invoked from the audio callback: it never allocates,
// blocks, or touches the receive side.
type Sender struct {
	cfg Config
	ring *ring.Buffer[codec.RawMessage]

	state       senderState
	msg         codec.RawMessage
	symbolIndex int
	samplesLeft int
	gapLeft     int
	currentFreq float64
	phase       float64
}

// NewSender creates a sender bound to the given send ring.
func NewSender(cfg Config, sendRing *ring.Buffer[codec.RawMessage]) *Sender {
	return &Sender{cfg: cfg, ring: sendRing}
}

// Process fills out with one sample per element, advancing the
// sender's state machine. It is the only method safe to call from the
// real-time audio callback.
func (s *Sender) Process(out []float32) {
	for i := range out {
		switch s.state {
		case senderIdle:
			r1, r2 := s.ring.PeekRegions(1)
			var msg codec.RawMessage
			switch {
			case len(r1) > 0:
				msg = r1[0]
			case len(r2) > 0:
				msg = r2[0]
			default:
				out[i] = 0
				continue
			}
			s.msg = msg
			s.symbolIndex = 0
			s.samplesLeft = 0
			s.state = senderTransmitting
			fallthrough
		case senderTransmitting:
			if s.samplesLeft <= 0 {
				if s.symbolIndex >= len(s.msg.Symbols) {
					s.ring.AdvanceRead(1)
					s.state = senderGap
					s.gapLeft = s.cfg.GapSamples()
					out[i] = 0
					continue
				}
				s.currentFreq = s.cfg.SymbolFreqs[s.msg.Symbols[s.symbolIndex]]
				s.symbolIndex++
				s.samplesLeft = s.cfg.SamplesPerSymbol()
			}
			out[i] = float32(math.Sin(s.phase))
			s.phase += 2 * math.Pi * s.currentFreq / float64(s.cfg.SampleRate)
			for s.phase >= 2*math.Pi {
				s.phase -= 2 * math.Pi
			}
			s.samplesLeft--
		case senderGap:
			out[i] = 0
			s.gapLeft--
			if s.gapLeft <= 0 {
				s.state = senderIdle
			}
		}
	}
}

// Idle reports whether the sender currently has no message in flight
// and the gap has elapsed, used by destroy() to know when it is safe
// to stop the stream.
func (s *Sender) Idle() bool {
	return s.state == senderIdle && s.ring.ReadAvailable() == 0
}
