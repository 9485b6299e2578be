package modem

import (
	"context"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/shermpay/sofi/internal/codec"
	"github.com/shermpay/sofi/internal/diag"
	"github.com/shermpay/sofi/internal/queue"
	"github.com/shermpay/sofi/internal/ring"
)

type receiverState int

const (
	receiverListen receiverState = iota
	receiverDemodulate
)

// Receiver is the worker-thread demodulator described in spec.md §4.4:
// it owns the receive ring's consumer side, correlates each window
// against every symbol frequency, and drives a two-state carrier
// framer that assembles and delivers one packet between carrier rise
// and fall.
type Receiver struct {
	cfg    Config
	ring   *ring.Buffer[float32]
	queue  *queue.Queue[codec.Packet]
	logger *log.Logger

	state   receiverState
	symbols []byte
	window  []float32
}

// NewReceiver creates a receiver bound to the given receive ring and
// output queue.
func NewReceiver(cfg Config, recvRing *ring.Buffer[float32], q *queue.Queue[codec.Packet], logger *log.Logger) *Receiver {
	maxWindow := cfg.WindowSamples()
	if s := cfg.SamplesPerSymbol(); s > maxWindow {
		maxWindow = s
	}
	return &Receiver{
		cfg:    cfg,
		ring:   recvRing,
		queue:  q,
		logger: logger,
		window: make([]float32, maxWindow),
	}
}

// Run drives the demodulator until ctx is cancelled. Cancellation is
// checked before each window read, matching the cooperative
// cancellation checkpoint spec.md §5 requires ahead of pthread_cancel
// in the original.
func (r *Receiver) Run(ctx context.Context) {
	// align, when non-zero, is the rest of the first symbol after the
	// LISTEN window that found the carrier; it is read and discarded so
	// each DEMODULATE window covers one whole symbol.
	align := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		windowSize := r.cfg.WindowSamples()
		if r.state == receiverDemodulate {
			windowSize = r.cfg.SamplesPerSymbol()
		}
		if align > 0 {
			windowSize = align
		}

		if r.ring.ReadAvailable() < windowSize {
			sleepFor := time.Duration(float64(windowSize) / float64(r.cfg.SampleRate) * float64(time.Second))
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleepFor):
			}
			continue
		}

		window := r.window[:windowSize]
		n := r.ring.Read(window)
		window = window[:n]
		if align > 0 {
			align = 0
			continue
		}

		symbol, strength := r.correlate(window)
		if r.cfg.DebugLevel >= 3 {
			stats := diag.Calculate(window, 0.02)
			r.logger.Debug("window correlated",
				"symbol", symbol, "strength", strength,
				"rms", stats.RMS, "peak", stats.Peak, "silence_ratio", stats.SilenceRatio)
		}

		prev := r.state
		r.step(symbol)
		if prev == receiverListen && r.state == receiverDemodulate {
			align = r.cfg.SamplesPerSymbol() - windowSize
		}
	}
}

// correlate computes, for every candidate symbol, the Goertzel-
// equivalent energy S_i = (Σ x·sin)² + (Σ x·cos)² over window and
// returns the argmax index (ties resolve to the lowest index) and its
// strength, or (-1, maxStrength) if no candidate exceeds the silence
// floor.
func (r *Receiver) correlate(window []float32) (symbol int, maxStrength float64) {
	symbol = -1
	maxStrength = r.cfg.SilenceThreshold
	fs := float64(r.cfg.SampleRate)

	for i, freq := range r.cfg.SymbolFreqs {
		var sinAcc, cosAcc float64
		for j, x := range window {
			angle := 2 * math.Pi * freq * float64(j) / fs
			sinAcc += math.Sin(angle) * float64(x)
			cosAcc += math.Cos(angle) * float64(x)
		}
		strength := sinAcc*sinAcc + cosAcc*cosAcc
		if strength > maxStrength {
			maxStrength = strength
			symbol = i
		}
	}
	return symbol, maxStrength
}

// step advances the two-state framer by one correlated window.
func (r *Receiver) step(symbol int) {
	switch r.state {
	case receiverListen:
		if symbol != -1 {
			r.symbols = r.symbols[:0]
			r.appendSymbol(byte(symbol))
			r.state = receiverDemodulate
			if r.cfg.DebugLevel >= 2 {
				r.logger.Debug("-> DEMODULATE")
			}
		}
	case receiverDemodulate:
		if symbol == -1 {
			r.deliver()
			r.state = receiverListen
			if r.cfg.DebugLevel >= 2 {
				r.logger.Debug("-> LISTEN")
			}
			return
		}
		r.appendSymbol(byte(symbol))
	}
}

// appendSymbol caps the in-flight message at MaxSymbols, silently
// dropping anything beyond that per spec.md §4.4.
func (r *Receiver) appendSymbol(s byte) {
	if len(r.symbols) < r.cfg.MaxSymbols() {
		r.symbols = append(r.symbols, s)
	}
}

// deliver decodes the assembled raw message and enqueues it if the
// CRC validates; a mismatch is logged and the message is dropped
// in place, per spec.md §7.
func (r *Receiver) deliver() {
	msg := codec.RawMessage{Symbols: append([]byte(nil), r.symbols...)}
	pkt, err := codec.Decode(msg, r.cfg.SymbolWidth)
	if err != nil {
		if r.cfg.DebugLevel >= 1 {
			r.logger.Debug("dropped corrupt packet", "err", err)
		}
		return
	}
	if dropped := r.queue.Enqueue(pkt); dropped {
		if r.cfg.DebugLevel >= 1 {
			r.logger.Warn("receive queue overflow, packet dropped")
		}
	}
}
