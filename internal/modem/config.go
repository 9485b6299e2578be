// Package modem implements the So-Fi sender modulator and receiver
// demodulator: the real-time audio callback state machine and the
// worker-thread correlator/framer described in spec.md §4.3-4.4.
package modem

import (
	"fmt"
	"math"

	"github.com/shermpay/sofi/internal/codec"
)

// DefaultSilenceThreshold is the fixed correlator floor carried over
// from original_source/libsofi/libsofi.c ("XXX: need a real heuristic
// for silence."). spec.md §9 flags this as known-fragile and an open
// design question; this implementation leaves it configurable rather
// than guessing a better default.
const DefaultSilenceThreshold = 100.0

// Config is the immutable, validated configuration captured at Init
// and shared by the sender and receiver for the lifetime of a Modem.
type Config struct {
	// SampleRate is the audio clock shared by both directions, in Hz.
	SampleRate int
	// Baud is the symbol rate in symbols/sec.
	Baud float64
	// SymbolWidth is the number of bits per symbol; one of 1, 2, 4, 8.
	SymbolWidth int
	// SymbolFreqs holds one frequency in Hz per symbol value; its
	// length must equal NumSymbols().
	SymbolFreqs []float64
	// RecvWindowFactor sizes the carrier-detect window as a fraction
	// of one symbol period.
	RecvWindowFactor float64
	// InterpacketGapFactor sizes the mandatory post-frame silence as a
	// multiple of one symbol period. The original implementation
	// hardcodes this to 2; spec.md promotes it to a field.
	InterpacketGapFactor float64
	// MaxPayload bounds the payload length accepted by Send, and thus
	// the cap applied to demodulated messages. Must be in [0, 255].
	MaxPayload int
	// SilenceThreshold is the fixed correlator-energy floor above
	// which a window is classified as carrier rather than silence.
	SilenceThreshold float64
	// Sender and Receiver select which halves of the modem run.
	Sender, Receiver bool
	// DebugLevel controls log verbosity (0 = errors only).
	DebugLevel int
	// DebugWavPath, when non-empty and DebugLevel is 2 or higher,
	// names a file the audio stream should dump captured input
	// samples to as it runs.
	DebugWavPath string
}

// DefaultConfig returns the parameters from
// original_source/sofi.h's DEFAULT_SOFI_INIT_PARAMS, with
// InterpacketGapFactor and MaxPayload filled in per spec.md.
func DefaultConfig() Config {
	return Config{
		SampleRate:           192000,
		Baud:                 1200,
		SymbolWidth:          2,
		SymbolFreqs:          []float64{2400, 1200, 4800, 3600},
		RecvWindowFactor:     0.2,
		InterpacketGapFactor: 2,
		MaxPayload:           codec.MaxPayload,
		SilenceThreshold:     DefaultSilenceThreshold,
		Sender:               true,
		Receiver:             true,
		DebugLevel:           0,
	}
}

// NumSymbols is 1 << SymbolWidth, the alphabet size.
func (c Config) NumSymbols() int {
	return 1 << uint(c.SymbolWidth)
}

// SymbolsPerByte is 8 / SymbolWidth.
func (c Config) SymbolsPerByte() int {
	return 8 / c.SymbolWidth
}

// SamplesPerSymbol is round(SampleRate / Baud), the hold time for one
// symbol in samples.
func (c Config) SamplesPerSymbol() int {
	return int(math.Round(float64(c.SampleRate) / c.Baud))
}

// WindowSamples is the short carrier-detect window used in the LISTEN
// state: round(RecvWindowFactor / Baud * SampleRate).
func (c Config) WindowSamples() int {
	return int(math.Round(c.RecvWindowFactor / c.Baud * float64(c.SampleRate)))
}

// GapSamples is the interpacket silence duration in samples:
// round(InterpacketGapFactor / Baud * SampleRate).
func (c Config) GapSamples() int {
	return int(math.Round(c.InterpacketGapFactor / c.Baud * float64(c.SampleRate)))
}

// MaxSymbols is the symbol-vector length ceiling for a frame built
// from MaxPayload, used to cap in-flight demodulated messages.
func (c Config) MaxSymbols() int {
	n, _ := codec.MaxSymbols(c.SymbolWidth, c.MaxPayload)
	return n
}

// Validate checks every field's range and mutual consistency, mirroring
// the checks sofi_init() in the original implementation skipped but
// spec.md §7 requires (ConfigInvalid is fatal, reported by Init).
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("modem: sample rate %d must be > 0", c.SampleRate)
	}
	if c.Baud < 1 {
		return fmt.Errorf("modem: baud %f must be >= 1", c.Baud)
	}
	switch c.SymbolWidth {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("modem: symbol width %d must be one of 1, 2, 4, 8", c.SymbolWidth)
	}
	if len(c.SymbolFreqs) != c.NumSymbols() {
		return fmt.Errorf("modem: expected %d symbol frequencies, got %d", c.NumSymbols(), len(c.SymbolFreqs))
	}
	nyquist := float64(c.SampleRate) / 2
	seen := make(map[float64]bool, len(c.SymbolFreqs))
	for _, f := range c.SymbolFreqs {
		if f <= 0 || f >= nyquist {
			return fmt.Errorf("modem: symbol frequency %f must be in (0, %f) Nyquist", f, nyquist)
		}
		if seen[f] {
			return fmt.Errorf("modem: symbol frequency %f is not distinct", f)
		}
		seen[f] = true
	}
	if c.RecvWindowFactor <= 0 {
		return fmt.Errorf("modem: recv window factor %f must be > 0", c.RecvWindowFactor)
	}
	if c.InterpacketGapFactor < 1 {
		return fmt.Errorf("modem: interpacket gap factor %f must be >= 1", c.InterpacketGapFactor)
	}
	if c.MaxPayload < 0 || c.MaxPayload > codec.MaxPayload {
		return fmt.Errorf("modem: max payload %d must be in [0, %d]", c.MaxPayload, codec.MaxPayload)
	}
	if c.SilenceThreshold <= 0 {
		return fmt.Errorf("modem: silence threshold %f must be > 0", c.SilenceThreshold)
	}
	if !c.Sender && !c.Receiver {
		return fmt.Errorf("modem: at least one of Sender, Receiver must be enabled")
	}
	if c.WindowSamples() >= c.SamplesPerSymbol() {
		return fmt.Errorf("modem: recv window (%d samples) must be shorter than one symbol period (%d samples)", c.WindowSamples(), c.SamplesPerSymbol())
	}
	return nil
}
