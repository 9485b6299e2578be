package audioio

import (
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavDump captures a copy of every sample written through it to a WAV
// file, for the optional debug capture path (--debug-wav together with
// -d/--debug-level 2 or higher). It replaces the teacher's hand-rolled
// WAV header bytes with the go-audio encoder the rest of the pack uses.
type WavDump struct {
	enc    *wav.Encoder
	closer io.Closer
	buf    *audio.IntBuffer
}

// NewWavDump opens w for a mono stream at sampleRate and returns a
// dump that can be fed alongside the live audio path. Close must be
// called to flush the WAV header's final sizes.
func NewWavDump(w io.WriteSeeker, sampleRate int) *WavDump {
	enc := wav.NewEncoder(w, sampleRate, 16, 1, 1)
	return &WavDump{
		enc: enc,
		buf: &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: sampleRate, NumChannels: 1},
			SourceBitDepth: 16,
		},
	}
}

// Write appends float32 samples in [-1, 1], converting to the 16-bit
// PCM the encoder expects.
func (d *WavDump) Write(samples []float32) error {
	ints := make([]int, len(samples))
	for i, s := range samples {
		ints[i] = int(clampSample(s) * math.MaxInt16)
	}
	d.buf.Data = ints
	return d.enc.Write(d.buf)
}

func clampSample(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	default:
		return s
	}
}

// Close flushes and finalizes the WAV file.
func (d *WavDump) Close() error {
	if err := d.enc.Close(); err != nil {
		return fmt.Errorf("audioio: close wav dump: %w", err)
	}
	return nil
}
