// Package audioio wires the modem's sender and receiver into a single
// full-duplex PortAudio stream, the same way
// original_source/libsofi/libsofi.c drives one Pa_OpenStream callback
// for both directions.
package audioio

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"github.com/shermpay/sofi/internal/modem"
	"github.com/shermpay/sofi/internal/ring"
)

// dumpRingCapacity is sized generously relative to a typical callback
// buffer so the drain goroutine can fall behind briefly without
// losing samples; it is not tied to the receive ring's size.
const dumpRingCapacity = 1 << 18

// Stream owns the PortAudio lifecycle and the single real-time
// callback that feeds the sender's output and drains into the
// receiver's input ring.
type Stream struct {
	cfg    modem.Config
	logger *log.Logger

	sender   *modem.Sender
	recvRing *ring.Buffer[float32]

	stream      *portaudio.Stream
	initialized bool

	dump     *WavDump
	dumpFile *os.File
	dumpRing *ring.Buffer[float32]
	dumpStop chan struct{}
	dumpWG   sync.WaitGroup
}

// NewStream creates a stream bound to sender and a ring to receive
// captured input samples into. Either may be nil if cfg disables that
// direction.
func NewStream(cfg modem.Config, sender *modem.Sender, recvRing *ring.Buffer[float32], logger *log.Logger) *Stream {
	return &Stream{cfg: cfg, logger: logger, sender: sender, recvRing: recvRing}
}

// Open initializes PortAudio, selects devices, and opens (but does not
// start) the full-duplex stream.
func (s *Stream) Open() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("audioio: portaudio init: %w", err)
	}
	s.initialized = true

	if err := s.openDump(); err != nil {
		s.Close()
		return err
	}

	params, err := s.buildParameters()
	if err != nil {
		s.Close()
		return err
	}

	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		s.Close()
		return fmt.Errorf("audioio: open stream: %w", err)
	}
	s.stream = stream
	return nil
}

// openDump creates the debug WAV capture path, if configured. Capture
// samples reach the encoder through dumpRing and a background drain
// goroutine rather than directly from the real-time callback, which
// must never perform file I/O or allocate.
func (s *Stream) openDump() error {
	if s.cfg.DebugLevel < 2 || s.cfg.DebugWavPath == "" || !s.cfg.Receiver {
		return nil
	}

	f, err := os.Create(s.cfg.DebugWavPath)
	if err != nil {
		return fmt.Errorf("audioio: open debug wav file: %w", err)
	}
	dumpRing, err := ring.New[float32](dumpRingCapacity)
	if err != nil {
		f.Close()
		return fmt.Errorf("audioio: create dump ring: %w", err)
	}

	s.dumpFile = f
	s.dump = NewWavDump(f, s.cfg.SampleRate)
	s.dumpRing = dumpRing
	s.dumpStop = make(chan struct{})
	return nil
}

// runDump drains dumpRing into the WAV encoder off the real-time
// thread, sleeping proportionally to one buffer's worth of audio when
// there is nothing to write.
func (s *Stream) runDump() {
	defer s.dumpWG.Done()
	buf := make([]float32, 4096)
	idle := time.Duration(float64(len(buf)) / float64(s.cfg.SampleRate) * float64(time.Second))
	for {
		n := s.dumpRing.Read(buf)
		if n == 0 {
			select {
			case <-s.dumpStop:
				return
			case <-time.After(idle):
			}
			continue
		}
		if err := s.dump.Write(buf[:n]); err != nil && s.logger != nil {
			s.logger.Warn("debug wav write failed", "err", err)
		}
	}
}

func (s *Stream) buildParameters() (portaudio.StreamParameters, error) {
	var params portaudio.StreamParameters
	params.SampleRate = float64(s.cfg.SampleRate)
	params.FramesPerBuffer = portaudio.FramesPerBufferUnspecified

	if s.cfg.Receiver {
		dev, err := selectDevice(true)
		if err != nil {
			return params, err
		}
		params.Input = portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		}
		if s.logger != nil {
			s.logger.Debug("selected input device", "name", dev.Name)
		}
	}
	if s.cfg.Sender {
		dev, err := selectDevice(false)
		if err != nil {
			return params, err
		}
		params.Output = portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowOutputLatency,
		}
		if s.logger != nil {
			s.logger.Debug("selected output device", "name", dev.Name)
		}
	}
	return params, nil
}

// selectDevice scores every device PortAudio reports and returns the
// best match, preferring PulseAudio/PipeWire bridges and skipping
// monitor/loopback devices, the same priority order the teacher
// recorder used for input device selection, generalized to either
// direction.
func selectDevice(input bool) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audioio: list devices: %w", err)
	}

	var best *portaudio.DeviceInfo
	bestPriority := -1
	for _, dev := range devices {
		channels := dev.MaxInputChannels
		if !input {
			channels = dev.MaxOutputChannels
		}
		if channels == 0 {
			continue
		}

		name := strings.ToLower(dev.Name)
		if strings.Contains(name, "monitor") || strings.Contains(name, "loopback") ||
			strings.Contains(name, "sysdefault") || strings.Contains(name, "lavrate") ||
			strings.Contains(name, "samplerate") || strings.Contains(name, "speexrate") ||
			strings.Contains(name, "upmix") || strings.Contains(name, "vdownmix") {
			continue
		}

		priority := 10
		switch {
		case strings.Contains(name, "pulse"):
			priority = 200
		case strings.Contains(name, "pipewire"):
			priority = 190
		case name == "default":
			priority = 150
		case strings.Contains(name, "plughw"):
			priority = 35
		}

		if priority > bestPriority {
			bestPriority = priority
			best = dev
		}
	}

	if best != nil {
		return best, nil
	}

	if input {
		return portaudio.DefaultInputDevice()
	}
	return portaudio.DefaultOutputDevice()
}

// callback is the real-time PortAudio callback. It never allocates,
// locks, or performs I/O: it only calls into Sender.Process and writes
// captured samples into the lock-free receive ring.
//
// Capture is skipped while the sender is actively transmitting,
// matching original_source/libsofi/libsofi.c's receiver_callback guard
// (data->sender.state == SEND_STATE_IDLE); this prevents the modem
// hearing its own transmission as line noise on half-duplex hardware.
func (s *Stream) callback(in, out []float32) {
	if s.sender != nil {
		s.sender.Process(out)
	} else {
		for i := range out {
			out[i] = 0
		}
	}

	if s.recvRing != nil && (s.sender == nil || s.sender.Idle()) {
		s.recvRing.Write(in)
		if s.dumpRing != nil {
			s.dumpRing.Write(in)
		}
	}
}

// Start begins audio I/O.
func (s *Stream) Start() error {
	if s.stream == nil {
		return fmt.Errorf("audioio: stream not open")
	}
	if s.dumpRing != nil {
		s.dumpWG.Add(1)
		go s.runDump()
	}
	return s.stream.Start()
}

// Close stops the stream, if any, and terminates PortAudio.
func (s *Stream) Close() error {
	var firstErr error
	if s.stream != nil {
		if err := s.stream.Stop(); err != nil {
			firstErr = err
		}
		if err := s.stream.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stream = nil
	}
	if s.dumpRing != nil {
		close(s.dumpStop)
		s.dumpWG.Wait()
		if err := s.dump.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.dumpFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.dumpRing = nil
	}
	if s.initialized {
		if err := portaudio.Terminate(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.initialized = false
	}
	return firstErr
}
