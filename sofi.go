// Package sofi implements the So-Fi acoustic packet modem: a sender
// modulator and receiver demodulator that exchange short binary
// packets over an ordinary speaker/microphone pair using multi-tone
// frequency-shift keying.
//
// A Modem owns no global state; every call operates on the handle
// returned by New, so a process can run more than one modem against
// different audio devices.
package sofi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/shermpay/sofi/internal/audioio"
	"github.com/shermpay/sofi/internal/codec"
	"github.com/shermpay/sofi/internal/modem"
	"github.com/shermpay/sofi/internal/queue"
	"github.com/shermpay/sofi/internal/ring"
)

// Config configures a Modem's sample rate, baud, symbol alphabet, and
// framing parameters.
type Config = modem.Config

// Packet is a single payload exchanged with Send or Recv.
type Packet = codec.Packet

// CrcMismatch is returned internally when a demodulated frame fails
// its checksum; the demodulator drops such frames in place and they
// never reach Recv, so callers of this package never observe it
// directly, but it is exported for callers inspecting debug logs.
type CrcMismatch = codec.CrcMismatch

// DefaultConfig returns the parameters from the original sofi
// implementation's DEFAULT_SOFI_INIT_PARAMS.
func DefaultConfig() Config {
	return modem.DefaultConfig()
}

// ErrClosed is returned by Send and Recv once the Modem has been
// closed.
var ErrClosed = errors.New("sofi: modem closed")

const (
	sendRingCapacity   = 2
	recvRingCapacity   = 1 << 20
	recvQueueCapacity  = 32
	closeDrainInterval = 5 * time.Millisecond
)

// Modem is a running sender/receiver pair bound to one audio device
// pair. Create one with New; it must be closed with Close.
type Modem struct {
	cfg    Config
	logger *log.Logger

	sendRing  *ring.Buffer[codec.RawMessage]
	recvQueue *queue.Queue[codec.Packet]

	sender   *modem.Sender
	stream   *audioio.Stream

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, opens the audio device(s) it names, and starts
// whichever of the sender and receiver cfg enables. It corresponds to
// sofi_init() in the original implementation.
func New(cfg Config) (*Modem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sofi: %w", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "sofi"})
	logger.SetLevel(logLevel(cfg.DebugLevel))

	ctx, cancel := context.WithCancel(context.Background())
	m := &Modem{
		cfg:       cfg,
		logger:    logger,
		recvQueue: queue.New[codec.Packet](recvQueueCapacity),
		ctx:       ctx,
		cancel:    cancel,
	}

	var recvRing *ring.Buffer[float32]
	if cfg.Sender {
		sendRing, err := ring.New[codec.RawMessage](sendRingCapacity)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("sofi: create send ring: %w", err)
		}
		m.sendRing = sendRing
		m.sender = modem.NewSender(cfg, sendRing)
	}
	if cfg.Receiver {
		var err error
		recvRing, err = ring.New[float32](recvRingCapacity)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("sofi: create recv ring: %w", err)
		}
		receiver := modem.NewReceiver(cfg, recvRing, m.recvQueue, logger)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			receiver.Run(ctx)
		}()
	}

	m.stream = audioio.NewStream(cfg, m.sender, recvRing, logger)
	if err := m.stream.Open(); err != nil {
		m.teardown()
		return nil, err
	}
	if err := m.stream.Start(); err != nil {
		m.teardown()
		return nil, fmt.Errorf("sofi: start stream: %w", err)
	}

	return m, nil
}

func logLevel(debugLevel int) log.Level {
	switch {
	case debugLevel <= 0:
		return log.ErrorLevel
	case debugLevel == 1:
		return log.InfoLevel
	default:
		return log.DebugLevel
	}
}

// Send enqueues pkt for transmission, blocking until a slot frees up
// in the send ring if it is currently full. It corresponds to
// sofi_send() in the original implementation.
//
// A payload longer than cfg.MaxPayload is rejected outright rather
// than silently truncated: truncating would disagree with the length
// byte the caller thinks it sent.
func (m *Modem) Send(pkt Packet) error {
	if m.sendRing == nil {
		return fmt.Errorf("sofi: sender not enabled")
	}
	if m.ctx.Err() != nil {
		return ErrClosed
	}
	if len(pkt.Payload) > m.cfg.MaxPayload {
		return fmt.Errorf("sofi: payload length %d exceeds configured max %d", len(pkt.Payload), m.cfg.MaxPayload)
	}

	msg, err := codec.Encode(pkt, m.cfg.SymbolWidth)
	if err != nil {
		return fmt.Errorf("sofi: encode packet: %w", err)
	}

	sleepFor := time.Duration(float64(m.cfg.SamplesPerSymbol()) / float64(m.cfg.SampleRate) * float64(time.Second))
	for m.sendRing.WriteAvailable() == 0 {
		select {
		case <-m.ctx.Done():
			return ErrClosed
		case <-time.After(sleepFor):
		}
	}

	if n := m.sendRing.Write([]codec.RawMessage{msg}); n == 0 {
		return fmt.Errorf("sofi: send ring rejected write after space became available")
	}
	return nil
}

// Recv blocks until a demodulated packet is available or the Modem is
// closed. It corresponds to sofi_recv() in the original
// implementation; unlike the original, CRC validation already
// happened on the demodulator side, so every packet Recv returns is
// already known-good.
func (m *Modem) Recv() (Packet, error) {
	if m.recvQueue == nil {
		return Packet{}, fmt.Errorf("sofi: receiver not enabled")
	}
	pkt, err := m.recvQueue.Dequeue()
	if err != nil {
		return Packet{}, ErrClosed
	}
	return pkt, nil
}

// Close stops the sender once any in-flight message has finished
// transmitting, stops the receiver, and releases the audio device. It
// corresponds to sofi_destroy() in the original implementation.
func (m *Modem) Close() error {
	m.closeOnce.Do(func() {
		if m.sender != nil {
			for !m.sender.Idle() {
				time.Sleep(closeDrainInterval)
			}
		}
		m.teardown()
	})
	return m.closeErr
}

func (m *Modem) teardown() {
	m.cancel()
	if m.stream != nil {
		if err := m.stream.Close(); err != nil && m.closeErr == nil {
			m.closeErr = fmt.Errorf("sofi: close stream: %w", err)
		}
	}
	m.recvQueue.Close()
	m.wg.Wait()
}
