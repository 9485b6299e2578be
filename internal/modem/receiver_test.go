package modem

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shermpay/sofi/internal/codec"
	"github.com/shermpay/sofi/internal/queue"
	"github.com/shermpay/sofi/internal/ring"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}

// synthesize runs cfg's modulator over a single packet and returns the
// resulting samples, bracketed by one window of lead-in silence and two
// windows of trailing silence so the framer starts and ends in a clean
// LISTEN state.
func synthesize(t *testing.T, cfg Config, payload []byte) []float32 {
	t.Helper()
	sendRing, err := ring.New[codec.RawMessage](2)
	require.NoError(t, err)

	msg, err := codec.Encode(codec.Packet{Payload: payload}, cfg.SymbolWidth)
	require.NoError(t, err)
	sendRing.Write([]codec.RawMessage{msg})

	s := NewSender(cfg, sendRing)
	tx := make([]float32, len(msg.Symbols)*cfg.SamplesPerSymbol()+cfg.GapSamples())
	s.Process(tx)

	out := make([]float32, 0, cfg.WindowSamples()+len(tx)+cfg.WindowSamples()*2)
	out = append(out, make([]float32, cfg.WindowSamples())...)
	out = append(out, tx...)
	out = append(out, make([]float32, cfg.WindowSamples()*2)...)
	return out
}

func recvOne(t *testing.T, q *queue.Queue[codec.Packet], timeout time.Duration) (codec.Packet, bool) {
	t.Helper()
	type result struct {
		pkt codec.Packet
		err error
	}
	ch := make(chan result, 1)
	go func() {
		pkt, err := q.Dequeue()
		ch <- result{pkt, err}
	}()
	select {
	case r := <-ch:
		return r.pkt, r.err == nil
	case <-time.After(timeout):
		return codec.Packet{}, false
	}
}

// End-to-end carrier framing (spec.md §8 "Given a synthesized input
// containing one frame surrounded by silence, the demodulator
// delivers exactly one packet").
func TestReceiverDeliversOneRoundTrippedPacket(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	samples := synthesize(t, cfg, []byte("hello"))

	recvRing, err := ring.New[float32](1 << 20)
	require.NoError(t, err)
	n := recvRing.Write(samples)
	require.Equal(t, len(samples), n)

	q := queue.New[codec.Packet](8)
	r := NewReceiver(cfg, recvRing, q, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	pkt, ok := recvOne(t, q, 5*time.Second)
	require.True(t, ok, "expected a delivered packet")
	assert.Equal(t, []byte("hello"), pkt.Payload)
	assert.Equal(t, 0, q.Len())
}

func TestReceiverDeliversTwoBackToBackPackets(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	samplesA := synthesize(t, cfg, []byte("A"))
	samplesB := synthesize(t, cfg, []byte("B"))

	recvRing, err := ring.New[float32](1 << 21)
	require.NoError(t, err)
	recvRing.Write(samplesA)
	recvRing.Write(samplesB)

	q := queue.New[codec.Packet](8)
	r := NewReceiver(cfg, recvRing, q, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	first, ok := recvOne(t, q, 5*time.Second)
	require.True(t, ok)
	second, ok := recvOne(t, q, 5*time.Second)
	require.True(t, ok)

	assert.Equal(t, []byte("A"), first.Payload)
	assert.Equal(t, []byte("B"), second.Payload)
}

func TestReceiverIgnoresSilence(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	recvRing, err := ring.New[float32](1 << 16)
	require.NoError(t, err)
	recvRing.Write(make([]float32, cfg.WindowSamples()*50))

	q := queue.New[codec.Packet](8)
	r := NewReceiver(cfg, recvRing, q, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	_, ok := recvOne(t, q, 200*time.Millisecond)
	assert.False(t, ok, "silence alone should never deliver a packet")
}

func TestReceiverCorrelateClassifiesZeroWindowAsSilence(t *testing.T) {
	cfg := testConfig()
	recvRing, err := ring.New[float32](8)
	require.NoError(t, err)
	r := NewReceiver(cfg, recvRing, queue.New[codec.Packet](1), discardLogger())

	symbol, strength := r.correlate(make([]float32, cfg.WindowSamples()))
	assert.Equal(t, -1, symbol)
	assert.Equal(t, cfg.SilenceThreshold, strength)
}

func TestReceiverRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	recvRing, err := ring.New[float32](8)
	require.NoError(t, err)
	r := NewReceiver(cfg, recvRing, queue.New[codec.Packet](1), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
