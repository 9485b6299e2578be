// Command sofi-modem sends and receives packets over an acoustic
// So-Fi link from stdin/stdout, useful for testing a modem against
// itself through a speaker/microphone loop or piping binaries through
// two instances connected by an actual audio path.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/shermpay/sofi"
)

func main() {
	defaults := sofi.DefaultConfig()

	var (
		sender      = pflag.BoolP("sender", "S", false, "Enable the sender (reads packets from stdin).")
		receiver    = pflag.BoolP("receiver", "R", false, "Enable the receiver (writes packets to stdout).")
		baud        = pflag.Float64P("baud", "b", defaults.Baud, "Symbol rate in symbols/sec.")
		frequencies = pflag.StringP("frequencies", "f", joinFreqs(defaults.SymbolFreqs), "Comma-separated symbol frequencies in Hz.")
		sampleRate  = pflag.IntP("sample-rate", "s", defaults.SampleRate, "Audio sample rate in Hz.")
		window      = pflag.Float64P("window", "w", defaults.RecvWindowFactor, "Carrier-detect window, as a fraction of one symbol period.")
		gap         = pflag.Float64P("gap", "g", defaults.InterpacketGapFactor, "Interpacket silence, as a multiple of one symbol period.")
		maxLength   = pflag.IntP("max-length", "l", defaults.MaxPayload, "Maximum payload length accepted, in bytes.")
		keepOpen    = pflag.BoolP("keep-open", "k", false, "Keep the receiver running after stdin reaches EOF, until a signal arrives.")
		debugLevel  = pflag.IntP("debug-level", "d", defaults.DebugLevel, "Log verbosity: 0 errors, 1 info, 2+ debug.")
		debugWav    = pflag.String("debug-wav", "", "When set with -d 2 or higher, dump captured input samples to this WAV file.")
		help        = pflag.BoolP("help", "h", false, "Display this help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - send and receive packets over an acoustic So-Fi link.\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Sent packets are read newline-delimited from stdin; received packets are\n")
		fmt.Fprintf(os.Stderr, "written newline-delimited to stdout. With neither -S nor -R, both are enabled.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if !*sender && !*receiver {
		*sender = true
		*receiver = true
	}

	freqs, err := parseFreqs(*frequencies)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sofi-modem: %v\n", err)
		os.Exit(2)
	}

	cfg := defaults
	cfg.Sender = *sender
	cfg.Receiver = *receiver
	cfg.Baud = *baud
	cfg.SymbolFreqs = freqs
	cfg.SampleRate = *sampleRate
	cfg.RecvWindowFactor = *window
	cfg.InterpacketGapFactor = *gap
	cfg.MaxPayload = *maxLength
	cfg.DebugLevel = *debugLevel
	cfg.DebugWavPath = *debugWav

	m, err := sofi.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sofi-modem: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	doneCh := make(chan struct{})
	if cfg.Sender {
		go sendLoop(m, os.Stdin, doneCh)
	}
	if cfg.Receiver {
		go recvLoop(m, os.Stdout)
	}

	select {
	case <-sigCh:
	case <-doneCh:
		if *keepOpen {
			<-sigCh
		}
	}

	if err := m.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "sofi-modem: %v\n", err)
		os.Exit(1)
	}
}

func sendLoop(m *sofi.Modem, r io.Reader, done chan<- struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if err := m.Send(sofi.Packet{Payload: []byte(line)}); err != nil {
			fmt.Fprintf(os.Stderr, "sofi-modem: send: %v\n", err)
			return
		}
	}
}

func recvLoop(m *sofi.Modem, w io.Writer) {
	for {
		pkt, err := m.Recv()
		if err != nil {
			return
		}
		fmt.Fprintf(w, "%s\n", pkt.Payload)
	}
}

func joinFreqs(freqs []float64) string {
	parts := make([]string, len(freqs))
	for i, f := range freqs {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func parseFreqs(csv string) ([]float64, error) {
	parts := strings.Split(csv, ",")
	freqs := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid frequency %q: %w", p, err)
		}
		freqs[i] = f
	}
	return freqs, nil
}
