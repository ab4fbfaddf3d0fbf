// Command sessionreplay feeds a recorded event trace through the session
// machine on a virtual clock and prints every state and avatar change.
//
// A trace is JSON lines, one event per line, ordered or not:
//
//	{"at_ms": 0, "kind": "start"}
//	{"at_ms": 40, "kind": "open"}
//	{"at_ms": 300, "kind": "frame", "peak": 1800}
//	{"at_ms": 500, "kind": "mic", "wav": "hello.wav"}
//	{"at_ms": 900, "kind": "envelope", "envelope": {"mime_type": "text/plain", "data": "bye!"}}
//	{"at_ms": 1200, "kind": "server_event", "event": {"type": "table_assigned", "table": "T4"}}
//	{"at_ms": 1500, "kind": "drained"}
//	{"at_ms": 2000, "kind": "close"}
//	{"at_ms": 9000, "kind": "stop", "reason": "user"}
package main

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/maitred/internal/audio"
	"github.com/ent0n29/maitred/internal/clock"
	"github.com/ent0n29/maitred/internal/logging"
	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/session"
)

type options struct {
	tracePath string
	chunkMS   int
	tail      time.Duration
	verbose   bool
}

type traceEntry struct {
	AtMS     int64                 `json:"at_ms"`
	Kind     string                `json:"kind"`
	Envelope *protocol.Envelope    `json:"envelope,omitempty"`
	Event    *protocol.ServerEvent `json:"event,omitempty"`
	Peak     int                   `json:"peak,omitempty"`
	WAV      string                `json:"wav,omitempty"`
	Reason   string                `json:"reason,omitempty"`
}

// step is one machine event at a point in virtual time.
type step struct {
	at    time.Duration
	event session.Event
}

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessionreplay: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "sessionreplay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var tailMS int

	flag.StringVar(&cfg.tracePath, "trace", "", "path to a JSONL trace (- for stdin)")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 20, "microphone frame size for mic entries in milliseconds")
	flag.IntVar(&tailMS, "tail-ms", 15000, "virtual time to keep running after the last entry")
	flag.BoolVar(&cfg.verbose, "verbose", false, "print machine logs to stderr")
	flag.Parse()

	cfg.tracePath = strings.TrimSpace(cfg.tracePath)
	if cfg.tracePath == "" && flag.NArg() > 0 {
		cfg.tracePath = flag.Arg(0)
	}
	if cfg.tracePath == "" {
		return options{}, fmt.Errorf("trace is required")
	}
	if cfg.chunkMS < 5 || cfg.chunkMS > 1000 {
		return options{}, fmt.Errorf("chunk-ms must be in [5,1000]")
	}
	if tailMS < 0 {
		return options{}, fmt.Errorf("tail-ms must be >= 0")
	}
	cfg.tail = time.Duration(tailMS) * time.Millisecond
	return cfg, nil
}

func run(cfg options, out io.Writer) error {
	var (
		in  io.Reader = os.Stdin
		dir           = "."
	)
	if cfg.tracePath != "-" {
		f, err := os.Open(cfg.tracePath)
		if err != nil {
			return fmt.Errorf("open trace: %w", err)
		}
		defer f.Close()
		in = f
		dir = filepath.Dir(cfg.tracePath)
	}

	entries, err := readTrace(in)
	if err != nil {
		return err
	}
	steps, err := buildSteps(entries, dir, cfg.chunkMS)
	if err != nil {
		return err
	}

	level := "warn"
	if cfg.verbose {
		level = "debug"
	}
	rep := replay(steps, cfg, out, logging.NewWithWriter(os.Stderr, level, "console"))
	rep.print(out)
	return nil
}

func readTrace(r io.Reader) ([]traceEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var entries []traceEntry
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var e traceEntry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		if e.AtMS < 0 {
			return nil, fmt.Errorf("trace line %d: at_ms must be >= 0", line)
		}
		if err := validateEntry(e); err != nil {
			return nil, fmt.Errorf("trace line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].AtMS < entries[j].AtMS })
	return entries, nil
}

func validateEntry(e traceEntry) error {
	switch e.Kind {
	case "start", "stop", "open", "close", "drained":
	case "envelope":
		if e.Envelope == nil {
			return fmt.Errorf("envelope entry without envelope")
		}
	case "server_event":
		if e.Event == nil {
			return fmt.Errorf("server_event entry without event")
		}
	case "frame":
		if e.Peak < 0 || e.Peak > 32767 {
			return fmt.Errorf("frame peak %d out of range", e.Peak)
		}
	case "mic":
		if strings.TrimSpace(e.WAV) == "" {
			return fmt.Errorf("mic entry without wav")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	return nil
}

// buildSteps turns trace entries into machine events. Mic entries expand into
// one frame per chunk, spaced at real-time pace.
func buildSteps(entries []traceEntry, dir string, chunkMS int) ([]step, error) {
	steps := make([]step, 0, len(entries))
	for _, e := range entries {
		at := time.Duration(e.AtMS) * time.Millisecond
		switch e.Kind {
		case "start":
			steps = append(steps, step{at, session.StartRequested{}})
		case "stop":
			steps = append(steps, step{at, session.StopRequested{Reason: e.Reason}})
		case "open":
			steps = append(steps, step{at, session.ConnectionOpened{}})
		case "close":
			steps = append(steps, step{at, session.ConnectionClosed{}})
		case "drained":
			steps = append(steps, step{at, session.PlaybackDrained{}})
		case "envelope":
			steps = append(steps, step{at, session.EnvelopeReceived{Envelope: *e.Envelope}})
		case "server_event":
			steps = append(steps, step{at, session.ServerEventReceived{Event: *e.Event}})
		case "frame":
			steps = append(steps, step{at, session.OutboundFrame{PCM: syntheticFrame(e.Peak, 320)}})
		case "mic":
			path := e.WAV
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read mic wav: %w", err)
			}
			pcm, sampleRate, err := audio.DecodeWAVPCM16(data)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", e.WAV, err)
			}
			chunkBytes := sampleRate * chunkMS / 1000 * 2
			if chunkBytes <= 0 {
				return nil, fmt.Errorf("chunk size too small for %dHz", sampleRate)
			}
			for i, off := 0, 0; off < len(pcm); i, off = i+1, off+chunkBytes {
				end := min(off+chunkBytes, len(pcm))
				frameAt := at + time.Duration(i*chunkMS)*time.Millisecond
				steps = append(steps, step{frameAt, session.OutboundFrame{PCM: pcm[off:end]}})
			}
		}
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].at < steps[j].at })
	return steps, nil
}

// syntheticFrame is a frame of silence with a single sample at peak.
func syntheticFrame(peak, samples int) []byte {
	frame := make([]byte, samples*2)
	binary.LittleEndian.PutUint16(frame[0:2], uint16(int16(peak)))
	return frame
}

func replay(steps []step, cfg options, out io.Writer, log zerolog.Logger) *report {
	clk := clock.NewMock(epoch)
	rep := &report{clk: clk, out: out}
	tr := &replayTransport{rep: rep}

	m := session.New(session.Options{
		SessionID: "replay",
		Clock:     clk,
		Transport: tr,
		Audio:     audio.NewNull(),
		Presenter: rep,
		Logger:    log,
		OnSessionEnded: func(sum session.Summary) {
			rep.ended = append(rep.ended, sum)
			rep.logf("session ended reason=%s end_reason=%s", sum.Reason, nonEmpty(sum.EndReason))
		},
	})
	rep.state = m.Snapshot().State

	pump := func() {
		m.Drain()
		rep.observe(m.Snapshot())
	}
	advanceTo := func(at time.Duration) {
		if d := at - clk.Now().Sub(epoch); d > 0 {
			clk.Step(d, pump)
		}
	}

	for _, s := range steps {
		advanceTo(s.at)
		rep.events++
		m.HandleEvent(s.event)
		pump()
	}
	clk.Step(cfg.tail, pump)
	return rep
}

func nonEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
