// Package app wires the client: configuration in, a running session machine
// with its transport, audio, poller and diagnostics out.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ent0n29/maitred/internal/audio"
	"github.com/ent0n29/maitred/internal/audio/miniaudio"
	"github.com/ent0n29/maitred/internal/clock"
	"github.com/ent0n29/maitred/internal/config"
	"github.com/ent0n29/maitred/internal/httpapi"
	"github.com/ent0n29/maitred/internal/journal"
	"github.com/ent0n29/maitred/internal/observability"
	"github.com/ent0n29/maitred/internal/protocol"
	"github.com/ent0n29/maitred/internal/session"
	"github.com/ent0n29/maitred/internal/status"
	"github.com/ent0n29/maitred/internal/transport"
	"github.com/ent0n29/maitred/internal/ui"
)

type BuildResult struct {
	Config  config.Config
	Metrics *observability.Metrics
	Channel *transport.Channel
	Machine *session.Machine
	Poller  *status.Poller
	Status  *status.Client
	Console *ui.Console
	Journal journal.Store
	API     *httpapi.Server
	Device  audio.Device

	// Cleanup should be called on shutdown, after the machine has stopped.
	Cleanup func() error
}

// Options carries the process-level collaborators Build does not own.
type Options struct {
	Logger zerolog.Logger
	// Out receives the console; nil disables it.
	Out io.Writer
	// Device overrides the configured audio backend.
	Device audio.Device
	// Clock overrides the real clock.
	Clock clock.Clock
}

func Build(ctx context.Context, cfg config.Config, opts Options) (*BuildResult, error) {
	log := opts.Logger
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: "maitred",
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTLPEndpoint,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	store, err := journal.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("journal store init failed: %w", err)
	}

	device := opts.Device
	if device == nil {
		device, err = openDevice(cfg, log)
		if err != nil {
			_ = store.Close()
			_ = shutdownTracing(ctx)
			return nil, err
		}
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	console := ui.NewConsole(opts.Out)
	channel := transport.New(transport.Options{
		BaseURL:        cfg.AgentURL,
		ReconnectDelay: cfg.ReconnectDelay,
		Clock:          clk,
		Logger:         log,
		Metrics:        metrics,
	})

	arch := &archiver{
		recorder: audio.NewRecorder(cfg.RecordDir, cfg.PlaybackSampleRate),
		journal:  store,
		log:      log.With().Str("component", "archiver").Logger(),
	}

	machine := session.New(session.Options{
		SessionID: sessionID,
		Clock:     clk,
		Transport: channel,
		Audio:     device,
		Presenter: console,
		Recorder:  arch.recorder,
		Logger:    log,
		Metrics:   metrics,
		Timing: session.Timing{
			WatchdogInterval:  cfg.WatchdogInterval,
			InactivityTimeout: cfg.InactivityTimeout,
			SpeakingFallback:  cfg.SpeakingFallback,
			StopAfterTurn:     cfg.StopAfterTurn,
		},
		SilenceThreshold: cfg.SilenceThreshold,
		OnSessionEnded:   arch.OnSessionEnded,
	})

	channel.OnOpen(func() { machine.Post(session.ConnectionOpened{}) })
	channel.OnClose(func(err error) { machine.Post(session.ConnectionClosed{Err: err}) })
	channel.OnMessage(func(env protocol.Envelope) { machine.Post(session.EnvelopeReceived{Envelope: env}) })
	channel.OnError(func(err error) {
		log.Debug().Err(err).Str("component", "transport").Msg("agent channel error")
	})

	statusClient := status.NewClient(cfg.StatusURL, nil)
	poller := status.NewPoller(statusClient, status.PollerOptions{
		UserID:   sessionID,
		Interval: cfg.PollInterval,
		Renderer: console,
		Sink: func(ev protocol.ServerEvent) {
			machine.Post(session.ServerEventReceived{Event: ev})
		},
		Logger:  log,
		Metrics: metrics,
	})

	api := httpapi.New(httpapi.Options{
		UserID:   sessionID,
		Sessions: machine,
		Journal:  store,
		Checkout: statusClient,
		Status:   poller,
		Metrics:  metrics,
		Logger:   log,
	})

	cleanup := func() error {
		var errs []string
		if err := channel.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		arch.Wait()
		if err := device.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		Metrics: metrics,
		Channel: channel,
		Machine: machine,
		Poller:  poller,
		Status:  statusClient,
		Console: console,
		Journal: store,
		API:     api,
		Device:  device,
		Cleanup: cleanup,
	}, nil
}

func openDevice(cfg config.Config, log zerolog.Logger) (audio.Device, error) {
	switch cfg.AudioBackend {
	case config.AudioBackendNone:
		log.Info().Msg("audio backend: none (headless)")
		return audio.NewNull(), nil
	case config.AudioBackendMiniaudio:
		d, err := miniaudio.New(cfg.CaptureSampleRate, cfg.PlaybackSampleRate)
		if err != nil {
			return nil, fmt.Errorf("audio backend init failed: %w", err)
		}
		log.Info().
			Int("capture_rate", cfg.CaptureSampleRate).
			Int("playback_rate", cfg.PlaybackSampleRate).
			Msg("audio backend: miniaudio")
		return d, nil
	default:
		return nil, fmt.Errorf("invalid AUDIO_BACKEND: %q (expected miniaudio|none)", cfg.AudioBackend)
	}
}

// Connect opens the idle (text-only) agent channel, as on page load. Starting
// a session reconnects it with audio.
func (b *BuildResult) Connect() error {
	return b.Channel.Connect(b.Machine.SessionID(), false)
}
