package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ent0n29/maitred/internal/app"
	"github.com/ent0n29/maitred/internal/config"
	"github.com/ent0n29/maitred/internal/logging"
	"github.com/ent0n29/maitred/internal/session"
	"github.com/ent0n29/maitred/internal/ui"
)

func main() {
	agentURL := flag.String("agent-url", "", "agent base URL (overrides MAITRED_AGENT_URL)")
	diagAddr := flag.String("diag-addr", "", `diagnostics listen address, "off" to disable (overrides MAITRED_DIAG_ADDR)`)
	headless := flag.Bool("headless", false, "run without audio devices (AUDIO_BACKEND=none)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	if err := applyFlags(&cfg, *agentURL, *diagAddr, *headless); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := app.Build(ctx, cfg, app.Options{Logger: logger, Out: os.Stdout})
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	machineDone := make(chan struct{})
	go func() {
		defer close(machineDone)
		_ = res.Machine.Run(ctx)
	}()

	if err := res.Connect(); err != nil {
		logger.Error().Err(err).Msg("agent channel connect failed")
	}
	res.Poller.Start(ctx)

	var httpServer *http.Server
	if cfg.DiagAddr != "" {
		httpServer = &http.Server{
			Addr:              cfg.DiagAddr,
			Handler:           otelhttp.NewHandler(res.API.Router(), "diagnostics"),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", cfg.DiagAddr).Msg("diagnostics listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("diagnostics listen error")
			}
		}()
	}

	controls := ui.NewStartControl(os.Stdin, res.Console, ui.Commands{
		Start: func() { res.Machine.Post(session.StartRequested{}) },
		Stop:  func() { res.Machine.Post(session.StopRequested{Reason: session.ReasonUser}) },
		Checkout: func(tableID string) {
			go checkout(ctx, res, logger, tableID)
		},
	})
	go func() {
		if err := controls.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("console input closed")
		}
	}()

	fmt.Fprintln(os.Stdout, res.Console.View())
	logger.Info().
		Str("session_id", res.Machine.SessionID()).
		Str("agent_url", cfg.AgentURL).
		Str("audio_backend", cfg.AudioBackend).
		Msg("maitred ready")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	select {
	case <-machineDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("session machine did not stop in time")
	}
	res.Poller.Stop()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
			_ = httpServer.Close()
		}
	}
	if err := res.Cleanup(); err != nil {
		logger.Error().Err(err).Msg("cleanup failed")
	}

	logger.Info().Msg("shutdown complete")
}

func applyFlags(cfg *config.Config, agentURL, diagAddr string, headless bool) error {
	changed := false
	if agentURL = strings.TrimRight(strings.TrimSpace(agentURL), "/"); agentURL != "" {
		cfg.AgentURL = agentURL
		if _, ok := os.LookupEnv("MAITRED_STATUS_URL"); !ok {
			cfg.StatusURL = agentURL
		}
		changed = true
	}
	switch diagAddr {
	case "":
	case "off":
		cfg.DiagAddr = ""
	default:
		cfg.DiagAddr = diagAddr
	}
	if headless {
		cfg.AudioBackend = config.AudioBackendNone
		changed = true
	}
	if !changed {
		return nil
	}
	return cfg.Validate()
}

func checkout(ctx context.Context, res *app.BuildResult, logger zerolog.Logger, tableID string) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := res.Status.Checkout(reqCtx, res.Machine.SessionID(), tableID)
	if err != nil {
		logger.Warn().Err(err).Str("table", tableID).Msg("checkout failed")
		res.Console.Notice("checkout %s failed: %v", tableID, err)
		return
	}
	msg := out.Announcement
	if msg == "" {
		msg = fmt.Sprintf("table %s is free", tableID)
	}
	res.Console.Notice("%s", msg)
	_ = res.Poller.PollOnce(reqCtx)
}
