package main

import (
	"testing"
	"time"

	"github.com/ent0n29/maitred/internal/config"
)

func baseConfig() config.Config {
	return config.Config{
		AgentURL:           "http://localhost:8000",
		StatusURL:          "http://localhost:8000",
		DiagAddr:           "127.0.0.1:9464",
		AudioBackend:       config.AudioBackendMiniaudio,
		CaptureSampleRate:  16000,
		PlaybackSampleRate: 24000,
		SilenceThreshold:   700,
		ReconnectDelay:     2 * time.Second,
		PollInterval:       4 * time.Second,
		WatchdogInterval:   time.Second,
		InactivityTimeout:  10 * time.Second,
		StopAfterTurn:      3 * time.Second,
		SpeakingFallback:   2 * time.Second,
	}
}

func TestApplyFlagsOverridesAgentURL(t *testing.T) {
	t.Setenv("MAITRED_STATUS_URL", "")
	cfg := baseConfig()
	if err := applyFlags(&cfg, "https://agent.example.com/", "", false); err != nil {
		t.Fatalf("applyFlags() error = %v", err)
	}
	if cfg.AgentURL != "https://agent.example.com" {
		t.Fatalf("AgentURL = %q", cfg.AgentURL)
	}
	if cfg.StatusURL != "http://localhost:8000" {
		t.Fatalf("StatusURL = %q, want the explicitly configured value kept", cfg.StatusURL)
	}
}

func TestApplyFlagsDiagAndHeadless(t *testing.T) {
	cfg := baseConfig()
	if err := applyFlags(&cfg, "", "off", true); err != nil {
		t.Fatalf("applyFlags() error = %v", err)
	}
	if cfg.DiagAddr != "" {
		t.Fatalf("DiagAddr = %q, want disabled", cfg.DiagAddr)
	}
	if cfg.AudioBackend != config.AudioBackendNone {
		t.Fatalf("AudioBackend = %q, want none", cfg.AudioBackend)
	}
}

func TestApplyFlagsRejectsBadAgentURL(t *testing.T) {
	cfg := baseConfig()
	if err := applyFlags(&cfg, "ftp://agent", "", false); err == nil {
		t.Fatalf("applyFlags() error = nil, want unsupported scheme")
	}
}
