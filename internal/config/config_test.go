package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ReconnectDelay != 2*time.Second {
		t.Fatalf("ReconnectDelay = %v, want 2s", cfg.ReconnectDelay)
	}
	if cfg.PollInterval != 4*time.Second {
		t.Fatalf("PollInterval = %v, want 4s", cfg.PollInterval)
	}
	if cfg.InactivityTimeout != 10*time.Second || cfg.WatchdogInterval != time.Second {
		t.Fatalf("watchdog = %v/%v, want 10s/1s", cfg.InactivityTimeout, cfg.WatchdogInterval)
	}
	if cfg.StopAfterTurn != 3*time.Second || cfg.SpeakingFallback != 2*time.Second {
		t.Fatalf("turn timers = %v/%v, want 3s/2s", cfg.StopAfterTurn, cfg.SpeakingFallback)
	}
	if cfg.SilenceThreshold != 700 {
		t.Fatalf("SilenceThreshold = %d, want 700", cfg.SilenceThreshold)
	}
	if cfg.StatusURL != cfg.AgentURL {
		t.Fatalf("StatusURL = %q, want agent URL %q", cfg.StatusURL, cfg.AgentURL)
	}
}

func TestLoadTrimsAgentURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MAITRED_AGENT_URL", " https://agent.example.com/ ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentURL != "https://agent.example.com" {
		t.Fatalf("AgentURL = %q", cfg.AgentURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"MAITRED_AGENT_URL":         "ftp://agent",
		"MAITRED_POLL_INTERVAL":     "10ms",
		"MAITRED_SILENCE_THRESHOLD": "0",
		"AUDIO_BACKEND":             "portaudio",
		"MAITRED_RECONNECT_DELAY":   "nope",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q succeeded, want error", key, value)
			}
		})
	}
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	setCoreEnvEmpty(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MAITRED_TEST_FROM_FILE=file\nMAITRED_TEST_SHADOWED=file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("MAITRED_TEST_SHADOWED", "env")
	t.Cleanup(func() { _ = os.Unsetenv("MAITRED_TEST_FROM_FILE") })

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if got := os.Getenv("MAITRED_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("MAITRED_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("MAITRED_TEST_SHADOWED"); got != "env" {
		t.Fatalf("MAITRED_TEST_SHADOWED = %q, want env", got)
	}
	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "MAITRED_") || strings.HasPrefix(key, "AUDIO_") {
			t.Setenv(key, "")
			_ = os.Unsetenv(key)
		}
	}
	for _, key := range []string{"DATABASE_URL", "LOG_LEVEL", "LOG_FORMAT", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "SHUTDOWN_TIMEOUT"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}
