package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the voice client.
type Config struct {
	AgentURL         string        `env:"MAITRED_AGENT_URL" envDefault:"http://localhost:8000"`
	StatusURL        string        `env:"MAITRED_STATUS_URL"`
	SessionID        string        `env:"MAITRED_SESSION_ID"`
	DiagAddr         string        `env:"MAITRED_DIAG_ADDR" envDefault:"127.0.0.1:9464"`
	MetricsNamespace string        `env:"MAITRED_METRICS_NAMESPACE" envDefault:"maitred"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	ReconnectDelay    time.Duration `env:"MAITRED_RECONNECT_DELAY" envDefault:"2s"`
	PollInterval      time.Duration `env:"MAITRED_POLL_INTERVAL" envDefault:"4s"`
	InactivityTimeout time.Duration `env:"MAITRED_INACTIVITY_TIMEOUT" envDefault:"10s"`
	WatchdogInterval  time.Duration `env:"MAITRED_WATCHDOG_INTERVAL" envDefault:"1s"`
	StopAfterTurn     time.Duration `env:"MAITRED_STOP_AFTER_TURN" envDefault:"3s"`
	SpeakingFallback  time.Duration `env:"MAITRED_SPEAKING_FALLBACK" envDefault:"2s"`
	SilenceThreshold  int           `env:"MAITRED_SILENCE_THRESHOLD" envDefault:"700"`

	AudioBackend       string `env:"AUDIO_BACKEND" envDefault:"miniaudio"`
	CaptureSampleRate  int    `env:"AUDIO_CAPTURE_SAMPLE_RATE" envDefault:"16000"`
	PlaybackSampleRate int    `env:"AUDIO_PLAYBACK_SAMPLE_RATE" envDefault:"24000"`
	RecordDir          string `env:"AUDIO_RECORD_DIR"`

	DatabaseURL string `env:"DATABASE_URL"`

	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"console"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

const (
	AudioBackendNone      = "none"
	AudioBackendMiniaudio = "miniaudio"
)

// Load reads an optional .env file, then environment variables, and validates
// the result. Variables already set in the environment win over .env.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.AgentURL = strings.TrimRight(strings.TrimSpace(c.AgentURL), "/")
	c.StatusURL = strings.TrimRight(strings.TrimSpace(c.StatusURL), "/")
	if c.StatusURL == "" {
		c.StatusURL = c.AgentURL
	}
	c.SessionID = strings.TrimSpace(c.SessionID)
	c.AudioBackend = strings.ToLower(strings.TrimSpace(c.AudioBackend))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RecordDir = strings.TrimSpace(c.RecordDir)
}

// Validate checks ranges. It is exported so flag overrides can be rechecked.
func (c *Config) Validate() error {
	u, err := url.Parse(c.AgentURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("MAITRED_AGENT_URL must be an absolute URL, got %q", c.AgentURL)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("MAITRED_AGENT_URL scheme %q not supported", u.Scheme)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("MAITRED_RECONNECT_DELAY must be positive")
	}
	if c.PollInterval < 500*time.Millisecond {
		return fmt.Errorf("MAITRED_POLL_INTERVAL must be at least 500ms")
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("MAITRED_WATCHDOG_INTERVAL must be positive")
	}
	if c.InactivityTimeout < c.WatchdogInterval {
		return fmt.Errorf("MAITRED_INACTIVITY_TIMEOUT must be at least MAITRED_WATCHDOG_INTERVAL")
	}
	if c.StopAfterTurn <= 0 {
		return fmt.Errorf("MAITRED_STOP_AFTER_TURN must be positive")
	}
	if c.SpeakingFallback <= 0 {
		return fmt.Errorf("MAITRED_SPEAKING_FALLBACK must be positive")
	}
	if c.SilenceThreshold <= 0 || c.SilenceThreshold > 32767 {
		return fmt.Errorf("MAITRED_SILENCE_THRESHOLD must be in (0, 32767]")
	}
	switch c.AudioBackend {
	case AudioBackendNone, AudioBackendMiniaudio:
	default:
		return fmt.Errorf("AUDIO_BACKEND must be %q or %q", AudioBackendNone, AudioBackendMiniaudio)
	}
	if c.CaptureSampleRate <= 0 || c.PlaybackSampleRate <= 0 {
		return fmt.Errorf("audio sample rates must be positive")
	}
	return nil
}
