// Package config loads server configuration from defaults, an optional .env
// file, and FLEETWATCH_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const envPrefix = "FLEETWATCH_"

// Config holds the full server configuration.
type Config struct {
	ListenAddr  string
	MetricsAddr string
	DataDir     string

	// RegistryURL is the base URL the poller fetches VM snapshots from.
	// Empty means "poll our own listen address".
	RegistryURL string

	PollInterval time.Duration

	// Default alert thresholds; operator edits via /api/settings are persisted
	// in the preference store and take precedence at runtime.
	CPUThreshold     float64
	MemoryThreshold  float64
	IdleThreshold    float64
	OfflineGrace     time.Duration
	NotifyFrequency  time.Duration
	RecipientEmail   string
	RelayURL         string

	LogLevel  string
	LogFormat string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      ":7655",
		MetricsAddr:     "127.0.0.1:9191",
		DataDir:         "/var/lib/fleetwatch",
		PollInterval:    5 * time.Second,
		CPUThreshold:    80,
		MemoryThreshold: 80,
		IdleThreshold:   20,
		OfflineGrace:    15 * time.Second,
		NotifyFrequency: 5 * time.Minute,
		LogLevel:        "info",
		LogFormat:       "auto",
	}
}

// Load builds the configuration from defaults, .env, and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := Default()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	setString(&c.DataDir, "DATA_DIR")
	setString(&c.RegistryURL, "REGISTRY_URL")
	setString(&c.RecipientEmail, "RECIPIENT_EMAIL")
	setString(&c.RelayURL, "RELAY_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	setDuration(&c.PollInterval, "POLL_INTERVAL")
	setDuration(&c.OfflineGrace, "OFFLINE_GRACE")
	setDuration(&c.NotifyFrequency, "NOTIFY_FREQUENCY")

	setFloat(&c.CPUThreshold, "CPU_THRESHOLD")
	setFloat(&c.MemoryThreshold, "MEMORY_THRESHOLD")
	setFloat(&c.IdleThreshold, "IDLE_THRESHOLD")
}

// Validate rejects configurations the poller or classifier cannot run with.
func (c *Config) Validate() error {
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval %s is below the 1s minimum", c.PollInterval)
	}
	if c.OfflineGrace <= 0 {
		return fmt.Errorf("offline grace must be positive, got %s", c.OfflineGrace)
	}
	if c.CPUThreshold <= 0 || c.CPUThreshold > 100 {
		return fmt.Errorf("cpu threshold %.1f outside (0, 100]", c.CPUThreshold)
	}
	if c.MemoryThreshold <= 0 || c.MemoryThreshold > 100 {
		return fmt.Errorf("memory threshold %.1f outside (0, 100]", c.MemoryThreshold)
	}
	if c.IdleThreshold < 0 || c.IdleThreshold >= 100 {
		return fmt.Errorf("idle threshold %.1f outside [0, 100)", c.IdleThreshold)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir must not be empty")
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring unparseable duration")
		return
	}
	*dst = d
}

func setFloat(dst *float64, key string) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Warn().Str("key", envPrefix+key).Str("value", v).Msg("Ignoring unparseable number")
		return
	}
	*dst = f
}
