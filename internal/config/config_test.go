package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":7655", cfg.ListenAddr)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 80.0, cfg.CPUThreshold)
	assert.Equal(t, 15*time.Second, cfg.OfflineGrace)
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLEETWATCH_LISTEN_ADDR", ":9000")
	t.Setenv("FLEETWATCH_POLL_INTERVAL", "10s")
	t.Setenv("FLEETWATCH_CPU_THRESHOLD", "90")
	t.Setenv("FLEETWATCH_RECIPIENT_EMAIL", "ops@example.com")

	cfg := Default()
	cfg.applyEnv()

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, 90.0, cfg.CPUThreshold)
	assert.Equal(t, "ops@example.com", cfg.RecipientEmail)
}

func TestUnparseableEnvIsIgnored(t *testing.T) {
	t.Setenv("FLEETWATCH_POLL_INTERVAL", "soon")
	t.Setenv("FLEETWATCH_CPU_THRESHOLD", "lots")

	cfg := Default()
	cfg.applyEnv()

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 80.0, cfg.CPUThreshold)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sub-second poll interval", func(c *Config) { c.PollInterval = 500 * time.Millisecond }},
		{"zero offline grace", func(c *Config) { c.OfflineGrace = 0 }},
		{"cpu threshold over 100", func(c *Config) { c.CPUThreshold = 120 }},
		{"idle threshold at 100", func(c *Config) { c.IdleThreshold = 100 }},
		{"empty data dir", func(c *Config) { c.DataDir = "  " }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
