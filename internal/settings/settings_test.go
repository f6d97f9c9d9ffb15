package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/alerts"
	"github.com/fleetwatch/fleetwatch/internal/prefs"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := prefs.Open(t.TempDir())
	require.NoError(t, err)
	return NewManager(store, alerts.DefaultThresholds())
}

func floatPtr(f float64) *float64 { return &f }

func TestThresholdsDefaultWhenUnset(t *testing.T) {
	m := newTestManager(t)

	th := m.Thresholds()
	assert.Equal(t, 80.0, th.CPU)
	assert.Equal(t, 80.0, th.Memory)
	assert.Equal(t, 20.0, th.Idle)
	assert.Equal(t, 15*time.Second, th.OfflineGrace)
	assert.Equal(t, 5*time.Minute, th.Rearm)
	assert.Empty(t, m.Recipient())
}

func TestUpdateTakesEffectOnNextRead(t *testing.T) {
	m := newTestManager(t)

	recipient := " ops@example.com "
	require.NoError(t, m.Update(Update{
		CPUThreshold:     floatPtr(70),
		FrequencyMinutes: floatPtr(10),
		RecipientEmail:   &recipient,
	}))

	th := m.Thresholds()
	assert.Equal(t, 70.0, th.CPU)
	assert.Equal(t, 80.0, th.Memory, "untouched fields keep defaults")
	assert.Equal(t, 10*time.Minute, th.Rearm)
	assert.Equal(t, "ops@example.com", m.Recipient())
}

func TestUpdateRejectsInvalidValues(t *testing.T) {
	m := newTestManager(t)

	assert.Error(t, m.Update(Update{CPUThreshold: floatPtr(0)}))
	assert.Error(t, m.Update(Update{CPUThreshold: floatPtr(101)}))
	assert.Error(t, m.Update(Update{MemoryThreshold: floatPtr(-1)}))
	assert.Error(t, m.Update(Update{IdleThreshold: floatPtr(100)}))
	assert.Error(t, m.Update(Update{FrequencyMinutes: floatPtr(0)}))

	// Rejected updates leave the effective settings alone.
	assert.Equal(t, 80.0, m.Thresholds().CPU)
}

func TestCurrentReflectsEffectiveSettings(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Update(Update{MemoryThreshold: floatPtr(75)}))

	view := m.Current()
	assert.Equal(t, 80.0, view.CPUThreshold)
	assert.Equal(t, 75.0, view.MemoryThreshold)
	assert.Equal(t, 5.0, view.FrequencyMinutes)
}
