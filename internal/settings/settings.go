// Package settings exposes the operator-editable alerting preferences, layered
// over the built-in defaults and written through the durable preference store.
package settings

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetwatch/fleetwatch/internal/alerts"
	"github.com/fleetwatch/fleetwatch/internal/prefs"
)

// Preference store keys.
const (
	keyCPUThreshold     = "settings.cpuThreshold"
	keyMemoryThreshold  = "settings.memoryThreshold"
	keyIdleThreshold    = "settings.idleThreshold"
	keyFrequencyMinutes = "settings.frequencyMinutes"
	keyRecipient        = "settings.recipientEmail"
)

// Manager resolves effective settings: stored preferences win over defaults.
type Manager struct {
	store    *prefs.Store
	defaults alerts.Thresholds
}

// NewManager builds a settings manager with the given defaults.
func NewManager(store *prefs.Store, defaults alerts.Thresholds) *Manager {
	return &Manager{store: store, defaults: defaults}
}

// Thresholds returns the effective thresholds for the next classification
// cycle. Values are re-read on every call so an edit takes effect on the very
// next poll without restarting anything.
func (m *Manager) Thresholds() alerts.Thresholds {
	t := m.defaults
	if v, ok := m.lookupFloat(keyCPUThreshold); ok {
		t.CPU = v
	}
	if v, ok := m.lookupFloat(keyMemoryThreshold); ok {
		t.Memory = v
	}
	if v, ok := m.lookupFloat(keyIdleThreshold); ok {
		t.Idle = v
	}
	if v, ok := m.lookupFloat(keyFrequencyMinutes); ok && v > 0 {
		t.Rearm = time.Duration(v * float64(time.Minute))
	}
	return t
}

// Recipient returns the configured alert recipient, or "" when notifications
// are effectively disabled.
func (m *Manager) Recipient() string {
	if v, ok := m.store.Get(keyRecipient); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Update validates and persists the provided fields; nil fields are left
// unchanged.
func (m *Manager) Update(u Update) error {
	if u.CPUThreshold != nil {
		if *u.CPUThreshold <= 0 || *u.CPUThreshold > 100 {
			return fmt.Errorf("cpu threshold %.1f outside (0, 100]", *u.CPUThreshold)
		}
		m.store.Set(keyCPUThreshold, formatFloat(*u.CPUThreshold))
	}
	if u.MemoryThreshold != nil {
		if *u.MemoryThreshold <= 0 || *u.MemoryThreshold > 100 {
			return fmt.Errorf("memory threshold %.1f outside (0, 100]", *u.MemoryThreshold)
		}
		m.store.Set(keyMemoryThreshold, formatFloat(*u.MemoryThreshold))
	}
	if u.IdleThreshold != nil {
		if *u.IdleThreshold < 0 || *u.IdleThreshold >= 100 {
			return fmt.Errorf("idle threshold %.1f outside [0, 100)", *u.IdleThreshold)
		}
		m.store.Set(keyIdleThreshold, formatFloat(*u.IdleThreshold))
	}
	if u.FrequencyMinutes != nil {
		if *u.FrequencyMinutes <= 0 {
			return fmt.Errorf("notification frequency must be positive, got %.1f", *u.FrequencyMinutes)
		}
		m.store.Set(keyFrequencyMinutes, formatFloat(*u.FrequencyMinutes))
	}
	if u.RecipientEmail != nil {
		m.store.Set(keyRecipient, strings.TrimSpace(*u.RecipientEmail))
	}
	return nil
}

// Update carries a partial settings edit from the API.
type Update struct {
	CPUThreshold     *float64 `json:"cpuThreshold,omitempty"`
	MemoryThreshold  *float64 `json:"memoryThreshold,omitempty"`
	IdleThreshold    *float64 `json:"idleThreshold,omitempty"`
	FrequencyMinutes *float64 `json:"frequencyMinutes,omitempty"`
	RecipientEmail   *string  `json:"recipientEmail,omitempty"`
}

// View is the settings payload served to the UI.
type View struct {
	CPUThreshold     float64 `json:"cpuThreshold"`
	MemoryThreshold  float64 `json:"memoryThreshold"`
	IdleThreshold    float64 `json:"idleThreshold"`
	FrequencyMinutes float64 `json:"frequencyMinutes"`
	RecipientEmail   string  `json:"recipientEmail"`
}

// Current returns the effective settings for display.
func (m *Manager) Current() View {
	t := m.Thresholds()
	return View{
		CPUThreshold:     t.CPU,
		MemoryThreshold:  t.Memory,
		IdleThreshold:    t.Idle,
		FrequencyMinutes: t.Rearm.Minutes(),
		RecipientEmail:   m.Recipient(),
	}
}

func (m *Manager) lookupFloat(key string) (float64, bool) {
	raw, ok := m.store.Get(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
