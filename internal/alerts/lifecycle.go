package alerts

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Preference store keys for the persisted lifecycle maps.
const (
	ackStateKey      = "alerts.acknowledged"
	lastNotifiedKey  = "alerts.lastNotified"
)

// KV is the durable preference store the lifecycle state is written through
// to. Writes are best-effort; the implementation logs its own failures.
type KV interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// entry tracks the alert lifecycle for one VM identity. Entries are created
// lazily, survive VMs transiently missing from a poll, and are never removed
// by this package.
type entry struct {
	Acknowledged bool
	LastNotified *time.Time
}

// LifecycleStore tracks acknowledgement and notification pacing per VM id.
// All mutations are serialized by one mutex and written through to the KV
// store immediately so a restart or page reload loses neither acknowledgement
// state nor pacing.
type LifecycleStore struct {
	mu      sync.Mutex
	kv      KV
	entries map[string]*entry
}

// NewLifecycleStore builds a store and repopulates it from the KV store.
func NewLifecycleStore(kv KV) *LifecycleStore {
	s := &LifecycleStore{
		kv:      kv,
		entries: make(map[string]*entry),
	}
	s.load()
	return s
}

func (s *LifecycleStore) load() {
	if s.kv == nil {
		return
	}

	if raw, ok := s.kv.Get(ackStateKey); ok {
		var acked map[string]bool
		if err := json.Unmarshal([]byte(raw), &acked); err != nil {
			log.Warn().Err(err).Msg("Discarding corrupt acknowledgement state")
		} else {
			for id, v := range acked {
				if v {
					s.entries[id] = &entry{Acknowledged: true}
				}
			}
		}
	}

	if raw, ok := s.kv.Get(lastNotifiedKey); ok {
		var notified map[string]time.Time
		if err := json.Unmarshal([]byte(raw), &notified); err != nil {
			log.Warn().Err(err).Msg("Discarding corrupt notification pacing state")
		} else {
			for id, ts := range notified {
				e := s.ensureLocked(id)
				t := ts
				e.LastNotified = &t
			}
		}
	}

	if len(s.entries) > 0 {
		log.Info().Int("entries", len(s.entries)).Msg("Restored alert lifecycle state")
	}
}

func (s *LifecycleStore) ensureLocked(id string) *entry {
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	return e
}

// Acknowledge marks the VM acknowledged and resets its notification pacing to
// "never", so a later unacknowledge re-arms silently instead of firing
// immediately. Acknowledging an already-acknowledged VM is idempotent.
func (s *LifecycleStore) Acknowledge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(id)
	e.Acknowledged = true
	e.LastNotified = nil
	s.persistLocked()

	log.Debug().Str("vmID", id).Msg("Alert acknowledged")
}

// Unacknowledge clears the acknowledged flag. The VM becomes a fresh alert
// candidate again; LastNotified is left as-is (Acknowledge already reset it).
// Unacknowledging an unknown VM is a no-op.
func (s *LifecycleStore) Unacknowledge(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || !e.Acknowledged {
		return
	}
	e.Acknowledged = false
	s.persistLocked()

	log.Info().Str("vmID", id).Msg("Alert unacknowledged")
}

// IsAcknowledged reports whether the VM is currently acknowledged.
func (s *LifecycleStore) IsAcknowledged(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return ok && e.Acknowledged
}

// LastNotifiedAt returns the last successful (or silently armed) notification
// time for the VM, or ok=false if it has never been recorded.
func (s *LifecycleStore) LastNotifiedAt(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.LastNotified == nil {
		return time.Time{}, false
	}
	return *e.LastNotified, true
}

// SetLastNotified records the notification timestamp for the VM.
func (s *LifecycleStore) SetLastNotified(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(id)
	e.LastNotified = &at
	s.persistLocked()
}

// AcknowledgedIDs returns the set of acknowledged VM ids.
func (s *LifecycleStore) AcknowledgedIDs() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]bool)
	for id, e := range s.entries {
		if e.Acknowledged {
			out[id] = true
		}
	}
	return out
}

// persistLocked writes both lifecycle maps through to the KV store. Callers
// hold s.mu, which also serializes the underlying file writes.
func (s *LifecycleStore) persistLocked() {
	if s.kv == nil {
		return
	}

	acked := make(map[string]bool)
	notified := make(map[string]time.Time)
	for id, e := range s.entries {
		if e.Acknowledged {
			acked[id] = true
		}
		if e.LastNotified != nil {
			notified[id] = *e.LastNotified
		}
	}

	if data, err := json.Marshal(acked); err == nil {
		s.kv.Set(ackStateKey, string(data))
	} else {
		log.Error().Err(err).Msg("Failed to marshal acknowledgement state")
	}
	if data, err := json.Marshal(notified); err == nil {
		s.kv.Set(lastNotifiedKey, string(data))
	} else {
		log.Error().Err(err).Msg("Failed to marshal notification pacing state")
	}
}
