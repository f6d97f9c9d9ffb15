// Package prefs implements the durable key-value preference store backing
// thresholds, acknowledgement state, and notification pacing across restarts.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Store is a write-through string map persisted as a single JSON file.
// Persistence is best-effort: a failed write is logged and the in-memory
// value stays authoritative for the session.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// Open loads the preference file at dir/preferences.json, creating the
// directory if needed. A missing file starts an empty store; a corrupt file is
// logged and discarded rather than failing startup.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preferences directory: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dir, "preferences.json"),
		values: make(map[string]string),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Discarding corrupt preference file")
		s.values = make(map[string]string)
	}
	return s, nil
}

// Get returns the stored value for key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores the value and writes the full map through to disk.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.flushLocked()
}

// Delete removes the key and writes through. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.flushLocked()
}

// flushLocked writes to a temporary file and renames it into place so a crash
// mid-write never leaves a truncated preference file.
func (s *Store) flushLocked() {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal preferences")
		return
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write preferences")
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to replace preference file")
	}
}
