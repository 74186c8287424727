// Package settings implements the persisted runtime settings object
// (spec.md §6 "Settings store"; supplemented feature per SPEC_FULL.md §12,
// grounded on the original settings_store.py).
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/skywalker-88/authguard/internal/enforce"
)

// Settings is the persisted, admin-mutable runtime configuration.
type Settings struct {
	Mode                      enforce.Mode `json:"mode"`
	EnforcementTimeoutSeconds int          `json:"enforcement_timeout_seconds"`
	BlockTTLSeconds           int          `json:"block_ttl_seconds"`
}

// Defaults matches the original's DEFAULT_SETTINGS (minus the
// rate_limiter sub-object, which describes the external enforcer's own
// deployment and isn't this service's concern).
func Defaults() Settings {
	return Settings{
		Mode:                      enforce.FailOpen,
		EnforcementTimeoutSeconds: 1,
		BlockTTLSeconds:           300,
	}
}

// Store persists Settings to a single JSON file, corrupt-file-tolerant: a
// read failure falls back to defaults rather than refusing to start.
type Store struct {
	path string

	mu      sync.Mutex
	current Settings
}

// Open loads path if present and well-formed, or seeds it with defaults.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("settings: create %s: %w", dir, err)
		}
	}

	s := &Store{path: path}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.current = Defaults()
			if saveErr := s.saveLocked(); saveErr != nil {
				return nil, saveErr
			}
			return s, nil
		}
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}

	var loaded Settings
	if err := json.Unmarshal(b, &loaded); err != nil {
		s.current = Defaults()
		return s, nil
	}
	s.current = loaded
	return s, nil
}

func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetMode updates the mode and persists it. Validates mode is one of the
// two known enforcement modes.
func (s *Store) SetMode(mode enforce.Mode) error {
	if mode != enforce.FailOpen && mode != enforce.FailClosed {
		return fmt.Errorf("settings: invalid mode %q", mode)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Mode = mode
	return s.saveLocked()
}

// Update replaces the full settings object and persists it, validating the
// mode field.
func (s *Store) Update(next Settings) error {
	if next.Mode != enforce.FailOpen && next.Mode != enforce.FailClosed {
		return fmt.Errorf("settings: invalid mode %q", next.Mode)
	}
	if next.EnforcementTimeoutSeconds <= 0 || next.BlockTTLSeconds <= 0 {
		return fmt.Errorf("settings: timeout and ttl must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = next
	return s.saveLocked()
}
