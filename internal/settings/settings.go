// Package settings provides persistent key-value settings storage.
//
// Values are stored as a single JSON object on disk. Each Set rewrites
// the whole file atomically (temp file then rename), so a crash never
// leaves a torn settings file behind.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists settings to a JSON file.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]json.RawMessage
}

// Open loads the settings file at path, creating the parent directory
// if needed. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	s := &Store{
		path:   path,
		values: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// DefaultPath returns the per-user settings file location, honoring
// the NCFP_SETTINGS_PATH override.
func DefaultPath() string {
	if p := os.Getenv("NCFP_SETTINGS_PATH"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "nextcloud-filepicker", "settings.json")
}

// Get unmarshals the value stored under key into the target. Returns
// false when the key is absent.
func (s *Store) Get(key string, into any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.values[key]
	s.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return true, fmt.Errorf("decode setting %q: %w", key, err)
	}
	return true, nil
}

// GetString returns the string stored under key, or fallback when the
// key is absent or not a string.
func (s *Store) GetString(key, fallback string) string {
	var v string
	ok, err := s.Get(key, &v)
	if !ok || err != nil {
		return fallback
	}
	return v
}

// GetBool returns the bool stored under key, or fallback.
func (s *Store) GetBool(key string, fallback bool) bool {
	var v bool
	ok, err := s.Get(key, &v)
	if !ok || err != nil {
		return fallback
	}
	return v
}

// Set stores the value under key and persists the file. The value
// replaces whatever was there before; partial updates of structured
// values are done by Get, modify, Set.
func (s *Store) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = raw
	return s.flushLocked()
}

// Delete removes key and persists the file. Deleting an absent key is
// a no-op.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flushLocked()
}

// Keys returns all stored keys.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// flushLocked writes the full settings object to disk atomically.
// Must be called with the lock held.
func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename settings: %w", err)
	}
	return nil
}
