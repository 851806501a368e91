// Package pathmap persists the correspondence between public share
// URLs and the integration-relative paths they were created for. The
// URL is the key: it is what the host hands back when a previously
// selected file needs its display path again.
package pathmap

import (
	"context"
	"sync"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/settings"
)

// Store is a persisted public URL to path correspondence.
type Store interface {
	// Get returns the path recorded for a public URL. ok is false
	// when the URL was never recorded.
	Get(ctx context.Context, publicURL string) (path string, ok bool, err error)

	// Set records the path for a public URL. Re-recording a URL
	// overwrites the previous path; last writer wins.
	Set(ctx context.Context, publicURL, path string) error

	// Len returns the number of recorded correspondences.
	Len(ctx context.Context) (int, error)
}

// settingsKey holds the whole map as one settings value, matching the
// single-key storage contract of the host's settings collaborator.
const settingsKey = "path_links"

// SettingsStore keeps the correspondence in the settings file. Writes
// are read-modify-write of the whole map under an in-process mutex;
// concurrent processes are last-writer-wins.
type SettingsStore struct {
	mu sync.Mutex
	st *settings.Store
}

// NewSettingsStore creates a store backed by the settings file.
func NewSettingsStore(st *settings.Store) *SettingsStore {
	s := &SettingsStore{st: st}
	if m, err := s.load(); err == nil {
		metrics.PathMapEntries.Set(float64(len(m)))
	}
	return s
}

func (s *SettingsStore) load() (map[string]string, error) {
	m := make(map[string]string)
	if _, err := s.st.Get(settingsKey, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get implements Store.
func (s *SettingsStore) Get(ctx context.Context, publicURL string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	path, ok := m[publicURL]
	return path, ok, nil
}

// Set implements Store.
func (s *SettingsStore) Set(ctx context.Context, publicURL, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[publicURL] = path
	if err := s.st.Set(settingsKey, m); err != nil {
		return err
	}
	metrics.PathMapEntries.Set(float64(len(m)))
	return nil
}

// Len implements Store.
func (s *SettingsStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return 0, err
	}
	return len(m), nil
}
