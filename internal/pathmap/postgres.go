package pathmap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
)

// PGStore keeps the correspondence in PostgreSQL, for deployments
// where several bridge instances share one map.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a store over an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS path_links (
			public_url TEXT PRIMARY KEY,
			path       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create path_links table: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PGStore) Get(ctx context.Context, publicURL string) (string, bool, error) {
	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT path FROM path_links WHERE public_url = $1`, publicURL).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query path link: %w", err)
	}
	return path, true, nil
}

// Set implements Store.
func (s *PGStore) Set(ctx context.Context, publicURL, path string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO path_links (public_url, path) VALUES ($1, $2)
		 ON CONFLICT (public_url) DO UPDATE SET path = EXCLUDED.path`,
		publicURL, path)
	if err != nil {
		return fmt.Errorf("upsert path link: %w", err)
	}
	s.updateEntryGauge(ctx)
	return nil
}

// Len implements Store.
func (s *PGStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM path_links`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count path links: %w", err)
	}
	return n, nil
}

func (s *PGStore) updateEntryGauge(ctx context.Context) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM path_links`).Scan(&count)
	if err == nil {
		metrics.PathMapEntries.Set(float64(count))
	}
}
