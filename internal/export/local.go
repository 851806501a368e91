package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalTarget writes exported files under a directory on the host
// filesystem.
type LocalTarget struct {
	root string
}

// NewLocalTarget creates a target rooted at dir, creating it if
// needed.
func NewLocalTarget(dir string) (*LocalTarget, error) {
	if dir == "" {
		return nil, fmt.Errorf("local export target requires a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create export directory %s: %w", dir, err)
	}
	return &LocalTarget{root: dir}, nil
}

func (t *LocalTarget) fullPath(key string) string {
	return filepath.Join(t.root, filepath.FromSlash(key))
}

// Put writes the object atomically: temp file in the destination
// directory, then rename.
func (t *LocalTarget) Put(_ context.Context, key string, r io.Reader, _ int64) error {
	dst := t.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".ncfp-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", key, err)
	}
	return nil
}

func (t *LocalTarget) Exists(_ context.Context, key string) (bool, error) {
	info, err := os.Stat(t.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return !info.IsDir(), nil
}

func (t *LocalTarget) Type() string { return "local" }

func (t *LocalTarget) Close() error { return nil }
