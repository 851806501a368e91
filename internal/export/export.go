// Package export copies remote files into host-reachable storage so
// other viewers can load them without touching the remote account.
// Targets follow one write-oriented interface; the exporter streams a
// remote file through it under its relative path as the key.
package export

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/config"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/logging"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
)

// Target is a write-oriented storage destination for exported files.
type Target interface {
	// Put writes an object of the given size under key.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Exists reports whether an object is already present at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Type returns the target identifier ("local", "s3").
	Type() string

	// Close releases resources held by the target.
	Close() error
}

// FromConfig creates the target the configuration names.
func FromConfig(ctx context.Context, cfg *config.Config) (Target, error) {
	switch cfg.ExportTarget {
	case "", "local":
		return NewLocalTarget(cfg.ExportDir)
	case "s3":
		return NewS3Target(ctx, S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown export target: %s", cfg.ExportTarget)
	}
}

// Exporter streams remote files into a target.
type Exporter struct {
	client    *remote.Client
	target    Target
	overwrite bool
}

// NewExporter creates an exporter writing through target. With
// overwrite false, keys already present in the target are skipped.
func NewExporter(client *remote.Client, target Target, overwrite bool) *Exporter {
	return &Exporter{client: client, target: target, overwrite: overwrite}
}

// Export copies the remote file at relPath into the target and
// returns the key it was written under. A skipped existing key
// returns that key with skipped true.
func (e *Exporter) Export(ctx context.Context, relPath string) (key string, skipped bool, err error) {
	key = strings.Trim(path.Clean("/"+relPath), "/")
	if key == "" {
		return "", false, fmt.Errorf("export: empty path")
	}

	if !e.overwrite {
		exists, err := e.target.Exists(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("check %s: %w", key, err)
		}
		if exists {
			logging.Debug("export skipped, key exists", zap.String("key", key))
			return key, true, nil
		}
	}

	body, size, err := e.client.GetStream(ctx, e.client.DavPath(relPath))
	if err != nil {
		return "", false, fmt.Errorf("fetch %s: %w", relPath, err)
	}
	defer body.Close()

	if err := e.target.Put(ctx, key, body, size); err != nil {
		return "", false, fmt.Errorf("store %s: %w", key, err)
	}

	if size > 0 {
		metrics.ExportBytes.WithLabelValues(e.target.Type()).Add(float64(size))
	}
	logging.Info("exported file",
		zap.String("path", relPath),
		zap.String("key", key),
		zap.String("target", e.target.Type()),
		zap.Int64("size", size),
	)
	return key, false, nil
}
