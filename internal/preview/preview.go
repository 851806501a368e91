// Package preview produces small preview images for remote files. The
// remote host renders previews itself when given a file id; when that
// fails the original bytes are fetched and fitted locally. Results are
// cached by path and size and never invalidated.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"path"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/webp"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/dav"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/logging"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
	"go.uber.org/zap"
)

const jpegQuality = 80

// Generator fetches and renders previews.
type Generator struct {
	client      *remote.Client
	defaultSize int

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	data        []byte
	contentType string
}

// New creates a generator. defaultSize is the pixel box used when a
// caller passes no size.
func New(client *remote.Client, defaultSize int) *Generator {
	if defaultSize <= 0 {
		defaultSize = 256
	}
	return &Generator{
		client:      client,
		defaultSize: defaultSize,
		cache:       make(map[string]cached),
	}
}

// For returns preview bytes and their content type for a file,
// fitting within a size x size pixel box.
func (g *Generator) For(ctx context.Context, relPath string, size int) ([]byte, string, error) {
	if size <= 0 {
		size = g.defaultSize
	}
	key := fmt.Sprintf("%s@%d", relPath, size)

	g.mu.Lock()
	if c, ok := g.cache[key]; ok {
		g.mu.Unlock()
		metrics.PreviewsGenerated.WithLabelValues("cache_hit").Inc()
		return c.data, c.contentType, nil
	}
	g.mu.Unlock()

	data, contentType, err := g.fromServer(ctx, relPath, size)
	if err != nil {
		logging.Debug("server preview unavailable, rendering locally",
			zap.String("path", relPath),
			zap.Error(err),
		)
		data, contentType, err = g.fromOriginal(ctx, relPath, size)
		if err != nil {
			metrics.PreviewsGenerated.WithLabelValues("error").Inc()
			return nil, "", err
		}
		metrics.PreviewsGenerated.WithLabelValues("local").Inc()
	} else {
		metrics.PreviewsGenerated.WithLabelValues("server").Inc()
	}

	g.mu.Lock()
	g.cache[key] = cached{data: data, contentType: contentType}
	g.mu.Unlock()
	return data, contentType, nil
}

// fromServer resolves the file id by display-name search and asks the
// host to render the preview.
func (g *Generator) fromServer(ctx context.Context, relPath string, size int) ([]byte, string, error) {
	id, err := g.fileID(ctx, relPath)
	if err != nil {
		return nil, "", err
	}

	resp, err := g.client.Preview(ctx, id, size)
	if err != nil {
		return nil, "", err
	}
	if resp.Kind() != remote.KindBinary {
		return nil, "", &remote.ParseError{
			ContentType: resp.ContentType,
			Err:         fmt.Errorf("preview endpoint returned %s, not image data", resp.ContentType),
		}
	}
	return resp.Bytes(), resp.ContentType, nil
}

// fileID finds the unique file id for a path via server-side search
// on its display name.
func (g *Generator) fileID(ctx context.Context, relPath string) (string, error) {
	name := path.Base("/" + strings.Trim(relPath, "/"))
	resp, err := g.client.Search(ctx, dav.BuildSearchRequest(g.client.Account(), name))
	if err != nil {
		return "", err
	}

	entries, err := dav.TranslateSearch(resp.Bytes(), dav.RootPrefix{Account: g.client.Account()})
	if err != nil {
		return "", err
	}

	// The search matches by name across the whole account; prefer the
	// hit at exactly this path.
	qualified := strings.Trim(g.client.FilesPath(relPath), "/")
	for _, e := range entries {
		if e.Href == qualified && e.FileID != "" {
			return e.FileID, nil
		}
	}
	for _, e := range entries {
		if e.FileID != "" {
			return e.FileID, nil
		}
	}
	return "", fmt.Errorf("no file id found for %s", relPath)
}

// fromOriginal downloads the file and fits it locally.
func (g *Generator) fromOriginal(ctx context.Context, relPath string, size int) ([]byte, string, error) {
	resp, err := g.client.Get(ctx, g.client.DavPath(relPath))
	if err != nil {
		return nil, "", err
	}

	data, err := render(resp.Bytes(), size)
	if err != nil {
		return nil, "", fmt.Errorf("render preview for %s: %w", relPath, err)
	}
	return data, "image/jpeg", nil
}

// render decodes, orients, fits and re-encodes image bytes.
func render(original []byte, size int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return nil, err
	}

	img = applyOrientation(img, orientationOf(original))
	thumb := imaging.Fit(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// orientationOf reads the EXIF orientation tag, defaulting to 1.
func orientationOf(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation transforms an image according to its EXIF
// orientation value.
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
