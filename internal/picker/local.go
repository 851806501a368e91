package picker

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/browse"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/dav"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
)

// Local is the pass-through picker over the host's asset directory.
// Selection returns the host-served URL for the file; no public links
// are involved.
type Local struct {
	root    string
	baseURL string
}

// NewLocal creates the local picker rooted at dir. Served URLs are
// joined onto baseURL.
func NewLocal(dir, baseURL string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local picker requires an asset directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create asset directory %s: %w", dir, err)
	}
	return &Local{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (p *Local) List(_ context.Context, dir string) (*browse.Target, error) {
	rel := cleanRel(dir)
	entries, err := os.ReadDir(p.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	var listing dav.Listing
	for _, e := range entries {
		href := path.Join(rel, e.Name())
		if e.IsDir() {
			listing.Dirs = append(listing.Dirs, dav.Entry{Name: e.Name(), Href: href, Dir: true})
			continue
		}
		entry := dav.Entry{
			Name:        e.Name(),
			Href:        href,
			ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(e.Name()))),
		}
		if info, err := e.Info(); err == nil {
			entry.Size = info.Size()
			entry.Modified = info.ModTime()
		}
		listing.Files = append(listing.Files, entry)
	}
	listing.Sort()

	target := &browse.Target{Dir: rel, Dirs: listing.Dirs}
	for _, e := range listing.Files {
		target.Files = append(target.Files, browse.File{Entry: e, DisplayURL: p.url(e.Href)})
	}

	metrics.ListingsServed.Inc()
	metrics.ListingEntries.Observe(float64(len(target.Dirs) + len(target.Files)))
	return target, nil
}

func (p *Local) Select(_ context.Context, filePath string) (*browse.Selection, error) {
	rel := cleanRel(filePath)
	info, err := os.Stat(p.abs(rel))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", rel, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("select %s: is a directory", rel)
	}
	return &browse.Selection{URL: p.url(rel), Path: rel}, nil
}

func (p *Local) Upload(_ context.Context, dir, name string, r io.Reader, size int64) error {
	rel := path.Join(cleanRel(dir), path.Base(name))
	dst := p.abs(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create dirs for %s: %w", rel, err)
	}

	// Temp file then rename, so readers never see a partial asset.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".ncfp-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", rel, err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", rel, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", rel, err)
	}

	metrics.UploadBytes.Add(float64(written))
	return nil
}

func (p *Local) CreateDirectory(_ context.Context, dirPath string) error {
	rel := cleanRel(dirPath)
	if rel == "" {
		return fmt.Errorf("create directory: empty path")
	}
	if err := os.MkdirAll(p.abs(rel), 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", rel, err)
	}
	return nil
}

func (p *Local) Type() string {
	return "local"
}

// Root returns the asset directory the picker serves.
func (p *Local) Root() string {
	return p.root
}

func (p *Local) abs(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

func (p *Local) url(rel string) string {
	segs := strings.Split(rel, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return p.baseURL + "/" + strings.Join(segs, "/")
}

// cleanRel normalizes a caller path to a root-relative slash path.
// Leading the clean with "/" keeps ".." from climbing out.
func cleanRel(rel string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.Trim(rel, "/")), "/")
}
