package picker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/browse"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
)

// Remote is the Nextcloud-backed picker. Listing and selection go
// through the browse session so its serialization and link mediation
// apply; uploads and directory creation go straight to the file
// namespace.
type Remote struct {
	session *browse.Session
	client  *remote.Client
}

// NewRemote creates the remote picker.
func NewRemote(session *browse.Session, client *remote.Client) *Remote {
	return &Remote{session: session, client: client}
}

func (p *Remote) List(ctx context.Context, dir string) (*browse.Target, error) {
	return p.session.Browse(ctx, dir)
}

func (p *Remote) Select(ctx context.Context, filePath string) (*browse.Selection, error) {
	return p.session.SelectFile(ctx, filePath)
}

func (p *Remote) Upload(ctx context.Context, dir, name string, r io.Reader, size int64) error {
	rel := path.Join(strings.Trim(dir, "/"), path.Base(name))
	if _, err := p.client.Put(ctx, p.client.DavPath(rel), r, size); err != nil {
		return fmt.Errorf("upload %s: %w", rel, err)
	}
	if size > 0 {
		metrics.UploadBytes.Add(float64(size))
	}
	return nil
}

func (p *Remote) CreateDirectory(ctx context.Context, dirPath string) error {
	// MKCOL refuses nested creation, so each segment is created in
	// turn. 405 means the collection already exists.
	var rel string
	for _, seg := range strings.Split(strings.Trim(dirPath, "/"), "/") {
		if seg == "" {
			continue
		}
		rel = path.Join(rel, seg)
		if _, err := p.client.Mkcol(ctx, p.client.DavPath(rel)); err != nil {
			if remote.IsStatus(err, http.StatusMethodNotAllowed) {
				continue
			}
			return fmt.Errorf("create directory %s: %w", rel, err)
		}
	}
	return nil
}

func (p *Remote) Type() string {
	return "remote"
}
