// Package sharelink mediates public share links against the sharing
// sub-API, holding the at-most-one-public-link-per-path invariant:
// selections check for an existing link before creating one, the
// check and create run as a single per-path flight, and a create for
// a path already known to have a link is refused.
package sharelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/logging"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Share kinds from the sharing sub-API. Only public links are created
// or consumed here; user and group shares on a path must never count
// as a public link.
const (
	ShareTypeUser       = 0
	ShareTypeGroup      = 1
	ShareTypePublicLink = 3
)

const sharesEndpoint = "/ocs/v2.php/apps/files_sharing/api/v1/shares"

var (
	// ErrDeclined is returned when the approver refuses link creation.
	ErrDeclined = errors.New("link creation declined")

	// ErrDuplicateLink is returned when a create is requested for a
	// path already known to hold a public link.
	ErrDuplicateLink = errors.New("path already has a public link")
)

// Share is the sharing sub-API's record of one share on a path.
type Share struct {
	ID          string `json:"id"`
	ShareType   int    `json:"share_type"`
	Path        string `json:"path"`
	ItemType    string `json:"item_type"`
	URL         string `json:"url"`
	Token       string `json:"token"`
	Permissions int    `json:"permissions"`
}

type ocsMeta struct {
	Status     string `json:"status"`
	StatusCode int    `json:"statuscode"`
	Message    string `json:"message"`
}

type ocsEnvelope struct {
	OCS struct {
		Meta ocsMeta         `json:"meta"`
		Data json.RawMessage `json:"data"`
	} `json:"ocs"`
}

// Mediator queries and creates public links for one account.
type Mediator struct {
	client *remote.Client

	flights singleflight.Group

	mu    sync.Mutex
	known map[string]string // rel path -> public download URL, from this session's checks and creates
}

// New creates a mediator over the given client.
func New(client *remote.Client) *Mediator {
	return &Mediator{
		client: client,
		known:  make(map[string]string),
	}
}

// CheckExisting returns the public download URL for a file path if a
// public link already exists. Transport failures are downgraded to
// "no link found" and logged; the selection flow then proceeds to the
// create path, which fails loudly on its own.
func (m *Mediator) CheckExisting(ctx context.Context, relPath string) (string, bool) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("path", m.client.FilesPath(relPath))
	q.Set("reshares", "true")
	q.Set("subfiles", "false")

	resp, err := m.client.Get(ctx, sharesEndpoint+"?"+q.Encode())
	if err != nil {
		logging.Warn("share lookup failed, treating as no link",
			zap.String("path", relPath),
			zap.Error(err),
		)
		return "", false
	}

	shares, err := decodeShareList(resp)
	if err != nil {
		logging.Warn("share lookup undecodable, treating as no link",
			zap.String("path", relPath),
			zap.Error(err),
		)
		return "", false
	}

	for _, s := range shares {
		if s.ShareType != ShareTypePublicLink || s.URL == "" {
			continue
		}
		dl := DownloadURL(s.URL, relPath)
		m.remember(relPath, dl)
		return dl, true
	}

	// Authoritative answer: no public link on this path.
	m.forget(relPath)
	return "", false
}

// SharedFiles returns the names of files directly inside dir that
// have at least one public link. Directories are excluded. Transport
// failures yield an empty result, logged.
func (m *Mediator) SharedFiles(ctx context.Context, dir string) map[string]bool {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("path", m.client.FilesPath(dir))
	q.Set("subfiles", "true")

	resp, err := m.client.Get(ctx, sharesEndpoint+"?"+q.Encode())
	if err != nil {
		logging.Warn("directory share lookup failed",
			zap.String("dir", dir),
			zap.Error(err),
		)
		return nil
	}

	shares, err := decodeShareList(resp)
	if err != nil {
		logging.Warn("directory share lookup undecodable",
			zap.String("dir", dir),
			zap.Error(err),
		)
		return nil
	}

	cleanDir := strings.Trim(dir, "/")
	shared := make(map[string]bool)
	for _, s := range shares {
		if s.ShareType != ShareTypePublicLink || s.ItemType != "file" {
			continue
		}
		rel, ok := m.relativeSharePath(s.Path)
		if !ok {
			continue
		}
		parent := path.Dir(rel)
		if parent == "." {
			parent = ""
		}
		if parent == cleanDir {
			shared[path.Base(rel)] = true
		}
	}
	return shared
}

// CreateLink issues a share-creation request for the path with
// public-link kind and read-only permission, and returns the download
// URL. It refuses with ErrDuplicateLink when this session already
// knows the path has a link; beyond that it does not look before it
// leaps, so callers preserve the one-link invariant by checking
// first, or by using EnsureLink.
func (m *Mediator) CreateLink(ctx context.Context, relPath string) (string, error) {
	if dl, ok := m.recalled(relPath); ok {
		logging.Warn("refusing duplicate link creation",
			zap.String("path", relPath),
			zap.String("url", dl),
		)
		return "", ErrDuplicateLink
	}

	form := url.Values{}
	form.Set("path", m.client.FilesPath(relPath))
	form.Set("shareType", fmt.Sprintf("%d", ShareTypePublicLink))
	form.Set("permissions", "1")

	resp, err := m.client.PostForm(ctx, sharesEndpoint+"?format=json", form)
	if err != nil {
		return "", fmt.Errorf("create share for %s: %w", relPath, err)
	}

	share, err := decodeShare(resp)
	if err != nil {
		return "", fmt.Errorf("create share for %s: %w", relPath, err)
	}
	if share.URL == "" {
		return "", &remote.ParseError{
			ContentType: resp.ContentType,
			Err:         errors.New("created share carries no url"),
		}
	}

	dl := DownloadURL(share.URL, relPath)
	m.remember(relPath, dl)
	metrics.LinksCreated.Inc()
	logging.Info("public link created",
		zap.String("path", relPath),
		zap.String("url", dl),
	)
	return dl, nil
}

// EnsureLink resolves the path to a public download URL, creating a
// link only when none exists. The whole check-approve-create sequence
// runs as one flight per path: a concurrent selection of the same
// path waits for and shares the first flight's outcome instead of
// racing a second create. approve is consulted before creation; nil
// means pre-approved.
func (m *Mediator) EnsureLink(ctx context.Context, relPath string, approve func(path string) bool) (string, bool, error) {
	type ensured struct {
		url     string
		created bool
	}

	v, err, _ := m.flights.Do(relPath, func() (any, error) {
		if dl, found := m.CheckExisting(ctx, relPath); found {
			metrics.LinksReused.Inc()
			return ensured{url: dl}, nil
		}

		if approve != nil && !approve(relPath) {
			metrics.SelectionsDeclined.Inc()
			return nil, ErrDeclined
		}

		dl, err := m.CreateLink(ctx, relPath)
		if err != nil {
			return nil, err
		}
		return ensured{url: dl, created: true}, nil
	})
	if err != nil {
		return "", false, err
	}

	e := v.(ensured)
	return e.url, e.created, nil
}

// DownloadURL joins a share's base URL with the download suffix for
// the shared file. The base URL alone is a landing page, not a byte
// stream.
func DownloadURL(shareURL, relPath string) string {
	name := path.Base("/" + strings.Trim(relPath, "/"))
	return strings.TrimRight(shareURL, "/") + "/download/" + url.PathEscape(name)
}

func (m *Mediator) remember(relPath, dl string) {
	m.mu.Lock()
	m.known[relPath] = dl
	m.mu.Unlock()
}

func (m *Mediator) forget(relPath string) {
	m.mu.Lock()
	delete(m.known, relPath)
	m.mu.Unlock()
}

func (m *Mediator) recalled(relPath string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.known[relPath]
	return dl, ok
}

// relativeSharePath strips the subdirectory qualification from a
// share's path, mirroring the prefix handling on the listing side.
func (m *Mediator) relativeSharePath(sharePath string) (string, bool) {
	p := strings.Trim(sharePath, "/")
	sub := m.client.Subdirectory()
	if sub == "" {
		return p, true
	}
	switch {
	case p == sub:
		return "", true
	case strings.HasPrefix(p, sub+"/"):
		return strings.TrimPrefix(p, sub+"/"), true
	default:
		return "", false
	}
}

func decodeShareList(resp *remote.Response) ([]Share, error) {
	data, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}
	var shares []Share
	if err := json.Unmarshal(data, &shares); err != nil {
		return nil, &remote.ParseError{ContentType: resp.ContentType, Err: err}
	}
	return shares, nil
}

func decodeShare(resp *remote.Response) (*Share, error) {
	data, err := decodeEnvelope(resp)
	if err != nil {
		return nil, err
	}
	var share Share
	if err := json.Unmarshal(data, &share); err != nil {
		return nil, &remote.ParseError{ContentType: resp.ContentType, Err: err}
	}
	return &share, nil
}

func decodeEnvelope(resp *remote.Response) (json.RawMessage, error) {
	var env ocsEnvelope
	if err := resp.JSON(&env); err != nil {
		return nil, err
	}
	meta := env.OCS.Meta
	if meta.Status != "" && meta.Status != "ok" {
		return nil, fmt.Errorf("sharing API rejected request: %s (%d)", meta.Message, meta.StatusCode)
	}
	if len(env.OCS.Data) == 0 {
		return nil, &remote.ParseError{
			ContentType: resp.ContentType,
			Err:         errors.New("response carries no data"),
		}
	}
	return env.OCS.Data, nil
}
