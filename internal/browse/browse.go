// Package browse drives the remote file picker core: it lists
// directories, resolves file selections to public download links,
// and maps public links back to remote paths. A session runs one
// operation at a time; callers arriving while another operation is
// in flight are rejected with ErrBusy rather than queued.
package browse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/config"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/dav"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/logging"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/notify"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/pathmap"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/sharelink"
)

// State is the session's current activity.
type State int

const (
	// Idle means no operation is in flight.
	Idle State = iota
	// Listing means a directory fetch is in flight.
	Listing
	// Selecting means a file-selection flow is in flight.
	Selecting
)

func (s State) String() string {
	switch s {
	case Listing:
		return "listing"
	case Selecting:
		return "selecting"
	}
	return "idle"
}

var (
	// ErrBusy is returned when an operation is requested while
	// another is still in flight on the same session.
	ErrBusy = errors.New("another operation is in flight")

	// ErrDeclined is returned by SelectFile when the approver
	// refuses link creation.
	ErrDeclined = sharelink.ErrDeclined
)

// Error categories surfaced to the UI layer for banner rendering.
const (
	CategoryUnsetURL         = "unset-url"
	CategoryUnsetCredentials = "unset-credentials"
	CategoryConnectivity     = "connectivity"
	CategoryOther            = "other"
)

// File is a listed file with its display annotations.
type File struct {
	dav.Entry

	// DisplayURL is the authenticated address of the file itself,
	// suitable for preview rendering. It is not a public link.
	DisplayURL string `json:"display_url"`

	// Shared reports that the file already carries a public link.
	Shared bool `json:"shared"`
}

// Target is the listing of the directory the session last browsed
// successfully.
type Target struct {
	Dir   string      `json:"dir"`
	Dirs  []dav.Entry `json:"dirs"`
	Files []File      `json:"files"`
}

// Selection is a resolved file selection.
type Selection struct {
	URL     string `json:"url"`
	Created bool   `json:"created"`
	Path    string `json:"path"`
}

// Session serializes browsing and selection against one remote
// account. It owns the path-to-URL correspondence handle and replaces
// its target only on a successful listing.
type Session struct {
	client   *remote.Client
	mediator *sharelink.Mediator
	links    pathmap.Store
	notifier *notify.Broadcaster
	cfg      *config.Config
	approver func(path string) bool

	mu     sync.Mutex
	state  State
	target *Target
}

// NewSession creates a session over the given collaborators.
func NewSession(client *remote.Client, mediator *sharelink.Mediator, links pathmap.Store, notifier *notify.Broadcaster, cfg *config.Config) *Session {
	return &Session{
		client:   client,
		mediator: mediator,
		links:    links,
		notifier: notifier,
		cfg:      cfg,
	}
}

// SetApprover installs the confirmation hook consulted before a new
// public link is created. Without one, selections needing a new link
// are declined unless skip-confirmation is configured.
func (s *Session) SetApprover(fn func(path string) bool) {
	s.approver = fn
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the last successfully browsed target, or nil.
func (s *Session) Current() *Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Browse lists dir and replaces the session target. The target is
// untouched when the listing fails.
func (s *Session) Browse(ctx context.Context, dir string) (*Target, error) {
	if err := s.begin(Listing); err != nil {
		return nil, err
	}
	defer s.end()

	target, err := s.list(ctx, dir)
	if err != nil {
		s.report("browse", humanDir(dir), err)
		return nil, err
	}

	s.mu.Lock()
	s.target = target
	s.mu.Unlock()

	metrics.ListingsServed.Inc()
	metrics.ListingEntries.Observe(float64(len(target.Dirs) + len(target.Files)))
	logging.Debug("browsed directory",
		zap.String("dir", humanDir(dir)),
		zap.Int("dirs", len(target.Dirs)),
		zap.Int("files", len(target.Files)),
	)
	return target, nil
}

// SelectFile resolves relPath to a public download URL, creating a
// link when none exists and the approver (or the skip-confirmation
// preference) allows it. The URL-to-path mapping is recorded on every
// resolution. A declined confirmation aborts with ErrDeclined and
// changes nothing.
func (s *Session) SelectFile(ctx context.Context, relPath string) (*Selection, error) {
	return s.SelectFileWith(ctx, relPath, nil)
}

// SelectFileWith is SelectFile with a per-call approver taking
// precedence over the session's configured one. Skip-confirmation
// still pre-approves.
func (s *Session) SelectFileWith(ctx context.Context, relPath string, approve func(path string) bool) (*Selection, error) {
	if err := s.begin(Selecting); err != nil {
		return nil, err
	}
	defer s.end()

	if err := s.cfg.Validate(); err != nil {
		s.report("select", relPath, err)
		return nil, err
	}

	dl, created, err := s.mediator.EnsureLink(ctx, relPath, s.approveFuncWith(approve))
	if err != nil {
		if errors.Is(err, sharelink.ErrDeclined) {
			logging.Debug("selection declined", zap.String("path", relPath))
			return nil, err
		}
		s.report("select", relPath, err)
		return nil, err
	}

	if err := s.links.Set(ctx, dl, relPath); err != nil {
		// The link exists on the server regardless; failing the
		// selection now would orphan it. Resolve, with a warning.
		logging.Warn("recording path mapping failed",
			zap.String("path", relPath),
			zap.String("url", dl),
			zap.Error(err),
		)
		s.warn(fmt.Sprintf("Selected %s but could not record its link mapping", relPath), relPath)
	}

	if created {
		s.info(fmt.Sprintf("Created a public link for %s", relPath), relPath)
	}
	return &Selection{URL: dl, Created: created, Path: relPath}, nil
}

// ResolveDisplay maps a public URL back to the remote path it was
// created for. When the correspondence store has no entry, the URL's
// last path segment serves as a lossy display name and found is
// false.
func (s *Session) ResolveDisplay(ctx context.Context, publicURL string) (name string, found bool) {
	p, ok, err := s.links.Get(ctx, publicURL)
	if err != nil {
		logging.Warn("path mapping lookup failed", zap.String("url", publicURL), zap.Error(err))
	}
	if ok {
		return p, true
	}
	return DisplayName(publicURL), false
}

// Classify buckets an operation failure for the UI layer. A 401 is
// blamed on configuration only when no credentials are actually set;
// with credentials present it is the server's verdict on them, which
// the UI treats as any other remote failure.
func Classify(err error, cfg *config.Config) string {
	if err == nil {
		return ""
	}

	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		for _, m := range cfgErr.Missing {
			if m == "server URL" {
				return CategoryUnsetURL
			}
		}
		return CategoryUnsetCredentials
	}

	var connErr *remote.ConnectivityError
	if errors.As(err, &connErr) {
		return CategoryConnectivity
	}

	var apiErr *remote.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		if cfg == nil || !cfg.HasCredentials() {
			return CategoryUnsetCredentials
		}
	}
	return CategoryOther
}

func (s *Session) begin(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		metrics.SessionsRejected.Inc()
		return ErrBusy
	}
	s.state = next
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
}

func (s *Session) list(ctx context.Context, dir string) (*Target, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	resp, err := s.client.Propfind(ctx, s.client.DavPath(dir), 1, dav.PropfindBody)
	if err != nil {
		return nil, err
	}

	prefix := dav.RootPrefix{Account: s.client.Account(), Subdir: s.client.Subdirectory()}
	listing, err := dav.Translate(resp.Bytes(), prefix, dir)
	if err != nil {
		return nil, err
	}

	if len(s.cfg.Extensions) > 0 {
		listing.Files = filterExtensions(listing.Files, s.cfg.Extensions)
	}
	listing.Sort()

	shared := s.mediator.SharedFiles(ctx, dir)

	target := &Target{Dir: dir, Dirs: listing.Dirs}
	for _, e := range listing.Files {
		target.Files = append(target.Files, File{
			Entry:      e,
			DisplayURL: s.client.BaseURL() + s.client.DavPath(e.Href),
			Shared:     shared[e.Name],
		})
	}
	return target, nil
}

// approveFuncWith translates session configuration and a per-call
// override into the mediator's approval contract, where nil means
// pre-approved.
func (s *Session) approveFuncWith(override func(path string) bool) func(path string) bool {
	if s.cfg.SkipShareConfirm {
		return nil
	}
	if override != nil {
		return override
	}
	if s.approver != nil {
		return s.approver
	}
	// Confirmation is required but nobody can grant it.
	return func(string) bool { return false }
}

// report emits the single user-facing notification for a terminal
// failure, alongside a structured log entry with full detail.
func (s *Session) report(op, subject string, err error) {
	category := Classify(err, s.cfg)
	if s.notifier != nil {
		s.notifier.Error(category, failureMessage(category, op, subject, err), subject)
	}
	logging.Error(op+" failed",
		zap.String("subject", subject),
		zap.String("category", category),
		zap.Error(err),
	)
}

func (s *Session) info(message, path string) {
	if s.notifier != nil {
		s.notifier.Info(message, path)
	}
}

func (s *Session) warn(message, path string) {
	if s.notifier != nil {
		s.notifier.Warn(message, path)
	}
}

func failureMessage(category, op, subject string, err error) string {
	switch category {
	case CategoryUnsetURL:
		return "Server URL is not configured"
	case CategoryUnsetCredentials:
		return "Account credentials are missing or were rejected"
	case CategoryConnectivity:
		return "Could not reach the server; check the URL and that the server allows this origin"
	}
	return fmt.Sprintf("Could not %s %s: %v", op, subject, err)
}

func filterExtensions(files []dav.Entry, exts []string) []dav.Entry {
	kept := files[:0]
	for _, f := range files {
		name := strings.ToLower(f.Name)
		for _, ext := range exts {
			if strings.HasSuffix(name, ext) {
				kept = append(kept, f)
				break
			}
		}
	}
	return kept
}

func humanDir(dir string) string {
	if dir == "" {
		return "/"
	}
	return dir
}

// DisplayName derives a best-effort name from a public URL's last
// path segment. The true remote path is not recoverable this way.
func DisplayName(publicURL string) string {
	p := publicURL
	if u, err := url.Parse(publicURL); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	return p
}
