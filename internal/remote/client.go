// Package remote is the transport adapter for a Nextcloud-compatible
// host. It speaks plain HTTP against the WebDAV file namespace and the
// OCS sharing sub-API, authenticating every request and never
// retrying: a failed request surfaces immediately.
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/logging"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"go.uber.org/zap"
)

// Client issues authenticated requests to the remote host.
type Client struct {
	baseURL    string
	username   string
	password   string
	subdir     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	ServerURL    string
	Username     string
	AppPassword  string
	Subdirectory string
	Timeout      time.Duration
}

// New creates a new client. The server URL is used as-is after
// trailing-slash trimming; the subdirectory scopes every file
// operation under the account's namespace.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.ServerURL, "/"),
		username: cfg.Username,
		password: cfg.AppPassword,
		subdir:   strings.Trim(cfg.Subdirectory, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// BaseURL returns the configured server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Account returns the account name requests authenticate as.
func (c *Client) Account() string {
	return c.username
}

// Subdirectory returns the configured root subdirectory, without
// surrounding slashes.
func (c *Client) Subdirectory() string {
	return c.subdir
}

// DavPath returns the server path of an integration-relative resource
// inside the account's file namespace, segment-escaped.
func (c *Client) DavPath(rel string) string {
	p := "/remote.php/dav/files/" + url.PathEscape(c.username)
	if full := joinRelative(c.subdir, rel); full != "" {
		p += "/" + escapePath(full)
	}
	return p
}

// FilesPath returns the subdirectory-qualified path of a resource the
// way the sharing sub-API expects it: absolute within the account's
// files namespace, unescaped.
func (c *Client) FilesPath(rel string) string {
	full := joinRelative(c.subdir, rel)
	return "/" + full
}

// Get retrieves a resource.
func (c *Client) Get(ctx context.Context, endpoint string) (*Response, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, nil, 0)
}

// GetStream retrieves a resource as a stream, for bodies too large to
// hold in memory. The caller must close the reader.
func (c *Client) GetStream(ctx context.Context, endpoint string) (io.ReadCloser, int64, error) {
	fullURL := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, 0, err
	}
	c.applyAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RemoteRequests.WithLabelValues("GET", "connectivity").Inc()
		return nil, 0, &ConnectivityError{URL: fullURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		metrics.RemoteRequests.WithLabelValues("GET", "api_error").Inc()
		return nil, 0, &APIError{
			Status:   resp.StatusCode,
			Reason:   reasonPhrase(resp),
			Method:   http.MethodGet,
			Endpoint: endpoint,
		}
	}

	metrics.RemoteRequests.WithLabelValues("GET", "ok").Inc()
	return resp.Body, resp.ContentLength, nil
}

// Propfind queries hierarchical properties at the given depth. A nil
// body requests the default property set.
func (c *Client) Propfind(ctx context.Context, endpoint string, depth int, body string) (*Response, error) {
	h := http.Header{}
	h.Set("Depth", strconv.Itoa(depth))
	var r io.Reader
	if body != "" {
		h.Set("Content-Type", "text/xml; charset=utf-8")
		r = strings.NewReader(body)
	}
	return c.do(ctx, "PROPFIND", endpoint, h, r, int64(len(body)))
}

// Search runs a server-side search against the DAV root.
func (c *Client) Search(ctx context.Context, body string) (*Response, error) {
	h := http.Header{}
	h.Set("Content-Type", "text/xml; charset=utf-8")
	return c.do(ctx, "SEARCH", "/remote.php/dav/", h, strings.NewReader(body), int64(len(body)))
}

// Put writes a resource body.
func (c *Client) Put(ctx context.Context, endpoint string, body io.Reader, size int64) (*Response, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/octet-stream")
	return c.do(ctx, http.MethodPut, endpoint, h, body, size)
}

// Mkcol creates a collection.
func (c *Client) Mkcol(ctx context.Context, endpoint string) (*Response, error) {
	return c.do(ctx, "MKCOL", endpoint, nil, nil, 0)
}

// PostForm submits a form-encoded body, as the sharing sub-API
// expects for share creation.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) (*Response, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	body := form.Encode()
	return c.do(ctx, http.MethodPost, endpoint, h, strings.NewReader(body), int64(len(body)))
}

// Preview fetches a server-rendered preview of the file with the
// given id, fitted to a size x size pixel box.
func (c *Client) Preview(ctx context.Context, fileID string, size int) (*Response, error) {
	q := url.Values{}
	q.Set("fileId", fileID)
	q.Set("x", strconv.Itoa(size))
	q.Set("y", strconv.Itoa(size))
	q.Set("a", "true")
	return c.do(ctx, http.MethodGet, "/index.php/core/preview?"+q.Encode(), nil, nil, 0)
}

// do runs one request. Every request carries Basic auth and the
// OCS-APIRequest marker; there is exactly one attempt.
func (c *Client) do(ctx context.Context, method, endpoint string, h http.Header, body io.Reader, size int64) (*Response, error) {
	fullURL := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if size > 0 {
		req.ContentLength = size
	}
	c.applyAuth(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.RemoteRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(method, "connectivity").Inc()
		return nil, &ConnectivityError{URL: fullURL, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(method, "connectivity").Inc()
		return nil, &ConnectivityError{URL: fullURL, Err: err}
	}

	logging.Debug("remote request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RemoteRequests.WithLabelValues(method, "api_error").Inc()
		return nil, &APIError{
			Status:   resp.StatusCode,
			Reason:   reasonPhrase(resp),
			Method:   method,
			Endpoint: endpoint,
		}
	}

	metrics.RemoteRequests.WithLabelValues(method, "ok").Inc()
	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func (c *Client) applyAuth(req *http.Request) {
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("OCS-APIRequest", "true")
}

// reasonPhrase extracts the server's status text, falling back to the
// standard phrase for the code.
func reasonPhrase(resp *http.Response) string {
	phrase := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if phrase == "" {
		phrase = http.StatusText(resp.StatusCode)
	}
	return phrase
}

// joinRelative joins a subdirectory and a relative path, trimming
// surrounding slashes. Either part may be empty.
func joinRelative(subdir, rel string) string {
	return strings.Trim(path.Join(subdir, strings.Trim(rel, "/")), "/")
}

// escapePath escapes each path segment, leaving separators intact.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
