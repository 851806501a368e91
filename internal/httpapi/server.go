// Package httpapi bridges the picker core to the host UI over HTTP.
// It exposes listings, selection, resolution, uploads, previews, and
// the notification stream; when the local picker is active the asset
// directory is additionally served over WebDAV.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/browse"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/config"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/logging"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/metrics"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/notify"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/picker"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/preview"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
)

// DefaultMaxUploadSize bounds request bodies accepted by the upload
// endpoint.
const DefaultMaxUploadSize = 512 << 20

// Server is the HTTP bridge.
type Server struct {
	pick          picker.Picker
	session       *browse.Session    // nil when the local picker is active
	previews      *preview.Generator // nil without a remote client
	notifier      *notify.Broadcaster
	cfg           *config.Config
	maxUploadSize int64
}

// NewServer creates the bridge over the given collaborators. session
// and previews may be nil when no remote account is configured.
func NewServer(pick picker.Picker, session *browse.Session, previews *preview.Generator, notifier *notify.Broadcaster, cfg *config.Config) *Server {
	return &Server{
		pick:          pick,
		session:       session,
		previews:      previews,
		notifier:      notifier,
		cfg:           cfg,
		maxUploadSize: DefaultMaxUploadSize,
	}
}

// Handler returns the routed handler with logging and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/browse", s.handleBrowse)
	mux.HandleFunc("POST /api/v1/select", s.handleSelect)
	mux.HandleFunc("GET /api/v1/resolve", s.handleResolve)
	mux.HandleFunc("POST /api/v1/upload/{path...}", s.handleUpload)
	mux.HandleFunc("PUT /api/v1/tree/{path...}", s.handleTree)
	mux.HandleFunc("GET /api/v1/preview", s.handlePreview)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	if local, ok := s.pick.(*picker.Local); ok {
		mux.Handle("/dav/", &webdav.Handler{
			Prefix:     "/dav/",
			FileSystem: webdav.Dir(local.Root()),
			LockSystem: webdav.NewMemLS(),
			Logger: func(r *http.Request, err error) {
				if err != nil {
					logging.Debug("webdav error",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Error(err),
					)
				}
			},
		})
	}

	return metrics.Middleware(logging.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok", "picker": s.pick.Type()})
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	target, err := s.pick.List(r.Context(), dir)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, target)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		Confirm bool   `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if req.Path == "" {
		s.sendError(w, http.StatusBadRequest, "path required", "")
		return
	}

	var sel *browse.Selection
	var err error
	if s.session != nil && s.pick.Type() == "remote" {
		// The request carries its own confirmation verdict.
		sel, err = s.session.SelectFileWith(r.Context(), req.Path, func(string) bool { return req.Confirm })
	} else {
		sel, err = s.pick.Select(r.Context(), req.Path)
	}
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, sel)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		s.sendError(w, http.StatusBadRequest, "url required", "")
		return
	}

	resp := struct {
		Path  string `json:"path"`
		Found bool   `json:"found"`
	}{}
	if s.session != nil {
		resp.Path, resp.Found = s.session.ResolveDisplay(r.Context(), u)
	} else {
		resp.Path = browse.DisplayName(u)
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	if rel == "" {
		s.sendError(w, http.StatusBadRequest, "path required", "")
		return
	}
	if r.ContentLength > s.maxUploadSize {
		s.sendError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: max %d bytes", s.maxUploadSize), "")
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	err := s.pick.Upload(r.Context(), path.Dir(rel), path.Base(rel), body, r.ContentLength)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file too large: max %d bytes", s.maxUploadSize), "")
			return
		}
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]string{"path": rel})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	if rel == "" {
		s.sendError(w, http.StatusBadRequest, "path required", "")
		return
	}
	if r.URL.Query().Get("type") != "dir" {
		s.sendError(w, http.StatusBadRequest, "only type=dir is supported; files go through upload", "")
		return
	}

	if err := s.pick.CreateDirectory(r.Context(), rel); err != nil {
		s.sendFailure(w, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, map[string]string{"path": rel})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.previews == nil {
		s.sendError(w, http.StatusNotFound, "previews unavailable without a remote account", "")
		return
	}
	rel := r.URL.Query().Get("path")
	if rel == "" {
		s.sendError(w, http.StatusBadRequest, "path required", "")
		return
	}
	size := 0
	if v := r.URL.Query().Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, http.StatusBadRequest, "invalid size", "")
			return
		}
		size = n
	}

	data, contentType, err := s.previews.For(r.Context(), rel, size)
	if err != nil {
		s.sendFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "max-age=3600")
	w.Write(data)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := notify.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message, category string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: message, Category: category})
}

// sendFailure maps core errors onto HTTP statuses, carrying the
// classification category for banner rendering.
func (s *Server) sendFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, browse.ErrBusy):
		s.sendError(w, http.StatusConflict, err.Error(), "")
		return
	case errors.Is(err, browse.ErrDeclined):
		s.sendError(w, http.StatusForbidden, "link creation declined", "")
		return
	}

	category := browse.Classify(err, s.cfg)
	code := http.StatusInternalServerError
	switch category {
	case browse.CategoryUnsetURL, browse.CategoryUnsetCredentials:
		code = http.StatusPreconditionFailed
	case browse.CategoryConnectivity:
		code = http.StatusBadGateway
	default:
		var apiErr *remote.APIError
		if errors.As(err, &apiErr) {
			if apiErr.Status == http.StatusNotFound {
				code = http.StatusNotFound
			} else {
				code = http.StatusBadGateway
			}
		}
	}
	s.sendError(w, code, err.Error(), category)
}
