package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		ServerURL:   srv.URL,
		Username:    "alice",
		AppPassword: "app-pass",
	})
	return c, srv
}

func TestClient_AuthHeaders(t *testing.T) {
	var gotUser, gotPass string
	var gotOCS string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotOCS = r.Header.Get("OCS-APIRequest")
	}))

	if _, err := c.Get(context.Background(), "/anything"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if gotUser != "alice" || gotPass != "app-pass" {
		t.Errorf("basic auth = %q/%q, want alice/app-pass", gotUser, gotPass)
	}
	if gotOCS != "true" {
		t.Errorf("OCS-APIRequest = %q, want true", gotOCS)
	}
}

func TestClient_APIError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))

	_, err := c.Get(context.Background(), "/missing")
	if err == nil {
		t.Fatal("Get on 404 returned nil error")
	}

	ae, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if ae.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", ae.Status)
	}
	if ae.Reason == "" {
		t.Error("Reason is empty")
	}
	if ae.Endpoint != "/missing" {
		t.Errorf("Endpoint = %q, want /missing", ae.Endpoint)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Get(context.Background(), "/x")
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Errorf("IsStatus 401 = false for %v", err)
	}
}

func TestClient_ConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // nothing listening anymore

	c := New(Config{ServerURL: srv.URL, Username: "u", AppPassword: "p"})
	_, err := c.Get(context.Background(), "/x")
	if err == nil {
		t.Fatal("Get against closed server returned nil error")
	}

	var ce *ConnectivityError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ConnectivityError", err)
	}
	if !IsConnectivity(err) {
		t.Error("IsConnectivity = false")
	}
	if _, ok := AsAPIError(err); ok {
		t.Error("connectivity failure classified as APIError")
	}
}

func TestClient_NoRetry(t *testing.T) {
	var attempts atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	c.Get(context.Background(), "/flaky")
	if attempts.Load() != 1 {
		t.Errorf("server saw %d requests, want exactly 1", attempts.Load())
	}
}

func TestClient_PropfindDepth(t *testing.T) {
	var gotMethod, gotDepth, gotType string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotDepth = r.Header.Get("Depth")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusMultiStatus)
	}))

	resp, err := c.Propfind(context.Background(), c.DavPath("img"), 1, "<propfind/>")
	if err != nil {
		t.Fatalf("Propfind: %v", err)
	}
	if resp.Status != http.StatusMultiStatus {
		t.Errorf("Status = %d, want 207", resp.Status)
	}
	if gotMethod != "PROPFIND" {
		t.Errorf("method = %q, want PROPFIND", gotMethod)
	}
	if gotDepth != "1" {
		t.Errorf("Depth = %q, want 1", gotDepth)
	}
	if !strings.HasPrefix(gotType, "text/xml") {
		t.Errorf("Content-Type = %q, want text/xml", gotType)
	}
}

func TestClient_PostForm(t *testing.T) {
	var gotType string
	var gotBody url.Values
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		r.ParseForm()
		gotBody = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))

	form := url.Values{}
	form.Set("path", "/img/cat.png")
	form.Set("shareType", "3")
	if _, err := c.PostForm(context.Background(), "/ocs/v2.php/apps/files_sharing/api/v1/shares?format=json", form); err != nil {
		t.Fatalf("PostForm: %v", err)
	}

	if gotType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody.Get("path") != "/img/cat.png" || gotBody.Get("shareType") != "3" {
		t.Errorf("form body = %v", gotBody)
	}
}

func TestClient_Preview(t *testing.T) {
	var gotQuery url.Values
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("fake png"))
	}))

	resp, err := c.Preview(context.Background(), "4217", 256)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if gotQuery.Get("fileId") != "4217" || gotQuery.Get("x") != "256" || gotQuery.Get("a") != "true" {
		t.Errorf("preview query = %v", gotQuery)
	}
	if resp.Kind() != KindBinary {
		t.Errorf("Kind = %v, want KindBinary", resp.Kind())
	}
}

func TestDavPath(t *testing.T) {
	tests := []struct {
		subdir string
		rel    string
		want   string
	}{
		{"", "", "/remote.php/dav/files/alice"},
		{"", "img", "/remote.php/dav/files/alice/img"},
		{"", "img/cat photo.png", "/remote.php/dav/files/alice/img/cat%20photo.png"},
		{"assets", "img/cat.png", "/remote.php/dav/files/alice/assets/img/cat.png"},
		{"assets", "", "/remote.php/dav/files/alice/assets"},
		{"/assets/", "/img/", "/remote.php/dav/files/alice/assets/img"},
	}

	for _, tt := range tests {
		c := New(Config{ServerURL: "https://x", Username: "alice", AppPassword: "p", Subdirectory: tt.subdir})
		if got := c.DavPath(tt.rel); got != tt.want {
			t.Errorf("DavPath(%q) with subdir %q = %q, want %q", tt.rel, tt.subdir, got, tt.want)
		}
	}
}

func TestFilesPath(t *testing.T) {
	tests := []struct {
		subdir string
		rel    string
		want   string
	}{
		{"", "img/cat.png", "/img/cat.png"},
		{"assets", "img/cat.png", "/assets/img/cat.png"},
		{"assets", "", "/assets"},
		{"", "", "/"},
	}

	for _, tt := range tests {
		c := New(Config{ServerURL: "https://x", Username: "alice", AppPassword: "p", Subdirectory: tt.subdir})
		if got := c.FilesPath(tt.rel); got != tt.want {
			t.Errorf("FilesPath(%q) with subdir %q = %q, want %q", tt.rel, tt.subdir, got, tt.want)
		}
	}
}

func TestResponse_Kind(t *testing.T) {
	tests := []struct {
		contentType string
		want        BodyKind
	}{
		{"application/json; charset=utf-8", KindJSON},
		{"application/xml", KindXML},
		{"text/xml; charset=utf-8", KindXML},
		{"text/plain", KindText},
		{"text/html", KindText},
		{"image/png", KindBinary},
		{"application/octet-stream", KindBinary},
		{"", KindText},
	}

	for _, tt := range tests {
		r := &Response{ContentType: tt.contentType}
		if got := r.Kind(); got != tt.want {
			t.Errorf("Kind(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
