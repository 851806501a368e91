// Package dav translates WebDAV multistatus documents from the remote
// host into directory listings keyed by integration-relative paths.
package dav

import (
	"encoding/xml"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/logging"
	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
	"go.uber.org/zap"
)

// PropfindBody requests the properties a listing needs, plus the
// owncloud file id used for previews.
const PropfindBody = `<?xml version="1.0" encoding="UTF-8"?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:prop>
    <d:displayname/>
    <d:resourcetype/>
    <d:getcontentlength/>
    <d:getcontenttype/>
    <d:getlastmodified/>
    <oc:fileid/>
  </d:prop>
</d:propfind>`

// Entry is one remote resource, addressed relative to the
// integration's root subdirectory.
type Entry struct {
	Name        string    `json:"name"`
	Href        string    `json:"href"`
	Dir         bool      `json:"dir"`
	Size        int64     `json:"size,omitempty"`
	Modified    time.Time `json:"modified,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	FileID      string    `json:"file_id,omitempty"`
}

// Listing is a translated directory listing, directories and files
// held apart.
type Listing struct {
	Dirs  []Entry
	Files []Entry
}

// Sort orders both groups case-insensitively by name.
func (l *Listing) Sort() {
	byName := func(entries []Entry) func(i, j int) bool {
		return func(i, j int) bool {
			return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
		}
	}
	sort.SliceStable(l.Dirs, byName(l.Dirs))
	sort.SliceStable(l.Files, byName(l.Files))
}

// RootPrefix is the fixed server prefix of the account's file
// namespace, optionally scoped to a subdirectory. Hrefs outside it do
// not belong to this integration.
type RootPrefix struct {
	Account string
	Subdir  string
}

func (p RootPrefix) String() string {
	s := "/remote.php/dav/files/" + p.Account
	if sub := strings.Trim(p.Subdir, "/"); sub != "" {
		s += "/" + sub
	}
	return s
}

// Strip removes the prefix from an unescaped href, returning the
// integration-relative path without surrounding slashes. ok is false
// for hrefs outside the prefix.
func (p RootPrefix) Strip(href string) (rel string, ok bool) {
	h := href
	if strings.Contains(h, "://") {
		if u, err := url.Parse(h); err == nil {
			h = u.Path
		}
	}
	h = strings.TrimRight(h, "/")

	prefix := p.String()
	switch {
	case h == prefix:
		return "", true
	case strings.HasPrefix(h, prefix+"/"):
		return strings.Trim(strings.TrimPrefix(h, prefix), "/"), true
	default:
		return "", false
	}
}

// Translate converts a multistatus PROPFIND response for dir into a
// Listing. The entry for the queried directory itself is dropped, as
// are hrefs outside the root prefix. A resource whose type cannot be
// determined is treated as a file rather than lost.
func Translate(data []byte, prefix RootPrefix, dir string) (*Listing, error) {
	var ms multistatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, &remote.ParseError{ContentType: "application/xml", Err: err}
	}

	cleanDir := strings.Trim(path.Clean("/"+dir), "/")
	if cleanDir == "." {
		cleanDir = ""
	}

	listing := &Listing{}
	for _, resp := range ms.Responses {
		entry, ok := translateResponse(resp, prefix)
		if !ok {
			continue
		}
		if entry.Href == cleanDir {
			continue // the queried directory itself
		}
		if entry.Dir {
			listing.Dirs = append(listing.Dirs, entry)
		} else {
			listing.Files = append(listing.Files, entry)
		}
	}
	return listing, nil
}

func translateResponse(resp response, prefix RootPrefix) (Entry, bool) {
	href, err := url.PathUnescape(resp.Href)
	if err != nil {
		href = resp.Href
	}

	rel, ok := prefix.Strip(href)
	if !ok {
		logging.Warn("skipping href outside root prefix",
			zap.String("href", resp.Href),
			zap.String("prefix", prefix.String()),
		)
		return Entry{}, false
	}

	p := resp.foundProp()
	entry := Entry{
		Name:        path.Base("/" + rel),
		Href:        rel,
		Dir:         resp.isCollection(),
		ContentType: p.ContentType,
		FileID:      p.FileID,
	}
	if entry.Name == "/" {
		entry.Name = ""
	}
	if n, err := strconv.ParseInt(strings.TrimSpace(p.ContentLength), 10, 64); err == nil {
		entry.Size = n
	}
	if t, err := http.ParseTime(p.LastModified); err == nil {
		entry.Modified = t
	}
	return entry, true
}
