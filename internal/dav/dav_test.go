package dav

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/net/webdav"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
)

const listingXML = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:s="http://sabredav.org/ns" xmlns:oc="http://owncloud.org/ns" xmlns:nc="http://nextcloud.org/ns">
  <d:response>
    <d:href>/remote.php/dav/files/alice/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/></d:resourcetype>
        <d:getlastmodified>Tue, 18 Aug 2026 10:00:00 GMT</d:getlastmodified>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/Maps/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/></d:resourcetype>
        <d:getlastmodified>Mon, 17 Aug 2026 08:30:00 GMT</d:getlastmodified>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
    <d:propstat>
      <d:prop>
        <d:getcontentlength/>
        <d:getcontenttype/>
      </d:prop>
      <d:status>HTTP/1.1 404 Not Found</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/beta.png</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype/>
        <d:getcontentlength>2048</d:getcontentlength>
        <d:getcontenttype>image/png</d:getcontenttype>
        <d:getlastmodified>Tue, 18 Aug 2026 09:00:00 GMT</d:getlastmodified>
        <oc:fileid>101</oc:fileid>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/Alpha.png</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype/>
        <d:getcontentlength>1024</d:getcontentlength>
        <d:getcontenttype>image/png</d:getcontenttype>
        <d:getlastmodified>Tue, 18 Aug 2026 09:05:00 GMT</d:getlastmodified>
        <oc:fileid>102</oc:fileid>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

func TestTranslate_Listing(t *testing.T) {
	listing, err := Translate([]byte(listingXML), RootPrefix{Account: "alice"}, "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	listing.Sort()

	want := &Listing{
		Dirs: []Entry{
			{Name: "Maps", Href: "Maps", Dir: true, Modified: time.Date(2026, 8, 17, 8, 30, 0, 0, time.UTC)},
		},
		Files: []Entry{
			{Name: "Alpha.png", Href: "Alpha.png", Size: 1024, ContentType: "image/png", FileID: "102", Modified: time.Date(2026, 8, 18, 9, 5, 0, 0, time.UTC)},
			{Name: "beta.png", Href: "beta.png", Size: 2048, ContentType: "image/png", FileID: "101", Modified: time.Date(2026, 8, 18, 9, 0, 0, 0, time.UTC)},
		},
	}

	if diff := cmp.Diff(want, listing); diff != "" {
		t.Errorf("listing mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslate_SelfEntryRemoved(t *testing.T) {
	listing, err := Translate([]byte(listingXML), RootPrefix{Account: "alice"}, "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	for _, e := range append(listing.Dirs, listing.Files...) {
		if e.Href == "" {
			t.Errorf("listing contains the queried directory itself: %+v", e)
		}
	}
}

func TestTranslate_NestedSelfEntry(t *testing.T) {
	const xml = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/remote.php/dav/files/alice/img/tokens/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/img/tokens/orc.png</d:href>
    <d:propstat>
      <d:prop><d:resourcetype/></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	listing, err := Translate([]byte(xml), RootPrefix{Account: "alice"}, "img/tokens")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(listing.Dirs) != 0 {
		t.Errorf("self entry survived: %+v", listing.Dirs)
	}
	if len(listing.Files) != 1 || listing.Files[0].Href != "img/tokens/orc.png" {
		t.Errorf("Files = %+v, want img/tokens/orc.png", listing.Files)
	}
}

func TestTranslate_PrefixStrippedFromHrefs(t *testing.T) {
	const xml = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/remote.php/dav/files/alice/assets/img/cat.png</d:href>
    <d:propstat>
      <d:prop><d:resourcetype/></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	listing, err := Translate([]byte(xml), RootPrefix{Account: "alice", Subdir: "assets"}, "img")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(listing.Files) != 1 {
		t.Fatalf("Files = %+v, want one entry", listing.Files)
	}
	got := listing.Files[0].Href
	if strings.Contains(got, "remote.php") || strings.Contains(got, "assets") {
		t.Errorf("Href = %q still contains the server prefix", got)
	}
	if got != "img/cat.png" {
		t.Errorf("Href = %q, want img/cat.png", got)
	}
}

func TestTranslate_EscapedHref(t *testing.T) {
	const xml = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/remote.php/dav/files/alice/img/cat%20photo.png</d:href>
    <d:propstat>
      <d:prop><d:resourcetype/></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	listing, err := Translate([]byte(xml), RootPrefix{Account: "alice"}, "img")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(listing.Files) != 1 {
		t.Fatalf("Files = %+v, want one entry", listing.Files)
	}
	if listing.Files[0].Name != "cat photo.png" {
		t.Errorf("Name = %q, want decoded %q", listing.Files[0].Name, "cat photo.png")
	}
	if listing.Files[0].Href != "img/cat photo.png" {
		t.Errorf("Href = %q, want decoded path", listing.Files[0].Href)
	}
}

func TestTranslate_MissingResourcetypeIsFile(t *testing.T) {
	const xml = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/remote.php/dav/files/alice/odd.bin</d:href>
    <d:propstat>
      <d:prop><d:getcontentlength>7</d:getcontentlength></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	listing, err := Translate([]byte(xml), RootPrefix{Account: "alice"}, "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(listing.Files) != 1 {
		t.Fatalf("entry without resourcetype was dropped: %+v", listing)
	}
	if listing.Files[0].Dir {
		t.Error("entry without resourcetype classified as directory")
	}
}

func TestTranslate_ForeignHrefSkipped(t *testing.T) {
	const xml = `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/remote.php/dav/files/bob/theirs.png</d:href>
    <d:propstat>
      <d:prop><d:resourcetype/></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/remote.php/dav/files/alice/mine.png</d:href>
    <d:propstat>
      <d:prop><d:resourcetype/></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

	listing, err := Translate([]byte(xml), RootPrefix{Account: "alice"}, "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(listing.Files) != 1 || listing.Files[0].Name != "mine.png" {
		t.Errorf("Files = %+v, want only mine.png", listing.Files)
	}
}

func TestTranslate_DefaultNamespace(t *testing.T) {
	const xml = `<?xml version="1.0"?>
<multistatus xmlns="DAV:">
  <response>
    <href>/remote.php/dav/files/alice/plain.txt</href>
    <propstat>
      <prop><resourcetype/></prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`

	listing, err := Translate([]byte(xml), RootPrefix{Account: "alice"}, "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if len(listing.Files) != 1 || listing.Files[0].Name != "plain.txt" {
		t.Errorf("Files = %+v, want plain.txt", listing.Files)
	}
}

func TestTranslate_EmptyMultistatus(t *testing.T) {
	const xml = `<?xml version="1.0"?><d:multistatus xmlns:d="DAV:"></d:multistatus>`

	listing, err := Translate([]byte(xml), RootPrefix{Account: "alice"}, "")
	if err != nil {
		t.Fatalf("empty multistatus should not error: %v", err)
	}
	if len(listing.Dirs) != 0 || len(listing.Files) != 0 {
		t.Errorf("listing = %+v, want empty", listing)
	}
}

func TestTranslate_Garbage(t *testing.T) {
	_, err := Translate([]byte("<html>not webdav"), RootPrefix{Account: "alice"}, "")
	if err == nil {
		t.Fatal("garbage input produced no error")
	}
	var pe *remote.ParseError
	if !errors.As(err, &pe) {
		t.Errorf("error type = %T, want *remote.ParseError", err)
	}
}

func TestRootPrefix_Strip(t *testing.T) {
	tests := []struct {
		prefix RootPrefix
		href   string
		rel    string
		ok     bool
	}{
		{RootPrefix{Account: "alice"}, "/remote.php/dav/files/alice/img/cat.png", "img/cat.png", true},
		{RootPrefix{Account: "alice"}, "/remote.php/dav/files/alice/", "", true},
		{RootPrefix{Account: "alice"}, "/remote.php/dav/files/alicesmith/x.png", "", false},
		{RootPrefix{Account: "alice"}, "/remote.php/dav/files/bob/x.png", "", false},
		{RootPrefix{Account: "alice"}, "https://cloud.example.com/remote.php/dav/files/alice/a.txt", "a.txt", true},
		{RootPrefix{Account: "alice", Subdir: "assets"}, "/remote.php/dav/files/alice/assets/img/", "img", true},
		{RootPrefix{Account: "alice", Subdir: "assets"}, "/remote.php/dav/files/alice/other/img/", "", false},
	}

	for _, tt := range tests {
		rel, ok := tt.prefix.Strip(tt.href)
		if rel != tt.rel || ok != tt.ok {
			t.Errorf("Strip(%q) = (%q, %v), want (%q, %v)", tt.href, rel, ok, tt.rel, tt.ok)
		}
	}
}

func TestListing_SortCaseInsensitive(t *testing.T) {
	l := &Listing{
		Files: []Entry{{Name: "zebra.png"}, {Name: "Alpha.png"}, {Name: "beta.png"}},
		Dirs:  []Entry{{Name: "b"}, {Name: "A"}},
	}
	l.Sort()

	wantFiles := []string{"Alpha.png", "beta.png", "zebra.png"}
	for i, w := range wantFiles {
		if l.Files[i].Name != w {
			t.Errorf("Files[%d] = %q, want %q", i, l.Files[i].Name, w)
		}
	}
	wantDirs := []string{"A", "b"}
	for i, w := range wantDirs {
		if l.Dirs[i].Name != w {
			t.Errorf("Dirs[%d] = %q, want %q", i, l.Dirs[i].Name, w)
		}
	}
}

// The fixtures above pin down edge cases; this runs the whole chain
// against a real WebDAV server mounted at the account prefix.
func TestTranslate_WebDAVRoundTrip(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "Maps"), 0755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(root, "token.png"), []byte("png-bytes"), 0644)
	os.WriteFile(filepath.Join(root, "cat photo.png"), []byte("more-bytes"), 0644)

	srv := httptest.NewServer(&webdav.Handler{
		Prefix:     "/remote.php/dav/files/alice",
		FileSystem: webdav.Dir(root),
		LockSystem: webdav.NewMemLS(),
	})
	defer srv.Close()

	client := remote.New(remote.Config{
		ServerURL:   srv.URL,
		Username:    "alice",
		AppPassword: "pass",
	})

	resp, err := client.Propfind(context.Background(), client.DavPath(""), 1, PropfindBody)
	if err != nil {
		t.Fatalf("Propfind: %v", err)
	}

	listing, err := Translate(resp.Bytes(), RootPrefix{Account: "alice"}, "")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	listing.Sort()

	if len(listing.Dirs) != 1 || listing.Dirs[0].Name != "Maps" {
		t.Fatalf("dirs = %+v, want [Maps]", listing.Dirs)
	}
	if len(listing.Files) != 2 {
		t.Fatalf("files = %+v, want 2 entries", listing.Files)
	}

	first := listing.Files[0]
	if first.Name != "cat photo.png" {
		t.Errorf("Files[0].Name = %q, want %q (href unescaped)", first.Name, "cat photo.png")
	}
	if first.Href != "cat photo.png" {
		t.Errorf("Files[0].Href = %q", first.Href)
	}
	if first.Size != int64(len("more-bytes")) {
		t.Errorf("Files[0].Size = %d, want %d", first.Size, len("more-bytes"))
	}

	second := listing.Files[1]
	if second.Name != "token.png" {
		t.Errorf("Files[1].Name = %q, want token.png", second.Name)
	}
	if !strings.HasPrefix(second.ContentType, "image/png") {
		t.Errorf("Files[1].ContentType = %q, want image/png", second.ContentType)
	}
	if second.Modified.IsZero() {
		t.Error("Files[1].Modified is zero")
	}
}
