package dav

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/Daxiongmao87/nextcloud-filepicker/internal/remote"
)

// BuildSearchRequest returns a basicsearch body matching resources
// whose display name equals name, scoped to the account's file
// namespace and selecting the owncloud file id.
func BuildSearchRequest(account, name string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<d:searchrequest xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns">
  <d:basicsearch>
    <d:select>
      <d:prop>
        <oc:fileid/>
        <d:displayname/>
      </d:prop>
    </d:select>
    <d:from>
      <d:scope>
        <d:href>/files/%s</d:href>
        <d:depth>infinity</d:depth>
      </d:scope>
    </d:from>
    <d:where>
      <d:eq>
        <d:prop>
          <d:displayname/>
        </d:prop>
        <d:literal>%s</d:literal>
      </d:eq>
    </d:where>
    <d:orderby/>
  </d:basicsearch>
</d:searchrequest>`, xmlEscape(account), xmlEscape(name))
}

// TranslateSearch converts a multistatus SEARCH response into entries.
// Hrefs outside the prefix are skipped; there is no self entry to
// remove.
func TranslateSearch(data []byte, prefix RootPrefix) ([]Entry, error) {
	var ms multistatus
	if err := xml.Unmarshal(data, &ms); err != nil {
		return nil, &remote.ParseError{ContentType: "application/xml", Err: err}
	}

	var entries []Entry
	for _, resp := range ms.Responses {
		entry, ok := translateResponse(resp, prefix)
		if !ok {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
