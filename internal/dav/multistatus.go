package dav

import (
	"encoding/xml"
	"strings"
)

// Wire models for WebDAV multistatus documents. Tags carry local
// names only, so any namespace prefix the server picks for DAV: and
// the owncloud extension namespace is accepted.

type multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Prop   prop   `xml:"prop"`
	Status string `xml:"status"`
}

type prop struct {
	DisplayName   string       `xml:"displayname"`
	LastModified  string       `xml:"getlastmodified"`
	ContentLength string       `xml:"getcontentlength"`
	ContentType   string       `xml:"getcontenttype"`
	ResourceType  resourcetype `xml:"resourcetype"`
	FileID        string       `xml:"fileid"`
}

type resourcetype struct {
	Collection *struct{} `xml:"collection"`
}

// foundProp returns the property set from the success propstat.
// Servers report found properties under a 200 status and requested
// but absent ones under 404; merging the two would let empty 404
// values shadow real ones.
func (r response) foundProp() prop {
	for _, ps := range r.Propstats {
		if strings.Contains(ps.Status, "200") {
			return ps.Prop
		}
	}
	if len(r.Propstats) > 0 {
		return r.Propstats[0].Prop
	}
	return prop{}
}

func (r response) isCollection() bool {
	for _, ps := range r.Propstats {
		if strings.Contains(ps.Status, "200") && ps.Prop.ResourceType.Collection != nil {
			return true
		}
	}
	return false
}
