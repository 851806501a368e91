package remote

import (
	"encoding/json"
	"mime"
	"strings"
)

// BodyKind classifies a response body by its declared content type.
type BodyKind int

const (
	KindText BodyKind = iota
	KindJSON
	KindXML
	KindBinary
)

// Response holds a completed exchange with the remote host.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Kind reports how the body should be decoded, from the declared
// content type alone.
func (r *Response) Kind() BodyKind {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(r.ContentType))
	}
	switch {
	case strings.Contains(mt, "json"):
		return KindJSON
	case strings.Contains(mt, "xml"):
		return KindXML
	case strings.HasPrefix(mt, "text/"):
		return KindText
	case mt == "":
		return KindText
	default:
		return KindBinary
	}
}

// JSON unmarshals the body into the target.
func (r *Response) JSON(into any) error {
	if err := json.Unmarshal(r.Body, into); err != nil {
		return &ParseError{ContentType: r.ContentType, Err: err}
	}
	return nil
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// Bytes returns the raw body.
func (r *Response) Bytes() []byte {
	return r.Body
}
