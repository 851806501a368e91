package remote

import (
	"errors"
	"fmt"
)

// APIError is returned when the remote host answers with a non-2xx
// status. The request was delivered and the server rejected it.
type APIError struct {
	Status   int
	Reason   string
	Method   string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: server returned %d %s", e.Method, e.Endpoint, e.Status, e.Reason)
}

// ConnectivityError is returned when the request never produced an
// HTTP response: DNS failure, connection refused, TLS handshake,
// timeout.
type ConnectivityError struct {
	URL string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ParseError is returned when a response body cannot be decoded as
// its declared content type.
type ParseError struct {
	ContentType string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s response: %v", e.ContentType, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// AsAPIError checks if an error is an APIError and returns it.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	ae, ok := AsAPIError(err)
	return ok && ae.Status == status
}

// IsConnectivity reports whether err is a transport-level failure.
func IsConnectivity(err error) bool {
	var ce *ConnectivityError
	return errors.As(err, &ce)
}
