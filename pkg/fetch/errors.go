package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrBadGCSURI is returned for gs:// URIs without a bucket or object.
	ErrBadGCSURI = errors.New("fetch: gs URI needs bucket and object")

	// ErrBadDataURI is returned for malformed data: URIs.
	ErrBadDataURI = errors.New("fetch: malformed data URI")
)

// StatusError reports a non-2xx HTTP response. Nothing is cached.
type StatusError struct {
	URI        string
	StatusCode int
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch: GET %s: HTTP %d", e.URI, e.StatusCode)
}

// IsNotFound returns true for HTTP 404.
func (e *StatusError) IsNotFound() bool {
	return e.StatusCode == 404
}
