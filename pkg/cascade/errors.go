package cascade

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrEmptyPath is returned when decode is asked for an empty path.
	ErrEmptyPath = errors.New("cascade: empty image path")

	// ErrFileNotFound is returned when the image file does not exist.
	ErrFileNotFound = errors.New("cascade: image file not found")

	// ErrIsDirectory is returned when the image path is a directory.
	ErrIsDirectory = errors.New("cascade: image path is a directory")

	// ErrUndecodable is returned when the file is not a supported image.
	ErrUndecodable = errors.New("cascade: unable to decode image")

	// ErrUnknownImage is returned for a decoded-image handle the backend does not hold.
	ErrUnknownImage = errors.New("cascade: unknown image handle")

	// ErrClassifierNotFound is returned when the classifier file cannot be found or loaded.
	ErrClassifierNotFound = errors.New("cascade: classifier not found")

	// ErrMalformedResponse is returned when the backend reply is not valid JSON
	// or its objects field is not a list of objects.
	ErrMalformedResponse = errors.New("cascade: malformed backend response")

	// ErrMissingObjects is returned when the backend reply parses but has no objects field.
	ErrMissingObjects = errors.New("cascade: backend response has no objects")
)

// DecodeError reports that the backend could not decode the resolved file.
type DecodeError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("cascade: decode %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ClassificationError reports a failed classifier call or an unusable reply.
type ClassificationError struct {
	// Classifier is the classifier reference the call was made with.
	Classifier string

	// Response is the parsed backend document when the reply was valid JSON
	// but lacked usable objects. Nil otherwise.
	Response any

	// Raw is the backend reply as received, when there was one.
	Raw string

	Err error
}

// Error implements the error interface.
func (e *ClassificationError) Error() string {
	if e.Raw != "" {
		return fmt.Sprintf("cascade: classify with %q: %v (response: %s)", e.Classifier, e.Err, truncate(e.Raw, 200))
	}
	return fmt.Sprintf("cascade: classify with %q: %v", e.Classifier, e.Err)
}

// Unwrap returns the underlying error.
func (e *ClassificationError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
