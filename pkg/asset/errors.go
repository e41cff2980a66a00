package asset

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrEmptyReference is returned for a reference with neither a URI nor an ID.
	ErrEmptyReference = errors.New("asset: empty reference")

	// ErrUnknownAsset is returned when a registry ID was never registered.
	ErrUnknownAsset = errors.New("asset: unknown asset")

	// ErrNoAssetRoot is returned when the registry has neither a server nor a bundle directory.
	ErrNoAssetRoot = errors.New("asset: no asset server or bundle directory configured")

	// ErrNoResolver is returned when a bundled asset is resolved without a SourceResolver or Fetcher.
	ErrNoResolver = errors.New("asset: no source resolver configured")

	// ErrUnsupportedScheme is returned by fetchers for URI schemes they cannot handle.
	ErrUnsupportedScheme = errors.New("asset: unsupported URI scheme")
)

// UnresolvableAssetError reports an image reference that could not be turned
// into a local path.
type UnresolvableAssetError struct {
	// Reference is the reference as the caller supplied it.
	Reference string

	// Stage is where resolution failed: "resolve" or "fetch".
	Stage string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *UnresolvableAssetError) Error() string {
	return fmt.Sprintf("asset: cannot resolve %q (%s): %v", e.Reference, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *UnresolvableAssetError) Unwrap() error {
	return e.Err
}

func unresolvable(ref Reference, stage string, err error) error {
	return &UnresolvableAssetError{Reference: ref.String(), Stage: stage, Err: err}
}
