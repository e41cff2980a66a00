// Package asset turns image references into local file paths that a vision
// backend can read directly.
//
// A Reference is either a local file path (file:// URI) or a bundled asset
// descriptor. Bundled assets go through a SourceResolver to obtain their
// canonical URI and then through a Fetcher which returns a local path,
// downloading and caching remote content when needed.
package asset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Local-file scheme prefixes, longest first.
var localSchemes = []string{"file://", "file:"}

// StripLocalScheme removes a local-file scheme prefix from s.
// The remainder is returned verbatim; ok reports whether a prefix was found.
func StripLocalScheme(s string) (path string, ok bool) {
	for _, scheme := range localSchemes {
		if len(s) >= len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) {
			return s[len(scheme):], true
		}
	}
	return s, false
}

// Kind tags which variant of a Reference is active.
type Kind int

const (
	// KindLocal is an explicit local file path.
	KindLocal Kind = iota
	// KindBundled is a packaged asset resolved through a SourceResolver.
	KindBundled
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindBundled:
		return "bundled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor identifies a bundled asset, either by registry ID or by an
// explicit source URI.
type Descriptor struct {
	ID  int    `json:"id,omitempty"`
	URI string `json:"uri,omitempty"`
}

// String describes the descriptor for logs and errors.
func (d Descriptor) String() string {
	if d.URI != "" {
		return d.URI
	}
	return fmt.Sprintf("asset#%d", d.ID)
}

// Reference is an image reference: a local path or a bundled asset.
// The zero value is an empty bundled reference and fails to resolve.
type Reference struct {
	kind  Kind
	path  string
	asset Descriptor
}

// LocalPath returns a reference to a local file, normally a file:// URI.
func LocalPath(path string) Reference {
	return Reference{kind: KindLocal, path: path}
}

// BundledAsset returns a reference to a packaged asset.
func BundledAsset(d Descriptor) Reference {
	return Reference{kind: KindBundled, asset: d}
}

// ParseReference interprets a plain string the way callers of the bridge pass
// images: file URIs are local paths, anything else is a bundled asset URI.
func ParseReference(s string) Reference {
	if _, ok := StripLocalScheme(s); ok {
		return LocalPath(s)
	}
	return BundledAsset(Descriptor{URI: s})
}

// Kind reports the active variant.
func (r Reference) Kind() Kind { return r.kind }

// Path returns the local path value. Only meaningful for KindLocal.
func (r Reference) Path() string { return r.path }

// Descriptor returns the bundled asset descriptor. Only meaningful for KindBundled.
func (r Reference) Descriptor() Descriptor { return r.asset }

// IsZero reports whether r carries no path and no asset.
func (r Reference) IsZero() bool {
	return r.path == "" && r.asset == Descriptor{}
}

// String describes the reference.
func (r Reference) String() string {
	if r.kind == KindLocal {
		return r.path
	}
	return r.asset.String()
}

// MarshalJSON encodes local paths as strings and bundled assets as descriptors.
func (r Reference) MarshalJSON() ([]byte, error) {
	if r.kind == KindLocal {
		return json.Marshal(r.path)
	}
	return json.Marshal(r.asset)
}

// UnmarshalJSON accepts a string (see ParseReference), a bare number
// (registry ID) or a descriptor object.
func (r *Reference) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Reference{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = ParseReference(s)
	case '{':
		var d Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		*r = BundledAsset(d)
	default:
		var id int
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("asset: reference must be a string, number or object: %w", err)
		}
		*r = BundledAsset(Descriptor{ID: id})
	}
	return nil
}
