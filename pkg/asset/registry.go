package asset

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"sync"
)

// Source is the canonical location of a bundled asset.
type Source struct {
	URI string
}

// SourceResolver maps a bundled asset descriptor to its canonical URI.
type SourceResolver interface {
	ResolveSource(ctx context.Context, d Descriptor) (Source, error)
}

// SourceResolverFunc adapts a function to SourceResolver.
type SourceResolverFunc func(ctx context.Context, d Descriptor) (Source, error)

// ResolveSource calls f.
func (f SourceResolverFunc) ResolveSource(ctx context.Context, d Descriptor) (Source, error) {
	return f(ctx, d)
}

// Asset describes a packaged image.
type Asset struct {
	Name string // file name without extension
	Type string // extension without dot, e.g. "png"
	Dir  string // subdirectory inside the bundle, slash separated
}

// FileName returns name.type.
func (a Asset) FileName() string {
	if a.Type == "" {
		return a.Name
	}
	return a.Name + "." + a.Type
}

// Registry is a SourceResolver for assets packaged with the application.
//
// Registered assets get 1-based IDs. When an asset server is configured
// (development bundles) an ID resolves to an HTTP URL on that server;
// otherwise it resolves to a file:// URI under the bundle directory.
type Registry struct {
	mu        sync.RWMutex
	assets    []Asset
	serverURL string
	bundleDir string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithServer serves assets from an HTTP server, e.g. "http://localhost:8081".
func WithServer(serverURL string) RegistryOption {
	return func(r *Registry) { r.serverURL = serverURL }
}

// WithBundleDir serves assets from a directory on disk.
func WithBundleDir(dir string) RegistryOption {
	return func(r *Registry) { r.bundleDir = dir }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an asset and returns its ID.
func (r *Registry) Register(a Asset) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets = append(r.assets, a)
	return len(r.assets)
}

// Lookup returns the asset registered under id.
func (r *Registry) Lookup(id int) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 1 || id > len(r.assets) {
		return Asset{}, false
	}
	return r.assets[id-1], true
}

// ResolveSource implements SourceResolver.
// A descriptor with an explicit URI resolves to it unchanged.
func (r *Registry) ResolveSource(ctx context.Context, d Descriptor) (Source, error) {
	if d.URI != "" {
		return Source{URI: d.URI}, nil
	}
	if d.ID == 0 {
		return Source{}, ErrEmptyReference
	}

	a, ok := r.Lookup(d.ID)
	if !ok {
		return Source{}, fmt.Errorf("%w: id %d", ErrUnknownAsset, d.ID)
	}

	switch {
	case r.serverURL != "":
		u, err := url.Parse(r.serverURL)
		if err != nil {
			return Source{}, fmt.Errorf("asset: bad server URL: %w", err)
		}
		u = u.JoinPath("assets", path.Clean("/"+a.Dir), a.FileName())
		return Source{URI: u.String()}, nil
	case r.bundleDir != "":
		p := filepath.Join(r.bundleDir, filepath.FromSlash(a.Dir), a.FileName())
		return Source{URI: "file://" + filepath.ToSlash(p)}, nil
	default:
		return Source{}, ErrNoAssetRoot
	}
}
