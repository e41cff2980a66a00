package asset

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-cascade/internal/log"
)

// Fetcher turns a source URI into a local file path. Implementations must
// return local URIs unchanged (minus scheme) without I/O and must be
// idempotent per URI.
type Fetcher interface {
	FetchToLocal(ctx context.Context, uri string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, uri string) (string, error)

// FetchToLocal calls f.
func (f FetcherFunc) FetchToLocal(ctx context.Context, uri string) (string, error) {
	return f(ctx, uri)
}

// Locator resolves image references to local paths.
type Locator struct {
	resolver SourceResolver
	fetcher  Fetcher
	logger   *slog.Logger
}

// LocatorOption configures a Locator.
type LocatorOption func(*Locator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) LocatorOption {
	return func(loc *Locator) { loc.logger = l }
}

// NewLocator creates a Locator. resolver and fetcher are only needed for
// bundled assets.
func NewLocator(resolver SourceResolver, fetcher Fetcher, opts ...LocatorOption) *Locator {
	l := &Locator{
		resolver: resolver,
		fetcher:  fetcher,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = log.Component("asset")
	}
	return l
}

// Resolve returns a local path for ref. Local file URIs are stripped of
// their scheme and returned without touching the filesystem; everything
// else goes through the resolver and the fetcher. Failures are returned as
// *UnresolvableAssetError.
func (l *Locator) Resolve(ctx context.Context, ref Reference) (string, error) {
	if ref.Kind() == KindLocal {
		if p, ok := StripLocalScheme(ref.Path()); ok {
			return p, nil
		}
		// A local path without a scheme is handed to the fetcher like any URI.
		ref = BundledAsset(Descriptor{URI: ref.Path()})
	}

	if l.resolver == nil || l.fetcher == nil {
		return "", unresolvable(ref, "resolve", ErrNoResolver)
	}

	src, err := l.resolver.ResolveSource(ctx, ref.Descriptor())
	if err != nil {
		return "", unresolvable(ref, "resolve", err)
	}
	if src.URI == "" {
		return "", unresolvable(ref, "resolve", ErrEmptyReference)
	}

	p, err := l.fetcher.FetchToLocal(ctx, src.URI)
	if err != nil {
		return "", unresolvable(ref, "fetch", err)
	}

	l.logger.Debug("resolved asset", "ref", ref.String(), "source", src.URI, "path", p)
	return p, nil
}
