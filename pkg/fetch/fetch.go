// Package fetch downloads remote assets into a local cache so vision
// backends can read them as plain files.
//
// Local URIs (file:// or absolute paths) short-circuit without I/O. Remote
// URIs (http, https, gs, data) are stored under a deterministic file name
// derived from the URI, so resolving the same URI twice transfers nothing
// the second time.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/storage/v1"

	"github.com/teslashibe/go-cascade/internal/httpc"
	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/asset"
)

// Config holds downloader configuration.
type Config struct {
	// Client is the base HTTP client. Defaults to httpc.Client.
	Client *http.Client

	// AccessToken, when set, is sent as a bearer token on HTTP and GCS fetches.
	AccessToken string

	// GCSAnonymous fetches gs:// objects without credentials (public buckets).
	GCSAnonymous bool

	// GCSEndpoint overrides the storage API endpoint.
	GCSEndpoint string

	Logger *slog.Logger
}

// Option is a functional option for configuring the downloader.
type Option func(*Config)

// WithHTTPClient sets the base HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *Config) { cfg.Client = c }
}

// WithAccessToken sets a static bearer token for remote fetches.
func WithAccessToken(token string) Option {
	return func(cfg *Config) { cfg.AccessToken = token }
}

// WithGCSAnonymous disables credentials for gs:// fetches.
func WithGCSAnonymous(anonymous bool) Option {
	return func(cfg *Config) { cfg.GCSAnonymous = anonymous }
}

// WithGCSEndpoint points gs:// fetches at a different storage API endpoint.
func WithGCSEndpoint(endpoint string) Option {
	return func(cfg *Config) { cfg.GCSEndpoint = endpoint }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// Downloader implements asset.Fetcher backed by an on-disk cache.
type Downloader struct {
	dir    string
	cfg    Config
	client *http.Client
	logger *slog.Logger

	group singleflight.Group

	gcsMu sync.Mutex
	gcs   *storage.Service

	transferred atomic.Int64
}

var _ asset.Fetcher = (*Downloader)(nil)

// New creates a downloader caching into dir. The directory is created if needed.
func New(dir string, opts ...Option) (*Downloader, error) {
	if dir == "" {
		return nil, errors.New("fetch: cache directory required")
	}

	cfg := Config{Client: httpc.Client}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Component("fetch")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("fetch: create cache dir: %w", err)
	}

	client := cfg.Client
	if cfg.AccessToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, cfg.Client)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
		client = oauth2.NewClient(ctx, ts)
		client.Timeout = cfg.Client.Timeout
	}

	return &Downloader{
		dir:    dir,
		cfg:    cfg,
		client: client,
		logger: cfg.Logger,
	}, nil
}

// Dir returns the cache directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// BytesTransferred returns the number of bytes written to the cache so far.
func (d *Downloader) BytesTransferred() int64 {
	return d.transferred.Load()
}

// FetchToLocal implements asset.Fetcher.
func (d *Downloader) FetchToLocal(ctx context.Context, uri string) (string, error) {
	if uri == "" {
		return "", asset.ErrEmptyReference
	}
	if p, ok := asset.StripLocalScheme(uri); ok {
		return p, nil
	}
	if filepath.IsAbs(uri) {
		return uri, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("fetch: parse %q: %w", uri, err)
	}

	var open opener
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		open = d.openHTTP
	case "gs":
		open = d.openGCS
	case "data":
		open = openData
	default:
		return "", fmt.Errorf("%w: %q", asset.ErrUnsupportedScheme, u.Scheme)
	}

	return d.cached(ctx, uri, u, open)
}

// opener returns a reader for the content behind u.
type opener func(ctx context.Context, u *url.URL) (io.ReadCloser, error)

func (d *Downloader) cached(ctx context.Context, uri string, u *url.URL, open opener) (string, error) {
	dst := d.CachePath(uri)
	if fileExists(dst) {
		d.logger.Debug("cache hit", "uri", redact(u), "path", dst)
		return dst, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	// The transfer is shared by every caller waiting on dst and runs
	// detached from the caller that started it. Each caller stops waiting
	// when its own ctx ends.
	ch := d.group.DoChan(dst, func() (any, error) {
		if fileExists(dst) {
			return nil, nil
		}
		return nil, d.download(context.WithoutCancel(ctx), u, dst, open)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			d.logger.Debug("joined in-flight fetch", "uri", redact(u))
		}
		return dst, nil
	}
}

// download writes the content to a temp file in the cache dir and renames it
// into place, so readers never see a partial file.
func (d *Downloader) download(ctx context.Context, u *url.URL, dst string, open opener) error {
	rc, err := open(ctx, u)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp := dst + "." + uuid.NewString() + ".part"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("fetch: create temp file: %w", err)
	}

	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fetch: write %s: %w", redact(u), err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("fetch: commit cache entry: %w", err)
	}

	d.transferred.Add(n)
	d.logger.Info("cached asset", "uri", redact(u), "path", dst, "bytes", n)
	return nil
}

// CachePath returns the deterministic cache location for uri.
func (d *Downloader) CachePath(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:])+extension(uri))
}

// Purge removes every cached file.
func (d *Downloader) Purge() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("fetch: read cache dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(d.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Downloader) openHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: GET %s: %w", redact(u), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URI: redact(u), StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

// extension keeps the source file extension so backends that sniff by name
// still work. Only short alphanumeric extensions are kept.
func extension(uri string) string {
	var ext string
	if strings.HasPrefix(strings.ToLower(uri), "data:") {
		mediaType, _, _ := strings.Cut(uri[5:], ",")
		mediaType, _, _ = strings.Cut(mediaType, ";")
		if _, sub, ok := strings.Cut(mediaType, "/"); ok {
			ext = "." + sub
		}
	} else if u, err := url.Parse(uri); err == nil {
		ext = path.Ext(u.Path)
	}

	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}

// redact drops credentials and query strings from URIs before logging.
func redact(u *url.URL) string {
	if u.Scheme == "data" {
		return "data:..."
	}
	c := *u
	c.User = nil
	c.RawQuery = ""
	return c.String()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
