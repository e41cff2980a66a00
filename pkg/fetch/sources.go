package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/storage/v1"
)

// openGCS streams a gs://bucket/object URI through the storage JSON API.
func (d *Downloader) openGCS(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	bucket := u.Host
	object := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadGCSURI, u.String())
	}

	svc, err := d.storageService(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Objects.Get(bucket, object).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("fetch: gs://%s/%s: %w", bucket, object, err)
	}
	return resp.Body, nil
}

// storageService lazily builds the storage client. A failed attempt is not
// cached so a later call can pick up fixed credentials.
func (d *Downloader) storageService(ctx context.Context) (*storage.Service, error) {
	d.gcsMu.Lock()
	defer d.gcsMu.Unlock()

	if d.gcs != nil {
		return d.gcs, nil
	}

	var opts []option.ClientOption
	switch {
	case d.cfg.AccessToken != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: d.cfg.AccessToken})
		opts = append(opts, option.WithTokenSource(ts))
	case d.cfg.GCSAnonymous:
		opts = append(opts, option.WithHTTPClient(d.cfg.Client))
	}
	if d.cfg.GCSEndpoint != "" {
		opts = append(opts, option.WithEndpoint(d.cfg.GCSEndpoint))
	}

	// The service outlives this call, so it must not inherit ctx cancellation.
	svc, err := storage.NewService(context.WithoutCancel(ctx), opts...)
	if err != nil {
		return nil, fmt.Errorf("fetch: storage client: %w", err)
	}
	d.gcs = svc
	return svc, nil
}

// openData decodes an RFC 2397 data: URI.
func openData(_ context.Context, u *url.URL) (io.ReadCloser, error) {
	raw := u.Opaque
	if raw == "" {
		// url.Parse puts everything after "data:" into Opaque; keep a fallback
		// for URIs that were normalised with a leading slash.
		raw = strings.TrimPrefix(u.String(), u.Scheme+":")
	}

	meta, payload, ok := strings.Cut(raw, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing comma", ErrBadDataURI)
	}

	var data []byte
	if strings.HasSuffix(strings.ToLower(meta), ";base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadDataURI, err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadDataURI, err)
		}
		data = []byte(unescaped)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}
