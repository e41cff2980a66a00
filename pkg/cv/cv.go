// Package cv implements cascade.Backend on OpenCV through gocv.
package cv

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/cascade"
	"gocv.io/x/gocv"
)

// Config holds detectMultiScale parameters.
type Config struct {
	ScaleFactor  float64 // Image pyramid step (default 1.1)
	MinNeighbors int     // Neighbours a candidate needs to be kept (default 3)
	MinSize      int     // Smallest object side in pixels, 0 for no limit
	MaxSize      int     // Largest object side in pixels, 0 for no limit

	// FallbackClassifier is loaded when the requested classifier file
	// does not exist. Empty disables the fallback.
	FallbackClassifier string
}

// DefaultConfig returns OpenCV's detectMultiScale defaults.
func DefaultConfig() Config {
	return Config{
		ScaleFactor:  1.1,
		MinNeighbors: 3,
	}
}

// Option configures a Backend.
type Option func(*Backend)

// WithConfig replaces the detection parameters.
func WithConfig(cfg Config) Option {
	return func(b *Backend) { b.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// Backend decodes images into gocv Mats and runs Haar/LBP cascades on them.
type Backend struct {
	cfg    Config
	logger *slog.Logger
	mats   *cascade.HandleStore[gocv.Mat]

	mu          sync.Mutex // Protects classifiers, inference and Mats in use
	classifiers map[string]*gocv.CascadeClassifier
}

// New creates a gocv backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		cfg:         DefaultConfig(),
		mats:        cascade.NewHandleStore[gocv.Mat](),
		classifiers: make(map[string]*gocv.CascadeClassifier),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.Component("cv")
	}
	return b
}

// Name returns "gocv".
func (b *Backend) Name() string { return "gocv" }

// Decode reads the file at path into a color Mat. EXIF orientation is
// applied by OpenCV's reader.
func (b *Backend) Decode(ctx context.Context, path string) (cascade.Image, error) {
	if err := cascade.CheckImagePath(path); err != nil {
		return cascade.Image{}, err
	}
	if err := ctx.Err(); err != nil {
		return cascade.Image{}, err
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return cascade.Image{}, fmt.Errorf("%w: %s", cascade.ErrUndecodable, path)
	}

	img := cascade.Image{
		Handle: b.mats.Add(mat),
		Cols:   mat.Cols(),
		Rows:   mat.Rows(),
	}
	b.logger.Debug("decoded image", "path", path, "handle", img.Handle, "cols", img.Cols, "rows", img.Rows)
	return img, nil
}

// Classify runs the cascade at classifier over img and returns the hits
// encoded as {"objects":[...]}.
func (b *Backend) Classify(ctx context.Context, classifier string, img cascade.Image) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	mat, ok := b.mats.Get(img.Handle)
	if !ok {
		return nil, fmt.Errorf("%w: %d", cascade.ErrUnknownImage, img.Handle)
	}

	cc, err := b.classifierLocked(classifier)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rects := cc.DetectMultiScaleWithParams(
		mat,
		b.cfg.ScaleFactor,
		b.cfg.MinNeighbors,
		0,
		image.Pt(b.cfg.MinSize, b.cfg.MinSize),
		image.Pt(b.cfg.MaxSize, b.cfg.MaxSize),
	)

	if len(rects) > 0 {
		b.logger.Debug("cascade hits", "classifier", classifier, "objects", len(rects))
	}
	return cascade.EncodeObjects(rects, mat.Cols(), mat.Rows()), nil
}

// classifierLocked returns a loaded classifier, loading it on first use.
// b.mu must be held.
func (b *Backend) classifierLocked(path string) (*gocv.CascadeClassifier, error) {
	if cc, ok := b.classifiers[path]; ok {
		return cc, nil
	}

	file := path
	if _, err := os.Stat(file); err != nil && b.cfg.FallbackClassifier != "" {
		b.logger.Info("classifier missing, using fallback", "classifier", path, "fallback", b.cfg.FallbackClassifier)
		file = b.cfg.FallbackClassifier
	}

	cc := gocv.NewCascadeClassifier()
	if !cc.Load(file) {
		cc.Close()
		return nil, fmt.Errorf("%w: %s", cascade.ErrClassifierNotFound, path)
	}
	b.logger.Info("loaded classifier", "file", file)

	b.classifiers[path] = &cc
	return &cc, nil
}

// Release closes the Mat behind img.
func (b *Backend) Release(img cascade.Image) {
	if mat, ok := b.mats.Remove(img.Handle); ok {
		mat.Close()
	}
}

// Close frees every Mat and classifier. It waits for an in-flight
// Classify to finish.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, mat := range b.mats.Drain() {
		mat.Close()
	}
	for path, cc := range b.classifiers {
		cc.Close()
		delete(b.classifiers, path)
	}
	return nil
}
