// Package pigo implements cascade.Backend in pure Go on top of the pigo
// pixel-intensity-comparison detector. It needs no cgo, so it also serves
// hosts without OpenCV.
//
// Classifiers are pigo binary cascade files (e.g. "facefinder"), not
// OpenCV XML cascades.
package pigo

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/cascade"
)

// Config holds detector parameters.
type Config struct {
	MinSize     int     // Smallest window side in pixels (default 20)
	MaxSize     int     // Largest window side in pixels, 0 for the image size
	ShiftFactor float64 // Window step as a fraction of its size (default 0.1)
	ScaleFactor float64 // Window growth per scale (default 1.1)
	Angle       float64 // Rotation in turns, 0-1 (default 0)
	IoU         float64 // Clustering overlap threshold (default 0.2)
	MinQuality  float32 // Discard clustered hits scoring below this (default 5)

	// FallbackClassifier is loaded when the requested cascade file does
	// not exist. Empty disables the fallback.
	FallbackClassifier string
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		MinSize:     20,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		IoU:         0.2,
		MinQuality:  5.0,
	}
}

// Option configures a Backend.
type Option func(*Backend)

// WithConfig replaces the detector parameters.
func WithConfig(cfg Config) Option {
	return func(b *Backend) { b.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// grayImage is a decoded image in the layout pigo scans.
type grayImage struct {
	pixels     []uint8
	cols, rows int
}

// Backend decodes images with imaging and runs pigo cascades over them.
type Backend struct {
	cfg    Config
	logger *slog.Logger
	images *cascade.HandleStore[grayImage]

	mu          sync.Mutex // Protects classifiers
	classifiers map[string]*pigo.Pigo
}

// New creates a pigo backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		cfg:         DefaultConfig(),
		images:      cascade.NewHandleStore[grayImage](),
		classifiers: make(map[string]*pigo.Pigo),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.Component("pigo")
	}
	return b
}

// Name returns "pigo".
func (b *Backend) Name() string { return "pigo" }

// Decode reads the file at path, applies its EXIF orientation and keeps a
// grayscale copy.
func (b *Backend) Decode(ctx context.Context, path string) (cascade.Image, error) {
	if err := cascade.CheckImagePath(path); err != nil {
		return cascade.Image{}, err
	}
	if err := ctx.Err(); err != nil {
		return cascade.Image{}, err
	}

	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return cascade.Image{}, fmt.Errorf("%w: %s: %v", cascade.ErrUndecodable, path, err)
	}

	// pigo indexes pixels from the origin
	nrgba := imaging.Clone(src)
	cols, rows := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if cols == 0 || rows == 0 {
		return cascade.Image{}, fmt.Errorf("%w: %s: empty image", cascade.ErrUndecodable, path)
	}

	gray := grayImage{
		pixels: pigo.RgbToGrayscale(nrgba),
		cols:   cols,
		rows:   rows,
	}
	img := cascade.Image{Handle: b.images.Add(gray), Cols: cols, Rows: rows}
	b.logger.Debug("decoded image", "path", path, "handle", img.Handle, "cols", cols, "rows", rows)
	return img, nil
}

// Classify runs the pigo cascade at classifier over img and returns the
// clustered hits encoded as {"objects":[...]}.
func (b *Backend) Classify(ctx context.Context, classifier string, img cascade.Image) ([]byte, error) {
	gray, ok := b.images.Get(img.Handle)
	if !ok {
		return nil, fmt.Errorf("%w: %d", cascade.ErrUnknownImage, img.Handle)
	}

	pg, err := b.classifier(classifier)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	maxSize := b.cfg.MaxSize
	if maxSize <= 0 {
		maxSize = max(gray.cols, gray.rows)
	}

	params := pigo.CascadeParams{
		MinSize:     b.cfg.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: b.cfg.ShiftFactor,
		ScaleFactor: b.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray.pixels,
			Rows:   gray.rows,
			Cols:   gray.cols,
			Dim:    gray.cols,
		},
	}

	dets, err := run(pg, params, b.cfg.Angle, b.cfg.IoU)
	if err != nil {
		return nil, fmt.Errorf("pigo: %s: %w", classifier, err)
	}

	rects := toRects(dets, b.cfg.MinQuality, gray.cols, gray.rows)
	if len(rects) > 0 {
		b.logger.Debug("cascade hits", "classifier", classifier, "objects", len(rects))
	}
	return cascade.EncodeObjects(rects, gray.cols, gray.rows), nil
}

// toRects converts center/scale detections into clipped pixel rectangles.
func toRects(dets []pigo.Detection, minQ float32, cols, rows int) []image.Rectangle {
	bounds := image.Rect(0, 0, cols, rows)
	rects := make([]image.Rectangle, 0, len(dets))
	for _, d := range dets {
		if d.Q < minQ {
			continue
		}
		half := d.Scale / 2
		r := image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half).Intersect(bounds)
		if r.Empty() {
			continue
		}
		rects = append(rects, r)
	}
	return rects
}

func (b *Backend) classifier(path string) (*pigo.Pigo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pg, ok := b.classifiers[path]; ok {
		return pg, nil
	}

	file := path
	data, err := os.ReadFile(file)
	if err != nil && b.cfg.FallbackClassifier != "" {
		b.logger.Info("classifier missing, using fallback", "classifier", path, "fallback", b.cfg.FallbackClassifier)
		file = b.cfg.FallbackClassifier
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", cascade.ErrClassifierNotFound, path)
	}

	pg, err := unpack(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", cascade.ErrClassifierNotFound, path, err)
	}
	b.logger.Info("loaded classifier", "file", file)

	b.classifiers[path] = pg
	return pg, nil
}

// unpack parses a cascade file. pigo indexes the packet without bounds
// checks, so truncated files panic inside Unpack.
func unpack(data []byte) (pg *pigo.Pigo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("corrupt cascade file: %v", r)
		}
	}()
	return pigo.NewPigo().Unpack(data)
}

// run scans the image and clusters the raw hits. RunCascade only reads the
// unpacked trees, so one Pigo serves concurrent calls. A cascade with no
// trees panics on its first region.
func run(pg *pigo.Pigo, params pigo.CascadeParams, angle, iou float64) (dets []pigo.Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cascade run failed: %v", r)
		}
	}()
	dets = pg.RunCascade(params, angle)
	return pg.ClusterDetections(dets, iou), nil
}

// Release drops the pixels behind img.
func (b *Backend) Release(img cascade.Image) {
	b.images.Remove(img.Handle)
}

// Close drops every held image and classifier.
func (b *Backend) Close() error {
	b.images.Drain()

	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.classifiers)
	return nil
}
