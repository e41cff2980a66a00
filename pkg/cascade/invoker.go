package cascade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/asset"
)

// Locator resolves image references to local paths. *asset.Locator
// implements it.
type Locator interface {
	Resolve(ctx context.Context, ref asset.Reference) (string, error)
}

// Event describes one finished Detect call.
type Event struct {
	Classifier string        `json:"classifier"`
	Image      string        `json:"image"`
	Path       string        `json:"path,omitempty"`
	Objects    []Detection   `json:"objects,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Time       time.Time     `json:"time"`
}

// Observer receives an Event after every Detect call. Observers run on the
// caller's goroutine and must not block.
type Observer func(Event)

// Invoker runs cascade classifiers on image references.
type Invoker struct {
	backend   Backend
	locator   Locator
	logger    *slog.Logger
	observers []Observer
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(inv *Invoker) { inv.logger = l }
}

// WithObserver registers an observer for finished calls.
func WithObserver(o Observer) Option {
	return func(inv *Invoker) { inv.observers = append(inv.observers, o) }
}

// New creates an Invoker over backend, resolving images with locator.
func New(backend Backend, locator Locator, opts ...Option) *Invoker {
	inv := &Invoker{
		backend: backend,
		locator: locator,
	}
	for _, opt := range opts {
		opt(inv)
	}
	if inv.logger == nil {
		inv.logger = log.Component("cascade")
	}
	return inv
}

// Backend returns the backend the invoker drives.
func (inv *Invoker) Backend() Backend {
	return inv.backend
}

// Detect resolves image, decodes it and runs classifier over it.
//
// It returns a possibly empty list of detections, or exactly one of
// *asset.UnresolvableAssetError, *DecodeError or *ClassificationError.
// Nothing is retried.
func (inv *Invoker) Detect(ctx context.Context, classifier string, image asset.Reference) ([]Detection, error) {
	start := time.Now()
	path, dets, err := inv.detect(ctx, classifier, image)
	elapsed := time.Since(start)

	if err != nil {
		inv.logger.Warn("detect failed", "classifier", classifier, "image", image.String(), "error", err)
	} else {
		inv.logger.Debug("detect finished", "classifier", classifier, "image", image.String(),
			"objects", len(dets), "elapsed", elapsed)
	}

	if len(inv.observers) > 0 {
		ev := Event{
			Classifier: classifier,
			Image:      image.String(),
			Path:       path,
			Objects:    dets,
			Duration:   elapsed,
			Time:       start,
		}
		if err != nil {
			ev.Error = err.Error()
		}
		for _, o := range inv.observers {
			o(ev)
		}
	}

	return dets, err
}

func (inv *Invoker) detect(ctx context.Context, classifier string, image asset.Reference) (string, []Detection, error) {
	path, err := inv.locator.Resolve(ctx, image)
	if err != nil {
		var uerr *asset.UnresolvableAssetError
		if !errors.As(err, &uerr) {
			err = &asset.UnresolvableAssetError{Reference: image.String(), Stage: "resolve", Err: err}
		}
		return "", nil, err
	}

	img, err := inv.backend.Decode(ctx, path)
	if err != nil {
		var derr *DecodeError
		if !errors.As(err, &derr) {
			err = &DecodeError{Path: path, Err: err}
		}
		return path, nil, err
	}
	defer inv.backend.Release(img)

	raw, err := inv.backend.Classify(ctx, classifier, img)
	if err != nil {
		var cerr *ClassificationError
		if !errors.As(err, &cerr) {
			err = &ClassificationError{Classifier: classifier, Err: err}
		}
		return path, nil, err
	}

	dets, err := ParseResponse(raw)
	if err != nil {
		var cerr *ClassificationError
		if errors.As(err, &cerr) {
			cerr.Classifier = classifier
		}
		return path, nil, err
	}
	return path, dets, nil
}
