package cascade

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/teslashibe/go-cascade/internal/log"
	"github.com/teslashibe/go-cascade/pkg/asset"
)

const testClassifier = "/models/haarcascade_frontalface_default.xml"

// testInvoker builds an invoker whose locator only understands file URIs.
func testInvoker(m *Mock, opts ...Option) *Invoker {
	loc := asset.NewLocator(nil, nil, asset.WithLogger(log.Discard()))
	opts = append([]Option{WithLogger(log.Discard())}, opts...)
	return New(m, loc, opts...)
}

func TestDetectEmptyReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply []byte
	}{
		{"null reply", nil},
		{"empty string reply", []byte("")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMock()
			m.ClassifyFunc = MockReply(tc.reply)

			dets, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.LocalPath("file:///a/b.png"))
			if err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if dets == nil || len(dets) != 0 {
				t.Errorf("expected empty non-nil list, got %#v", dets)
			}
		})
	}
}

func TestDetectObjects(t *testing.T) {
	m := NewMock()
	m.ClassifyFunc = MockReply([]byte(`{"objects":[{"x":1,"y":2,"w":3,"h":4}]}`))

	dets, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.LocalPath("file:///a/b.png"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	want := []Detection{{"x": 1.0, "y": 2.0, "w": 3.0, "h": 4.0}}
	if !reflect.DeepEqual(dets, want) {
		t.Errorf("Detect = %#v, want %#v", dets, want)
	}
}

func TestDetectJSONNullDocument(t *testing.T) {
	m := NewMock()
	m.ClassifyFunc = MockReply([]byte("null"))

	dets, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.LocalPath("file:///a/b.png"))
	if dets != nil {
		t.Errorf("expected no detections, got %#v", dets)
	}

	var cerr *ClassificationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClassificationError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrMissingObjects) {
		t.Errorf("expected ErrMissingObjects, got %v", err)
	}
	if cerr.Response != nil {
		t.Errorf("Response = %#v, want nil", cerr.Response)
	}
}

func TestDetectMissingObjects(t *testing.T) {
	m := NewMock()
	m.ClassifyFunc = MockReply([]byte(`{"status":"ok"}`))

	_, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.LocalPath("file:///a/b.png"))

	var cerr *ClassificationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClassificationError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrMissingObjects) {
		t.Errorf("expected ErrMissingObjects, got %v", err)
	}
	if cerr.Classifier != testClassifier {
		t.Errorf("Classifier = %q", cerr.Classifier)
	}
	want := map[string]any{"status": "ok"}
	if !reflect.DeepEqual(cerr.Response, want) {
		t.Errorf("Response = %#v, want parsed document %#v", cerr.Response, want)
	}
}

func TestDetectMalformedReply(t *testing.T) {
	m := NewMock()
	m.ClassifyFunc = MockReply([]byte("not json"))

	dets, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.LocalPath("file:///a/b.png"))

	var cerr *ClassificationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClassificationError, got %T: %v", err, err)
	}
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
	if dets != nil {
		t.Errorf("expected no detections, got %v", dets)
	}
}

func TestDetectDecodeFailure(t *testing.T) {
	m := NewMock()
	m.DecodeFunc = func(ctx context.Context, path string) (Image, error) {
		return Image{}, ErrFileNotFound
	}

	_, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.LocalPath("file:///missing.png"))

	var derr *DecodeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError, got %T: %v", err, err)
	}
	if derr.Path != "/missing.png" {
		t.Errorf("Path = %q", derr.Path)
	}
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected cause ErrFileNotFound, got %v", err)
	}

	if n := m.CallCount("Decode"); n != 1 {
		t.Errorf("decode must not be retried, got %d calls", n)
	}
	if n := m.CallCount("Classify"); n != 0 {
		t.Errorf("classify must not run after decode failure, got %d calls", n)
	}
	if n := m.CallCount("Release"); n != 0 {
		t.Errorf("nothing to release after decode failure, got %d calls", n)
	}
}

func TestDetectClassifyFailure(t *testing.T) {
	boom := errors.New("native crash")
	m := NewMock()
	m.ClassifyFunc = func(ctx context.Context, classifier string, img Image) ([]byte, error) {
		return nil, boom
	}

	_, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.LocalPath("file:///a.png"))

	var cerr *ClassificationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ClassificationError, got %T: %v", err, err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected cause preserved, got %v", err)
	}
	if n := m.CallCount("Classify"); n != 1 {
		t.Errorf("classify must not be retried, got %d calls", n)
	}
	if len(m.Released()) != 1 {
		t.Errorf("decoded image must be released after classify, got %d releases", len(m.Released()))
	}
}

func TestDetectUnresolvableAsset(t *testing.T) {
	m := NewMock()

	_, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.BundledAsset(asset.Descriptor{ID: 3}))

	var uerr *asset.UnresolvableAssetError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnresolvableAssetError, got %T: %v", err, err)
	}
	if m.CallCount("Decode") != 0 {
		t.Error("decode must not run when the asset cannot be resolved")
	}
}

// plainLocator fails with a bare error to check it gets wrapped.
type plainLocator struct{ err error }

func (p plainLocator) Resolve(ctx context.Context, ref asset.Reference) (string, error) {
	return "", p.err
}

func TestDetectWrapsPlainLocatorError(t *testing.T) {
	cause := errors.New("no such asset")
	inv := New(NewMock(), plainLocator{err: cause}, WithLogger(log.Discard()))

	_, err := inv.Detect(context.Background(), testClassifier, asset.BundledAsset(asset.Descriptor{ID: 1}))

	var uerr *asset.UnresolvableAssetError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected UnresolvableAssetError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("cause lost: %v", err)
	}
}

func TestDetectPassesResolvedPathAndClassifier(t *testing.T) {
	var gotPath, gotClassifier string
	var gotImage Image

	m := NewMock()
	m.DecodeFunc = func(ctx context.Context, path string) (Image, error) {
		gotPath = path
		return Image{Handle: 42, Cols: 100, Rows: 50}, nil
	}
	m.ClassifyFunc = func(ctx context.Context, classifier string, img Image) ([]byte, error) {
		gotClassifier = classifier
		gotImage = img
		return []byte(`{"objects":[]}`), nil
	}

	dets, err := testInvoker(m).Detect(context.Background(), testClassifier, asset.LocalPath("file:///data/face.jpg"))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("expected no detections, got %v", dets)
	}
	if gotPath != "/data/face.jpg" {
		t.Errorf("decode path = %q", gotPath)
	}
	if gotClassifier != testClassifier {
		t.Errorf("classifier = %q", gotClassifier)
	}
	if gotImage.Handle != 42 {
		t.Errorf("classify got handle %d", gotImage.Handle)
	}
	if rel := m.Released(); len(rel) != 1 || rel[0].Handle != 42 {
		t.Errorf("expected handle 42 released, got %v", rel)
	}
}

func TestDetectObserver(t *testing.T) {
	var events []Event
	m := NewMock()
	m.ClassifyFunc = MockReply([]byte(`{"objects":[{"x":0.1,"y":0.2,"width":0.3,"height":0.4,"id":"0"}]}`))

	inv := testInvoker(m, WithObserver(func(ev Event) { events = append(events, ev) }))
	if _, err := inv.Detect(context.Background(), testClassifier, asset.LocalPath("file:///a.png")); err != nil {
		t.Fatal(err)
	}

	m.ClassifyFunc = MockReply([]byte(`{}`))
	if _, err := inv.Detect(context.Background(), testClassifier, asset.LocalPath("file:///a.png")); err == nil {
		t.Fatal("expected error")
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if len(events[0].Objects) != 1 || events[0].Error != "" || events[0].Path != "/a.png" {
		t.Errorf("unexpected success event: %+v", events[0])
	}
	if events[1].Error == "" {
		t.Errorf("failure event should carry the error: %+v", events[1])
	}
}

func TestDetectConcurrent(t *testing.T) {
	m := NewMock()
	m.ClassifyFunc = MockReply([]byte(`{"objects":[{"x":0,"y":0,"width":1,"height":1}]}`))
	inv := testInvoker(m)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dets, err := inv.Detect(context.Background(), testClassifier, asset.LocalPath("file:///a.png"))
			if err == nil && len(dets) != 1 {
				err = errors.New("wrong detection count")
			}
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if n := m.CallCount("Classify"); n != 16 {
		t.Errorf("expected 16 classify calls, got %d", n)
	}
}
