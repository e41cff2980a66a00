package cascade

import (
	"context"
	"sync"
	"time"
)

// Mock implements Backend for testing.
type Mock struct {
	// DecodeFunc is called when Decode is invoked.
	DecodeFunc func(ctx context.Context, path string) (Image, error)

	// ClassifyFunc is called when Classify is invoked.
	ClassifyFunc func(ctx context.Context, classifier string, img Image) ([]byte, error)

	mu       sync.Mutex
	calls    []MockCall
	released []Image
	closed   bool
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Arg    string
	Time   time.Time
}

// NewMock creates a mock backend that decodes any path to a 640x480 image
// and classifies it with no hits.
func NewMock() *Mock {
	return &Mock{
		DecodeFunc: func(ctx context.Context, path string) (Image, error) {
			return Image{Handle: 1, Cols: 640, Rows: 480}, nil
		},
		ClassifyFunc: func(ctx context.Context, classifier string, img Image) ([]byte, error) {
			return []byte(`{"objects":[]}`), nil
		},
	}
}

// MockReply returns a ClassifyFunc that always answers with reply.
// A nil reply stands for a null response.
func MockReply(reply []byte) func(context.Context, string, Image) ([]byte, error) {
	return func(context.Context, string, Image) ([]byte, error) {
		return reply, nil
	}
}

// Name returns "mock".
func (m *Mock) Name() string { return "mock" }

// Decode calls DecodeFunc and records the call.
func (m *Mock) Decode(ctx context.Context, path string) (Image, error) {
	m.record("Decode", path)
	if m.DecodeFunc != nil {
		return m.DecodeFunc(ctx, path)
	}
	return Image{}, ErrUndecodable
}

// Classify calls ClassifyFunc and records the call.
func (m *Mock) Classify(ctx context.Context, classifier string, img Image) ([]byte, error) {
	m.record("Classify", classifier)
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, classifier, img)
	}
	return nil, ErrClassifierNotFound
}

// Release records the released image.
func (m *Mock) Release(img Image) {
	m.record("Release", "")
	m.mu.Lock()
	m.released = append(m.released, img)
	m.mu.Unlock()
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) record(method, arg string) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Arg: arg, Time: time.Now()})
	m.mu.Unlock()
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Released returns the images passed to Release.
func (m *Mock) Released() []Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Image, len(m.released))
	copy(out, m.released)
	return out
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
