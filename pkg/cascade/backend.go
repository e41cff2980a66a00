package cascade

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// Image is a handle to a decoded image held by a Backend.
type Image struct {
	Handle int `json:"handle"`
	Cols   int `json:"cols"`
	Rows   int `json:"rows"`
}

// Backend is the native vision library: it decodes image files into its own
// representation and runs cascade classifiers on them.
type Backend interface {
	// Name identifies the backend, e.g. "gocv".
	Name() string

	// Decode loads the image at path. Errors should wrap ErrEmptyPath,
	// ErrFileNotFound, ErrIsDirectory or ErrUndecodable where they apply.
	Decode(ctx context.Context, path string) (Image, error)

	// Classify runs the classifier on img and returns the raw JSON reply.
	// An empty reply means no detections.
	Classify(ctx context.Context, classifier string, img Image) ([]byte, error)

	// Release frees a decoded image. Unknown handles are ignored.
	Release(img Image)

	// Close releases all backend resources.
	Close() error
}

// CheckImagePath applies the pre-decode checks every backend shares: the
// path must be non-empty and name an existing regular file.
func CheckImagePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}
	return nil
}

// HandleStore keeps backend-owned values addressable by integer handle.
// It is safe for concurrent use.
type HandleStore[T any] struct {
	mu    sync.Mutex
	next  int
	items map[int]T
}

// NewHandleStore creates an empty store. Handles start at 1.
func NewHandleStore[T any]() *HandleStore[T] {
	return &HandleStore[T]{items: make(map[int]T)}
}

// Add stores v and returns its handle.
func (s *HandleStore[T]) Add(v T) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.items[s.next] = v
	return s.next
}

// Get returns the value for handle h.
func (s *HandleStore[T]) Get(h int) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[h]
	return v, ok
}

// Remove deletes and returns the value for handle h.
func (s *HandleStore[T]) Remove(h int) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[h]
	if ok {
		delete(s.items, h)
	}
	return v, ok
}

// Len returns the number of stored values.
func (s *HandleStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Drain removes and returns every stored value.
func (s *HandleStore[T]) Drain() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.items))
	for h, v := range s.items {
		out = append(out, v)
		delete(s.items, h)
	}
	return out
}
